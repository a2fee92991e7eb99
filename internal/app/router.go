package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/sbilibin2017/gw-payflow/internal/handlers"
	"github.com/sbilibin2017/gw-payflow/internal/middlewares"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.uber.org/zap"
)

// AccountAPI is what the account endpoints need from the ledger.
type AccountAPI interface {
	handlers.AccountOpener
	handlers.AccountReader
	handlers.AccountLister
}

// TransferAPI is what the transfer endpoints need from the orchestrator.
type TransferAPI interface {
	handlers.TransferInitiator
	handlers.TransactionReader
	handlers.TransactionLister
}

// AccountRoutes mounts the account endpoints.
func AccountRoutes(svc AccountAPI) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/accounts", handlers.NewCreateAccountHandler(svc))
		r.Get("/accounts", handlers.NewListAccountsHandler(svc))
		r.Get("/accounts/{accountNumber}", handlers.NewGetAccountHandler(svc))
		r.Get("/accounts/{accountNumber}/balance", handlers.NewGetBalanceHandler(svc))
	}
}

// TransferRoutes mounts the transfer endpoints.
func TransferRoutes(svc TransferAPI) func(chi.Router) {
	return func(r chi.Router) {
		r.Post("/transfers", handlers.NewInitiateTransferHandler(svc))
		r.Get("/transfers", handlers.NewListTransactionsHandler(svc))
		r.Get("/transfers/{id}", handlers.NewGetTransactionHandler(svc))
		r.Get("/transfers/account/{accountNumber}", handlers.NewListAccountTransactionsHandler(svc))
	}
}

// NewRouter builds the HTTP router with the given route groups under /api/v1.
// The groups are guarded by auth when it is not nil. The swagger UI is served
// when swaggerURL is not empty.
func NewRouter(log *zap.SugaredLogger, swaggerURL string, auth func(http.Handler) http.Handler, groups ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(middlewares.LoggingMiddleware(log))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
		}
		for _, g := range groups {
			g(r)
		}
	})

	if swaggerURL != "" {
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(swaggerURL)))
	}
	return r
}
