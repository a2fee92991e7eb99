package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=account.go -destination=account_mock.go -package=handlers

// AccountOpener defines the interface that the service must implement.
type AccountOpener interface {
	CreateAccount(ctx context.Context, holderName, email string, initialBalance decimal.Decimal) (*models.Account, error)
}

// AccountReader defines the interface that the service must implement.
type AccountReader interface {
	GetAccount(ctx context.Context, accountNumber string) (*models.Account, error)
}

// AccountLister defines the interface that the service must implement.
type AccountLister interface {
	ListAccounts(ctx context.Context) ([]*models.Account, error)
}

// CreateAccountRequest represents the JSON body for opening an account
// swagger:model CreateAccountRequest
type CreateAccountRequest struct {
	// Holder name
	// required: true
	// default: Jane Doe
	HolderName string `json:"holderName"`

	// Email
	// required: true
	// default: jane@example.com
	Email string `json:"email"`

	// Initial balance
	// default: 100.00
	InitialBalance decimal.Decimal `json:"initialBalance"`
}

// AccountResponse represents an account
// swagger:model AccountResponse
type AccountResponse struct {
	// Account
	Account *models.Account `json:"account"`
}

// AccountListResponse represents a list of accounts
// swagger:model AccountListResponse
type AccountListResponse struct {
	// Accounts ordered by account number
	Accounts []*models.Account `json:"accounts"`
}

// BalanceResponse represents the balance of an account
// swagger:model BalanceResponse
type BalanceResponse struct {
	// Account number
	AccountNumber string `json:"accountNumber"`

	// Current balance
	Balance decimal.Decimal `json:"balance"`
}

// NewCreateAccountHandler returns an HTTP handler that opens an account.
// @Summary Open an account
// @Description Creates an account with a generated account number. Email must be unique.
// @Tags accounts
// @Accept json
// @Produce json
// @Param createAccountRequest body handlers.CreateAccountRequest true "Account request"
// @Success 201 {object} handlers.AccountResponse "Account created"
// @Failure 400 {object} handlers.ErrorResponse "Invalid request"
// @Failure 409 {object} handlers.ErrorResponse "Email already registered"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/accounts [post]
func NewCreateAccountHandler(svc AccountOpener) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
			return
		}

		acct, err := svc.CreateAccount(r.Context(), req.HolderName, req.Email, req.InitialBalance)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, AccountResponse{Account: acct})
	}
}

// NewGetAccountHandler returns an HTTP handler that reports an account and its balance.
// @Summary Get an account
// @Tags accounts
// @Produce json
// @Param accountNumber path string true "Account number"
// @Success 200 {object} handlers.AccountResponse "Account"
// @Failure 404 {object} handlers.ErrorResponse "Account not found"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/accounts/{accountNumber} [get]
func NewGetAccountHandler(svc AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.GetAccount(r.Context(), chi.URLParam(r, "accountNumber"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AccountResponse{Account: acct})
	}
}

// NewGetBalanceHandler returns an HTTP handler that reports the balance of an account.
// @Summary Get an account balance
// @Tags accounts
// @Produce json
// @Param accountNumber path string true "Account number"
// @Success 200 {object} handlers.BalanceResponse "Balance"
// @Failure 404 {object} handlers.ErrorResponse "Account not found"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/accounts/{accountNumber}/balance [get]
func NewGetBalanceHandler(svc AccountReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.GetAccount(r.Context(), chi.URLParam(r, "accountNumber"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, BalanceResponse{AccountNumber: acct.AccountNumber, Balance: acct.Balance})
	}
}

// NewListAccountsHandler returns an HTTP handler that lists accounts.
// @Summary List accounts
// @Tags accounts
// @Produce json
// @Success 200 {object} handlers.AccountListResponse "Accounts"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/accounts [get]
func NewListAccountsHandler(svc AccountLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accts, err := svc.ListAccounts(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, AccountListResponse{Accounts: nonNil(accts)})
	}
}
