package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=transfer.go -destination=transfer_mock.go -package=handlers

// TransferInitiator defines the interface that the service must implement.
type TransferInitiator interface {
	InitiateTransfer(ctx context.Context, from, to string, amount decimal.Decimal) (*models.Transaction, error)
}

// TransactionReader defines the interface that the service must implement.
type TransactionReader interface {
	GetTransaction(ctx context.Context, transactionID string) (*models.Transaction, error)
}

// TransactionLister defines the interface that the service must implement.
type TransactionLister interface {
	ListTransactions(ctx context.Context) ([]*models.Transaction, error)
	ListByAccount(ctx context.Context, accountNumber string) ([]*models.Transaction, error)
}

// TransferRequest represents the JSON body for a transfer
// swagger:model TransferRequest
type TransferRequest struct {
	// Source account number
	// required: true
	// default: ACC1A2B3C4D
	FromAccount string `json:"fromAccount"`

	// Destination account number
	// required: true
	// default: ACC5E6F7A8B
	ToAccount string `json:"toAccount"`

	// Amount to transfer
	// required: true
	// default: 40.00
	Amount decimal.Decimal `json:"amount"`
}

// TransactionResponse represents the state of a transfer
// swagger:model TransactionResponse
type TransactionResponse struct {
	// Transaction
	Transaction *models.Transaction `json:"transaction"`
}

// TransactionListResponse represents a list of transfers
// swagger:model TransactionListResponse
type TransactionListResponse struct {
	// Transactions, newest first
	Transactions []*models.Transaction `json:"transactions"`
}

// NewInitiateTransferHandler returns an HTTP handler that starts a transfer.
// @Summary Initiate a transfer
// @Description Records a PENDING transaction and starts the debit step. The transfer settles asynchronously.
// @Tags transfers
// @Accept json
// @Produce json
// @Param transferRequest body handlers.TransferRequest true "Transfer request"
// @Success 202 {object} handlers.TransactionResponse "Transfer accepted"
// @Failure 400 {object} handlers.ErrorResponse "Invalid request"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/transfers [post]
func NewInitiateTransferHandler(svc TransferInitiator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req TransferRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
			return
		}

		txn, err := svc.InitiateTransfer(r.Context(), req.FromAccount, req.ToAccount, req.Amount)
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, TransactionResponse{Transaction: txn})
	}
}

// NewGetTransactionHandler returns an HTTP handler that reports a transfer's last known state.
// @Summary Get a transfer
// @Tags transfers
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} handlers.TransactionResponse "Transaction"
// @Failure 404 {object} handlers.ErrorResponse "Transaction not found"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/transfers/{id} [get]
func NewGetTransactionHandler(svc TransactionReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txn, err := svc.GetTransaction(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TransactionResponse{Transaction: txn})
	}
}

// NewListTransactionsHandler returns an HTTP handler that lists the most recent transfers.
// @Summary List transfers
// @Tags transfers
// @Produce json
// @Success 200 {object} handlers.TransactionListResponse "Transactions"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/transfers [get]
func NewListTransactionsHandler(svc TransactionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txns, err := svc.ListTransactions(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TransactionListResponse{Transactions: nonNil(txns)})
	}
}

// NewListAccountTransactionsHandler returns an HTTP handler that lists transfers sent or received by an account.
// @Summary List transfers of an account
// @Tags transfers
// @Produce json
// @Param accountNumber path string true "Account number"
// @Success 200 {object} handlers.TransactionListResponse "Transactions"
// @Failure 400 {object} handlers.ErrorResponse "Invalid account number"
// @Failure 500 {object} handlers.ErrorResponse "Internal server error"
// @Security BearerAuth
// @Router /api/v1/transfers/account/{accountNumber} [get]
func NewListAccountTransactionsHandler(svc TransactionLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		txns, err := svc.ListByAccount(r.Context(), chi.URLParam(r, "accountNumber"))
		if err != nil {
			writeError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, TransactionListResponse{Transactions: nonNil(txns)})
	}
}
