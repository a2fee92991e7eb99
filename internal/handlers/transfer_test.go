package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang/mock/gomock"
	"github.com/sbilibin2017/gw-payflow/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decimalMatcher compares decimals by value, ignoring scale.
type decimalMatcher struct{ want decimal.Decimal }

func decimalEq(s string) gomock.Matcher {
	return decimalMatcher{want: decimal.RequireFromString(s)}
}

func (m decimalMatcher) Matches(x interface{}) bool {
	d, ok := x.(decimal.Decimal)
	return ok && d.Equal(m.want)
}

func (m decimalMatcher) String() string {
	return "is equal to " + m.want.String()
}

func TestInitiateTransferHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	pending := &models.Transaction{
		TransactionID: "TXN0123456789AB",
		FromAccount:   "ACCA",
		ToAccount:     "ACCB",
		Amount:        decimal.RequireFromString("40.00"),
		Status:        models.StatusPending,
		CreatedAt:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	tests := []struct {
		name         string
		body         string
		mockSetup    func(m *MockTransferInitiator)
		expectedCode int
		expectedErr  string
	}{
		{
			name: "accepted",
			body: `{"fromAccount":"ACCA","toAccount":"ACCB","amount":"40.00"}`,
			mockSetup: func(m *MockTransferInitiator) {
				m.EXPECT().
					InitiateTransfer(gomock.Any(), "ACCA", "ACCB", decimalEq("40")).
					Return(pending, nil)
			},
			expectedCode: http.StatusAccepted,
		},
		{
			name: "same account",
			body: `{"fromAccount":"ACCA","toAccount":"ACCA","amount":10}`,
			mockSetup: func(m *MockTransferInitiator) {
				m.EXPECT().
					InitiateTransfer(gomock.Any(), "ACCA", "ACCA", decimalEq("10")).
					Return(nil, models.ErrSameAccount)
			},
			expectedCode: http.StatusBadRequest,
			expectedErr:  models.ErrSameAccount.Error(),
		},
		{
			name: "sub-cent amount",
			body: `{"fromAccount":"ACCA","toAccount":"ACCB","amount":"0.004"}`,
			mockSetup: func(m *MockTransferInitiator) {
				m.EXPECT().
					InitiateTransfer(gomock.Any(), "ACCA", "ACCB", decimalEq("0.004")).
					Return(nil, models.ErrAmountPrecision)
			},
			expectedCode: http.StatusBadRequest,
			expectedErr:  models.ErrAmountPrecision.Error(),
		},
		{
			name: "store down",
			body: `{"fromAccount":"ACCA","toAccount":"ACCB","amount":"1"}`,
			mockSetup: func(m *MockTransferInitiator) {
				m.EXPECT().
					InitiateTransfer(gomock.Any(), "ACCA", "ACCB", decimalEq("1")).
					Return(nil, errors.New("connection refused"))
			},
			expectedCode: http.StatusInternalServerError,
			expectedErr:  "Internal server error",
		},
		{
			name:         "invalid json",
			body:         `{invalid json}`,
			expectedCode: http.StatusBadRequest,
			expectedErr:  "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockSvc := NewMockTransferInitiator(ctrl)
			if tt.mockSetup != nil {
				tt.mockSetup(mockSvc)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			NewInitiateTransferHandler(mockSvc)(rr, req)

			assert.Equal(t, tt.expectedCode, rr.Code)
			assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

			if tt.expectedErr != "" {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
				assert.Equal(t, tt.expectedErr, resp.Error)
				return
			}

			var resp TransactionResponse
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
			require.NotNil(t, resp.Transaction)
			assert.Equal(t, pending.TransactionID, resp.Transaction.TransactionID)
			assert.Equal(t, models.StatusPending, resp.Transaction.Status)
			assert.True(t, pending.Amount.Equal(resp.Transaction.Amount))
		})
	}
}

func TestGetTransactionHandler(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	mockSvc := NewMockTransactionReader(ctrl)
	mockSvc.EXPECT().
		GetTransaction(gomock.Any(), "TXN1").
		Return(&models.Transaction{TransactionID: "TXN1", Status: models.StatusFailed, FailureReason: "INSUFFICIENT_FUNDS"}, nil)
	mockSvc.EXPECT().
		GetTransaction(gomock.Any(), "TXN404").
		Return(nil, models.ErrTransactionNotFound)

	r := chi.NewRouter()
	r.Get("/api/v1/transfers/{id}", NewGetTransactionHandler(mockSvc))

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transfers/TXN1", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "FAILED", resp["transaction"]["status"])
	assert.Equal(t, "INSUFFICIENT_FUNDS", resp["transaction"]["failureReason"])

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/transfers/TXN404", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestListTransactionsHandlers(t *testing.T) {
	txns := []*models.Transaction{
		{TransactionID: "TXN2", FromAccount: "ACCB", ToAccount: "ACCA", Amount: decimal.NewFromInt(5), Status: models.StatusCompleted},
		{TransactionID: "TXN1", FromAccount: "ACCA", ToAccount: "ACCB", Amount: decimal.NewFromInt(40), Status: models.StatusFailed},
	}

	tests := []struct {
		name         string
		target       string
		mockSetup    func(m *MockTransactionLister)
		expectedCode int
		expectedIDs  []string
	}{
		{
			name:   "all",
			target: "/transfers",
			mockSetup: func(m *MockTransactionLister) {
				m.EXPECT().ListTransactions(gomock.Any()).Return(txns, nil)
			},
			expectedCode: http.StatusOK,
			expectedIDs:  []string{"TXN2", "TXN1"},
		},
		{
			name:   "by account",
			target: "/transfers/account/ACCA",
			mockSetup: func(m *MockTransactionLister) {
				m.EXPECT().ListByAccount(gomock.Any(), "ACCA").Return(txns[1:], nil)
			},
			expectedCode: http.StatusOK,
			expectedIDs:  []string{"TXN1"},
		},
		{
			name:   "no transactions",
			target: "/transfers/account/ACCC",
			mockSetup: func(m *MockTransactionLister) {
				m.EXPECT().ListByAccount(gomock.Any(), "ACCC").Return(nil, nil)
			},
			expectedCode: http.StatusOK,
			expectedIDs:  []string{},
		},
		{
			name:   "store down",
			target: "/transfers",
			mockSetup: func(m *MockTransactionLister) {
				m.EXPECT().ListTransactions(gomock.Any()).Return(nil, errors.New("connection refused"))
			},
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			m := NewMockTransactionLister(ctrl)
			tt.mockSetup(m)

			r := chi.NewRouter()
			r.Get("/transfers", NewListTransactionsHandler(m))
			r.Get("/transfers/account/{accountNumber}", NewListAccountTransactionsHandler(m))

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.expectedCode, rec.Code)
			if tt.expectedIDs == nil {
				return
			}

			var resp TransactionListResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			require.NotNil(t, resp.Transactions)
			ids := make([]string, 0, len(resp.Transactions))
			for _, txn := range resp.Transactions {
				ids = append(ids, txn.TransactionID)
			}
			assert.Equal(t, tt.expectedIDs, ids)
		})
	}
}
