package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account represents an account row owned by the ledger.
type Account struct {
	AccountNumber string          `json:"accountNumber" db:"account_number"` // Immutable, unique account number
	HolderName    string          `json:"holderName" db:"holder_name"`       // Account holder
	Email         string          `json:"email" db:"email"`                  // Unique contact email
	Balance       decimal.Decimal `json:"balance" db:"balance"`              // Never negative
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`         // Timestamp when the account was opened
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`         // Timestamp of the last balance change
}

// NewAccountNumber generates an account number.
func NewAccountNumber() string {
	return "ACC" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}
