package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction mirrors the transactions table.
type Transaction struct {
	TransactionID          int64
	Date                   time.Time
	Category               string
	Description            string
	Merchant               string
	Price                  decimal.Decimal
	Quantity               int
	Total                  decimal.Decimal
	Payment                string
	Owner                  string
	Remarks                string
	TransactionType        string
	ForwardedFromApp       *string
	LinkedTransferID       *int64
	ForwardedTransactionID *int64
	ImageURL               string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}
