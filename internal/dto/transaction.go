package dto

import (
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/shopspring/decimal"
)

// TransactionResponse defines the data returned for a ledger transaction.
type TransactionResponse struct {
	TransactionID          int64           `json:"transactionID"`
	Date                   string          `json:"date"`
	Category               string          `json:"category"`
	Description            string          `json:"description"`
	Merchant               string          `json:"merchant"`
	Price                  decimal.Decimal `json:"price"`
	Quantity               int             `json:"quantity"`
	Total                  decimal.Decimal `json:"total"`
	Payment                string          `json:"payment"`
	Owner                  string          `json:"owner"`
	Remarks                string          `json:"remarks"`
	TransactionType        string          `json:"transactionType"`
	ForwardedFromApp       *string         `json:"forwardedFromApp,omitempty"`
	LinkedTransferID       *int64          `json:"linkedTransferID,omitempty"`
	ForwardedTransactionID *int64          `json:"forwardedTransactionID,omitempty"`
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// EnrichedTransactionResponse is a transaction with its link partners resolved.
type EnrichedTransactionResponse struct {
	TransactionResponse
	LinkedTransfer    *TransactionResponse  `json:"linkedTransfer,omitempty"`
	ForwardedTarget   *TransactionResponse  `json:"forwardedTarget,omitempty"`
	ForwardedChildren []TransactionResponse `json:"forwardedChildren,omitempty"`
}

// ListTransactionsParams defines query parameters for the range listing.
type ListTransactionsParams struct {
	From string `form:"from" binding:"required"` // YYYY-MM-DD, inclusive
	To   string `form:"to" binding:"required"`   // YYYY-MM-DD, inclusive
}

// UpdateTransactionRequest defines the data allowed for updating a transaction.
// Use pointers to distinguish between zero-value updates and fields not provided.
type UpdateTransactionRequest struct {
	Date            *string `json:"date"` // YYYY-MM-DD
	Category        *string `json:"category"`
	Description     *string `json:"description"`
	Merchant        *string `json:"merchant"`
	Remarks         *string `json:"remarks"`
	TransactionType *string `json:"transactionType" binding:"omitempty,oneof=expense income transfer_in transfer_out"`
}

// LinkTransferRequest pairs two transfer rows.
type LinkTransferRequest struct {
	CounterpartID int64 `json:"counterpartID" binding:"required"`
}

// LinkForwardedRequest points a card row at the app row it duplicates.
type LinkForwardedRequest struct {
	TargetID int64 `json:"targetID" binding:"required"`
}

// MatchesResponse lists suggested link partners for a transaction.
type MatchesResponse struct {
	TransferMatch    *TransactionResponse  `json:"transferMatch"`
	ForwardedMatches []TransactionResponse `json:"forwardedMatches"`
	ReverseMatches   []TransactionResponse `json:"reverseMatches"`
}

// ToTransactionResponse converts a domain.Transaction to its response DTO
func ToTransactionResponse(txn *domain.Transaction) TransactionResponse {
	var forwardedFrom *string
	if txn.ForwardedFromApp != nil {
		s := string(*txn.ForwardedFromApp)
		forwardedFrom = &s
	}
	return TransactionResponse{
		TransactionID:          txn.TransactionID,
		Date:                   txn.Date.Format("2006-01-02"),
		Category:               string(txn.Category),
		Description:            txn.Description,
		Merchant:               txn.Merchant,
		Price:                  txn.Price,
		Quantity:               txn.Quantity,
		Total:                  txn.Total,
		Payment:                string(txn.Payment),
		Owner:                  txn.Owner,
		Remarks:                txn.Remarks,
		TransactionType:        string(txn.TransactionType),
		ForwardedFromApp:       forwardedFrom,
		LinkedTransferID:       txn.LinkedTransferID,
		ForwardedTransactionID: txn.ForwardedTransactionID,
		CreatedAt:              txn.CreatedAt,
		UpdatedAt:              txn.UpdatedAt,
	}
}

// ToListTransactionResponse converts a slice of domain transactions.
func ToListTransactionResponse(txns []domain.Transaction) []TransactionResponse {
	res := make([]TransactionResponse, len(txns))
	for i, txn := range txns {
		res[i] = ToTransactionResponse(&txn)
	}
	return res
}

// ToEnrichedTransactionResponse converts an enriched transaction.
func ToEnrichedTransactionResponse(e *portssvc.EnrichedTransaction) EnrichedTransactionResponse {
	res := EnrichedTransactionResponse{
		TransactionResponse: ToTransactionResponse(&e.Transaction),
	}
	if e.LinkedTransfer != nil {
		partner := ToTransactionResponse(e.LinkedTransfer)
		res.LinkedTransfer = &partner
	}
	if e.ForwardedTarget != nil {
		target := ToTransactionResponse(e.ForwardedTarget)
		res.ForwardedTarget = &target
	}
	if len(e.ForwardedChildren) > 0 {
		res.ForwardedChildren = ToListTransactionResponse(e.ForwardedChildren)
	}
	return res
}
