package services

import (
	"context"
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// TransactionUpdateInput carries the mutable fields of a ledger row.
type TransactionUpdateInput struct {
	Date            *time.Time
	Category        *domain.Category
	Description     *string
	Merchant        *string
	Remarks         *string
	TransactionType *domain.TransactionType
}

// EnrichedTransaction is a ledger row with its resolved link partners.
type EnrichedTransaction struct {
	Transaction       domain.Transaction
	LinkedTransfer    *domain.Transaction
	ForwardedTarget   *domain.Transaction
	ForwardedChildren []domain.Transaction
}

// TransactionSvcFacade defines the ledger operations exposed to handlers.
type TransactionSvcFacade interface {
	// ListByDateRange returns transactions in the inclusive range with their
	// transfer and forwarded partners resolved.
	ListByDateRange(ctx context.Context, from, to time.Time) ([]EnrichedTransaction, error)

	// Get returns a single transaction with its link partners resolved.
	Get(ctx context.Context, transactionID int64) (*EnrichedTransaction, error)

	// Update applies partial changes. A category change propagates across
	// forwarded links so both sides of a duplicate stay consistent.
	Update(ctx context.Context, transactionID int64, input TransactionUpdateInput) (*domain.Transaction, error)

	// Delete removes a transaction unless a link still references it.
	Delete(ctx context.Context, transactionID int64) error

	// LinkTransfer pairs two transfer rows after validating direction,
	// amount and link state.
	LinkTransfer(ctx context.Context, firstID, secondID int64) error

	// UnlinkTransfer dissolves the pairing from either side.
	UnlinkTransfer(ctx context.Context, transactionID int64) error

	// LinkForwarded marks cardRowID as the card-side duplicate of targetID.
	LinkForwarded(ctx context.Context, cardRowID, targetID int64) error

	// UnlinkForwarded clears the forwarded pointer on the row.
	UnlinkForwarded(ctx context.Context, transactionID int64) error
}
