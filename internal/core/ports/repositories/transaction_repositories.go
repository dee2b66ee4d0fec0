package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// TransactionReader defines read operations for ledger transactions.
type TransactionReader interface {
	// FindByID retrieves a transaction by its identifier.
	FindByID(ctx context.Context, transactionID int64) (*domain.Transaction, error)

	// FindByIDs retrieves the transactions whose IDs appear in the slice.
	// Missing IDs are silently skipped.
	FindByIDs(ctx context.Context, ids []int64) ([]domain.Transaction, error)

	// FindByDateRange retrieves transactions whose date falls inside the
	// inclusive range, ordered by date then ID.
	FindByDateRange(ctx context.Context, from, to time.Time) ([]domain.Transaction, error)

	// FindDuplicateCandidates retrieves persisted rows sharing the exact
	// date, total amount and payment app of a candidate.
	FindDuplicateCandidates(ctx context.Context, date time.Time, total decimal.Decimal, payment domain.PaymentApp) ([]domain.Transaction, error)

	// FindTransferCandidates retrieves unlinked transfer rows of the given
	// direction and amount within the date window, excluding rows on the
	// same payment app.
	FindTransferCandidates(ctx context.Context, direction domain.TransactionType, total decimal.Decimal, from, to time.Time, excludePayment domain.PaymentApp) ([]domain.Transaction, error)

	// FindForwardedCandidates retrieves rows from a forwarding source app
	// with the given amount inside the date window that are not already the
	// target of a forwarded link.
	FindForwardedCandidates(ctx context.Context, sourceApp domain.PaymentApp, total decimal.Decimal, from, to time.Time) ([]domain.Transaction, error)

	// FindReverseForwardedCandidates retrieves card-side rows marked as
	// forwarded from the source app, still unlinked, matching amount and window.
	FindReverseForwardedCandidates(ctx context.Context, sourceApp domain.PaymentApp, total decimal.Decimal, from, to time.Time) ([]domain.Transaction, error)

	// FindForwardedChildren retrieves rows whose forwarded link points at the
	// given transaction.
	FindForwardedChildren(ctx context.Context, transactionID int64) ([]domain.Transaction, error)
}

// TransactionWriter defines write operations for ledger transactions.
type TransactionWriter interface {
	// Create inserts a single transaction and returns it with its assigned ID.
	Create(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error)

	// Update persists changes to the mutable fields of a transaction.
	Update(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error)

	// UpdateCategoryForIDs sets the category on every listed transaction.
	UpdateCategoryForIDs(ctx context.Context, ids []int64, category domain.Category) error

	// Delete removes a transaction. Returns apperrors.ErrConflict when the
	// row is still referenced by a transfer or forwarded link.
	Delete(ctx context.Context, transactionID int64) error

	// LinkTransfer pairs two opposite-direction transfer rows. Both rows are
	// locked in ID order and must be unlinked.
	LinkTransfer(ctx context.Context, firstID, secondID int64) error

	// UnlinkTransfer clears the transfer pairing on both sides.
	UnlinkTransfer(ctx context.Context, transactionID int64) error

	// LinkForwarded points a card-side row at the app-side row it duplicates.
	// A target can be claimed by at most one row.
	LinkForwarded(ctx context.Context, cardRowID, targetID int64) error

	// UnlinkForwarded clears the forwarded pointer on the given row.
	UnlinkForwarded(ctx context.Context, transactionID int64) error
}

// TransactionTxSupport exposes per-row operations that run inside an
// externally owned transaction. The scan repository uses these during the
// page confirmation unit of work.
type TransactionTxSupport interface {
	// InsertInTx inserts a transaction within tx and returns its assigned ID.
	InsertInTx(ctx context.Context, tx pgx.Tx, txn domain.Transaction) (int64, error)

	// LinkTransferInTx pairs two transfer rows within tx.
	LinkTransferInTx(ctx context.Context, tx pgx.Tx, firstID, secondID int64) error

	// SetForwardedTargetInTx points rowID's forwarded link at targetID
	// within tx, enforcing one claimant per target.
	SetForwardedTargetInTx(ctx context.Context, tx pgx.Tx, rowID, targetID int64) error
}

// TransactionRepositoryFacade combines all transaction repository interfaces.
type TransactionRepositoryFacade interface {
	TransactionReader
	TransactionWriter
	TransactionTxSupport
}
