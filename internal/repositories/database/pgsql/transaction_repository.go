package pgsql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	"github.com/duitscan/scan_ledger_app/internal/models"
	"github.com/duitscan/scan_ledger_app/internal/utils/mapping"
)

const transactionColumns = `transaction_id, date, category, description, merchant, price, quantity, total, payment, owner, remarks, transaction_type, forwarded_from_app, linked_transfer_id, forwarded_transaction_id, image_url, created_at, updated_at`

// rowQuerier is satisfied by both *pgxpool.Pool and pgx.Tx, letting the
// insert path run standalone or inside an external transaction.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxTransactionRepository struct {
	BaseRepository
}

// newPgxTransactionRepository creates a new repository for ledger transactions.
func newPgxTransactionRepository(pool *pgxpool.Pool) portsrepo.TransactionRepositoryFacade {
	return &PgxTransactionRepository{
		BaseRepository: BaseRepository{Pool: pool},
	}
}

// Ensure PgxTransactionRepository implements portsrepo.TransactionRepositoryFacade
var _ portsrepo.TransactionRepositoryFacade = (*PgxTransactionRepository)(nil)

func scanTransactionModel(row pgx.Row) (models.Transaction, error) {
	var m models.Transaction
	err := row.Scan(
		&m.TransactionID,
		&m.Date,
		&m.Category,
		&m.Description,
		&m.Merchant,
		&m.Price,
		&m.Quantity,
		&m.Total,
		&m.Payment,
		&m.Owner,
		&m.Remarks,
		&m.TransactionType,
		&m.ForwardedFromApp,
		&m.LinkedTransferID,
		&m.ForwardedTransactionID,
		&m.ImageURL,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	return m, err
}

func (r *PgxTransactionRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txnModels := []models.Transaction{}
	for rows.Next() {
		m, err := scanTransactionModel(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction row: %w", err)
		}
		txnModels = append(txnModels, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transaction rows: %w", err)
	}
	return mapping.ToDomainTransactionSlice(txnModels), nil
}

// FindByID retrieves a transaction by its ID.
func (r *PgxTransactionRepository) FindByID(ctx context.Context, transactionID int64) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = $1;`
	m, err := scanTransactionModel(r.Pool.QueryRow(ctx, query, transactionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find transaction %d: %w", transactionID, err)
	}
	txn := mapping.ToDomainTransaction(m)
	return &txn, nil
}

// FindByIDs retrieves the transactions whose IDs appear in the slice.
func (r *PgxTransactionRepository) FindByIDs(ctx context.Context, ids []int64) ([]domain.Transaction, error) {
	if len(ids) == 0 {
		return []domain.Transaction{}, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transaction_id = ANY($1) ORDER BY date, transaction_id;`
	return r.queryTransactions(ctx, query, ids)
}

// FindByDateRange retrieves transactions inside the inclusive date range.
func (r *PgxTransactionRepository) FindByDateRange(ctx context.Context, from, to time.Time) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE date >= $1 AND date <= $2 ORDER BY date, transaction_id;`
	return r.queryTransactions(ctx, query, from, to)
}

// FindDuplicateCandidates retrieves rows sharing the exact date, total and
// payment app. Fuzzy text comparison happens at the service layer.
func (r *PgxTransactionRepository) FindDuplicateCandidates(ctx context.Context, date time.Time, total decimal.Decimal, payment domain.PaymentApp) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE date = $1 AND total = $2 AND payment = $3
		ORDER BY date, transaction_id;
	`
	return r.queryTransactions(ctx, query, date, total, payment)
}

// FindTransferCandidates retrieves unlinked transfer rows of the given
// direction and amount within the window, excluding the candidate's own app.
func (r *PgxTransactionRepository) FindTransferCandidates(ctx context.Context, direction domain.TransactionType, total decimal.Decimal, from, to time.Time, excludePayment domain.PaymentApp) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE transaction_type = $1
		  AND total = $2
		  AND date >= $3 AND date <= $4
		  AND payment <> $5
		  AND linked_transfer_id IS NULL
		ORDER BY date, transaction_id;
	`
	return r.queryTransactions(ctx, query, direction, total, from, to, excludePayment)
}

// FindForwardedCandidates retrieves source-app rows with the given amount in
// the window that no card row has claimed as its forwarded target yet.
func (r *PgxTransactionRepository) FindForwardedCandidates(ctx context.Context, sourceApp domain.PaymentApp, total decimal.Decimal, from, to time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions t
		WHERE t.payment = $1
		  AND t.total = $2
		  AND t.date >= $3 AND t.date <= $4
		  AND NOT EXISTS (
		      SELECT 1 FROM transactions c WHERE c.forwarded_transaction_id = t.transaction_id
		  )
		ORDER BY t.date, t.transaction_id;
	`
	return r.queryTransactions(ctx, query, sourceApp, total, from, to)
}

// FindReverseForwardedCandidates retrieves unlinked card-side rows marked as
// forwarded from the source app, matching amount and window.
func (r *PgxTransactionRepository) FindReverseForwardedCandidates(ctx context.Context, sourceApp domain.PaymentApp, total decimal.Decimal, from, to time.Time) ([]domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE forwarded_from_app = $1
		  AND forwarded_transaction_id IS NULL
		  AND total = $2
		  AND date >= $3 AND date <= $4
		ORDER BY date, transaction_id;
	`
	return r.queryTransactions(ctx, query, sourceApp, total, from, to)
}

// FindForwardedChildren retrieves rows whose forwarded link points at the
// given transaction.
func (r *PgxTransactionRepository) FindForwardedChildren(ctx context.Context, transactionID int64) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE forwarded_transaction_id = $1 ORDER BY date, transaction_id;`
	return r.queryTransactions(ctx, query, transactionID)
}

func insertTransaction(ctx context.Context, q rowQuerier, txn domain.Transaction) (int64, error) {
	m := mapping.ToModelTransaction(txn)
	query := `
		INSERT INTO transactions (date, category, description, merchant, price, quantity, total, payment, owner, remarks, transaction_type, forwarded_from_app, linked_transfer_id, forwarded_transaction_id, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING transaction_id;
	`
	var id int64
	err := q.QueryRow(ctx, query,
		m.Date,
		m.Category,
		m.Description,
		m.Merchant,
		m.Price,
		m.Quantity,
		m.Total,
		m.Payment,
		m.Owner,
		m.Remarks,
		m.TransactionType,
		m.ForwardedFromApp,
		m.LinkedTransferID,
		m.ForwardedTransactionID,
		m.ImageURL,
		m.CreatedAt,
		m.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return id, nil
}

// Create inserts a single transaction and returns it with its assigned ID.
func (r *PgxTransactionRepository) Create(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	id, err := insertTransaction(ctx, r.Pool, txn)
	if err != nil {
		return nil, err
	}
	txn.TransactionID = id
	return &txn, nil
}

// Update persists changes to the mutable fields of a transaction.
func (r *PgxTransactionRepository) Update(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	m := mapping.ToModelTransaction(txn)
	query := `
		UPDATE transactions
		SET date = $2,
		    category = $3,
		    description = $4,
		    merchant = $5,
		    remarks = $6,
		    transaction_type = $7,
		    updated_at = $8
		WHERE transaction_id = $1
		RETURNING ` + transactionColumns + `;
	`
	updated, err := scanTransactionModel(r.Pool.QueryRow(ctx, query,
		m.TransactionID,
		m.Date,
		m.Category,
		m.Description,
		m.Merchant,
		m.Remarks,
		m.TransactionType,
		m.UpdatedAt,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to update transaction %d: %w", m.TransactionID, err)
	}
	result := mapping.ToDomainTransaction(updated)
	return &result, nil
}

// UpdateCategoryForIDs sets the category on every listed transaction.
func (r *PgxTransactionRepository) UpdateCategoryForIDs(ctx context.Context, ids []int64, category domain.Category) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE transactions SET category = $1, updated_at = $2 WHERE transaction_id = ANY($3);`
	_, err := r.Pool.Exec(ctx, query, category, time.Now().UTC(), ids)
	if err != nil {
		return fmt.Errorf("failed to update category for transactions: %w", err)
	}
	return nil
}

// Delete removes a transaction. A row still holding or receiving a link must
// be unlinked first.
func (r *PgxTransactionRepository) Delete(ctx context.Context, transactionID int64) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx)

	var linkedTransferID, forwardedTargetID *int64
	err = tx.QueryRow(ctx,
		`SELECT linked_transfer_id, forwarded_transaction_id FROM transactions WHERE transaction_id = $1 FOR UPDATE;`,
		transactionID,
	).Scan(&linkedTransferID, &forwardedTargetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock transaction %d for delete: %w", transactionID, err)
	}

	if linkedTransferID != nil || forwardedTargetID != nil {
		return fmt.Errorf("%w: transaction %d still holds a link", apperrors.ErrConflict, transactionID)
	}

	var hasChildren bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE forwarded_transaction_id = $1 OR linked_transfer_id = $1);`,
		transactionID,
	).Scan(&hasChildren)
	if err != nil {
		return fmt.Errorf("failed to check links referencing transaction %d: %w", transactionID, err)
	}
	if hasChildren {
		return fmt.Errorf("%w: transaction %d is still referenced by a link", apperrors.ErrConflict, transactionID)
	}

	_, err = tx.Exec(ctx, `DELETE FROM transactions WHERE transaction_id = $1;`, transactionID)
	if err != nil {
		return fmt.Errorf("failed to delete transaction %d: %w", transactionID, err)
	}

	return r.Commit(ctx, tx)
}

// LinkTransfer pairs two opposite-direction transfer rows.
func (r *PgxTransactionRepository) LinkTransfer(ctx context.Context, firstID, secondID int64) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx)

	if err := linkTransferInTx(ctx, tx, firstID, secondID); err != nil {
		return err
	}
	return r.Commit(ctx, tx)
}

// UnlinkTransfer clears the transfer pairing on both sides.
func (r *PgxTransactionRepository) UnlinkTransfer(ctx context.Context, transactionID int64) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx)

	var partnerID *int64
	err = tx.QueryRow(ctx,
		`SELECT linked_transfer_id FROM transactions WHERE transaction_id = $1 FOR UPDATE;`,
		transactionID,
	).Scan(&partnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock transaction %d for unlink: %w", transactionID, err)
	}
	if partnerID == nil {
		return fmt.Errorf("%w: transaction %d has no transfer link", apperrors.ErrValidation, transactionID)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		`UPDATE transactions SET linked_transfer_id = NULL, updated_at = $3 WHERE transaction_id IN ($1, $2);`,
		transactionID, *partnerID, now,
	)
	if err != nil {
		return fmt.Errorf("failed to unlink transfer pair (%d, %d): %w", transactionID, *partnerID, err)
	}
	return r.Commit(ctx, tx)
}

// LinkForwarded points a card-side row at the app-side row it duplicates.
func (r *PgxTransactionRepository) LinkForwarded(ctx context.Context, cardRowID, targetID int64) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx)

	if err := setForwardedTargetInTx(ctx, tx, cardRowID, targetID); err != nil {
		return err
	}
	return r.Commit(ctx, tx)
}

// UnlinkForwarded clears the forwarded pointer on the given row.
func (r *PgxTransactionRepository) UnlinkForwarded(ctx context.Context, transactionID int64) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx)

	var targetID *int64
	err = tx.QueryRow(ctx,
		`SELECT forwarded_transaction_id FROM transactions WHERE transaction_id = $1 FOR UPDATE;`,
		transactionID,
	).Scan(&targetID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to lock transaction %d for unlink: %w", transactionID, err)
	}
	if targetID == nil {
		return fmt.Errorf("%w: transaction %d has no forwarded link", apperrors.ErrValidation, transactionID)
	}

	_, err = tx.Exec(ctx,
		`UPDATE transactions SET forwarded_transaction_id = NULL, updated_at = $2 WHERE transaction_id = $1;`,
		transactionID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to unlink forwarded transaction %d: %w", transactionID, err)
	}
	return r.Commit(ctx, tx)
}

// InsertInTx inserts a transaction within tx and returns its assigned ID.
func (r *PgxTransactionRepository) InsertInTx(ctx context.Context, tx pgx.Tx, txn domain.Transaction) (int64, error) {
	return insertTransaction(ctx, tx, txn)
}

// LinkTransferInTx pairs two transfer rows within tx.
func (r *PgxTransactionRepository) LinkTransferInTx(ctx context.Context, tx pgx.Tx, firstID, secondID int64) error {
	return linkTransferInTx(ctx, tx, firstID, secondID)
}

// SetForwardedTargetInTx points rowID's forwarded link at targetID within tx.
func (r *PgxTransactionRepository) SetForwardedTargetInTx(ctx context.Context, tx pgx.Tx, rowID, targetID int64) error {
	return setForwardedTargetInTx(ctx, tx, rowID, targetID)
}

// linkTransferInTx locks both rows in ID order so two concurrent link calls
// cannot deadlock, verifies neither side is already paired, and writes the
// symmetric pointers.
func linkTransferInTx(ctx context.Context, tx pgx.Tx, firstID, secondID int64) error {
	if firstID == secondID {
		return fmt.Errorf("%w: cannot link a transaction to itself", apperrors.ErrValidation)
	}

	lowID, highID := firstID, secondID
	if lowID > highID {
		lowID, highID = highID, lowID
	}

	for _, id := range []int64{lowID, highID} {
		var linkedID *int64
		err := tx.QueryRow(ctx,
			`SELECT linked_transfer_id FROM transactions WHERE transaction_id = $1 FOR UPDATE;`,
			id,
		).Scan(&linkedID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: transaction %d", apperrors.ErrNotFound, id)
			}
			return fmt.Errorf("failed to lock transaction %d for transfer link: %w", id, err)
		}
		if linkedID != nil {
			return fmt.Errorf("%w: transaction %d already linked", apperrors.ErrConflict, id)
		}
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	linkQuery := `UPDATE transactions SET linked_transfer_id = $2, updated_at = $3 WHERE transaction_id = $1;`
	batch.Queue(linkQuery, firstID, secondID, now)
	batch.Queue(linkQuery, secondID, firstID, now)

	br := tx.SendBatch(ctx, batch)
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to write transfer link (%d, %d): %w", firstID, secondID, err)
	}
	return nil
}

// setForwardedTargetInTx writes the one-directional forwarded pointer. A
// target can be claimed by at most one row; the conditional update enforces
// it under the lock.
func setForwardedTargetInTx(ctx context.Context, tx pgx.Tx, rowID, targetID int64) error {
	if rowID == targetID {
		return fmt.Errorf("%w: cannot forward a transaction to itself", apperrors.ErrValidation)
	}

	var lockedID int64
	err := tx.QueryRow(ctx,
		`SELECT transaction_id FROM transactions WHERE transaction_id = $1 FOR UPDATE;`,
		targetID,
	).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: transaction %d", apperrors.ErrNotFound, targetID)
		}
		return fmt.Errorf("failed to lock forwarded target %d: %w", targetID, err)
	}

	var claimed bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE forwarded_transaction_id = $1 AND transaction_id <> $2);`,
		targetID, rowID,
	).Scan(&claimed)
	if err != nil {
		return fmt.Errorf("failed to check claims on forwarded target %d: %w", targetID, err)
	}
	if claimed {
		return fmt.Errorf("%w: transaction %d is already a forwarded target", apperrors.ErrConflict, targetID)
	}

	cmdTag, err := tx.Exec(ctx,
		`UPDATE transactions SET forwarded_transaction_id = $2, updated_at = $3 WHERE transaction_id = $1;`,
		rowID, targetID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to set forwarded target on transaction %d: %w", rowID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("%w: transaction %d", apperrors.ErrNotFound, rowID)
	}
	return nil
}
