package pgsql

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	"github.com/duitscan/scan_ledger_app/internal/models"
	"github.com/duitscan/scan_ledger_app/internal/utils/mapping"
)

const scanSessionColumns = `session_id, user_id, status, current_page_index, last_retry_at, created_at, expires_at, updated_at`

const scanPageColumns = `page_id, session_id, page_index, image_key, app_type, parse_status, parse_result, parse_error, retry_count, review_status, confirmed_at, updated_at`

type PgxScanRepository struct {
	BaseRepository
	txnRepo portsrepo.TransactionTxSupport
}

// newPgxScanRepository creates a new repository for scan sessions and pages.
// The transaction repository dependency is used during page confirmation to
// insert ledger rows inside the same database transaction.
func newPgxScanRepository(pool *pgxpool.Pool, txnRepo portsrepo.TransactionTxSupport) portsrepo.ScanRepositoryFacade {
	return &PgxScanRepository{
		BaseRepository: BaseRepository{Pool: pool},
		txnRepo:        txnRepo,
	}
}

// Ensure PgxScanRepository implements portsrepo.ScanRepositoryFacade
var _ portsrepo.ScanRepositoryFacade = (*PgxScanRepository)(nil)

func scanSessionRow(row pgx.Row) (*domain.ScanSession, error) {
	var m models.ScanSession
	err := row.Scan(
		&m.SessionID,
		&m.UserID,
		&m.Status,
		&m.CurrentPageIndex,
		&m.LastRetryAt,
		&m.CreatedAt,
		&m.ExpiresAt,
		&m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan session row: %w", err)
	}
	session := mapping.ToDomainScanSession(m)
	return &session, nil
}

func scanPageRows(rows pgx.Rows) ([]domain.ScanSessionPage, error) {
	defer rows.Close()

	pageModels := []models.ScanSessionPage{}
	for rows.Next() {
		var m models.ScanSessionPage
		err := rows.Scan(
			&m.PageID,
			&m.SessionID,
			&m.PageIndex,
			&m.ImageKey,
			&m.AppType,
			&m.ParseStatus,
			&m.ParseResult,
			&m.ParseError,
			&m.RetryCount,
			&m.ReviewStatus,
			&m.ConfirmedAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan page row: %w", err)
		}
		pageModels = append(pageModels, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating page rows: %w", err)
	}

	return mapping.ToDomainScanSessionPageSlice(pageModels)
}

// FindSessionByID retrieves a session by its ID.
func (r *PgxScanRepository) FindSessionByID(ctx context.Context, sessionID string) (*domain.ScanSession, error) {
	query := `SELECT ` + scanSessionColumns + ` FROM scan_sessions WHERE session_id = $1;`
	return scanSessionRow(r.Pool.QueryRow(ctx, query, sessionID))
}

// FindActiveSessionByUser retrieves the user's in-progress session, if any.
func (r *PgxScanRepository) FindActiveSessionByUser(ctx context.Context, userID string) (*domain.ScanSession, error) {
	query := `SELECT ` + scanSessionColumns + ` FROM scan_sessions WHERE user_id = $1 AND status = $2;`
	return scanSessionRow(r.Pool.QueryRow(ctx, query, userID, domain.SessionInProgress))
}

// FindPagesBySessionID retrieves all pages of a session ordered by page index.
func (r *PgxScanRepository) FindPagesBySessionID(ctx context.Context, sessionID string) ([]domain.ScanSessionPage, error) {
	query := `SELECT ` + scanPageColumns + ` FROM scan_session_pages WHERE session_id = $1 ORDER BY page_index;`
	rows, err := r.Pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages for session %s: %w", sessionID, err)
	}
	return scanPageRows(rows)
}

// FindPageBySessionAndIndex retrieves a single page.
func (r *PgxScanRepository) FindPageBySessionAndIndex(ctx context.Context, sessionID string, pageIndex int) (*domain.ScanSessionPage, error) {
	query := `SELECT ` + scanPageColumns + ` FROM scan_session_pages WHERE session_id = $1 AND page_index = $2;`
	rows, err := r.Pool.Query(ctx, query, sessionID, pageIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to query page %d of session %s: %w", pageIndex, sessionID, err)
	}
	pages, err := scanPageRows(rows)
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, apperrors.ErrNotFound
	}
	return &pages[0], nil
}

// FindPagesNeedingParse retrieves unconfirmed pages of in-progress sessions
// that are still pending, or failed below the retry cap.
func (r *PgxScanRepository) FindPagesNeedingParse(ctx context.Context, maxRetries int) ([]domain.ScanSessionPage, error) {
	query := `
		SELECT p.page_id, p.session_id, p.page_index, p.image_key, p.app_type, p.parse_status, p.parse_result, p.parse_error, p.retry_count, p.review_status, p.confirmed_at, p.updated_at
		FROM scan_session_pages p
		JOIN scan_sessions s ON s.session_id = p.session_id
		WHERE s.status = $1
		  AND p.review_status = $2
		  AND (p.parse_status = $3 OR (p.parse_status = $4 AND p.retry_count < $5))
		ORDER BY p.session_id, p.page_index;
	`
	rows, err := r.Pool.Query(ctx, query,
		domain.SessionInProgress,
		domain.ReviewPending,
		domain.ParsePending,
		domain.ParseFailed,
		maxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pages needing parse: %w", err)
	}
	return scanPageRows(rows)
}

// FindExpiredSessions retrieves in-progress sessions past their expiry horizon.
func (r *PgxScanRepository) FindExpiredSessions(ctx context.Context, now time.Time) ([]domain.ScanSession, error) {
	query := `SELECT ` + scanSessionColumns + ` FROM scan_sessions WHERE status = $1 AND expires_at <= $2;`
	rows, err := r.Pool.Query(ctx, query, domain.SessionInProgress, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query expired sessions: %w", err)
	}
	defer rows.Close()

	sessions := []domain.ScanSession{}
	for rows.Next() {
		var m models.ScanSession
		err := rows.Scan(
			&m.SessionID,
			&m.UserID,
			&m.Status,
			&m.CurrentPageIndex,
			&m.LastRetryAt,
			&m.CreatedAt,
			&m.ExpiresAt,
			&m.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expired session row: %w", err)
		}
		sessions = append(sessions, mapping.ToDomainScanSession(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating expired session rows: %w", err)
	}
	return sessions, nil
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" // unique_violation
}

// CreateSessionWithPages atomically creates a session and its pages. The
// FOR UPDATE check catches the common case early; the partial unique index
// on in-progress sessions closes the race where both creates see no row.
func (r *PgxScanRepository) CreateSessionWithPages(ctx context.Context, session domain.ScanSession, pages []domain.ScanSessionPage) (*domain.ScanSession, []domain.ScanSessionPage, error) {
	tx, err := r.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer r.Rollback(ctx, tx)

	var existing string
	err = tx.QueryRow(ctx,
		`SELECT session_id FROM scan_sessions WHERE user_id = $1 AND status = $2 FOR UPDATE;`,
		session.UserID, domain.SessionInProgress,
	).Scan(&existing)
	if err == nil {
		return nil, nil, apperrors.ErrConflict
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to check active session for user %s: %w", session.UserID, err)
	}

	sessionQuery := `
		INSERT INTO scan_sessions (session_id, user_id, status, current_page_index, last_retry_at, created_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	_, err = tx.Exec(ctx, sessionQuery,
		session.SessionID,
		session.UserID,
		session.Status,
		session.CurrentPageIndex,
		session.LastRetryAt,
		session.CreatedAt,
		session.ExpiresAt,
		session.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, apperrors.ErrConflict
		}
		return nil, nil, fmt.Errorf("failed to insert scan session %s: %w", session.SessionID, err)
	}

	pageQuery := `
		INSERT INTO scan_session_pages (session_id, page_index, image_key, app_type, parse_status, parse_result, parse_error, retry_count, review_status, confirmed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, 0, $6, NULL, $7)
		RETURNING page_id;
	`
	created := make([]domain.ScanSessionPage, len(pages))
	for i, page := range pages {
		var appType *string
		if page.AppType != nil {
			s := string(*page.AppType)
			appType = &s
		}
		var pageID int64
		err = tx.QueryRow(ctx, pageQuery,
			session.SessionID,
			page.PageIndex,
			page.ImageKey,
			appType,
			domain.ParsePending,
			domain.ReviewPending,
			session.CreatedAt,
		).Scan(&pageID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to insert page %d of session %s: %w", page.PageIndex, session.SessionID, err)
		}

		created[i] = page
		created[i].PageID = pageID
		created[i].SessionID = session.SessionID
		created[i].ParseStatus = domain.ParsePending
		created[i].ReviewStatus = domain.ReviewPending
		created[i].UpdatedAt = session.CreatedAt
	}

	if err := r.Commit(ctx, tx); err != nil {
		return nil, nil, err
	}
	return &session, created, nil
}

// DeleteSession removes a session; page rows cascade via the foreign key.
func (r *PgxScanRepository) DeleteSession(ctx context.Context, sessionID string) error {
	cmdTag, err := r.Pool.Exec(ctx, `DELETE FROM scan_sessions WHERE session_id = $1;`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// MarkPageProcessing transitions a page to processing.
func (r *PgxScanRepository) MarkPageProcessing(ctx context.Context, pageID int64) error {
	query := `UPDATE scan_session_pages SET parse_status = $2, updated_at = $3 WHERE page_id = $1;`
	cmdTag, err := r.Pool.Exec(ctx, query, pageID, domain.ParseProcessing, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark page %d processing: %w", pageID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// CompletePageParse stores the candidates and marks the page completed. The
// write is conditional on the page still being pending or processing, so a
// worker that lost its page (cancelled session, manual reset) cannot clobber
// newer state.
func (r *PgxScanRepository) CompletePageParse(ctx context.Context, pageID int64, candidates []domain.Candidate, detectedApp *domain.PaymentApp) (bool, error) {
	encoded, err := mapping.EncodeCandidates(candidates)
	if err != nil {
		return false, err
	}

	var detected *string
	if detectedApp != nil {
		s := string(*detectedApp)
		detected = &s
	}

	query := `
		UPDATE scan_session_pages
		SET parse_status = $2,
		    parse_result = $3,
		    app_type = COALESCE(app_type, $4),
		    parse_error = NULL,
		    updated_at = $5
		WHERE page_id = $1 AND parse_status IN ($6, $7);
	`
	cmdTag, err := r.Pool.Exec(ctx, query,
		pageID,
		domain.ParseCompleted,
		encoded,
		detected,
		time.Now().UTC(),
		domain.ParsePending,
		domain.ParseProcessing,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete parse for page %d: %w", pageID, err)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// MarkPageFailed records a parse failure with its error message.
func (r *PgxScanRepository) MarkPageFailed(ctx context.Context, pageID int64, retryCount int, parseError string) error {
	query := `
		UPDATE scan_session_pages
		SET parse_status = $2, retry_count = $3, parse_error = $4, updated_at = $5
		WHERE page_id = $1;
	`
	cmdTag, err := r.Pool.Exec(ctx, query, pageID, domain.ParseFailed, retryCount, parseError, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark page %d failed: %w", pageID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// ResetPageForRetry puts a page back to pending with the new retry count.
func (r *PgxScanRepository) ResetPageForRetry(ctx context.Context, pageID int64, retryCount int) error {
	query := `
		UPDATE scan_session_pages
		SET parse_status = $2, retry_count = $3, parse_error = NULL, updated_at = $4
		WHERE page_id = $1;
	`
	cmdTag, err := r.Pool.Exec(ctx, query, pageID, domain.ParsePending, retryCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reset page %d for retry: %w", pageID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// RequeueStuckPages resets the session's unconfirmed pending, failed and
// stale-processing pages to pending with zeroed retry bookkeeping.
func (r *PgxScanRepository) RequeueStuckPages(ctx context.Context, sessionID string, staleThreshold time.Duration) (int, error) {
	now := time.Now().UTC()
	query := `
		UPDATE scan_session_pages
		SET parse_status = $2, retry_count = 0, parse_error = NULL, updated_at = $3
		WHERE session_id = $1
		  AND review_status = $4
		  AND (parse_status IN ($2, $5) OR (parse_status = $6 AND updated_at < $7));
	`
	cmdTag, err := r.Pool.Exec(ctx, query,
		sessionID,
		domain.ParsePending,
		now,
		domain.ReviewPending,
		domain.ParseFailed,
		domain.ParseProcessing,
		now.Add(-staleThreshold),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stuck pages for session %s: %w", sessionID, err)
	}
	return int(cmdTag.RowsAffected()), nil
}

// CheckAndUpdateRetryThrottle atomically claims the manual-retry slot. The
// conditional update is the throttle: only one caller inside the window wins.
func (r *PgxScanRepository) CheckAndUpdateRetryThrottle(ctx context.Context, sessionID string, window time.Duration) (bool, int, error) {
	now := time.Now().UTC()
	claimQuery := `
		UPDATE scan_sessions
		SET last_retry_at = $2, updated_at = $2
		WHERE session_id = $1 AND (last_retry_at IS NULL OR last_retry_at <= $3);
	`
	cmdTag, err := r.Pool.Exec(ctx, claimQuery, sessionID, now, now.Add(-window))
	if err != nil {
		return false, 0, fmt.Errorf("failed to claim retry slot for session %s: %w", sessionID, err)
	}
	if cmdTag.RowsAffected() > 0 {
		return true, 0, nil
	}

	var lastRetryAt *time.Time
	err = r.Pool.QueryRow(ctx, `SELECT last_retry_at FROM scan_sessions WHERE session_id = $1;`, sessionID).Scan(&lastRetryAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, 0, apperrors.ErrNotFound
		}
		return false, 0, fmt.Errorf("failed to read retry timestamp for session %s: %w", sessionID, err)
	}

	waitSeconds := 0
	if lastRetryAt != nil {
		remaining := window - now.Sub(*lastRetryAt)
		if remaining > 0 {
			waitSeconds = int(math.Ceil(remaining.Seconds()))
		}
	}
	return false, waitSeconds, nil
}

// ConfirmPage persists the reviewed items of the cursor page and advances the
// session, all inside one database transaction. The session row is locked
// first so concurrent confirmations serialize on it.
func (r *PgxScanRepository) ConfirmPage(ctx context.Context, params portsrepo.ConfirmPageParams) (*portsrepo.ConfirmPageResult, error) {
	tx, err := r.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer r.Rollback(ctx, tx)

	lockQuery := `SELECT ` + scanSessionColumns + ` FROM scan_sessions WHERE session_id = $1 FOR UPDATE;`
	session, err := scanSessionRow(tx.QueryRow(ctx, lockQuery, params.SessionID))
	if err != nil {
		return nil, err
	}

	if session.Expired(params.Now) {
		return nil, apperrors.ErrSessionExpired
	}
	if session.Status != domain.SessionInProgress {
		return nil, fmt.Errorf("%w: session %s is not in progress", apperrors.ErrValidation, params.SessionID)
	}
	if params.PageIndex != session.CurrentPageIndex {
		return nil, fmt.Errorf("%w: page %d is not the current page (cursor at %d)", apperrors.ErrValidation, params.PageIndex, session.CurrentPageIndex)
	}

	var pageID int64
	var parseStatus, reviewStatus string
	err = tx.QueryRow(ctx,
		`SELECT page_id, parse_status, review_status FROM scan_session_pages WHERE session_id = $1 AND page_index = $2 FOR UPDATE;`,
		params.SessionID, params.PageIndex,
	).Scan(&pageID, &parseStatus, &reviewStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to lock page %d of session %s: %w", params.PageIndex, params.SessionID, err)
	}

	if domain.ReviewStatus(reviewStatus) == domain.ReviewConfirmed {
		return nil, fmt.Errorf("%w: page %d already confirmed", apperrors.ErrConflict, params.PageIndex)
	}
	if domain.ParseStatus(parseStatus) != domain.ParseCompleted {
		return nil, fmt.Errorf("%w: page %d has not finished parsing", apperrors.ErrValidation, params.PageIndex)
	}

	createdIDs := make([]int64, len(params.Items))
	for i, item := range params.Items {
		id, err := r.txnRepo.InsertInTx(ctx, tx, item)
		if err != nil {
			return nil, fmt.Errorf("failed to insert confirmed item %d: %w", i, err)
		}
		createdIDs[i] = id
	}

	for _, link := range params.Links {
		if link.Index < 0 || link.Index >= len(createdIDs) {
			return nil, fmt.Errorf("%w: link index %d out of range", apperrors.ErrValidation, link.Index)
		}
		newID := createdIDs[link.Index]

		if link.TransferMatchID != nil {
			if err := r.txnRepo.LinkTransferInTx(ctx, tx, newID, *link.TransferMatchID); err != nil {
				return nil, err
			}
		}
		if link.ForwardedMatchID != nil {
			// The confirmed card row points at the existing app-side row.
			if err := r.txnRepo.SetForwardedTargetInTx(ctx, tx, newID, *link.ForwardedMatchID); err != nil {
				return nil, err
			}
		}
		if link.ReverseMatchID != nil {
			// The existing card row points at the confirmed app-side row.
			if err := r.txnRepo.SetForwardedTargetInTx(ctx, tx, *link.ReverseMatchID, newID); err != nil {
				return nil, err
			}
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE scan_session_pages SET review_status = $2, confirmed_at = $3, updated_at = $3 WHERE page_id = $1;`,
		pageID, domain.ReviewConfirmed, params.Now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark page %d confirmed: %w", pageID, err)
	}

	var totalPages int
	err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM scan_session_pages WHERE session_id = $1;`, params.SessionID).Scan(&totalPages)
	if err != nil {
		return nil, fmt.Errorf("failed to count pages for session %s: %w", params.SessionID, err)
	}

	result := &portsrepo.ConfirmPageResult{CreatedIDs: createdIDs}
	if params.PageIndex+1 >= totalPages {
		_, err = tx.Exec(ctx,
			`UPDATE scan_sessions SET status = $2, updated_at = $3 WHERE session_id = $1;`,
			params.SessionID, domain.SessionCompleted, params.Now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to complete session %s: %w", params.SessionID, err)
		}
		result.SessionCompleted = true
		result.NextPageIndex = params.PageIndex
	} else {
		result.NextPageIndex = params.PageIndex + 1
		_, err = tx.Exec(ctx,
			`UPDATE scan_sessions SET current_page_index = $2, updated_at = $3 WHERE session_id = $1;`,
			params.SessionID, result.NextPageIndex, params.Now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to advance session %s: %w", params.SessionID, err)
		}
	}

	if err := r.Commit(ctx, tx); err != nil {
		return nil, err
	}
	return result, nil
}
