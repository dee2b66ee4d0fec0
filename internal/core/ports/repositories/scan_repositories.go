package repositories

import (
	"context"
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// ConfirmLink carries the match selections the reviewer made for one
// confirmed item. Indexes refer to positions in the confirmed item slice.
type ConfirmLink struct {
	Index            int
	TransferMatchID  *int64 // Existing opposite-direction transfer to pair with
	ForwardedMatchID *int64 // App-side row this card row duplicates
	ReverseMatchID   *int64 // Existing card row covered by this app-side row
}

// ConfirmPageParams is the input to the transactional page confirmation.
type ConfirmPageParams struct {
	SessionID string
	PageIndex int
	Items     []domain.Transaction
	Links     []ConfirmLink
	Now       time.Time
}

// ConfirmPageResult reports the outcome of a page confirmation.
type ConfirmPageResult struct {
	CreatedIDs       []int64
	NextPageIndex    int
	SessionCompleted bool
}

// ScanSessionReader defines read operations for scan sessions and pages.
type ScanSessionReader interface {
	// FindSessionByID retrieves a session by its unique identifier.
	FindSessionByID(ctx context.Context, sessionID string) (*domain.ScanSession, error)

	// FindActiveSessionByUser retrieves the user's InProgress session, if any.
	FindActiveSessionByUser(ctx context.Context, userID string) (*domain.ScanSession, error)

	// FindPagesBySessionID retrieves all pages of a session ordered by page index.
	FindPagesBySessionID(ctx context.Context, sessionID string) ([]domain.ScanSessionPage, error)

	// FindPageBySessionAndIndex retrieves a single page.
	FindPageBySessionAndIndex(ctx context.Context, sessionID string, pageIndex int) (*domain.ScanSessionPage, error)

	// FindPagesNeedingParse retrieves pages of InProgress sessions that are
	// Pending, or Failed with a retry count below the cap. Used for crash recovery.
	FindPagesNeedingParse(ctx context.Context, maxRetries int) ([]domain.ScanSessionPage, error)

	// FindExpiredSessions retrieves InProgress sessions past their expiry horizon.
	FindExpiredSessions(ctx context.Context, now time.Time) ([]domain.ScanSession, error)
}

// ScanSessionWriter defines write operations for scan sessions and pages.
type ScanSessionWriter interface {
	// CreateSessionWithPages atomically creates a session and its pages.
	// Returns apperrors.ErrConflict if the user already has an InProgress
	// session; the check and the insert happen under the same row lock.
	CreateSessionWithPages(ctx context.Context, session domain.ScanSession, pages []domain.ScanSessionPage) (*domain.ScanSession, []domain.ScanSessionPage, error)

	// DeleteSession removes a session; page rows cascade.
	DeleteSession(ctx context.Context, sessionID string) error

	// MarkPageProcessing transitions a page to Processing.
	MarkPageProcessing(ctx context.Context, pageID int64) error

	// CompletePageParse stores the candidate list and marks the page
	// Completed, but only while its status is still Pending or Processing.
	// Returns false when the conditional write matched no row.
	CompletePageParse(ctx context.Context, pageID int64, candidates []domain.Candidate, detectedApp *domain.PaymentApp) (bool, error)

	// MarkPageFailed records a terminal parse failure with its error message.
	MarkPageFailed(ctx context.Context, pageID int64, retryCount int, parseError string) error

	// ResetPageForRetry puts a page back to Pending with the new retry count,
	// clearing any stale error.
	ResetPageForRetry(ctx context.Context, pageID int64, retryCount int) error

	// RequeueStuckPages resets every Pending, Failed, or stale-Processing page
	// of the session to Pending with zeroed retry bookkeeping. Returns the
	// number of pages reset.
	RequeueStuckPages(ctx context.Context, sessionID string, staleThreshold time.Duration) (int, error)

	// CheckAndUpdateRetryThrottle atomically claims the manual-retry slot for
	// the session. When the previous retry is older than the window it stamps
	// lastRetryAt and returns allowed=true; otherwise allowed=false with the
	// remaining wait in seconds.
	CheckAndUpdateRetryThrottle(ctx context.Context, sessionID string, window time.Duration) (allowed bool, waitSeconds int, err error)

	// ConfirmPage performs the confirmation transaction: locks the session and
	// page, validates expiry, cursor position and page state, inserts the
	// accepted ledger rows, applies match links, marks the page confirmed and
	// advances the cursor (or completes the session). All or nothing.
	ConfirmPage(ctx context.Context, params ConfirmPageParams) (*ConfirmPageResult, error)
}

// ScanRepositoryFacade combines all scan repository interfaces.
type ScanRepositoryFacade interface {
	ScanSessionReader
	ScanSessionWriter
}
