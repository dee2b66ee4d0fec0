package services

import (
	"context"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// NewPageInput describes one uploaded image when opening a session.
type NewPageInput struct {
	Image    []byte
	MimeType string
	AppType  *domain.PaymentApp
}

// PageReview bundles a page with its enriched candidates for the review step.
type PageReview struct {
	Page       domain.ScanSessionPage
	Candidates []domain.ReviewCandidate
}

// ConfirmItemInput is one reviewed candidate the user accepted for a page.
type ConfirmItemInput struct {
	Transaction      domain.Transaction
	TransferMatchID  *int64
	ForwardedMatchID *int64
	ReverseMatchID   *int64
}

// ConfirmOutcome reports the result of confirming a page.
type ConfirmOutcome struct {
	CreatedIDs       []int64
	NextPageIndex    int
	SessionCompleted bool
}

// SessionState is a session together with its pages, as returned to clients.
type SessionState struct {
	Session domain.ScanSession
	Pages   []domain.ScanSessionPage
}

// ScanSvcFacade defines the scan session lifecycle operations.
type ScanSvcFacade interface {
	// CreateSession opens a new multi-page scan session for the user, stores
	// the uploaded images and queues every page for parsing. Fails with
	// apperrors.ErrConflict when the user already has an active session.
	CreateSession(ctx context.Context, userID string, pages []NewPageInput) (*SessionState, error)

	// GetSession returns the session and its pages. An expired session is
	// cleaned up on read and reported as apperrors.ErrSessionExpired.
	GetSession(ctx context.Context, userID, sessionID string) (*SessionState, error)

	// GetActiveSession returns the user's InProgress session, if any.
	GetActiveSession(ctx context.Context, userID string) (*SessionState, error)

	// GetPageForReview returns the page at the session cursor with its
	// candidates enriched by reconciliation matching.
	GetPageForReview(ctx context.Context, userID, sessionID string, pageIndex int) (*PageReview, error)

	// ConfirmPage persists the accepted items of the cursor page, applies the
	// selected match links and advances the session.
	ConfirmPage(ctx context.Context, userID, sessionID string, pageIndex int, items []ConfirmItemInput) (*ConfirmOutcome, error)

	// RetryParse requeues the session's unparsed pages. Throttled per session;
	// a premature call fails with apperrors.RetryThrottledError.
	RetryParse(ctx context.Context, userID, sessionID string) (requeued int, err error)

	// CancelSession deletes the session, its pages and their stored images.
	CancelSession(ctx context.Context, userID, sessionID string) error
}
