package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
)

const maxSessionPages = 20

// scanServiceImpl implements the ScanSvcFacade interface
type scanServiceImpl struct {
	BaseService
	scanRepo       portsrepo.ScanRepositoryFacade
	recon          portssvc.ReconSvcFacade
	queue          portssvc.ParseQueueSvc
	storage        portssvc.StorageSvc
	sessionExpiry  time.Duration
	retryThrottle  time.Duration
	staleThreshold time.Duration
}

// ScanServiceOption is a functional option for configuring the scan service
type ScanServiceOption func(*scanServiceImpl)

// WithSessionExpiry overrides the default 48h session lifetime
func WithSessionExpiry(d time.Duration) ScanServiceOption {
	return func(s *scanServiceImpl) {
		s.sessionExpiry = d
	}
}

// WithRetryThrottle overrides the manual retry cooldown window
func WithRetryThrottle(d time.Duration) ScanServiceOption {
	return func(s *scanServiceImpl) {
		s.retryThrottle = d
	}
}

// WithStaleThreshold overrides the stuck-processing page threshold
func WithStaleThreshold(d time.Duration) ScanServiceOption {
	return func(s *scanServiceImpl) {
		s.staleThreshold = d
	}
}

// NewScanService creates a new scan session service with the provided options
func NewScanService(scanRepo portsrepo.ScanRepositoryFacade, recon portssvc.ReconSvcFacade, queue portssvc.ParseQueueSvc, storage portssvc.StorageSvc, options ...ScanServiceOption) portssvc.ScanSvcFacade {
	svc := &scanServiceImpl{
		scanRepo:       scanRepo,
		recon:          recon,
		queue:          queue,
		storage:        storage,
		sessionExpiry:  48 * time.Hour,
		retryThrottle:  30 * time.Second,
		staleThreshold: 60 * time.Second,
	}

	for _, option := range options {
		option(svc)
	}

	return svc
}

// Ensure scanServiceImpl implements the ScanSvcFacade interface
var _ portssvc.ScanSvcFacade = (*scanServiceImpl)(nil)

// CreateSession opens a multi-page scan session, stores the images and queues
// every page for parsing.
func (s *scanServiceImpl) CreateSession(ctx context.Context, userID string, pages []portssvc.NewPageInput) (*portssvc.SessionState, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("%w: at least one page is required", apperrors.ErrValidation)
	}
	if len(pages) > maxSessionPages {
		return nil, fmt.Errorf("%w: at most %d pages per session", apperrors.ErrValidation, maxSessionPages)
	}

	imageKeys := make([]string, 0, len(pages))
	cleanupImages := func() {
		for _, key := range imageKeys {
			if err := s.storage.Delete(ctx, key); err != nil {
				s.LogWarn(ctx, "Failed to remove orphaned image", slog.String("image_key", key), slog.String("error", err.Error()))
			}
		}
	}

	domainPages := make([]domain.ScanSessionPage, len(pages))
	for i, page := range pages {
		key, err := s.storage.Upload(ctx, page.Image, page.MimeType)
		if err != nil {
			s.LogError(ctx, err, "Failed to store page image", slog.Int("page_index", i))
			cleanupImages()
			return nil, err
		}
		imageKeys = append(imageKeys, key)
		domainPages[i] = domain.ScanSessionPage{
			PageIndex: i,
			ImageKey:  key,
			AppType:   page.AppType,
		}
	}

	now := time.Now().UTC()
	session := domain.ScanSession{
		SessionID:        uuid.NewString(),
		UserID:           userID,
		Status:           domain.SessionInProgress,
		CurrentPageIndex: 0,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.sessionExpiry),
		UpdatedAt:        now,
	}

	createdSession, createdPages, err := s.scanRepo.CreateSessionWithPages(ctx, session, domainPages)
	if err != nil {
		s.LogError(ctx, err, "Failed to create scan session", slog.String("user_id", userID))
		cleanupImages()
		return nil, err
	}

	for _, page := range createdPages {
		s.queue.Enqueue(domain.ParseJob{
			SessionID: createdSession.SessionID,
			PageIndex: page.PageIndex,
			PageID:    page.PageID,
			ImageKey:  page.ImageKey,
			AppType:   page.AppType,
		})
	}

	s.LogInfo(ctx, "Scan session created",
		slog.String("session_id", createdSession.SessionID),
		slog.Int("pages", len(createdPages)),
	)
	return &portssvc.SessionState{Session: *createdSession, Pages: createdPages}, nil
}

// GetSession returns the session and its pages. Expired sessions are removed
// on read and reported as expired.
func (s *scanServiceImpl) GetSession(ctx context.Context, userID, sessionID string) (*portssvc.SessionState, error) {
	session, err := s.loadOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	pages, err := s.scanRepo.FindPagesBySessionID(ctx, sessionID)
	if err != nil {
		s.LogError(ctx, err, "Failed to load session pages", slog.String("session_id", sessionID))
		return nil, err
	}
	return &portssvc.SessionState{Session: *session, Pages: pages}, nil
}

// GetActiveSession returns the user's in-progress session, if any.
func (s *scanServiceImpl) GetActiveSession(ctx context.Context, userID string) (*portssvc.SessionState, error) {
	session, err := s.scanRepo.FindActiveSessionByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.GetSession(ctx, userID, session.SessionID)
}

// GetPageForReview returns a page with its candidates enriched by
// reconciliation matching. The page must have finished parsing.
func (s *scanServiceImpl) GetPageForReview(ctx context.Context, userID, sessionID string, pageIndex int) (*portssvc.PageReview, error) {
	if _, err := s.loadOwnedSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	page, err := s.scanRepo.FindPageBySessionAndIndex(ctx, sessionID, pageIndex)
	if err != nil {
		return nil, err
	}
	if page.ParseStatus != domain.ParseCompleted {
		return nil, fmt.Errorf("%w: page %d has not finished parsing", apperrors.ErrValidation, pageIndex)
	}

	candidates, err := s.recon.Enrich(ctx, page.ParseResult)
	if err != nil {
		s.LogError(ctx, err, "Failed to enrich candidates",
			slog.String("session_id", sessionID),
			slog.Int("page_index", pageIndex),
		)
		return nil, err
	}
	return &portssvc.PageReview{Page: *page, Candidates: candidates}, nil
}

// ConfirmPage persists the accepted items of the cursor page, applies the
// selected links and advances the session.
func (s *scanServiceImpl) ConfirmPage(ctx context.Context, userID, sessionID string, pageIndex int, items []portssvc.ConfirmItemInput) (*portssvc.ConfirmOutcome, error) {
	session, err := s.loadOwnedSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	page, err := s.scanRepo.FindPageBySessionAndIndex(ctx, sessionID, pageIndex)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	txns := make([]domain.Transaction, len(items))
	links := make([]portsrepo.ConfirmLink, 0, len(items))
	for i, item := range items {
		txn := item.Transaction
		txn.Owner = userID
		// Stored price mirrors the confirmed total
		txn.Price = txn.Total
		if txn.ImageURL == "" {
			txn.ImageURL = page.ImageKey
		}
		txn.CreatedAt = now
		txn.UpdatedAt = now
		txns[i] = txn

		if item.TransferMatchID != nil || item.ForwardedMatchID != nil || item.ReverseMatchID != nil {
			links = append(links, portsrepo.ConfirmLink{
				Index:            i,
				TransferMatchID:  item.TransferMatchID,
				ForwardedMatchID: item.ForwardedMatchID,
				ReverseMatchID:   item.ReverseMatchID,
			})
		}
	}

	result, err := s.scanRepo.ConfirmPage(ctx, portsrepo.ConfirmPageParams{
		SessionID: sessionID,
		PageIndex: pageIndex,
		Items:     txns,
		Links:     links,
		Now:       now,
	})
	if err != nil {
		s.LogError(ctx, err, "Failed to confirm page",
			slog.String("session_id", sessionID),
			slog.Int("page_index", pageIndex),
		)
		if errors.Is(err, apperrors.ErrSessionExpired) {
			s.removeExpiredSession(ctx, session)
		}
		return nil, err
	}

	s.LogInfo(ctx, "Page confirmed",
		slog.String("session_id", sessionID),
		slog.Int("page_index", pageIndex),
		slog.Int("created", len(result.CreatedIDs)),
		slog.Bool("session_completed", result.SessionCompleted),
	)
	return &portssvc.ConfirmOutcome{
		CreatedIDs:       result.CreatedIDs,
		NextPageIndex:    result.NextPageIndex,
		SessionCompleted: result.SessionCompleted,
	}, nil
}

// RetryParse requeues the session's unparsed pages, throttled per session.
func (s *scanServiceImpl) RetryParse(ctx context.Context, userID, sessionID string) (int, error) {
	if _, err := s.loadOwnedSession(ctx, userID, sessionID); err != nil {
		return 0, err
	}

	allowed, waitSeconds, err := s.scanRepo.CheckAndUpdateRetryThrottle(ctx, sessionID, s.retryThrottle)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, apperrors.NewRetryThrottledError(waitSeconds)
	}

	requeued, err := s.scanRepo.RequeueStuckPages(ctx, sessionID, s.staleThreshold)
	if err != nil {
		s.LogError(ctx, err, "Failed to requeue pages", slog.String("session_id", sessionID))
		return 0, err
	}

	pages, err := s.scanRepo.FindPagesBySessionID(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	for _, page := range pages {
		if page.ParseStatus == domain.ParsePending && page.ReviewStatus == domain.ReviewPending {
			s.queue.Enqueue(domain.ParseJob{
				SessionID: sessionID,
				PageIndex: page.PageIndex,
				PageID:    page.PageID,
				ImageKey:  page.ImageKey,
				AppType:   page.AppType,
			})
		}
	}

	s.LogInfo(ctx, "Parse retry requested", slog.String("session_id", sessionID), slog.Int("requeued", requeued))
	return requeued, nil
}

// CancelSession deletes the session, its pages and their stored images.
func (s *scanServiceImpl) CancelSession(ctx context.Context, userID, sessionID string) error {
	session, err := s.scanRepo.FindSessionByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.UserID != userID {
		return apperrors.ErrNotFound
	}

	s.removeSessionWithImages(ctx, session)
	s.LogInfo(ctx, "Scan session cancelled", slog.String("session_id", sessionID))
	return nil
}

// loadOwnedSession fetches a session, hides other users' sessions and applies
// lazy expiry cleanup.
func (s *scanServiceImpl) loadOwnedSession(ctx context.Context, userID, sessionID string) (*domain.ScanSession, error) {
	session, err := s.scanRepo.FindSessionByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.UserID != userID {
		return nil, apperrors.ErrNotFound
	}
	if session.Status == domain.SessionInProgress && session.Expired(time.Now().UTC()) {
		s.removeExpiredSession(ctx, session)
		return nil, apperrors.ErrSessionExpired
	}
	return session, nil
}

func (s *scanServiceImpl) removeExpiredSession(ctx context.Context, session *domain.ScanSession) {
	s.LogInfo(ctx, "Removing expired session", slog.String("session_id", session.SessionID))
	s.removeSessionWithImages(ctx, session)
}

func (s *scanServiceImpl) removeSessionWithImages(ctx context.Context, session *domain.ScanSession) {
	pages, err := s.scanRepo.FindPagesBySessionID(ctx, session.SessionID)
	if err != nil {
		s.LogWarn(ctx, "Failed to list pages before session removal",
			slog.String("session_id", session.SessionID),
			slog.String("error", err.Error()),
		)
	}

	if err := s.scanRepo.DeleteSession(ctx, session.SessionID); err != nil {
		s.LogError(ctx, err, "Failed to delete session", slog.String("session_id", session.SessionID))
		return
	}

	for _, page := range pages {
		if err := s.storage.Delete(ctx, page.ImageKey); err != nil {
			s.LogWarn(ctx, "Failed to delete page image",
				slog.String("image_key", page.ImageKey),
				slog.String("error", err.Error()),
			)
		}
	}
}
