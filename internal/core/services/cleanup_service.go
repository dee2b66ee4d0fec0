package services

import (
	"context"
	"log/slog"
	"time"

	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
)

// cleanupServiceImpl implements the CleanupSvc interface. It is the safety
// net behind lazy expiry on read: abandoned sessions nobody ever fetches
// again still get removed.
type cleanupServiceImpl struct {
	BaseService
	scanRepo portsrepo.ScanRepositoryFacade
	storage  portssvc.StorageSvc
	logger   *slog.Logger
}

// NewCleanupService creates the expired session sweeper.
func NewCleanupService(scanRepo portsrepo.ScanRepositoryFacade, storage portssvc.StorageSvc, logger *slog.Logger) portssvc.CleanupSvc {
	return &cleanupServiceImpl{
		scanRepo: scanRepo,
		storage:  storage,
		logger:   logger.With(slog.String("component", "session_cleanup")),
	}
}

// Ensure cleanupServiceImpl implements the CleanupSvc interface
var _ portssvc.CleanupSvc = (*cleanupServiceImpl)(nil)

// Run performs one sweep, deleting expired sessions and their images.
func (s *cleanupServiceImpl) Run(ctx context.Context) (int, error) {
	sessions, err := s.scanRepo.FindExpiredSessions(ctx, time.Now().UTC())
	if err != nil {
		s.logger.Error("Failed to list expired sessions", slog.String("error", err.Error()))
		return 0, err
	}

	removed := 0
	for _, session := range sessions {
		pages, err := s.scanRepo.FindPagesBySessionID(ctx, session.SessionID)
		if err != nil {
			s.logger.Warn("Failed to list pages of expired session",
				slog.String("session_id", session.SessionID),
				slog.String("error", err.Error()),
			)
		}

		if err := s.scanRepo.DeleteSession(ctx, session.SessionID); err != nil {
			s.logger.Error("Failed to delete expired session",
				slog.String("session_id", session.SessionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++

		for _, page := range pages {
			if err := s.storage.Delete(ctx, page.ImageKey); err != nil {
				s.logger.Warn("Failed to delete image of expired session",
					slog.String("image_key", page.ImageKey),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if removed > 0 {
		s.logger.Info("Expired sessions removed", slog.Int("count", removed))
	}
	return removed, nil
}

// StartSweeper runs sweeps on an interval until the context is cancelled.
// An initial sweep runs immediately so a restart clears the backlog.
func (s *cleanupServiceImpl) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		if _, err := s.Run(ctx); err != nil {
			s.logger.Error("Initial cleanup sweep failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Run(ctx); err != nil {
					s.logger.Error("Cleanup sweep failed", slog.String("error", err.Error()))
				}
			}
		}
	}()
}
