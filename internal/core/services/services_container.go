package services

import (
	"log/slog"

	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/platform/config"
)

// NewServiceContainer creates a new service container with properly initialized dependencies
func NewServiceContainer(cfg *config.Config, repos portsrepo.RepositoryProvider, recognizer portssvc.Recognizer, storage portssvc.StorageSvc, logger *slog.Logger) *portssvc.ServiceContainer {
	container := &portssvc.ServiceContainer{}

	// Reconciliation has no service dependencies and feeds the scan service.
	container.Recon = NewReconService(repos.TransactionRepo)

	container.ParseQueue = NewParseQueueService(
		repos.ScanRepo,
		recognizer,
		storage,
		cfg.ParseConcurrency,
		cfg.ParseMaxRetries,
		cfg.ParseRetryBackoff,
		logger,
	)

	container.Scan = NewScanService(
		repos.ScanRepo,
		container.Recon,
		container.ParseQueue,
		storage,
		WithSessionExpiry(cfg.SessionExpiry),
		WithRetryThrottle(cfg.RetryThrottleWindow),
		WithStaleThreshold(cfg.ParseStaleThreshold),
	)

	container.Transaction = NewTransactionService(repos.TransactionRepo)
	container.Cleanup = NewCleanupService(repos.ScanRepo, storage, logger)

	return container
}
