package services

import (
	"context"
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// QueueCounts is a point-in-time snapshot of the parse queue.
type QueueCounts struct {
	Queued     int
	Processing int
}

// ParseQueueSvc defines the background page parsing queue.
type ParseQueueSvc interface {
	// Start launches the worker pool. It returns immediately; workers run
	// until Stop is called.
	Start(ctx context.Context)

	// Stop signals the workers to drain and waits for them to exit.
	Stop()

	// Enqueue adds a parse job. A job already queued or processing for the
	// same session page is ignored.
	Enqueue(job domain.ParseJob)

	// EnqueueWithDelay schedules a job after the given delay, used for
	// retry backoff.
	EnqueueWithDelay(job domain.ParseJob, delay time.Duration)

	// RecoverPendingPages re-enqueues pages whose parse never completed,
	// based on their persisted status. Called once at startup.
	RecoverPendingPages(ctx context.Context) (int, error)

	// Counts reports the current queue depth and in-flight job count.
	Counts() QueueCounts
}
