package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
)

const queueIdlePoll = 100 * time.Millisecond

var (
	queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parse_queue_depth",
		Help: "Number of parse jobs waiting in the queue.",
	})
	queueProcessingGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "parse_queue_processing",
		Help: "Number of parse jobs currently being processed.",
	})
	parseResultCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parse_jobs_total",
		Help: "Parse job outcomes, by result.",
	}, []string{"result"})
)

// parseQueueServiceImpl implements the ParseQueueSvc interface. Jobs live in
// an in-memory FIFO; the database keeps the durable parse status, so a crash
// loses only the queue, never the work (RecoverPendingPages rebuilds it).
type parseQueueServiceImpl struct {
	BaseService
	scanRepo    portsrepo.ScanRepositoryFacade
	recognizer  portssvc.Recognizer
	storage     portssvc.StorageSvc
	concurrency int
	maxRetries  int
	backoff     time.Duration
	logger      *slog.Logger

	mu         sync.Mutex
	queue      []domain.ParseJob
	keys       map[string]struct{} // queued or processing job keys
	processing int

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewParseQueueService creates the background parse queue.
func NewParseQueueService(scanRepo portsrepo.ScanRepositoryFacade, recognizer portssvc.Recognizer, storage portssvc.StorageSvc, concurrency, maxRetries int, backoff time.Duration, logger *slog.Logger) portssvc.ParseQueueSvc {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &parseQueueServiceImpl{
		scanRepo:    scanRepo,
		recognizer:  recognizer,
		storage:     storage,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		backoff:     backoff,
		logger:      logger.With(slog.String("component", "parse_queue")),
		keys:        make(map[string]struct{}),
		stopCh:      make(chan struct{}),
	}
}

// Ensure parseQueueServiceImpl implements the ParseQueueSvc interface
var _ portssvc.ParseQueueSvc = (*parseQueueServiceImpl)(nil)

// Start launches the worker pool.
func (s *parseQueueServiceImpl) Start(ctx context.Context) {
	for i := 0; i < s.concurrency; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("Parse queue started", slog.Int("concurrency", s.concurrency))
}

// Stop signals the workers and waits for in-flight jobs to finish.
func (s *parseQueueServiceImpl) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
	s.logger.Info("Parse queue stopped")
}

// Enqueue adds a parse job unless the same session page is already queued or
// being processed.
func (s *parseQueueServiceImpl) Enqueue(job domain.ParseJob) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := job.Key()
	if _, exists := s.keys[key]; exists {
		return
	}
	s.keys[key] = struct{}{}
	s.queue = append(s.queue, job)
	queueDepthGauge.Set(float64(len(s.queue)))
}

// EnqueueWithDelay schedules a job after the given delay. The timer is not
// tracked; a job firing after Stop simply lands in a queue nobody drains,
// and recovery re-enqueues it on the next start.
func (s *parseQueueServiceImpl) EnqueueWithDelay(job domain.ParseJob, delay time.Duration) {
	time.AfterFunc(delay, func() {
		s.Enqueue(job)
	})
}

// RecoverPendingPages re-enqueues pages whose parse never completed.
func (s *parseQueueServiceImpl) RecoverPendingPages(ctx context.Context) (int, error) {
	pages, err := s.scanRepo.FindPagesNeedingParse(ctx, s.maxRetries)
	if err != nil {
		s.logger.Error("Failed to load pages for recovery", slog.String("error", err.Error()))
		return 0, err
	}

	for _, page := range pages {
		s.Enqueue(domain.ParseJob{
			SessionID: page.SessionID,
			PageIndex: page.PageIndex,
			PageID:    page.PageID,
			ImageKey:  page.ImageKey,
			AppType:   page.AppType,
		})
	}
	if len(pages) > 0 {
		s.logger.Info("Recovered unparsed pages", slog.Int("count", len(pages)))
	}
	return len(pages), nil
}

// Counts reports the current queue depth and in-flight job count.
func (s *parseQueueServiceImpl) Counts() portssvc.QueueCounts {
	s.mu.Lock()
	defer s.mu.Unlock()
	return portssvc.QueueCounts{
		Queued:     len(s.queue),
		Processing: s.processing,
	}
}

func (s *parseQueueServiceImpl) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	ticker := time.NewTicker(queueIdlePoll)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				job, ok := s.dequeue()
				if !ok {
					break
				}
				s.processJob(ctx, job)
				s.finishJob(job)
			}
		}
	}
}

func (s *parseQueueServiceImpl) dequeue() (domain.ParseJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return domain.ParseJob{}, false
	}
	job := s.queue[0]
	s.queue = s.queue[1:]
	s.processing++
	queueDepthGauge.Set(float64(len(s.queue)))
	queueProcessingGauge.Set(float64(s.processing))
	return job, true
}

func (s *parseQueueServiceImpl) finishJob(job domain.ParseJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, job.Key())
	s.processing--
	queueProcessingGauge.Set(float64(s.processing))
}

// processJob runs one page through the recognizer and persists the outcome.
// Failures increment the retry count; below the cap the job is rescheduled
// with a backoff growing linearly with the attempt number.
func (s *parseQueueServiceImpl) processJob(ctx context.Context, job domain.ParseJob) {
	logger := s.logger.With(
		slog.String("session_id", job.SessionID),
		slog.Int("page_index", job.PageIndex),
	)

	page, err := s.scanRepo.FindPageBySessionAndIndex(ctx, job.SessionID, job.PageIndex)
	if err != nil {
		// Session cancelled or expired between enqueue and pickup.
		logger.Debug("Skipping parse job for missing page", slog.String("error", err.Error()))
		return
	}
	if page.ParseStatus == domain.ParseCompleted || page.ReviewStatus == domain.ReviewConfirmed {
		return
	}

	if err := s.scanRepo.MarkPageProcessing(ctx, job.PageID); err != nil {
		logger.Error("Failed to mark page processing", slog.String("error", err.Error()))
		return
	}

	image, mimeType, err := s.storage.Fetch(ctx, job.ImageKey)
	if err != nil {
		s.handleFailure(ctx, logger, job, page.RetryCount, err)
		return
	}

	result, err := s.recognizer.Interpret(ctx, image, mimeType, job.AppType)
	if err != nil {
		s.handleFailure(ctx, logger, job, page.RetryCount, err)
		return
	}

	stored, err := s.scanRepo.CompletePageParse(ctx, job.PageID, result.Candidates, result.DetectedApp)
	if err != nil {
		s.handleFailure(ctx, logger, job, page.RetryCount, err)
		return
	}
	if !stored {
		logger.Debug("Parse result discarded, page state changed during processing")
		return
	}

	parseResultCounter.WithLabelValues("completed").Inc()
	logger.Info("Page parsed", slog.Int("candidates", len(result.Candidates)))
}

// handleFailure resets the page to pending and reschedules while retries
// remain; the failed status is terminal and only set at the cap.
func (s *parseQueueServiceImpl) handleFailure(ctx context.Context, logger *slog.Logger, job domain.ParseJob, retryCount int, cause error) {
	newCount := retryCount + 1

	if newCount < s.maxRetries {
		if err := s.scanRepo.ResetPageForRetry(ctx, job.PageID, newCount); err != nil {
			logger.Error("Failed to reset page for retry", slog.String("error", err.Error()))
			return
		}
		delay := time.Duration(newCount) * s.backoff
		parseResultCounter.WithLabelValues("retried").Inc()
		logger.Warn("Parse failed, scheduling retry",
			slog.String("error", cause.Error()),
			slog.Int("retry_count", newCount),
			slog.Duration("delay", delay),
		)
		s.EnqueueWithDelay(job, delay)
		return
	}

	if err := s.scanRepo.MarkPageFailed(ctx, job.PageID, newCount, cause.Error()); err != nil {
		logger.Error("Failed to record parse failure", slog.String("error", err.Error()))
		return
	}

	parseResultCounter.WithLabelValues("failed").Inc()
	logger.Error("Parse failed permanently",
		slog.String("error", cause.Error()),
		slog.Int("retry_count", newCount),
	)
}
