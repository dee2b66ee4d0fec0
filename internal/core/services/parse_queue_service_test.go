package services_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/core/services"
)

// MockRecognizer is a mock type for the Recognizer interface
type MockRecognizer struct {
	mock.Mock
}

func (m *MockRecognizer) Interpret(ctx context.Context, image []byte, mimeType string, hint *domain.PaymentApp) (*portssvc.RecognitionResult, error) {
	args := m.Called(ctx, image, mimeType, hint)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*portssvc.RecognitionResult), args.Error(1)
}

// --- Test Suite Setup ---

type ParseQueueServiceTestSuite struct {
	suite.Suite
	mockRepo       *MockScanRepository
	mockRecognizer *MockRecognizer
	mockStorage    *MockStorage
}

func (suite *ParseQueueServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockScanRepository)
	suite.mockRecognizer = new(MockRecognizer)
	suite.mockStorage = new(MockStorage)
}

func (suite *ParseQueueServiceTestSuite) newQueue(maxRetries int) portssvc.ParseQueueSvc {
	return services.NewParseQueueService(
		suite.mockRepo,
		suite.mockRecognizer,
		suite.mockStorage,
		1,
		maxRetries,
		10*time.Millisecond,
		slog.Default(),
	)
}

func pendingPage(pageID int64, retryCount int) *domain.ScanSessionPage {
	return &domain.ScanSessionPage{
		PageID:       pageID,
		SessionID:    "sess-1",
		PageIndex:    0,
		ImageKey:     "key.png",
		ParseStatus:  domain.ParsePending,
		RetryCount:   retryCount,
		ReviewStatus: domain.ReviewPending,
	}
}

func testJob(pageID int64) domain.ParseJob {
	return domain.ParseJob{
		SessionID: "sess-1",
		PageIndex: 0,
		PageID:    pageID,
		ImageKey:  "key.png",
	}
}

func waitFor(suite *ParseQueueServiceTestSuite, done <-chan struct{}, what string) {
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for " + what)
	}
}

// --- Test Cases ---

func (suite *ParseQueueServiceTestSuite) TestEnqueue_DeduplicatesSamePage() {
	queue := suite.newQueue(3)

	queue.Enqueue(testJob(1))
	queue.Enqueue(testJob(1))
	queue.Enqueue(domain.ParseJob{SessionID: "sess-1", PageIndex: 1, PageID: 2, ImageKey: "other.png"})

	counts := queue.Counts()
	suite.Equal(2, counts.Queued)
	suite.Equal(0, counts.Processing)
}

func (suite *ParseQueueServiceTestSuite) TestRecoverPendingPages_RebuildsQueue() {
	queue := suite.newQueue(3)
	pages := []domain.ScanSessionPage{
		*pendingPage(1, 0),
		{PageID: 2, SessionID: "sess-2", PageIndex: 0, ImageKey: "k2.png", ParseStatus: domain.ParseFailed, RetryCount: 1, ReviewStatus: domain.ReviewPending},
	}
	suite.mockRepo.On("FindPagesNeedingParse", mock.Anything, 3).Return(pages, nil).Once()

	recovered, err := queue.RecoverPendingPages(context.Background())

	suite.Require().NoError(err)
	suite.Equal(2, recovered)
	suite.Equal(2, queue.Counts().Queued)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *ParseQueueServiceTestSuite) TestWorker_ParsesQueuedPage() {
	queue := suite.newQueue(3)
	done := make(chan struct{})
	result := &portssvc.RecognitionResult{
		Candidates:  []domain.Candidate{{Merchant: "Warung", IsValid: true}},
		DetectedApp: appPtr(domain.AppGojek),
	}

	suite.mockRepo.On("FindPageBySessionAndIndex", mock.Anything, "sess-1", 0).Return(pendingPage(1, 0), nil).Once()
	suite.mockRepo.On("MarkPageProcessing", mock.Anything, int64(1)).Return(nil).Once()
	suite.mockStorage.On("Fetch", mock.Anything, "key.png").Return([]byte("img"), "image/png", nil).Once()
	suite.mockRecognizer.On("Interpret", mock.Anything, []byte("img"), "image/png", (*domain.PaymentApp)(nil)).
		Return(result, nil).Once()
	suite.mockRepo.On("CompletePageParse", mock.Anything, int64(1), result.Candidates, result.DetectedApp).
		Run(func(mock.Arguments) { close(done) }).
		Return(true, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	queue.Enqueue(testJob(1))

	waitFor(suite, done, "parse completion")
	queue.Stop()

	counts := queue.Counts()
	suite.Equal(0, counts.Queued)
	suite.Equal(0, counts.Processing)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockRecognizer.AssertExpectations(suite.T())
	suite.mockStorage.AssertExpectations(suite.T())
}

func (suite *ParseQueueServiceTestSuite) TestWorker_TerminalFailureAtRetryCap() {
	queue := suite.newQueue(1)
	done := make(chan struct{})
	fetchErr := errors.New("image gone")

	suite.mockRepo.On("FindPageBySessionAndIndex", mock.Anything, "sess-1", 0).Return(pendingPage(1, 0), nil).Once()
	suite.mockRepo.On("MarkPageProcessing", mock.Anything, int64(1)).Return(nil).Once()
	suite.mockStorage.On("Fetch", mock.Anything, "key.png").Return(nil, "", fetchErr).Once()
	suite.mockRepo.On("MarkPageFailed", mock.Anything, int64(1), 1, "image gone").
		Run(func(mock.Arguments) { close(done) }).
		Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	queue.Enqueue(testJob(1))

	waitFor(suite, done, "terminal failure")
	queue.Stop()

	// At the retry cap the job must not be rescheduled or reset to pending
	suite.Equal(0, queue.Counts().Queued)
	suite.mockRepo.AssertNotCalled(suite.T(), "ResetPageForRetry", mock.Anything, mock.Anything, mock.Anything)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockRecognizer.AssertNotCalled(suite.T(), "Interpret", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ParseQueueServiceTestSuite) TestWorker_FailureBelowCapIsRescheduled() {
	queue := suite.newQueue(3)
	failed := make(chan struct{})
	retried := make(chan struct{})
	fetchErr := errors.New("transient read error")
	result := &portssvc.RecognitionResult{Candidates: []domain.Candidate{}}

	// First attempt fails on image fetch, second succeeds after backoff. A
	// failure below the cap goes back to pending, never to failed.
	suite.mockRepo.On("FindPageBySessionAndIndex", mock.Anything, "sess-1", 0).Return(pendingPage(1, 0), nil).Once()
	suite.mockStorage.On("Fetch", mock.Anything, "key.png").Return(nil, "", fetchErr).Once()
	suite.mockRepo.On("ResetPageForRetry", mock.Anything, int64(1), 1).
		Run(func(mock.Arguments) { close(failed) }).
		Return(nil).Once()

	suite.mockRepo.On("FindPageBySessionAndIndex", mock.Anything, "sess-1", 0).Return(pendingPage(1, 1), nil).Once()
	suite.mockStorage.On("Fetch", mock.Anything, "key.png").Return([]byte("img"), "image/png", nil).Once()
	suite.mockRecognizer.On("Interpret", mock.Anything, []byte("img"), "image/png", (*domain.PaymentApp)(nil)).
		Return(result, nil).Once()
	suite.mockRepo.On("MarkPageProcessing", mock.Anything, int64(1)).Return(nil).Twice()
	suite.mockRepo.On("CompletePageParse", mock.Anything, int64(1), result.Candidates, (*domain.PaymentApp)(nil)).
		Run(func(mock.Arguments) { close(retried) }).
		Return(true, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	queue.Enqueue(testJob(1))

	waitFor(suite, failed, "first failure")
	waitFor(suite, retried, "retry completion")
	queue.Stop()

	suite.mockRepo.AssertNotCalled(suite.T(), "MarkPageFailed", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockStorage.AssertExpectations(suite.T())
}

func (suite *ParseQueueServiceTestSuite) TestWorker_SkipsAlreadyConfirmedPage() {
	queue := suite.newQueue(3)
	done := make(chan struct{})
	confirmed := pendingPage(1, 0)
	confirmed.ParseStatus = domain.ParseCompleted
	confirmed.ReviewStatus = domain.ReviewConfirmed

	suite.mockRepo.On("FindPageBySessionAndIndex", mock.Anything, "sess-1", 0).
		Run(func(mock.Arguments) { close(done) }).
		Return(confirmed, nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	queue.Start(ctx)
	queue.Enqueue(testJob(1))

	waitFor(suite, done, "page lookup")
	queue.Stop()

	suite.mockRepo.AssertNotCalled(suite.T(), "MarkPageProcessing", mock.Anything, mock.Anything)
	suite.mockStorage.AssertNotCalled(suite.T(), "Fetch", mock.Anything, mock.Anything)
}

func TestParseQueueServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ParseQueueServiceTestSuite))
}
