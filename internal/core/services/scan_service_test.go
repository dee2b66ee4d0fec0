package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/core/services"
)

// MockScanRepository is a mock type for the ScanRepositoryFacade interface
type MockScanRepository struct {
	mock.Mock
}

func (m *MockScanRepository) FindSessionByID(ctx context.Context, sessionID string) (*domain.ScanSession, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScanSession), args.Error(1)
}

func (m *MockScanRepository) FindActiveSessionByUser(ctx context.Context, userID string) (*domain.ScanSession, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScanSession), args.Error(1)
}

func (m *MockScanRepository) FindPagesBySessionID(ctx context.Context, sessionID string) ([]domain.ScanSessionPage, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScanSessionPage), args.Error(1)
}

func (m *MockScanRepository) FindPageBySessionAndIndex(ctx context.Context, sessionID string, pageIndex int) (*domain.ScanSessionPage, error) {
	args := m.Called(ctx, sessionID, pageIndex)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ScanSessionPage), args.Error(1)
}

func (m *MockScanRepository) FindPagesNeedingParse(ctx context.Context, maxRetries int) ([]domain.ScanSessionPage, error) {
	args := m.Called(ctx, maxRetries)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScanSessionPage), args.Error(1)
}

func (m *MockScanRepository) FindExpiredSessions(ctx context.Context, now time.Time) ([]domain.ScanSession, error) {
	args := m.Called(ctx, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ScanSession), args.Error(1)
}

func (m *MockScanRepository) CreateSessionWithPages(ctx context.Context, session domain.ScanSession, pages []domain.ScanSessionPage) (*domain.ScanSession, []domain.ScanSessionPage, error) {
	args := m.Called(ctx, session, pages)
	if args.Get(0) == nil {
		return nil, nil, args.Error(2)
	}
	return args.Get(0).(*domain.ScanSession), args.Get(1).([]domain.ScanSessionPage), args.Error(2)
}

func (m *MockScanRepository) DeleteSession(ctx context.Context, sessionID string) error {
	args := m.Called(ctx, sessionID)
	return args.Error(0)
}

func (m *MockScanRepository) MarkPageProcessing(ctx context.Context, pageID int64) error {
	args := m.Called(ctx, pageID)
	return args.Error(0)
}

func (m *MockScanRepository) CompletePageParse(ctx context.Context, pageID int64, candidates []domain.Candidate, detectedApp *domain.PaymentApp) (bool, error) {
	args := m.Called(ctx, pageID, candidates, detectedApp)
	return args.Bool(0), args.Error(1)
}

func (m *MockScanRepository) MarkPageFailed(ctx context.Context, pageID int64, retryCount int, parseError string) error {
	args := m.Called(ctx, pageID, retryCount, parseError)
	return args.Error(0)
}

func (m *MockScanRepository) ResetPageForRetry(ctx context.Context, pageID int64, retryCount int) error {
	args := m.Called(ctx, pageID, retryCount)
	return args.Error(0)
}

func (m *MockScanRepository) RequeueStuckPages(ctx context.Context, sessionID string, staleThreshold time.Duration) (int, error) {
	args := m.Called(ctx, sessionID, staleThreshold)
	return args.Int(0), args.Error(1)
}

func (m *MockScanRepository) CheckAndUpdateRetryThrottle(ctx context.Context, sessionID string, window time.Duration) (bool, int, error) {
	args := m.Called(ctx, sessionID, window)
	return args.Bool(0), args.Int(1), args.Error(2)
}

func (m *MockScanRepository) ConfirmPage(ctx context.Context, params portsrepo.ConfirmPageParams) (*portsrepo.ConfirmPageResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*portsrepo.ConfirmPageResult), args.Error(1)
}

// MockReconService is a mock type for the ReconSvcFacade interface
type MockReconService struct {
	mock.Mock
}

func (m *MockReconService) Enrich(ctx context.Context, candidates []domain.Candidate) ([]domain.ReviewCandidate, error) {
	args := m.Called(ctx, candidates)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ReviewCandidate), args.Error(1)
}

func (m *MockReconService) FindTransferMatch(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockReconService) FindForwardedMatches(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

func (m *MockReconService) FindReverseMatches(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.Transaction), args.Error(1)
}

// MockParseQueue is a mock type for the ParseQueueSvc interface
type MockParseQueue struct {
	mock.Mock
}

func (m *MockParseQueue) Start(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockParseQueue) Stop() {
	m.Called()
}

func (m *MockParseQueue) Enqueue(job domain.ParseJob) {
	m.Called(job)
}

func (m *MockParseQueue) EnqueueWithDelay(job domain.ParseJob, delay time.Duration) {
	m.Called(job, delay)
}

func (m *MockParseQueue) RecoverPendingPages(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockParseQueue) Counts() portssvc.QueueCounts {
	args := m.Called()
	return args.Get(0).(portssvc.QueueCounts)
}

// MockStorage is a mock type for the StorageSvc interface
type MockStorage struct {
	mock.Mock
}

func (m *MockStorage) Upload(ctx context.Context, image []byte, mimeType string) (string, error) {
	args := m.Called(ctx, image, mimeType)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) Fetch(ctx context.Context, key string) ([]byte, string, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, "", args.Error(2)
	}
	return args.Get(0).([]byte), args.String(1), args.Error(2)
}

func (m *MockStorage) GetURL(key string, ttl time.Duration) (string, error) {
	args := m.Called(key, ttl)
	return args.String(0), args.Error(1)
}

func (m *MockStorage) VerifyURL(key string, expires int64, signature string) error {
	args := m.Called(key, expires, signature)
	return args.Error(0)
}

func (m *MockStorage) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// --- Test Suite Setup ---

type ScanServiceTestSuite struct {
	suite.Suite
	mockRepo    *MockScanRepository
	mockRecon   *MockReconService
	mockQueue   *MockParseQueue
	mockStorage *MockStorage
	service     portssvc.ScanSvcFacade
}

func (suite *ScanServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockScanRepository)
	suite.mockRecon = new(MockReconService)
	suite.mockQueue = new(MockParseQueue)
	suite.mockStorage = new(MockStorage)
	suite.service = services.NewScanService(suite.mockRepo, suite.mockRecon, suite.mockQueue, suite.mockStorage)
}

func activeSession(userID string) *domain.ScanSession {
	now := time.Now().UTC()
	return &domain.ScanSession{
		SessionID:        "sess-1",
		UserID:           userID,
		Status:           domain.SessionInProgress,
		CurrentPageIndex: 0,
		CreatedAt:        now,
		ExpiresAt:        now.Add(48 * time.Hour),
		UpdatedAt:        now,
	}
}

// --- Test Cases ---

func (suite *ScanServiceTestSuite) TestCreateSession_Success() {
	ctx := context.Background()
	userID := "user-1"
	inputs := []portssvc.NewPageInput{
		{Image: []byte("img-a"), MimeType: "image/png"},
		{Image: []byte("img-b"), MimeType: "image/jpeg", AppType: appPtr(domain.AppGojek)},
	}

	suite.mockStorage.On("Upload", ctx, []byte("img-a"), "image/png").Return("key-a.png", nil).Once()
	suite.mockStorage.On("Upload", ctx, []byte("img-b"), "image/jpeg").Return("key-b.jpg", nil).Once()

	createdPages := []domain.ScanSessionPage{
		{PageID: 1, SessionID: "sess-1", PageIndex: 0, ImageKey: "key-a.png", ParseStatus: domain.ParsePending, ReviewStatus: domain.ReviewPending},
		{PageID: 2, SessionID: "sess-1", PageIndex: 1, ImageKey: "key-b.jpg", AppType: appPtr(domain.AppGojek), ParseStatus: domain.ParsePending, ReviewStatus: domain.ReviewPending},
	}
	suite.mockRepo.On("CreateSessionWithPages", ctx, mock.AnythingOfType("domain.ScanSession"), mock.AnythingOfType("[]domain.ScanSessionPage")).
		Run(func(args mock.Arguments) {
			session := args.Get(1).(domain.ScanSession)
			suite.Equal(userID, session.UserID)
			suite.Equal(domain.SessionInProgress, session.Status)
			suite.NotEmpty(session.SessionID)
			suite.WithinDuration(time.Now().Add(48*time.Hour), session.ExpiresAt, time.Minute)
		}).
		Return(activeSession(userID), createdPages, nil).Once()

	suite.mockQueue.On("Enqueue", mock.MatchedBy(func(job domain.ParseJob) bool { return job.PageID == 1 })).Once()
	suite.mockQueue.On("Enqueue", mock.MatchedBy(func(job domain.ParseJob) bool { return job.PageID == 2 })).Once()

	state, err := suite.service.CreateSession(ctx, userID, inputs)

	suite.Require().NoError(err)
	suite.Require().NotNil(state)
	suite.Len(state.Pages, 2)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockQueue.AssertExpectations(suite.T())
	suite.mockStorage.AssertExpectations(suite.T())
}

func (suite *ScanServiceTestSuite) TestCreateSession_NoPages() {
	state, err := suite.service.CreateSession(context.Background(), "user-1", nil)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
	suite.Nil(state)
}

func (suite *ScanServiceTestSuite) TestCreateSession_ConflictCleansUpImages() {
	ctx := context.Background()
	inputs := []portssvc.NewPageInput{{Image: []byte("img"), MimeType: "image/png"}}

	suite.mockStorage.On("Upload", ctx, []byte("img"), "image/png").Return("key.png", nil).Once()
	suite.mockRepo.On("CreateSessionWithPages", ctx, mock.Anything, mock.Anything).
		Return(nil, nil, apperrors.ErrConflict).Once()
	suite.mockStorage.On("Delete", ctx, "key.png").Return(nil).Once()

	state, err := suite.service.CreateSession(ctx, "user-1", inputs)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrConflict))
	suite.Nil(state)
	suite.mockStorage.AssertExpectations(suite.T())
	suite.mockQueue.AssertNotCalled(suite.T(), "Enqueue", mock.Anything)
}

func (suite *ScanServiceTestSuite) TestGetSession_OtherUsersSessionHidden() {
	ctx := context.Background()
	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("someone-else"), nil).Once()

	state, err := suite.service.GetSession(ctx, "user-1", "sess-1")

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrNotFound))
	suite.Nil(state)
}

func (suite *ScanServiceTestSuite) TestGetSession_ExpiredSessionIsRemoved() {
	ctx := context.Background()
	session := activeSession("user-1")
	session.ExpiresAt = time.Now().UTC().Add(-time.Hour)
	pages := []domain.ScanSessionPage{{PageID: 1, SessionID: "sess-1", ImageKey: "key.png"}}

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(session, nil).Once()
	suite.mockRepo.On("FindPagesBySessionID", ctx, "sess-1").Return(pages, nil).Once()
	suite.mockRepo.On("DeleteSession", ctx, "sess-1").Return(nil).Once()
	suite.mockStorage.On("Delete", ctx, "key.png").Return(nil).Once()

	state, err := suite.service.GetSession(ctx, "user-1", "sess-1")

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrSessionExpired))
	suite.Nil(state)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockStorage.AssertExpectations(suite.T())
}

func (suite *ScanServiceTestSuite) TestGetPageForReview_NotYetParsed() {
	ctx := context.Background()
	page := &domain.ScanSessionPage{PageID: 1, SessionID: "sess-1", PageIndex: 0, ParseStatus: domain.ParseProcessing}

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("user-1"), nil).Once()
	suite.mockRepo.On("FindPageBySessionAndIndex", ctx, "sess-1", 0).Return(page, nil).Once()

	review, err := suite.service.GetPageForReview(ctx, "user-1", "sess-1", 0)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
	suite.Nil(review)
	suite.mockRecon.AssertNotCalled(suite.T(), "Enrich", mock.Anything, mock.Anything)
}

func (suite *ScanServiceTestSuite) TestGetPageForReview_EnrichesCandidates() {
	ctx := context.Background()
	candidates := []domain.Candidate{{Merchant: "Warung", IsValid: true}}
	page := &domain.ScanSessionPage{
		PageID:      1,
		SessionID:   "sess-1",
		PageIndex:   0,
		ParseStatus: domain.ParseCompleted,
		ParseResult: candidates,
	}
	enriched := []domain.ReviewCandidate{{Candidate: candidates[0], IsDuplicate: true}}

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("user-1"), nil).Once()
	suite.mockRepo.On("FindPageBySessionAndIndex", ctx, "sess-1", 0).Return(page, nil).Once()
	suite.mockRecon.On("Enrich", ctx, candidates).Return(enriched, nil).Once()

	review, err := suite.service.GetPageForReview(ctx, "user-1", "sess-1", 0)

	suite.Require().NoError(err)
	suite.Require().NotNil(review)
	suite.Equal(int64(1), review.Page.PageID)
	suite.Require().Len(review.Candidates, 1)
	suite.True(review.Candidates[0].IsDuplicate)
	suite.mockRecon.AssertExpectations(suite.T())
}

func (suite *ScanServiceTestSuite) TestConfirmPage_Success() {
	ctx := context.Background()
	userID := "user-1"
	page := &domain.ScanSessionPage{PageID: 1, SessionID: "sess-1", PageIndex: 0, ImageKey: "key.png", ParseStatus: domain.ParseCompleted}
	transferID := int64(42)
	items := []portssvc.ConfirmItemInput{
		{
			Transaction: domain.Transaction{
				Date:            time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
				Category:        domain.CategoryTransfer,
				Total:           decimal.NewFromInt(100000),
				Payment:         domain.AppBCA,
				TransactionType: domain.TypeTransferOut,
			},
			TransferMatchID: &transferID,
		},
	}

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession(userID), nil).Once()
	suite.mockRepo.On("FindPageBySessionAndIndex", ctx, "sess-1", 0).Return(page, nil).Once()
	suite.mockRepo.On("ConfirmPage", ctx, mock.MatchedBy(func(params portsrepo.ConfirmPageParams) bool {
		if params.SessionID != "sess-1" || params.PageIndex != 0 || len(params.Items) != 1 {
			return false
		}
		item := params.Items[0]
		if item.Owner != userID || item.ImageURL != "key.png" {
			return false
		}
		// The stored price mirrors the confirmed total, whatever the client sent
		if !item.Price.Equal(item.Total) || !item.Total.Equal(decimal.NewFromInt(100000)) {
			return false
		}
		return len(params.Links) == 1 && params.Links[0].TransferMatchID != nil && *params.Links[0].TransferMatchID == transferID
	})).Return(&portsrepo.ConfirmPageResult{CreatedIDs: []int64{101}, NextPageIndex: 1}, nil).Once()

	outcome, err := suite.service.ConfirmPage(ctx, userID, "sess-1", 0, items)

	suite.Require().NoError(err)
	suite.Require().NotNil(outcome)
	suite.Equal([]int64{101}, outcome.CreatedIDs)
	suite.Equal(1, outcome.NextPageIndex)
	suite.False(outcome.SessionCompleted)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *ScanServiceTestSuite) TestRetryParse_Throttled() {
	ctx := context.Background()

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("user-1"), nil).Once()
	suite.mockRepo.On("CheckAndUpdateRetryThrottle", ctx, "sess-1", 30*time.Second).Return(false, 17, nil).Once()

	requeued, err := suite.service.RetryParse(ctx, "user-1", "sess-1")

	suite.Require().Error(err)
	var throttled *apperrors.RetryThrottledError
	suite.Require().True(errors.As(err, &throttled))
	suite.Equal(17, throttled.WaitSeconds)
	suite.Zero(requeued)
	suite.mockRepo.AssertNotCalled(suite.T(), "RequeueStuckPages", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *ScanServiceTestSuite) TestRetryParse_RequeuesPendingPages() {
	ctx := context.Background()
	pages := []domain.ScanSessionPage{
		{PageID: 1, SessionID: "sess-1", PageIndex: 0, ParseStatus: domain.ParsePending, ReviewStatus: domain.ReviewPending},
		{PageID: 2, SessionID: "sess-1", PageIndex: 1, ParseStatus: domain.ParseCompleted, ReviewStatus: domain.ReviewConfirmed},
	}

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("user-1"), nil).Once()
	suite.mockRepo.On("CheckAndUpdateRetryThrottle", ctx, "sess-1", 30*time.Second).Return(true, 0, nil).Once()
	suite.mockRepo.On("RequeueStuckPages", ctx, "sess-1", 60*time.Second).Return(1, nil).Once()
	suite.mockRepo.On("FindPagesBySessionID", ctx, "sess-1").Return(pages, nil).Once()
	suite.mockQueue.On("Enqueue", mock.MatchedBy(func(job domain.ParseJob) bool { return job.PageID == 1 })).Once()

	requeued, err := suite.service.RetryParse(ctx, "user-1", "sess-1")

	suite.Require().NoError(err)
	suite.Equal(1, requeued)
	suite.mockQueue.AssertNumberOfCalls(suite.T(), "Enqueue", 1)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *ScanServiceTestSuite) TestCancelSession_DeletesImages() {
	ctx := context.Background()
	pages := []domain.ScanSessionPage{
		{PageID: 1, SessionID: "sess-1", ImageKey: "key-a.png"},
		{PageID: 2, SessionID: "sess-1", ImageKey: "key-b.png"},
	}

	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("user-1"), nil).Once()
	suite.mockRepo.On("FindPagesBySessionID", ctx, "sess-1").Return(pages, nil).Once()
	suite.mockRepo.On("DeleteSession", ctx, "sess-1").Return(nil).Once()
	suite.mockStorage.On("Delete", ctx, "key-a.png").Return(nil).Once()
	suite.mockStorage.On("Delete", ctx, "key-b.png").Return(nil).Once()

	err := suite.service.CancelSession(ctx, "user-1", "sess-1")

	suite.Require().NoError(err)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockStorage.AssertExpectations(suite.T())
}

func (suite *ScanServiceTestSuite) TestCancelSession_OtherUsersSessionHidden() {
	ctx := context.Background()
	suite.mockRepo.On("FindSessionByID", ctx, "sess-1").Return(activeSession("someone-else"), nil).Once()

	err := suite.service.CancelSession(ctx, "user-1", "sess-1")

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrNotFound))
	suite.mockRepo.AssertNotCalled(suite.T(), "DeleteSession", mock.Anything, mock.Anything)
}

func TestScanServiceTestSuite(t *testing.T) {
	suite.Run(t, new(ScanServiceTestSuite))
}
