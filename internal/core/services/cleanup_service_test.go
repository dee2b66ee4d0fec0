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

type CleanupServiceTestSuite struct {
	suite.Suite
	mockRepo    *MockScanRepository
	mockStorage *MockStorage
	service     portssvc.CleanupSvc
}

func (suite *CleanupServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockScanRepository)
	suite.mockStorage = new(MockStorage)
	suite.service = services.NewCleanupService(suite.mockRepo, suite.mockStorage, slog.Default())
}

func (suite *CleanupServiceTestSuite) TestRun_RemovesExpiredSessionsAndImages() {
	ctx := context.Background()
	expired := []domain.ScanSession{
		{SessionID: "sess-1", UserID: "user-1", Status: domain.SessionInProgress},
		{SessionID: "sess-2", UserID: "user-2", Status: domain.SessionInProgress},
	}

	suite.mockRepo.On("FindExpiredSessions", ctx, mock.AnythingOfType("time.Time")).Return(expired, nil).Once()
	suite.mockRepo.On("FindPagesBySessionID", ctx, "sess-1").
		Return([]domain.ScanSessionPage{{PageID: 1, ImageKey: "a.png"}}, nil).Once()
	suite.mockRepo.On("FindPagesBySessionID", ctx, "sess-2").
		Return([]domain.ScanSessionPage{{PageID: 2, ImageKey: "b.png"}}, nil).Once()
	suite.mockRepo.On("DeleteSession", ctx, "sess-1").Return(nil).Once()
	suite.mockRepo.On("DeleteSession", ctx, "sess-2").Return(nil).Once()
	suite.mockStorage.On("Delete", ctx, "a.png").Return(nil).Once()
	suite.mockStorage.On("Delete", ctx, "b.png").Return(nil).Once()

	removed, err := suite.service.Run(ctx)

	suite.Require().NoError(err)
	suite.Equal(2, removed)
	suite.mockRepo.AssertExpectations(suite.T())
	suite.mockStorage.AssertExpectations(suite.T())
}

func (suite *CleanupServiceTestSuite) TestRun_SkipsSessionWhenDeleteFails() {
	ctx := context.Background()
	expired := []domain.ScanSession{{SessionID: "sess-1"}}

	suite.mockRepo.On("FindExpiredSessions", ctx, mock.AnythingOfType("time.Time")).Return(expired, nil).Once()
	suite.mockRepo.On("FindPagesBySessionID", ctx, "sess-1").
		Return([]domain.ScanSessionPage{{PageID: 1, ImageKey: "a.png"}}, nil).Once()
	suite.mockRepo.On("DeleteSession", ctx, "sess-1").Return(errors.New("db down")).Once()

	removed, err := suite.service.Run(ctx)

	suite.Require().NoError(err)
	suite.Zero(removed)
	// Images stay while the session row survives
	suite.mockStorage.AssertNotCalled(suite.T(), "Delete", mock.Anything, mock.Anything)
}

func (suite *CleanupServiceTestSuite) TestRun_NothingExpired() {
	ctx := context.Background()
	suite.mockRepo.On("FindExpiredSessions", ctx, mock.AnythingOfType("time.Time")).
		Return([]domain.ScanSession{}, nil).Once()

	removed, err := suite.service.Run(ctx)

	suite.Require().NoError(err)
	suite.Zero(removed)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *CleanupServiceTestSuite) TestStartSweeper_RunsInitialSweep() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})

	suite.mockRepo.On("FindExpiredSessions", mock.Anything, mock.AnythingOfType("time.Time")).
		Run(func(mock.Arguments) { close(done) }).
		Return([]domain.ScanSession{}, nil).Once()

	suite.service.StartSweeper(ctx, time.Hour)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		suite.FailNow("timed out waiting for initial sweep")
	}
}

func TestCleanupServiceTestSuite(t *testing.T) {
	suite.Run(t, new(CleanupServiceTestSuite))
}
