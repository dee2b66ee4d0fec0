package services_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/core/services"
)

// MockTransactionRepository is a mock type for the TransactionRepositoryFacade interface
type MockTransactionRepository struct {
	MockTransactionReader
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) Update(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) UpdateCategoryForIDs(ctx context.Context, ids []int64, category domain.Category) error {
	args := m.Called(ctx, ids, category)
	return args.Error(0)
}

func (m *MockTransactionRepository) Delete(ctx context.Context, transactionID int64) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *MockTransactionRepository) LinkTransfer(ctx context.Context, firstID, secondID int64) error {
	args := m.Called(ctx, firstID, secondID)
	return args.Error(0)
}

func (m *MockTransactionRepository) UnlinkTransfer(ctx context.Context, transactionID int64) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *MockTransactionRepository) LinkForwarded(ctx context.Context, cardRowID, targetID int64) error {
	args := m.Called(ctx, cardRowID, targetID)
	return args.Error(0)
}

func (m *MockTransactionRepository) UnlinkForwarded(ctx context.Context, transactionID int64) error {
	args := m.Called(ctx, transactionID)
	return args.Error(0)
}

func (m *MockTransactionRepository) InsertInTx(ctx context.Context, tx pgx.Tx, txn domain.Transaction) (int64, error) {
	args := m.Called(ctx, tx, txn)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockTransactionRepository) LinkTransferInTx(ctx context.Context, tx pgx.Tx, firstID, secondID int64) error {
	args := m.Called(ctx, tx, firstID, secondID)
	return args.Error(0)
}

func (m *MockTransactionRepository) SetForwardedTargetInTx(ctx context.Context, tx pgx.Tx, rowID, targetID int64) error {
	args := m.Called(ctx, tx, rowID, targetID)
	return args.Error(0)
}

// --- Test Suite Setup ---

type TransactionServiceTestSuite struct {
	suite.Suite
	mockRepo *MockTransactionRepository
	service  portssvc.TransactionSvcFacade
}

func (suite *TransactionServiceTestSuite) SetupTest() {
	suite.mockRepo = new(MockTransactionRepository)
	suite.service = services.NewTransactionService(suite.mockRepo)
}

func int64Ptr(v int64) *int64 {
	return &v
}

func transferRow(id int64, direction domain.TransactionType, payment domain.PaymentApp, total int64) *domain.Transaction {
	return &domain.Transaction{
		TransactionID:   id,
		Date:            time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC),
		Category:        domain.CategoryTransfer,
		Total:           decimal.NewFromInt(total),
		Payment:         payment,
		TransactionType: direction,
	}
}

// --- Test Cases ---

func (suite *TransactionServiceTestSuite) TestListByDateRange_InvalidRange() {
	from := time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, -1)

	result, err := suite.service.ListByDateRange(context.Background(), from, to)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
	suite.Nil(result)
}

func (suite *TransactionServiceTestSuite) TestListByDateRange_ResolvesOutOfRangePartners() {
	ctx := context.Background()
	from := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)

	inRange := []domain.Transaction{
		{TransactionID: 1, TransactionType: domain.TypeTransferOut, LinkedTransferID: int64Ptr(99)},
		{TransactionID: 2, TransactionType: domain.TypeExpense, Payment: domain.AppMandiriCC, ForwardedTransactionID: int64Ptr(1)},
	}
	partner := domain.Transaction{TransactionID: 99, TransactionType: domain.TypeTransferIn, LinkedTransferID: int64Ptr(1)}

	suite.mockRepo.On("FindByDateRange", ctx, from, to).Return(inRange, nil).Once()
	suite.mockRepo.On("FindByIDs", ctx, []int64{99}).Return([]domain.Transaction{partner}, nil).Once()

	result, err := suite.service.ListByDateRange(ctx, from, to)

	suite.Require().NoError(err)
	suite.Require().Len(result, 2)
	suite.Require().NotNil(result[0].LinkedTransfer)
	suite.Equal(int64(99), result[0].LinkedTransfer.TransactionID)
	// Row 1 is the forwarded target of row 2, both inside the range
	suite.Require().Len(result[0].ForwardedChildren, 1)
	suite.Equal(int64(2), result[0].ForwardedChildren[0].TransactionID)
	suite.Require().NotNil(result[1].ForwardedTarget)
	suite.Equal(int64(1), result[1].ForwardedTarget.TransactionID)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *TransactionServiceTestSuite) TestGet_ResolvesLinksAndChildren() {
	ctx := context.Background()
	row := &domain.Transaction{TransactionID: 1, LinkedTransferID: int64Ptr(2)}
	partner := &domain.Transaction{TransactionID: 2, LinkedTransferID: int64Ptr(1)}
	children := []domain.Transaction{{TransactionID: 3, ForwardedTransactionID: int64Ptr(1)}}

	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(row, nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(partner, nil).Once()
	suite.mockRepo.On("FindForwardedChildren", ctx, int64(1)).Return(children, nil).Once()

	result, err := suite.service.Get(ctx, 1)

	suite.Require().NoError(err)
	suite.Require().NotNil(result.LinkedTransfer)
	suite.Equal(int64(2), result.LinkedTransfer.TransactionID)
	suite.Require().Len(result.ForwardedChildren, 1)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *TransactionServiceTestSuite) TestUpdate_DirectionChangeBlockedWhileLinked() {
	ctx := context.Background()
	row := transferRow(1, domain.TypeTransferOut, domain.AppBCA, 100000)
	row.LinkedTransferID = int64Ptr(2)
	newType := domain.TypeExpense

	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(row, nil).Once()

	updated, err := suite.service.Update(ctx, 1, portssvc.TransactionUpdateInput{TransactionType: &newType})

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrConflict))
	suite.Nil(updated)
	suite.mockRepo.AssertNotCalled(suite.T(), "Update", mock.Anything, mock.Anything)
}

func (suite *TransactionServiceTestSuite) TestUpdate_CategoryChangePropagatesAcrossForwardedLinks() {
	ctx := context.Background()
	row := &domain.Transaction{
		TransactionID:          1,
		Category:               domain.CategoryOther,
		ForwardedTransactionID: int64Ptr(5),
	}
	newCategory := domain.CategoryFood
	updatedRow := *row
	updatedRow.Category = newCategory
	children := []domain.Transaction{{TransactionID: 7, ForwardedTransactionID: int64Ptr(1)}}

	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(row, nil).Once()
	suite.mockRepo.On("Update", ctx, mock.MatchedBy(func(txn domain.Transaction) bool {
		return txn.Category == newCategory
	})).Return(&updatedRow, nil).Once()
	suite.mockRepo.On("FindForwardedChildren", ctx, int64(1)).Return(children, nil).Once()
	suite.mockRepo.On("UpdateCategoryForIDs", ctx, []int64{5, 7}, newCategory).Return(nil).Once()

	updated, err := suite.service.Update(ctx, 1, portssvc.TransactionUpdateInput{Category: &newCategory})

	suite.Require().NoError(err)
	suite.Equal(newCategory, updated.Category)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *TransactionServiceTestSuite) TestUpdate_UnchangedCategoryDoesNotPropagate() {
	ctx := context.Background()
	row := &domain.Transaction{TransactionID: 1, Category: domain.CategoryFood}
	sameCategory := domain.CategoryFood
	newMerchant := "Kopi Kenangan"
	updatedRow := *row
	updatedRow.Merchant = newMerchant

	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(row, nil).Once()
	suite.mockRepo.On("Update", ctx, mock.AnythingOfType("domain.Transaction")).Return(&updatedRow, nil).Once()

	_, err := suite.service.Update(ctx, 1, portssvc.TransactionUpdateInput{
		Category: &sameCategory,
		Merchant: &newMerchant,
	})

	suite.Require().NoError(err)
	suite.mockRepo.AssertNotCalled(suite.T(), "UpdateCategoryForIDs", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *TransactionServiceTestSuite) TestLinkTransfer_RejectsSameDirection() {
	ctx := context.Background()
	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(transferRow(1, domain.TypeTransferOut, domain.AppBCA, 100000), nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(transferRow(2, domain.TypeTransferOut, domain.AppJago, 100000), nil).Once()

	err := suite.service.LinkTransfer(ctx, 1, 2)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
	suite.mockRepo.AssertNotCalled(suite.T(), "LinkTransfer", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *TransactionServiceTestSuite) TestLinkTransfer_RejectsAmountMismatch() {
	ctx := context.Background()
	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(transferRow(1, domain.TypeTransferOut, domain.AppBCA, 100000), nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(transferRow(2, domain.TypeTransferIn, domain.AppJago, 95000), nil).Once()

	err := suite.service.LinkTransfer(ctx, 1, 2)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
}

func (suite *TransactionServiceTestSuite) TestLinkTransfer_RejectsSamePaymentApp() {
	ctx := context.Background()
	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(transferRow(1, domain.TypeTransferOut, domain.AppBCA, 100000), nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(transferRow(2, domain.TypeTransferIn, domain.AppBCA, 100000), nil).Once()

	err := suite.service.LinkTransfer(ctx, 1, 2)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
}

func (suite *TransactionServiceTestSuite) TestLinkTransfer_Success() {
	ctx := context.Background()
	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(transferRow(1, domain.TypeTransferOut, domain.AppBCA, 100000), nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(transferRow(2, domain.TypeTransferIn, domain.AppJago, 100000), nil).Once()
	suite.mockRepo.On("LinkTransfer", ctx, int64(1), int64(2)).Return(nil).Once()

	err := suite.service.LinkTransfer(ctx, 1, 2)

	suite.Require().NoError(err)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *TransactionServiceTestSuite) TestLinkForwarded_RejectsNonSourceTarget() {
	ctx := context.Background()
	cardRow := &domain.Transaction{TransactionID: 1, Payment: domain.AppMandiriCC, Total: decimal.NewFromInt(50000)}
	target := &domain.Transaction{TransactionID: 2, Payment: domain.AppBCA, Total: decimal.NewFromInt(50000)}

	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(cardRow, nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(target, nil).Once()

	err := suite.service.LinkForwarded(ctx, 1, 2)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
	suite.mockRepo.AssertNotCalled(suite.T(), "LinkForwarded", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *TransactionServiceTestSuite) TestLinkForwarded_Success() {
	ctx := context.Background()
	cardRow := &domain.Transaction{TransactionID: 1, Payment: domain.AppMandiriCC, Total: decimal.NewFromInt(50000)}
	target := &domain.Transaction{TransactionID: 2, Payment: domain.AppGrab, Total: decimal.NewFromInt(50000)}

	suite.mockRepo.On("FindByID", ctx, int64(1)).Return(cardRow, nil).Once()
	suite.mockRepo.On("FindByID", ctx, int64(2)).Return(target, nil).Once()
	suite.mockRepo.On("LinkForwarded", ctx, int64(1), int64(2)).Return(nil).Once()

	err := suite.service.LinkForwarded(ctx, 1, 2)

	suite.Require().NoError(err)
	suite.mockRepo.AssertExpectations(suite.T())
}

func (suite *TransactionServiceTestSuite) TestUnlinkForwarded_NotLinkedIsValidationError() {
	ctx := context.Background()
	notLinked := fmt.Errorf("%w: transaction 1 has no forwarded link", apperrors.ErrValidation)
	suite.mockRepo.On("UnlinkForwarded", ctx, int64(1)).Return(notLinked).Once()

	err := suite.service.UnlinkForwarded(ctx, 1)

	// An existing but unlinked row is a bad request, not a missing resource
	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrValidation))
	suite.False(errors.Is(err, apperrors.ErrNotFound))
}

func (suite *TransactionServiceTestSuite) TestUnlinkForwarded_MissingRowIsNotFound() {
	ctx := context.Background()
	suite.mockRepo.On("UnlinkForwarded", ctx, int64(404)).Return(apperrors.ErrNotFound).Once()

	err := suite.service.UnlinkForwarded(ctx, 404)

	suite.Require().Error(err)
	suite.True(errors.Is(err, apperrors.ErrNotFound))
}

func TestTransactionServiceTestSuite(t *testing.T) {
	suite.Run(t, new(TransactionServiceTestSuite))
}
