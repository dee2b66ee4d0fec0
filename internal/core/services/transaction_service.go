package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/duitscan/scan_ledger_app/internal/apperrors"
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
)

// transactionServiceImpl implements the TransactionSvcFacade interface
type transactionServiceImpl struct {
	BaseService
	transactionRepo portsrepo.TransactionRepositoryFacade
}

// NewTransactionService creates a new ledger transaction service.
func NewTransactionService(transactionRepo portsrepo.TransactionRepositoryFacade) portssvc.TransactionSvcFacade {
	return &transactionServiceImpl{
		transactionRepo: transactionRepo,
	}
}

// Ensure transactionServiceImpl implements the TransactionSvcFacade interface
var _ portssvc.TransactionSvcFacade = (*transactionServiceImpl)(nil)

func isNotFound(err error) bool {
	return errors.Is(err, apperrors.ErrNotFound)
}

// ListByDateRange returns transactions in the inclusive range with their
// transfer and forwarded partners resolved.
func (s *transactionServiceImpl) ListByDateRange(ctx context.Context, from, to time.Time) ([]portssvc.EnrichedTransaction, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: date range end before start", apperrors.ErrValidation)
	}

	txns, err := s.transactionRepo.FindByDateRange(ctx, from, to)
	if err != nil {
		s.LogError(ctx, err, "Failed to list transactions")
		return nil, err
	}

	// Partners may fall outside the requested range; fetch the missing ones
	// in one batch.
	byID := make(map[int64]domain.Transaction, len(txns))
	for _, txn := range txns {
		byID[txn.TransactionID] = txn
	}
	missing := []int64{}
	for _, txn := range txns {
		if txn.LinkedTransferID != nil {
			if _, ok := byID[*txn.LinkedTransferID]; !ok {
				missing = append(missing, *txn.LinkedTransferID)
			}
		}
		if txn.ForwardedTransactionID != nil {
			if _, ok := byID[*txn.ForwardedTransactionID]; !ok {
				missing = append(missing, *txn.ForwardedTransactionID)
			}
		}
	}
	if len(missing) > 0 {
		partners, err := s.transactionRepo.FindByIDs(ctx, missing)
		if err != nil {
			s.LogError(ctx, err, "Failed to resolve link partners")
			return nil, err
		}
		for _, partner := range partners {
			byID[partner.TransactionID] = partner
		}
	}

	// Forwarded children visible in the working set, grouped by target.
	childrenByTarget := make(map[int64][]domain.Transaction)
	for _, txn := range byID {
		if txn.ForwardedTransactionID != nil {
			childrenByTarget[*txn.ForwardedTransactionID] = append(childrenByTarget[*txn.ForwardedTransactionID], txn)
		}
	}

	enriched := make([]portssvc.EnrichedTransaction, len(txns))
	for i, txn := range txns {
		e := portssvc.EnrichedTransaction{Transaction: txn}
		if txn.LinkedTransferID != nil {
			if partner, ok := byID[*txn.LinkedTransferID]; ok {
				p := partner
				e.LinkedTransfer = &p
			}
		}
		if txn.ForwardedTransactionID != nil {
			if target, ok := byID[*txn.ForwardedTransactionID]; ok {
				t := target
				e.ForwardedTarget = &t
			}
		}
		e.ForwardedChildren = childrenByTarget[txn.TransactionID]
		enriched[i] = e
	}
	return enriched, nil
}

// Get returns a single transaction with its link partners resolved.
func (s *transactionServiceImpl) Get(ctx context.Context, transactionID int64) (*portssvc.EnrichedTransaction, error) {
	txn, err := s.transactionRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	enriched := &portssvc.EnrichedTransaction{Transaction: *txn}

	if txn.LinkedTransferID != nil {
		partner, err := s.transactionRepo.FindByID(ctx, *txn.LinkedTransferID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		enriched.LinkedTransfer = partner
	}
	if txn.ForwardedTransactionID != nil {
		target, err := s.transactionRepo.FindByID(ctx, *txn.ForwardedTransactionID)
		if err != nil && !isNotFound(err) {
			return nil, err
		}
		enriched.ForwardedTarget = target
	}

	children, err := s.transactionRepo.FindForwardedChildren(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	enriched.ForwardedChildren = children

	return enriched, nil
}

// Update applies partial changes. A category change propagates across
// forwarded links so both sides of a duplicate stay consistent.
func (s *transactionServiceImpl) Update(ctx context.Context, transactionID int64, input portssvc.TransactionUpdateInput) (*domain.Transaction, error) {
	existing, err := s.transactionRepo.FindByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	categoryChanged := false
	if input.Date != nil {
		existing.Date = *input.Date
	}
	if input.Category != nil && *input.Category != existing.Category {
		existing.Category = *input.Category
		categoryChanged = true
	}
	if input.Description != nil {
		existing.Description = *input.Description
	}
	if input.Merchant != nil {
		existing.Merchant = *input.Merchant
	}
	if input.Remarks != nil {
		existing.Remarks = *input.Remarks
	}
	if input.TransactionType != nil && *input.TransactionType != existing.TransactionType {
		if existing.LinkedTransferID != nil {
			return nil, fmt.Errorf("%w: unlink the transfer before changing its direction", apperrors.ErrConflict)
		}
		existing.TransactionType = *input.TransactionType
	}
	existing.UpdatedAt = time.Now().UTC()

	updated, err := s.transactionRepo.Update(ctx, *existing)
	if err != nil {
		s.LogError(ctx, err, "Failed to update transaction", slog.Int64("transaction_id", transactionID))
		return nil, err
	}

	if categoryChanged {
		if err := s.propagateCategory(ctx, updated); err != nil {
			s.LogWarn(ctx, "Failed to propagate category across forwarded links",
				slog.Int64("transaction_id", transactionID),
				slog.String("error", err.Error()),
			)
		}
	}

	return updated, nil
}

// propagateCategory copies the row's category to its forwarded target and to
// any card rows pointing at it.
func (s *transactionServiceImpl) propagateCategory(ctx context.Context, txn *domain.Transaction) error {
	ids := []int64{}
	if txn.ForwardedTransactionID != nil {
		ids = append(ids, *txn.ForwardedTransactionID)
	}
	children, err := s.transactionRepo.FindForwardedChildren(ctx, txn.TransactionID)
	if err != nil {
		return err
	}
	for _, child := range children {
		ids = append(ids, child.TransactionID)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.transactionRepo.UpdateCategoryForIDs(ctx, ids, txn.Category)
}

// Delete removes a transaction unless a link still references it.
func (s *transactionServiceImpl) Delete(ctx context.Context, transactionID int64) error {
	if err := s.transactionRepo.Delete(ctx, transactionID); err != nil {
		s.LogError(ctx, err, "Failed to delete transaction", slog.Int64("transaction_id", transactionID))
		return err
	}
	s.LogInfo(ctx, "Transaction deleted", slog.Int64("transaction_id", transactionID))
	return nil
}

// LinkTransfer pairs two transfer rows after validating direction, amount
// and link state.
func (s *transactionServiceImpl) LinkTransfer(ctx context.Context, firstID, secondID int64) error {
	first, err := s.transactionRepo.FindByID(ctx, firstID)
	if err != nil {
		return err
	}
	second, err := s.transactionRepo.FindByID(ctx, secondID)
	if err != nil {
		return err
	}

	if !first.TransactionType.IsTransfer() || !second.TransactionType.IsTransfer() {
		return fmt.Errorf("%w: both transactions must be transfers", apperrors.ErrValidation)
	}
	if first.TransactionType == second.TransactionType {
		return fmt.Errorf("%w: transfer directions must be opposite", apperrors.ErrValidation)
	}
	if !amountsEqual(first.Total, second.Total) {
		return fmt.Errorf("%w: transfer amounts must match", apperrors.ErrValidation)
	}
	if first.Payment == second.Payment {
		return fmt.Errorf("%w: a transfer cannot stay within one payment app", apperrors.ErrValidation)
	}

	if err := s.transactionRepo.LinkTransfer(ctx, firstID, secondID); err != nil {
		s.LogError(ctx, err, "Failed to link transfer",
			slog.Int64("first_id", firstID),
			slog.Int64("second_id", secondID),
		)
		return err
	}
	s.LogInfo(ctx, "Transfer linked", slog.Int64("first_id", firstID), slog.Int64("second_id", secondID))
	return nil
}

// UnlinkTransfer dissolves the pairing from either side.
func (s *transactionServiceImpl) UnlinkTransfer(ctx context.Context, transactionID int64) error {
	if err := s.transactionRepo.UnlinkTransfer(ctx, transactionID); err != nil {
		s.LogError(ctx, err, "Failed to unlink transfer", slog.Int64("transaction_id", transactionID))
		return err
	}
	return nil
}

// LinkForwarded marks cardRowID as the card-side duplicate of targetID.
func (s *transactionServiceImpl) LinkForwarded(ctx context.Context, cardRowID, targetID int64) error {
	cardRow, err := s.transactionRepo.FindByID(ctx, cardRowID)
	if err != nil {
		return err
	}
	target, err := s.transactionRepo.FindByID(ctx, targetID)
	if err != nil {
		return err
	}

	if !domain.IsForwardedSource(target.Payment) {
		return fmt.Errorf("%w: target is not a forwarding source app row", apperrors.ErrValidation)
	}
	if !amountsEqual(cardRow.Total, target.Total) {
		return fmt.Errorf("%w: forwarded amounts must match", apperrors.ErrValidation)
	}

	if err := s.transactionRepo.LinkForwarded(ctx, cardRowID, targetID); err != nil {
		s.LogError(ctx, err, "Failed to link forwarded transaction",
			slog.Int64("card_row_id", cardRowID),
			slog.Int64("target_id", targetID),
		)
		return err
	}
	s.LogInfo(ctx, "Forwarded transaction linked", slog.Int64("card_row_id", cardRowID), slog.Int64("target_id", targetID))
	return nil
}

// UnlinkForwarded clears the forwarded pointer on the row.
func (s *transactionServiceImpl) UnlinkForwarded(ctx context.Context, transactionID int64) error {
	if err := s.transactionRepo.UnlinkForwarded(ctx, transactionID); err != nil {
		s.LogError(ctx, err, "Failed to unlink forwarded transaction", slog.Int64("transaction_id", transactionID))
		return err
	}
	return nil
}
