package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portsrepo "github.com/duitscan/scan_ledger_app/internal/core/ports/repositories"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/duitscan/scan_ledger_app/internal/utils/textmatch"
)

const (
	transferMatchWindowDays  = 1
	forwardedMatchWindowDays = 2
)

// reconServiceImpl implements the ReconSvcFacade interface
type reconServiceImpl struct {
	BaseService
	transactionRepo portsrepo.TransactionReader
}

// NewReconService creates a new reconciliation service.
func NewReconService(transactionRepo portsrepo.TransactionReader) portssvc.ReconSvcFacade {
	return &reconServiceImpl{
		transactionRepo: transactionRepo,
	}
}

// Ensure reconServiceImpl implements the ReconSvcFacade interface
var _ portssvc.ReconSvcFacade = (*reconServiceImpl)(nil)

// Enrich annotates every candidate with duplicate, transfer, forwarded and
// reverse-forwarded match information. Candidates with unparseable dates or
// IsValid=false pass through unannotated.
func (s *reconServiceImpl) Enrich(ctx context.Context, candidates []domain.Candidate) ([]domain.ReviewCandidate, error) {
	enriched := make([]domain.ReviewCandidate, len(candidates))
	for i, candidate := range candidates {
		enriched[i] = domain.ReviewCandidate{
			Candidate:                candidate,
			ForwardedMatchCandidates: []domain.Transaction{},
			ReverseMatchCandidates:   []domain.Transaction{},
		}

		if !candidate.IsValid {
			continue
		}
		date, err := time.Parse("2006-01-02", candidate.Date)
		if err != nil {
			s.LogDebug(ctx, "Skipping enrichment for candidate with unparseable date",
				slog.String("date", candidate.Date))
			continue
		}

		if err := s.annotateDuplicate(ctx, &enriched[i], date); err != nil {
			return nil, err
		}
		if err := s.annotateTransfer(ctx, &enriched[i], date); err != nil {
			return nil, err
		}
		if err := s.annotateForwarded(ctx, &enriched[i], date); err != nil {
			return nil, err
		}
		if err := s.annotateReverse(ctx, &enriched[i], date); err != nil {
			return nil, err
		}
	}
	return enriched, nil
}

// annotateDuplicate flags the candidate when a persisted row with the exact
// date, total and payment also fuzzily matches on merchant or description.
func (s *reconServiceImpl) annotateDuplicate(ctx context.Context, rc *domain.ReviewCandidate, date time.Time) error {
	rows, err := s.transactionRepo.FindDuplicateCandidates(ctx, date, rc.Total, rc.Payment)
	if err != nil {
		s.LogError(ctx, err, "Failed to query duplicate candidates")
		return err
	}
	for _, row := range rows {
		if textmatch.Fuzzy(rc.Merchant, row.Merchant) || textmatch.Fuzzy(rc.Description, row.Description) {
			id := row.TransactionID
			rc.IsDuplicate = true
			rc.DuplicateMatchedID = &id
			return nil
		}
	}
	return nil
}

// annotateTransfer finds an unlinked opposite-direction transfer with the
// same amount within one day on a different payment app. The first row in
// query order wins ties.
func (s *reconServiceImpl) annotateTransfer(ctx context.Context, rc *domain.ReviewCandidate, date time.Time) error {
	if !rc.TransactionType.IsTransfer() {
		return nil
	}

	from := date.AddDate(0, 0, -transferMatchWindowDays)
	to := date.AddDate(0, 0, transferMatchWindowDays)
	rows, err := s.transactionRepo.FindTransferCandidates(ctx, rc.TransactionType.Opposite(), rc.Total, from, to, rc.Payment)
	if err != nil {
		s.LogError(ctx, err, "Failed to query transfer candidates")
		return err
	}
	if len(rows) > 0 {
		match := rows[0]
		rc.TransferMatch = &match
	}
	return nil
}

// annotateForwarded finds app-side rows a card candidate may be a forwarded
// duplicate of, based on the source app the recognizer detected in its text.
func (s *reconServiceImpl) annotateForwarded(ctx context.Context, rc *domain.ReviewCandidate, date time.Time) error {
	if rc.ForwardedFromApp == nil {
		return nil
	}
	sourceApp := *rc.ForwardedFromApp
	if !domain.IsForwardedSource(sourceApp) {
		return nil
	}

	from := date.AddDate(0, 0, -forwardedMatchWindowDays)
	to := date.AddDate(0, 0, forwardedMatchWindowDays)
	rows, err := s.transactionRepo.FindForwardedCandidates(ctx, sourceApp, rc.Total, from, to)
	if err != nil {
		s.LogError(ctx, err, "Failed to query forwarded candidates")
		return err
	}
	rc.ForwardedMatchCandidates = filterForwardedBySource(sourceApp, rows)
	return nil
}

// annotateReverse finds card rows already recorded as forwarded from the
// candidate's app when the candidate itself comes from a forwarding source.
func (s *reconServiceImpl) annotateReverse(ctx context.Context, rc *domain.ReviewCandidate, date time.Time) error {
	if !domain.IsForwardedSource(rc.Payment) {
		return nil
	}

	from := date.AddDate(0, 0, -forwardedMatchWindowDays)
	to := date.AddDate(0, 0, forwardedMatchWindowDays)
	rows, err := s.transactionRepo.FindReverseForwardedCandidates(ctx, rc.Payment, rc.Total, from, to)
	if err != nil {
		s.LogError(ctx, err, "Failed to query reverse forwarded candidates")
		return err
	}
	rc.ReverseMatchCandidates = rows
	return nil
}

// FindTransferMatch looks for an unlinked opposite-direction transfer pairing
// with an existing transaction.
func (s *reconServiceImpl) FindTransferMatch(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error) {
	if !txn.TransactionType.IsTransfer() || txn.LinkedTransferID != nil {
		return nil, nil
	}

	from := txn.Date.AddDate(0, 0, -transferMatchWindowDays)
	to := txn.Date.AddDate(0, 0, transferMatchWindowDays)
	rows, err := s.transactionRepo.FindTransferCandidates(ctx, txn.TransactionType.Opposite(), txn.Total, from, to, txn.Payment)
	if err != nil {
		s.LogError(ctx, err, "Failed to query transfer match", slog.Int64("transaction_id", txn.TransactionID))
		return nil, err
	}
	for _, row := range rows {
		if row.TransactionID != txn.TransactionID {
			match := row
			return &match, nil
		}
	}
	return nil, nil
}

// FindForwardedMatches looks for source-app rows a card transaction may be a
// forwarded duplicate of.
func (s *reconServiceImpl) FindForwardedMatches(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error) {
	if txn.ForwardedFromApp == nil || !domain.IsForwardedSource(*txn.ForwardedFromApp) {
		return []domain.Transaction{}, nil
	}

	sourceApp := *txn.ForwardedFromApp
	from := txn.Date.AddDate(0, 0, -forwardedMatchWindowDays)
	to := txn.Date.AddDate(0, 0, forwardedMatchWindowDays)
	rows, err := s.transactionRepo.FindForwardedCandidates(ctx, sourceApp, txn.Total, from, to)
	if err != nil {
		s.LogError(ctx, err, "Failed to query forwarded matches", slog.Int64("transaction_id", txn.TransactionID))
		return nil, err
	}
	return filterForwardedBySource(sourceApp, rows), nil
}

// FindReverseMatches looks for card rows already covering an app-side
// transaction from a forwarding source.
func (s *reconServiceImpl) FindReverseMatches(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error) {
	if !domain.IsForwardedSource(txn.Payment) {
		return []domain.Transaction{}, nil
	}

	from := txn.Date.AddDate(0, 0, -forwardedMatchWindowDays)
	to := txn.Date.AddDate(0, 0, forwardedMatchWindowDays)
	rows, err := s.transactionRepo.FindReverseForwardedCandidates(ctx, txn.Payment, txn.Total, from, to)
	if err != nil {
		s.LogError(ctx, err, "Failed to query reverse matches", slog.Int64("transaction_id", txn.TransactionID))
		return nil, err
	}

	matches := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		if row.TransactionID != txn.TransactionID {
			matches = append(matches, row)
		}
	}
	return matches, nil
}

// filterForwardedBySource applies the per-app acceptance rule for forwarded
// matches. Gojek rows only count when their text carries a masked card
// suffix, since plain wallet purchases never reach a credit card statement.
func filterForwardedBySource(sourceApp domain.PaymentApp, rows []domain.Transaction) []domain.Transaction {
	if sourceApp != domain.AppGojek {
		return rows
	}
	filtered := make([]domain.Transaction, 0, len(rows))
	for _, row := range rows {
		if textmatch.HasMaskedCardSuffix(row.Description) || textmatch.HasMaskedCardSuffix(row.Remarks) {
			filtered = append(filtered, row)
		}
	}
	return filtered
}

// amountsEqual reports whether two decimal amounts are numerically equal.
func amountsEqual(a, b decimal.Decimal) bool {
	return a.Equal(b)
}
