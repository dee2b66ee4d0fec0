package services

import (
	"context"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// ReconSvcFacade defines reconciliation matching over parsed candidates and
// persisted transactions.
type ReconSvcFacade interface {
	// Enrich annotates every candidate with duplicate, transfer, forwarded
	// and reverse-forwarded match information against the ledger.
	Enrich(ctx context.Context, candidates []domain.Candidate) ([]domain.ReviewCandidate, error)

	// FindTransferMatch looks for an unlinked opposite-direction transfer for
	// an existing transaction.
	FindTransferMatch(ctx context.Context, txn domain.Transaction) (*domain.Transaction, error)

	// FindForwardedMatches looks for source-app rows a card transaction may
	// be a forwarded duplicate of.
	FindForwardedMatches(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error)

	// FindReverseMatches looks for card rows already covering an app-side
	// transaction from a forwarding source.
	FindReverseMatches(ctx context.Context, txn domain.Transaction) ([]domain.Transaction, error)
}
