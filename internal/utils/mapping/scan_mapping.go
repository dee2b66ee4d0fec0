package mapping

import (
	"encoding/json"
	"fmt"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	"github.com/duitscan/scan_ledger_app/internal/models"
)

// ToDomainScanSession converts a models.ScanSession to domain.ScanSession
func ToDomainScanSession(m models.ScanSession) domain.ScanSession {
	return domain.ScanSession{
		SessionID:        m.SessionID,
		UserID:           m.UserID,
		Status:           domain.SessionStatus(m.Status),
		CurrentPageIndex: m.CurrentPageIndex,
		LastRetryAt:      m.LastRetryAt,
		CreatedAt:        m.CreatedAt,
		ExpiresAt:        m.ExpiresAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

// ToDomainScanSessionPage converts a models.ScanSessionPage to
// domain.ScanSessionPage, decoding the stored candidate list.
func ToDomainScanSessionPage(m models.ScanSessionPage) (domain.ScanSessionPage, error) {
	page := domain.ScanSessionPage{
		PageID:       m.PageID,
		SessionID:    m.SessionID,
		PageIndex:    m.PageIndex,
		ImageKey:     m.ImageKey,
		AppType:      m.AppTypePtr(),
		ParseStatus:  domain.ParseStatus(m.ParseStatus),
		ParseError:   m.ParseError,
		RetryCount:   m.RetryCount,
		ReviewStatus: domain.ReviewStatus(m.ReviewStatus),
		ConfirmedAt:  m.ConfirmedAt,
		UpdatedAt:    m.UpdatedAt,
	}
	if len(m.ParseResult) > 0 {
		if err := json.Unmarshal(m.ParseResult, &page.ParseResult); err != nil {
			return domain.ScanSessionPage{}, fmt.Errorf("failed to decode parse result for page %d: %w", m.PageID, err)
		}
	}
	return page, nil
}

// ToDomainScanSessionPageSlice converts a slice of page models, preserving order.
func ToDomainScanSessionPageSlice(ms []models.ScanSessionPage) ([]domain.ScanSessionPage, error) {
	pages := make([]domain.ScanSessionPage, len(ms))
	for i, m := range ms {
		p, err := ToDomainScanSessionPage(m)
		if err != nil {
			return nil, err
		}
		pages[i] = p
	}
	return pages, nil
}

// EncodeCandidates marshals a candidate list for jsonb storage.
func EncodeCandidates(candidates []domain.Candidate) ([]byte, error) {
	data, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to encode candidates: %w", err)
	}
	return data, nil
}
