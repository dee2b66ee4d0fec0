package models

import (
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// ScanSession mirrors the scan_sessions table.
type ScanSession struct {
	SessionID        string
	UserID           string
	Status           string
	CurrentPageIndex int
	LastRetryAt      *time.Time
	CreatedAt        time.Time
	ExpiresAt        time.Time
	UpdatedAt        time.Time
}

// ScanSessionPage mirrors the scan_session_pages table. ParseResult holds the
// raw jsonb candidate list; decoding happens in the mapping layer.
type ScanSessionPage struct {
	PageID       int64
	SessionID    string
	PageIndex    int
	ImageKey     string
	AppType      *string
	ParseStatus  string
	ParseResult  []byte
	ParseError   *string
	RetryCount   int
	ReviewStatus string
	ConfirmedAt  *time.Time
	UpdatedAt    time.Time
}

// AppTypePtr converts the nullable app_type column to a domain pointer.
func (p ScanSessionPage) AppTypePtr() *domain.PaymentApp {
	if p.AppType == nil {
		return nil
	}
	app := domain.PaymentApp(*p.AppType)
	return &app
}
