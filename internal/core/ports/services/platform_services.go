package services

import (
	"context"
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
)

// RecognitionResult is the outcome of interpreting one receipt image.
type RecognitionResult struct {
	Candidates  []domain.Candidate
	DetectedApp *domain.PaymentApp
}

// Recognizer extracts transaction candidates from receipt screenshots.
type Recognizer interface {
	// Interpret analyzes the image and returns the candidates it found.
	// The hint, when present, selects an app-specific extraction profile.
	Interpret(ctx context.Context, image []byte, mimeType string, hint *domain.PaymentApp) (*RecognitionResult, error)
}

// StorageSvc persists uploaded page images.
type StorageSvc interface {
	// Upload stores the image and returns its storage key.
	Upload(ctx context.Context, image []byte, mimeType string) (string, error)

	// Fetch reads a stored image back by key.
	Fetch(ctx context.Context, key string) ([]byte, string, error)

	// GetURL returns a signed, expiring URL serving the stored image.
	GetURL(key string, ttl time.Duration) (string, error)

	// VerifyURL checks a signed URL's key, expiry and signature.
	VerifyURL(key string, expires int64, signature string) error

	// Delete removes a stored image. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// CleanupSvc sweeps expired scan sessions.
type CleanupSvc interface {
	// Run performs one sweep, deleting expired sessions and their images.
	Run(ctx context.Context) (removed int, err error)

	// StartSweeper runs sweeps on an interval until the context is cancelled.
	StartSweeper(ctx context.Context, interval time.Duration)
}
