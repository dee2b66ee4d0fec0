package domain

import (
	"strconv"
	"time"
)

// SessionStatus is the lifecycle state of a scan session.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "in_progress"
	SessionCompleted  SessionStatus = "completed"
	SessionExpired    SessionStatus = "expired"
)

// ParseStatus is the parse state of a single uploaded page.
type ParseStatus string

const (
	ParsePending    ParseStatus = "pending"
	ParseProcessing ParseStatus = "processing"
	ParseCompleted  ParseStatus = "completed"
	ParseFailed     ParseStatus = "failed"
)

// ReviewStatus is the review state of a single uploaded page.
type ReviewStatus string

const (
	ReviewPending   ReviewStatus = "pending"
	ReviewConfirmed ReviewStatus = "confirmed"
)

// ScanSession is one multi-page scan-and-review workflow owned by a user.
// At most one session per user may be InProgress at a time.
type ScanSession struct {
	SessionID        string        `json:"sessionID"` // Primary Key (UUID)
	UserID           string        `json:"userID"`
	Status           SessionStatus `json:"status"`
	CurrentPageIndex int           `json:"currentPageIndex"` // 0-based review cursor; only advances on confirm
	LastRetryAt      *time.Time    `json:"lastRetryAt"`      // Nullable; manual-retry throttle bookkeeping
	CreatedAt        time.Time     `json:"createdAt"`
	ExpiresAt        time.Time     `json:"expiresAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
}

// Expired reports whether the session is past its expiry horizon at the given time.
func (s ScanSession) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// ScanSessionPage is one uploaded image plus its parse/review state within a
// session. Pages are unique per (sessionID, pageIndex).
type ScanSessionPage struct {
	PageID       int64        `json:"pageID"` // Primary Key (serial)
	SessionID    string       `json:"sessionID"`
	PageIndex    int          `json:"pageIndex"`
	ImageKey     string       `json:"imageKey"`
	AppType      *PaymentApp  `json:"appType"` // Nullable recognizer hint; backfilled when detected
	ParseStatus  ParseStatus  `json:"parseStatus"`
	ParseResult  []Candidate  `json:"parseResult"` // Set only when ParseCompleted
	ParseError   *string      `json:"parseError"`  // Set only when ParseFailed
	RetryCount   int          `json:"retryCount"`
	ReviewStatus ReviewStatus `json:"reviewStatus"`
	ConfirmedAt  *time.Time   `json:"confirmedAt"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ParseJob is the ephemeral unit of work consumed by the parse queue. It is
// never persisted; on restart jobs are rebuilt from ScanSessionPage rows.
type ParseJob struct {
	SessionID string
	PageIndex int
	PageID    int64
	ImageKey  string
	AppType   *PaymentApp
}

// Key returns the queue dedup key for this job.
func (j ParseJob) Key() string {
	return j.SessionID + ":" + strconv.Itoa(j.PageIndex)
}
