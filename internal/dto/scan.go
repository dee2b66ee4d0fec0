package dto

import (
	"time"

	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	portssvc "github.com/duitscan/scan_ledger_app/internal/core/ports/services"
	"github.com/shopspring/decimal"
)

// CreateScanSessionResponse is returned after a successful multi-page upload.
type CreateScanSessionResponse struct {
	SessionID string             `json:"sessionID"`
	Status    string             `json:"status"`
	ExpiresAt time.Time          `json:"expiresAt"`
	Pages     []ScanPageResponse `json:"pages"`
}

// ScanSessionResponse describes a session and its pages.
type ScanSessionResponse struct {
	SessionID        string             `json:"sessionID"`
	Status           string             `json:"status"`
	CurrentPageIndex int                `json:"currentPageIndex"`
	CreatedAt        time.Time          `json:"createdAt"`
	ExpiresAt        time.Time          `json:"expiresAt"`
	Pages            []ScanPageResponse `json:"pages"`
}

// ScanPageResponse describes one page of a session.
type ScanPageResponse struct {
	PageIndex    int     `json:"pageIndex"`
	AppType      *string `json:"appType"`
	ParseStatus  string  `json:"parseStatus"`
	ParseError   *string `json:"parseError,omitempty"`
	RetryCount   int     `json:"retryCount"`
	ReviewStatus string  `json:"reviewStatus"`
	ImageURL     string  `json:"imageURL,omitempty"`
}

// PageReviewResponse is the cursor page with its enriched candidates.
type PageReviewResponse struct {
	PageIndex   int                      `json:"pageIndex"`
	AppType     *string                  `json:"appType"`
	ParseStatus string                   `json:"parseStatus"`
	ImageURL    string                   `json:"imageURL,omitempty"`
	Candidates  []domain.ReviewCandidate `json:"candidates"`
}

// ConfirmItemRequest is one reviewed candidate the user accepted.
type ConfirmItemRequest struct {
	Date             string          `json:"date" binding:"required"`
	Category         string          `json:"category" binding:"required"`
	Description      string          `json:"description"`
	Merchant         string          `json:"merchant"`
	Price            decimal.Decimal `json:"price"`
	Quantity         int             `json:"quantity"`
	Total            decimal.Decimal `json:"total" binding:"required"`
	Payment          string          `json:"payment" binding:"required"`
	Remarks          string          `json:"remarks"`
	TransactionType  string          `json:"transactionType" binding:"required,oneof=expense income transfer_in transfer_out"`
	ForwardedFromApp *string         `json:"forwardedFromApp"`
	TransferMatchID  *int64          `json:"transferMatchID"`  // Pair with this existing transfer row
	ForwardedMatchID *int64          `json:"forwardedMatchID"` // This card row duplicates that app row
	ReverseMatchID   *int64          `json:"reverseMatchID"`   // That card row duplicates this app row
}

// ConfirmPageRequest carries the accepted items for the cursor page.
type ConfirmPageRequest struct {
	Items []ConfirmItemRequest `json:"items" binding:"required,dive"`
}

// ConfirmPageResponse reports the confirmation outcome.
type ConfirmPageResponse struct {
	CreatedTransactionIDs []int64 `json:"createdTransactionIDs"`
	NextPageIndex         int     `json:"nextPageIndex"`
	SessionCompleted      bool    `json:"sessionCompleted"`
}

// RetryParseResponse reports how many pages a manual retry requeued.
type RetryParseResponse struct {
	RequeuedPages int `json:"requeuedPages"`
}

// QueueStatusResponse is a snapshot of the background parse queue.
type QueueStatusResponse struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
}

// ToScanPageResponse converts a domain page, attaching a signed image URL
// when one could be produced.
func ToScanPageResponse(page domain.ScanSessionPage, imageURL string) ScanPageResponse {
	var appType *string
	if page.AppType != nil {
		s := string(*page.AppType)
		appType = &s
	}
	return ScanPageResponse{
		PageIndex:    page.PageIndex,
		AppType:      appType,
		ParseStatus:  string(page.ParseStatus),
		ParseError:   page.ParseError,
		RetryCount:   page.RetryCount,
		ReviewStatus: string(page.ReviewStatus),
		ImageURL:     imageURL,
	}
}

// ToScanSessionResponse converts a session state to its response DTO.
func ToScanSessionResponse(state *portssvc.SessionState, imageURLs map[string]string) ScanSessionResponse {
	pages := make([]ScanPageResponse, len(state.Pages))
	for i, page := range state.Pages {
		pages[i] = ToScanPageResponse(page, imageURLs[page.ImageKey])
	}
	return ScanSessionResponse{
		SessionID:        state.Session.SessionID,
		Status:           string(state.Session.Status),
		CurrentPageIndex: state.Session.CurrentPageIndex,
		CreatedAt:        state.Session.CreatedAt,
		ExpiresAt:        state.Session.ExpiresAt,
		Pages:            pages,
	}
}
