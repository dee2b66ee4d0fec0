package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentApp identifies the payment app or bank an amount moved through.
type PaymentApp string

const (
	AppGojek     PaymentApp = "gojek"
	AppGrab      PaymentApp = "grab"
	AppDana      PaymentApp = "dana"
	AppOVO       PaymentApp = "ovo"
	AppBCA       PaymentApp = "bca"
	AppJago      PaymentApp = "jago"
	AppJenius    PaymentApp = "jenius"
	AppDanamon   PaymentApp = "danamon"
	AppMandiriCC PaymentApp = "mandiri_cc"
)

// ForwardedSourceApps are the apps whose purchases can show up a second time
// as a credit-card line ("forwarded" transactions).
var ForwardedSourceApps = []PaymentApp{AppGrab, AppGojek}

// IsForwardedSource reports whether app purchases may be covered by a later
// credit-card row.
func IsForwardedSource(app PaymentApp) bool {
	return app == AppGrab || app == AppGojek
}

// ParsePaymentApp validates a raw payment app string.
func ParsePaymentApp(s string) (PaymentApp, bool) {
	switch app := PaymentApp(s); app {
	case AppGojek, AppGrab, AppDana, AppOVO, AppBCA, AppJago, AppJenius, AppDanamon, AppMandiriCC:
		return app, true
	}
	return "", false
}

// TransactionType classifies the direction of a ledger row.
type TransactionType string

const (
	TypeExpense     TransactionType = "expense"
	TypeIncome      TransactionType = "income"
	TypeTransferIn  TransactionType = "transfer_in"
	TypeTransferOut TransactionType = "transfer_out"
)

// IsTransfer reports whether t is either transfer direction.
func (t TransactionType) IsTransfer() bool {
	return t == TypeTransferIn || t == TypeTransferOut
}

// Opposite returns the opposite transfer direction, or empty for non-transfers.
func (t TransactionType) Opposite() TransactionType {
	switch t {
	case TypeTransferIn:
		return TypeTransferOut
	case TypeTransferOut:
		return TypeTransferIn
	}
	return ""
}

// Category is a coarse spending category.
type Category string

const (
	CategoryFood      Category = "food"
	CategoryTransport Category = "transport"
	CategoryShopping  Category = "shopping"
	CategoryBills     Category = "bills"
	CategoryTopup     Category = "topup"
	CategoryTransfer  Category = "transfer"
	CategoryOther     Category = "other"
)

// Transaction is a confirmed ledger row.
//
// LinkedTransferID pairs the two sides of an inter-account transfer and is
// always symmetric: if A points at B then B points at A. ForwardedTransactionID
// is one-directional: a card row points at the app-side row it duplicates
// economically, and each app-side row may be the target of at most one card row.
type Transaction struct {
	TransactionID          int64           `json:"transactionID"` // Primary Key (serial)
	Date                   time.Time       `json:"date"`          // Calendar date of the transaction
	Category               Category        `json:"category"`
	Description            string          `json:"description"` // Free text, e.g. "GRAB* RIDE 4512"
	Merchant               string          `json:"merchant"`    // Counterparty / destination
	Price                  decimal.Decimal `json:"price"`
	Quantity               int             `json:"quantity"`
	Total                  decimal.Decimal `json:"total"`
	Payment                PaymentApp      `json:"payment"`
	Owner                  string          `json:"owner"` // Who the row belongs to
	Remarks                string          `json:"remarks"`
	TransactionType        TransactionType `json:"transactionType"`
	ForwardedFromApp       *PaymentApp     `json:"forwardedFromApp"` // Set on card rows recognized as app purchases
	LinkedTransferID       *int64          `json:"linkedTransferID"`
	ForwardedTransactionID *int64          `json:"forwardedTransactionID"`
	ImageURL               string          `json:"imageURL"` // Source screenshot, if any
	CreatedAt              time.Time       `json:"createdAt"`
	UpdatedAt              time.Time       `json:"updatedAt"`
}

// Candidate is a machine-extracted transaction awaiting human confirmation.
// Dates stay as YYYY-MM-DD strings until confirmation since the recognizer
// may emit values that fail to parse; IsValid flags rows worth keeping.
type Candidate struct {
	Date             string          `json:"date"`
	Category         Category        `json:"category"`
	Description      string          `json:"description"`
	Merchant         string          `json:"merchant"`
	Price            decimal.Decimal `json:"price"`
	Quantity         int             `json:"quantity"`
	Total            decimal.Decimal `json:"total"`
	Payment          PaymentApp      `json:"payment"`
	Remarks          string          `json:"remarks,omitempty"`
	Status           string          `json:"status"`
	IsValid          bool            `json:"isValid"`
	TransactionType  TransactionType `json:"transactionType"`
	ForwardedFromApp *PaymentApp     `json:"forwardedFromApp,omitempty"`
}

// ReviewCandidate is a Candidate enriched with reconciliation annotations for
// the review screen.
type ReviewCandidate struct {
	Candidate
	IsDuplicate              bool          `json:"isDuplicate"`
	DuplicateMatchedID       *int64        `json:"duplicateMatchedID,omitempty"`
	TransferMatch            *Transaction  `json:"transferMatch"`
	ForwardedMatchCandidates []Transaction `json:"forwardedMatchCandidates"`
	ReverseMatchCandidates   []Transaction `json:"reverseMatchCandidates"`
}
