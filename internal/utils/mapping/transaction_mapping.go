package mapping

import (
	"github.com/duitscan/scan_ledger_app/internal/core/domain"
	"github.com/duitscan/scan_ledger_app/internal/models"
)

// ToDomainTransaction converts a models.Transaction to domain.Transaction
func ToDomainTransaction(m models.Transaction) domain.Transaction {
	var forwardedFrom *domain.PaymentApp
	if m.ForwardedFromApp != nil {
		app := domain.PaymentApp(*m.ForwardedFromApp)
		forwardedFrom = &app
	}
	return domain.Transaction{
		TransactionID:          m.TransactionID,
		Date:                   m.Date,
		Category:               domain.Category(m.Category),
		Description:            m.Description,
		Merchant:               m.Merchant,
		Price:                  m.Price,
		Quantity:               m.Quantity,
		Total:                  m.Total,
		Payment:                domain.PaymentApp(m.Payment),
		Owner:                  m.Owner,
		Remarks:                m.Remarks,
		TransactionType:        domain.TransactionType(m.TransactionType),
		ForwardedFromApp:       forwardedFrom,
		LinkedTransferID:       m.LinkedTransferID,
		ForwardedTransactionID: m.ForwardedTransactionID,
		ImageURL:               m.ImageURL,
		CreatedAt:              m.CreatedAt,
		UpdatedAt:              m.UpdatedAt,
	}
}

// ToDomainTransactionSlice converts a slice of transaction models.
func ToDomainTransactionSlice(ms []models.Transaction) []domain.Transaction {
	txns := make([]domain.Transaction, len(ms))
	for i, m := range ms {
		txns[i] = ToDomainTransaction(m)
	}
	return txns
}

// ToModelTransaction converts a domain.Transaction to models.Transaction
func ToModelTransaction(t domain.Transaction) models.Transaction {
	var forwardedFrom *string
	if t.ForwardedFromApp != nil {
		s := string(*t.ForwardedFromApp)
		forwardedFrom = &s
	}
	return models.Transaction{
		TransactionID:          t.TransactionID,
		Date:                   t.Date,
		Category:               string(t.Category),
		Description:            t.Description,
		Merchant:               t.Merchant,
		Price:                  t.Price,
		Quantity:               t.Quantity,
		Total:                  t.Total,
		Payment:                string(t.Payment),
		Owner:                  t.Owner,
		Remarks:                t.Remarks,
		TransactionType:        string(t.TransactionType),
		ForwardedFromApp:       forwardedFrom,
		LinkedTransferID:       t.LinkedTransferID,
		ForwardedTransactionID: t.ForwardedTransactionID,
		ImageURL:               t.ImageURL,
		CreatedAt:              t.CreatedAt,
		UpdatedAt:              t.UpdatedAt,
	}
}
