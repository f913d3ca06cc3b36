package reconciliation

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ledger applies signed amount deltas to invoice balances. It never opens its
// own transaction: callers pass the transaction that also records the payment
// row, so both land or neither does.
type Ledger struct {
	now func() time.Time
}

// Apply adds delta to the invoice's amount paid under a row lock and
// recomputes the derived columns. A nil invoiceID is a no-op (unmatched payment).
func (l *Ledger) Apply(tx *gorm.DB, invoiceID *uint, delta decimal.Decimal) (*models.Invoice, error) {
	if invoiceID == nil {
		return nil, nil
	}

	inv, err := lockInvoice(tx, *invoiceID)
	if err != nil {
		return nil, err
	}

	paid := inv.AmountPaid.Add(delta)
	if paid.IsNegative() {
		return nil, fmt.Errorf("%w: invoice %d paid %s delta %s", ErrNegativeBalance, inv.ID, inv.AmountPaid.StringFixed(2), delta.StringFixed(2))
	}
	inv.AmountPaid = paid.Round(2)
	inv.Recompute()
	if delta.IsPositive() {
		ts := l.now()
		inv.LastPaymentAt = &ts
	}

	if err := tx.Omit(clause.Associations).Save(inv).Error; err != nil {
		return nil, fmt.Errorf("failed to persist invoice %d: %w", inv.ID, classifyDBError(err))
	}

	logrus.WithFields(logrus.Fields{
		"invoice_id":  inv.ID,
		"delta":       delta.StringFixed(2),
		"amount_paid": inv.AmountPaid.StringFixed(2),
		"status":      inv.Status,
	}).Info("Ledger updated")

	return inv, nil
}

// lockInvoice loads an invoice with an exclusive row lock held until tx ends
func lockInvoice(tx *gorm.DB, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&inv, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, id)
		}
		return nil, classifyDBError(err)
	}
	return &inv, nil
}

// findInvoice reads an invoice without locking it
func findInvoice(tx *gorm.DB, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	if err := tx.First(&inv, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, id)
		}
		return nil, classifyDBError(err)
	}
	return &inv, nil
}

// lockInvoices locks several invoices in ascending id order so two writers
// touching the same pair cannot deadlock on each other
func lockInvoices(tx *gorm.DB, ids ...uint) error {
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var last uint
	for i, id := range sorted {
		if i > 0 && id == last {
			continue
		}
		if _, err := lockInvoice(tx, id); err != nil {
			return err
		}
		last = id
	}
	return nil
}
