package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ManualPaymentInput is a staff-entered payment for one student's period
type ManualPaymentInput struct {
	StudentID uint
	Amount    decimal.Decimal
	Date      time.Time
	Month     int
	Year      int
	Reference string
	Notes     string
	CreatedBy uint
}

// ManualPaymentUpdate carries only the fields being changed
type ManualPaymentUpdate struct {
	Amount    *decimal.Decimal
	Date      *time.Time
	Month     *int
	Year      *int
	Reference *string
	Notes     *string
}

// validateAmount rejects zero, negative and sub-cent amounts
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, amount.String())
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, amount.String())
	}
	return nil
}

// AddManualPayment records a manual payment and applies it to the student's
// invoice for the period
func (s *Service) AddManualPayment(ctx context.Context, in ManualPaymentInput) (*models.Invoice, *models.PaymentTransaction, error) {
	if err := validateAmount(in.Amount); err != nil {
		return nil, nil, err
	}
	if err := validatePeriod(in.Month, in.Year); err != nil {
		return nil, nil, err
	}
	paidOn := in.Date
	if paidOn.IsZero() {
		paidOn = s.now()
	}

	var updated *models.Invoice
	var pt *models.PaymentTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := studentExists(tx, in.StudentID); err != nil {
			return err
		}
		inv, err := findStudentInvoice(tx, in.StudentID, in.Month, in.Year)
		if err != nil {
			return err
		}

		ref := strings.TrimSpace(in.Reference)
		if ref == "" {
			ref = inv.ReferenceNumber
		}
		invoiceID := inv.ID
		pt = &models.PaymentTransaction{
			InvoiceID:      &invoiceID,
			Amount:         in.Amount,
			Date:           truncateDay(paidOn),
			RawReference:   ref,
			Method:         models.MethodManualEntry,
			Classification: models.ClassManual,
			Fingerprint:    ManualFingerprint(),
			Notes:          in.Notes,
			CreatedBy:      in.CreatedBy,
		}
		if err := tx.Omit(clause.Associations).Create(pt).Error; err != nil {
			return fmt.Errorf("failed to record manual payment: %w", classifyDBError(err))
		}

		updated, err = s.ledger.Apply(tx, pt.InvoiceID, in.Amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": pt.ID,
		"invoice_id":     updated.ID,
		"amount":         in.Amount.StringFixed(2),
		"created_by":     in.CreatedBy,
	}).Info("Manual payment added")

	s.publish(EventInvoiceUpdated, updated)
	return updated, pt, nil
}

// UpdateManualPayment edits a manual payment. Within the same invoice the
// balance moves by exactly new minus old in one ledger call; moving to another
// period reverses on the old invoice and applies on the new one in the same
// transaction.
func (s *Service) UpdateManualPayment(ctx context.Context, id uint, upd ManualPaymentUpdate) (*models.Invoice, *models.PaymentTransaction, error) {
	if upd.Amount != nil {
		if err := validateAmount(*upd.Amount); err != nil {
			return nil, nil, err
		}
	}

	var updated *models.Invoice
	var pt *models.PaymentTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pt, err = lockManualTransaction(tx, id)
		if err != nil {
			return err
		}
		if pt.InvoiceID == nil {
			return fmt.Errorf("%w: manual payment %d has no invoice", ErrInvoiceNotFound, id)
		}

		// Period and student never change on an invoice, so this read takes no
		// lock; Apply and lockInvoices lock in id order below
		current, err := findInvoice(tx, *pt.InvoiceID)
		if err != nil {
			return err
		}

		oldAmount := pt.Amount
		newAmount := oldAmount
		if upd.Amount != nil {
			newAmount = *upd.Amount
		}

		month, year := current.Month, current.Year
		if upd.Month != nil {
			month = *upd.Month
		}
		if upd.Year != nil {
			year = *upd.Year
		}
		if err := validatePeriod(month, year); err != nil {
			return err
		}

		if month == current.Month && year == current.Year {
			updated = current
			if delta := newAmount.Sub(oldAmount); !delta.IsZero() {
				if updated, err = s.ledger.Apply(tx, pt.InvoiceID, delta); err != nil {
					return err
				}
			}
		} else {
			target, err := periodInvoiceID(tx, current.StudentID, month, year)
			if err != nil {
				return err
			}
			if err := lockInvoices(tx, current.ID, target); err != nil {
				return err
			}
			if _, err := s.ledger.Apply(tx, &current.ID, oldAmount.Neg()); err != nil {
				return err
			}
			if updated, err = s.ledger.Apply(tx, &target, newAmount); err != nil {
				return err
			}
			pt.InvoiceID = &target
		}

		pt.Amount = newAmount
		if upd.Date != nil && !upd.Date.IsZero() {
			pt.Date = truncateDay(*upd.Date)
		}
		if upd.Reference != nil && strings.TrimSpace(*upd.Reference) != "" {
			pt.RawReference = strings.TrimSpace(*upd.Reference)
		}
		if upd.Notes != nil {
			pt.Notes = *upd.Notes
		}
		if err := tx.Omit(clause.Associations).Save(pt).Error; err != nil {
			return fmt.Errorf("failed to update manual payment %d: %w", pt.ID, classifyDBError(err))
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": pt.ID,
		"invoice_id":     updated.ID,
		"amount":         pt.Amount.StringFixed(2),
	}).Info("Manual payment updated")

	s.publish(EventInvoiceUpdated, updated)
	return updated, pt, nil
}

// DeleteManualPayment fully reverses a manual payment. The row is kept and
// marked reversed so the audit trail survives.
func (s *Service) DeleteManualPayment(ctx context.Context, id uint) (*models.Invoice, error) {
	var updated *models.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		pt, err := lockManualTransaction(tx, id)
		if err != nil {
			return err
		}

		if updated, err = s.ledger.Apply(tx, pt.InvoiceID, pt.Amount.Neg()); err != nil {
			return err
		}

		now := s.now()
		pt.Reversed = true
		pt.ReversedAt = &now
		if err := tx.Omit(clause.Associations).Save(pt).Error; err != nil {
			return fmt.Errorf("failed to reverse manual payment %d: %w", pt.ID, classifyDBError(err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithField("transaction_id", id).Info("Manual payment reversed")
	if updated != nil {
		s.publish(EventInvoiceUpdated, updated)
	}
	return updated, nil
}

// AssignTransaction links an unmatched bank transaction to an invoice after
// staff review and applies its amount
func (s *Service) AssignTransaction(ctx context.Context, transactionID, invoiceID uint) (*models.Invoice, *models.PaymentTransaction, error) {
	var updated *models.Invoice
	var pt *models.PaymentTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		pt, err = lockTransaction(tx, transactionID)
		if err != nil {
			return err
		}
		if pt.Reversed {
			return fmt.Errorf("%w: id %d", ErrTransactionReversed, pt.ID)
		}
		if pt.InvoiceID != nil {
			return fmt.Errorf("%w: transaction %d invoice %d", ErrAlreadyAssigned, pt.ID, *pt.InvoiceID)
		}

		inv, err := lockInvoice(tx, invoiceID)
		if err != nil {
			return err
		}
		pt.InvoiceID = &inv.ID
		pt.Classification = Classify(inv, pt.Amount)
		if err := tx.Omit(clause.Associations).Save(pt).Error; err != nil {
			return fmt.Errorf("failed to assign transaction %d: %w", pt.ID, classifyDBError(err))
		}

		updated, err = s.ledger.Apply(tx, pt.InvoiceID, pt.Amount)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	logrus.WithFields(logrus.Fields{
		"transaction_id": pt.ID,
		"invoice_id":     updated.ID,
		"classification": pt.Classification,
	}).Info("Transaction assigned to invoice")

	s.publish(EventInvoiceUpdated, updated)
	return updated, pt, nil
}

func lockTransaction(tx *gorm.DB, id uint) (*models.PaymentTransaction, error) {
	var pt models.PaymentTransaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&pt, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrTransactionNotFound, id)
		}
		return nil, classifyDBError(err)
	}
	return &pt, nil
}

// lockManualTransaction refuses bank rows and rows already reversed
func lockManualTransaction(tx *gorm.DB, id uint) (*models.PaymentTransaction, error) {
	pt, err := lockTransaction(tx, id)
	if err != nil {
		return nil, err
	}
	if !pt.IsManual() {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrNotManualEntry, pt.ID, pt.Method)
	}
	if pt.Reversed {
		return nil, fmt.Errorf("%w: id %d", ErrTransactionReversed, pt.ID)
	}
	return pt, nil
}

func studentExists(tx *gorm.DB, id uint) error {
	var count int64
	if err := tx.Model(&models.Student{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return classifyDBError(err)
	}
	if count == 0 {
		return fmt.Errorf("%w: id %d", ErrStudentNotFound, id)
	}
	return nil
}

// periodInvoiceID looks up the invoice id without locking, so the caller can
// lock both invoices in id order
func periodInvoiceID(tx *gorm.DB, studentID uint, month, year int) (uint, error) {
	var ids []uint
	err := tx.Model(&models.Invoice{}).
		Where("student_id = ? AND billing_month = ? AND billing_year = ?", studentID, month, year).
		Limit(1).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, classifyDBError(err)
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: student %d period %02d/%d", ErrInvoiceNotFound, studentID, month, year)
	}
	return ids[0], nil
}
