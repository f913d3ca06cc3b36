package reconciliation

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Matcher resolves a statement entry to at most one invoice
type Matcher struct {
	opts *Options
	now  func() time.Time
}

// Classify decides how applying amount to inv will be reported. A nil
// invoice is unmatched. Landing exactly on amount_due is matched, not partial.
func Classify(inv *models.Invoice, amount decimal.Decimal) models.Classification {
	if inv == nil {
		return models.ClassUnmatched
	}
	after := inv.AmountPaid.Add(amount)
	switch after.Cmp(inv.AmountDue) {
	case 1:
		return models.ClassOverpaid
	case 0:
		return models.ClassMatched
	default:
		return models.ClassPartial
	}
}

// referenceCandidates returns the whole normalized reference followed by each
// alphanumeric token in order of appearance, without repeats
func referenceCandidates(ref string) []string {
	norm := NormalizeReference(ref)
	if norm == "" {
		return nil
	}
	out := []string{norm}
	seen := map[string]bool{norm: true}
	tokens := strings.FieldsFunc(norm, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if !seen[tok] {
			seen[tok] = true
			out = append(out, tok)
		}
	}
	return out
}

// Resolve finds the invoice a payment should settle and returns it locked.
// The student's invoices are locked oldest period first; the oldest one still
// owing wins, otherwise the newest absorbs the overpayment.
func (m *Matcher) Resolve(tx *gorm.DB, e Entry) (*models.Invoice, error) {
	candidates := referenceCandidates(e.Reference)
	if len(candidates) == 0 {
		return nil, nil
	}

	ref, err := m.firstKnownReference(tx, candidates)
	if err != nil {
		return nil, err
	}
	if ref == "" {
		ref, err = m.createLazyInvoice(tx, candidates, e.Date)
		if err != nil || ref == "" {
			return nil, err
		}
	}

	var invoices []models.Invoice
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("reference_number = ?", ref).
		Order("billing_year ASC, billing_month ASC, id ASC").
		Find(&invoices).Error
	if err != nil {
		return nil, classifyDBError(err)
	}
	if len(invoices) == 0 {
		return nil, nil
	}

	for i := range invoices {
		if invoices[i].AmountPaid.LessThan(invoices[i].AmountDue) {
			return &invoices[i], nil
		}
	}
	return &invoices[len(invoices)-1], nil
}

func (m *Matcher) firstKnownReference(tx *gorm.DB, candidates []string) (string, error) {
	var found []string
	err := tx.Model(&models.Invoice{}).
		Distinct("reference_number").
		Where("reference_number IN ?", candidates).
		Pluck("reference_number", &found).Error
	if err != nil {
		return "", classifyDBError(err)
	}
	known := make(map[string]bool, len(found))
	for _, f := range found {
		known[strings.ToUpper(f)] = true
	}
	for _, c := range candidates {
		if known[c] {
			return c, nil
		}
	}
	return "", nil
}

// createLazyInvoice bills an active student who has no invoice yet for the
// payment's month, using the configured default fee
func (m *Matcher) createLazyInvoice(tx *gorm.DB, candidates []string, paidOn time.Time) (string, error) {
	if m.opts == nil || !m.opts.DefaultMonthlyFee.IsPositive() {
		return "", nil
	}

	var students []models.Student
	err := tx.Where("student_number IN ? AND active = ?", candidates, true).Find(&students).Error
	if err != nil {
		return "", classifyDBError(err)
	}
	byNumber := make(map[string]*models.Student, len(students))
	for i := range students {
		byNumber[strings.ToUpper(students[i].StudentNumber)] = &students[i]
	}

	for _, c := range candidates {
		st, ok := byNumber[c]
		if !ok {
			continue
		}
		inv := newInvoice(st, int(paidOn.Month()), paidOn.Year(), m.opts.DefaultMonthlyFee, dueDateFor(int(paidOn.Month()), paidOn.Year(), m.opts.DueDay), m.opts.Currency)
		inv.Notes = "created from bank statement payment"
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(inv).Error; err != nil {
			return "", fmt.Errorf("failed to create invoice for %s: %w", st.StudentNumber, classifyDBError(err))
		}
		logrus.WithFields(logrus.Fields{
			"student_number": st.StudentNumber,
			"month":          inv.Month,
			"year":           inv.Year,
		}).Info("Invoice created lazily by matcher")
		return inv.ReferenceNumber, nil
	}
	return "", nil
}

// findStudentInvoice locks the invoice for (student, month, year)
func findStudentInvoice(tx *gorm.DB, studentID uint, month, year int) (*models.Invoice, error) {
	var inv models.Invoice
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("student_id = ? AND billing_month = ? AND billing_year = ?", studentID, month, year).
		First(&inv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: student %d period %02d/%d", ErrInvoiceNotFound, studentID, month, year)
		}
		return nil, classifyDBError(err)
	}
	return &inv, nil
}
