package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm/clause"
)

// GenerateResult reports how many invoices a generation run created
type GenerateResult struct {
	Month        int `json:"month"`
	Year         int `json:"year"`
	CreatedCount int `json:"created_count"`
	SkippedCount int `json:"skipped_count"`
}

// GenerateMonthlyInvoices creates one invoice per active student for the
// period. Students that already have one are skipped, so re-running only
// fills gaps and never overwrites.
func (s *Service) GenerateMonthlyInvoices(ctx context.Context, month, year int, amountDue decimal.Decimal, dueDate *time.Time) (*GenerateResult, error) {
	if err := validatePeriod(month, year); err != nil {
		return nil, err
	}
	if amountDue.IsNegative() {
		return nil, fmt.Errorf("%w: amount_due must not be negative", ErrInvalidAmount)
	}
	amountDue = amountDue.Round(2)

	due := dueDateFor(month, year, s.opts.DueDay)
	if dueDate != nil && !dueDate.IsZero() {
		due = truncateDay(*dueDate)
	}

	db := s.db.WithContext(ctx)
	var students []models.Student
	if err := db.Where("active = ?", true).Order("id").Find(&students).Error; err != nil {
		return nil, fmt.Errorf("failed to load active students: %w", classifyDBError(err))
	}

	result := &GenerateResult{Month: month, Year: year}
	for i := range students {
		inv := newInvoice(&students[i], month, year, amountDue, due, s.opts.Currency)
		// the (student, month, year) unique index makes the gap check and the insert one atomic step
		res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(inv)
		if res.Error != nil {
			return result, fmt.Errorf("failed to create invoice for %s: %w", students[i].StudentNumber, classifyDBError(res.Error))
		}
		if res.RowsAffected == 0 {
			result.SkippedCount++
			continue
		}
		result.CreatedCount++
	}

	logrus.WithFields(logrus.Fields{
		"month":   month,
		"year":    year,
		"created": result.CreatedCount,
		"skipped": result.SkippedCount,
	}).Info("Monthly invoices generated")

	s.publish(EventInvoicesGenerated, result)
	return result, nil
}

func newInvoice(st *models.Student, month, year int, amountDue decimal.Decimal, due time.Time, currency string) *models.Invoice {
	number := strings.ToUpper(strings.TrimSpace(st.StudentNumber))
	inv := &models.Invoice{
		StudentID:       st.ID,
		Month:           month,
		Year:            year,
		ReferenceNumber: number,
		StudentNumber:   number,
		StudentName:     st.FullName(),
		AmountDue:       amountDue,
		AmountPaid:      decimal.Zero,
		Currency:        currency,
		DueDate:         due,
	}
	inv.Recompute()
	return inv
}

func validatePeriod(month, year int) error {
	if month < 1 || month > 12 {
		return fmt.Errorf("%w: month %d", ErrInvalidPeriod, month)
	}
	if year < 2000 || year > 2100 {
		return fmt.Errorf("%w: year %d", ErrInvalidPeriod, year)
	}
	return nil
}

// dueDateFor clamps day to the length of the month
func dueDateFor(month, year, day int) time.Time {
	last := time.Date(year, time.Month(month)+1, 0, 0, 0, 0, 0, time.UTC).Day()
	if day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
