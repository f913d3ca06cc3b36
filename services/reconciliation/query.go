package reconciliation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// Pagination describes one page of a listing
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

func newPagination(page, limit int, total int64) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.TotalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return p
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return page, limit
}

// InvoiceFilter narrows invoice listings and exports. Zero values mean "any".
type InvoiceFilter struct {
	Status        models.InvoiceStatus
	Month         int
	Year          int
	StudentNumber string
	Page          int
	Limit         int
}

func (f InvoiceFilter) apply(q *gorm.DB) (*gorm.DB, error) {
	if f.Status != "" {
		if !f.Status.IsValid() {
			return nil, fmt.Errorf("%w: status %q", ErrInvalidFilter, f.Status)
		}
		q = q.Where("status = ?", f.Status)
	}
	if f.Month != 0 {
		q = q.Where("billing_month = ?", f.Month)
	}
	if f.Year != 0 {
		q = q.Where("billing_year = ?", f.Year)
	}
	if v := strings.TrimSpace(f.StudentNumber); v != "" {
		q = q.Where("student_number LIKE ?", "%"+strings.ToUpper(v)+"%")
	}
	return q, nil
}

// InvoiceSummary totals every invoice matching the filter, not only the page
type InvoiceSummary struct {
	TotalInvoices    int64                          `json:"total_invoices"`
	TotalDue         decimal.Decimal                `json:"total_due"`
	TotalPaid        decimal.Decimal                `json:"total_paid"`
	TotalOutstanding decimal.Decimal                `json:"total_outstanding"`
	TotalOverpaid    decimal.Decimal                `json:"total_overpaid"`
	ByStatus         map[models.InvoiceStatus]int64 `json:"by_status"`
}

// InvoiceList is one page of invoices plus totals
type InvoiceList struct {
	Invoices   []models.Invoice `json:"invoices"`
	Summary    InvoiceSummary   `json:"summary"`
	Pagination Pagination       `json:"pagination"`
}

// ListInvoices returns one page of invoices, newest period first
func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter) (*InvoiceList, error) {
	q, err := f.apply(s.db.WithContext(ctx).Model(&models.Invoice{}))
	if err != nil {
		return nil, err
	}
	page, limit := normalizePage(f.Page, f.Limit)

	var totals []models.Invoice
	if err := q.Session(&gorm.Session{}).
		Select("amount_due", "amount_paid", "outstanding_balance", "overpaid_amount", "status").
		Find(&totals).Error; err != nil {
		return nil, classifyDBError(err)
	}
	summary := summarize(totals)

	var invoices []models.Invoice
	if err := q.Session(&gorm.Session{}).
		Order("billing_year DESC, billing_month DESC, student_number ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&invoices).Error; err != nil {
		return nil, classifyDBError(err)
	}

	return &InvoiceList{
		Invoices:   invoices,
		Summary:    summary,
		Pagination: newPagination(page, limit, summary.TotalInvoices),
	}, nil
}

func summarize(invoices []models.Invoice) InvoiceSummary {
	sum := InvoiceSummary{
		TotalDue:         decimal.Zero,
		TotalPaid:        decimal.Zero,
		TotalOutstanding: decimal.Zero,
		TotalOverpaid:    decimal.Zero,
		ByStatus: map[models.InvoiceStatus]int64{
			models.InvoiceUnpaid:   0,
			models.InvoicePartial:  0,
			models.InvoicePaid:     0,
			models.InvoiceOverpaid: 0,
		},
	}
	for _, inv := range invoices {
		sum.TotalInvoices++
		sum.TotalDue = sum.TotalDue.Add(inv.AmountDue)
		sum.TotalPaid = sum.TotalPaid.Add(inv.AmountPaid)
		sum.TotalOutstanding = sum.TotalOutstanding.Add(inv.OutstandingBalance)
		sum.TotalOverpaid = sum.TotalOverpaid.Add(inv.OverpaidAmount)
		sum.ByStatus[inv.Status]++
	}
	return sum
}

// GetInvoice loads an invoice with its student and full payment history
func (s *Service) GetInvoice(ctx context.Context, id uint) (*models.Invoice, error) {
	var inv models.Invoice
	err := s.db.WithContext(ctx).
		Preload("Student").
		Preload("Transactions", func(db *gorm.DB) *gorm.DB {
			return db.Order("date ASC, id ASC")
		}).
		First(&inv, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrInvoiceNotFound, id)
		}
		return nil, classifyDBError(err)
	}
	return &inv, nil
}

// TransactionFilter narrows the payment transaction listing
type TransactionFilter struct {
	Method          models.PaymentMethod
	Classification  models.Classification
	Unmatched       bool
	BatchID         uint
	InvoiceID       uint
	IncludeReversed bool
	Page            int
	Limit           int
}

// TransactionList is one page of payment transactions
type TransactionList struct {
	Transactions []models.PaymentTransaction `json:"transactions"`
	Pagination   Pagination                  `json:"pagination"`
}

// ListTransactions returns payment transactions, most recent first
func (s *Service) ListTransactions(ctx context.Context, f TransactionFilter) (*TransactionList, error) {
	q := s.db.WithContext(ctx).Model(&models.PaymentTransaction{})
	switch f.Method {
	case "":
	case models.MethodBankImport, models.MethodManualEntry:
		q = q.Where("method = ?", f.Method)
	default:
		return nil, fmt.Errorf("%w: method %q", ErrInvalidFilter, f.Method)
	}
	if f.Classification != "" {
		q = q.Where("classification = ?", f.Classification)
	}
	if f.Unmatched {
		q = q.Where("invoice_id IS NULL")
	}
	if f.BatchID != 0 {
		q = q.Where("batch_id = ?", f.BatchID)
	}
	if f.InvoiceID != 0 {
		q = q.Where("invoice_id = ?", f.InvoiceID)
	}
	if !f.IncludeReversed {
		q = q.Where("reversed = ?", false)
	}
	page, limit := normalizePage(f.Page, f.Limit)

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, classifyDBError(err)
	}
	var items []models.PaymentTransaction
	if err := q.Session(&gorm.Session{}).
		Order("date DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, classifyDBError(err)
	}
	return &TransactionList{Transactions: items, Pagination: newPagination(page, limit, total)}, nil
}

// BatchList is one page of statement uploads
type BatchList struct {
	Batches    []models.UploadBatch `json:"batches"`
	Pagination Pagination           `json:"pagination"`
}

// ListBatches returns statement uploads, newest first
func (s *Service) ListBatches(ctx context.Context, page, limit int) (*BatchList, error) {
	page, limit = normalizePage(page, limit)
	q := s.db.WithContext(ctx).Model(&models.UploadBatch{})

	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, classifyDBError(err)
	}
	var batches []models.UploadBatch
	if err := q.Session(&gorm.Session{}).
		Order("uploaded_at DESC, id DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&batches).Error; err != nil {
		return nil, classifyDBError(err)
	}
	return &BatchList{Batches: batches, Pagination: newPagination(page, limit, total)}, nil
}

// GetBatch loads one statement upload
func (s *Service) GetBatch(ctx context.Context, id uint) (*models.UploadBatch, error) {
	var batch models.UploadBatch
	if err := s.db.WithContext(ctx).First(&batch, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrBatchNotFound, id)
		}
		return nil, classifyDBError(err)
	}
	return &batch, nil
}

// ClearResult reports what a bulk clear removed
type ClearResult struct {
	DeletedInvoices     int64 `json:"deleted_invoices"`
	DeletedTransactions int64 `json:"deleted_transactions"`
	DeletedBatches      int64 `json:"deleted_batches"`
}

// ClearAllInvoices removes every invoice, payment transaction and upload
// batch in one transaction. Confirmation is the caller's job.
func (s *Service) ClearAllInvoices(ctx context.Context) (*ClearResult, error) {
	result := &ClearResult{}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		all := tx.Session(&gorm.Session{AllowGlobalUpdate: true})

		res := all.Delete(&models.PaymentTransaction{})
		if res.Error != nil {
			return classifyDBError(res.Error)
		}
		result.DeletedTransactions = res.RowsAffected

		if res = all.Delete(&models.Invoice{}); res.Error != nil {
			return classifyDBError(res.Error)
		}
		result.DeletedInvoices = res.RowsAffected

		if res = all.Delete(&models.UploadBatch{}); res.Error != nil {
			return classifyDBError(res.Error)
		}
		result.DeletedBatches = res.RowsAffected
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to clear invoices: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_invoices":     result.DeletedInvoices,
		"deleted_transactions": result.DeletedTransactions,
		"deleted_batches":      result.DeletedBatches,
	}).Warn("All invoices cleared")

	s.publish(EventInvoicesCleared, result)
	return result, nil
}

// IntegrityIssue is an invoice whose stored balance disagrees with its history
type IntegrityIssue struct {
	InvoiceID       uint                 `json:"invoice_id"`
	ReferenceNumber string               `json:"reference_number"`
	Month           int                  `json:"month"`
	Year            int                  `json:"year"`
	AmountPaid      decimal.Decimal      `json:"amount_paid"`
	Expected        decimal.Decimal      `json:"expected_amount_paid"`
	Status          models.InvoiceStatus `json:"status"`
	ExpectedStatus  models.InvoiceStatus `json:"expected_status"`
	Problem         string               `json:"problem"`
}

// VerifyLedger recomputes amount_paid for every invoice from its non-reversed
// transactions and reports each invoice that drifted
func (s *Service) VerifyLedger(ctx context.Context) ([]IntegrityIssue, error) {
	db := s.db.WithContext(ctx)

	var payments []models.PaymentTransaction
	if err := db.Select("invoice_id", "amount").
		Where("invoice_id IS NOT NULL AND reversed = ?", false).
		Find(&payments).Error; err != nil {
		return nil, classifyDBError(err)
	}
	expected := make(map[uint]decimal.Decimal)
	for _, p := range payments {
		expected[*p.InvoiceID] = expected[*p.InvoiceID].Add(p.Amount)
	}

	var invoices []models.Invoice
	if err := db.Order("id").Find(&invoices).Error; err != nil {
		return nil, classifyDBError(err)
	}

	issues := []IntegrityIssue{}
	for _, inv := range invoices {
		want := expected[inv.ID]
		wantStatus := models.DeriveStatus(inv.AmountDue, want)
		var problems []string
		if !inv.AmountPaid.Equal(want) {
			problems = append(problems, fmt.Sprintf("amount_paid %s, transactions sum to %s", inv.AmountPaid.StringFixed(2), want.StringFixed(2)))
		}
		if inv.Status != wantStatus {
			problems = append(problems, fmt.Sprintf("status %s, expected %s", inv.Status, wantStatus))
		}
		if len(problems) == 0 {
			continue
		}
		issues = append(issues, IntegrityIssue{
			InvoiceID:       inv.ID,
			ReferenceNumber: inv.ReferenceNumber,
			Month:           inv.Month,
			Year:            inv.Year,
			AmountPaid:      inv.AmountPaid,
			Expected:        want,
			Status:          inv.Status,
			ExpectedStatus:  wantStatus,
			Problem:         strings.Join(problems, "; "),
		})
	}

	if len(issues) > 0 {
		logrus.WithField("issues", len(issues)).Warn("Ledger integrity check found drift")
	}
	return issues, nil
}
