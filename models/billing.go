package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InvoiceStatus is derived from (amount_due, amount_paid) and never set directly
type InvoiceStatus string

const (
	InvoiceUnpaid   InvoiceStatus = "Unpaid"
	InvoicePartial  InvoiceStatus = "Partial"
	InvoicePaid     InvoiceStatus = "Paid"
	InvoiceOverpaid InvoiceStatus = "Overpaid"
)

// IsValid reports whether s is one of the known statuses
func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceUnpaid, InvoicePartial, InvoicePaid, InvoiceOverpaid:
		return true
	}
	return false
}

// PaymentMethod tells where a PaymentTransaction came from
type PaymentMethod string

const (
	MethodBankImport  PaymentMethod = "bank_import"
	MethodManualEntry PaymentMethod = "manual_entry"
)

// Classification is the outcome recorded when a payment was applied
type Classification string

const (
	ClassMatched   Classification = "matched"
	ClassPartial   Classification = "partial"
	ClassOverpaid  Classification = "overpaid"
	ClassUnmatched Classification = "unmatched"
	ClassDuplicate Classification = "duplicate"
	ClassManual    Classification = "manual"
)

// DeriveStatus maps an (amount_due, amount_paid) pair to its status
func DeriveStatus(due, paid decimal.Decimal) InvoiceStatus {
	switch {
	case paid.IsZero():
		return InvoiceUnpaid
	case paid.LessThan(due):
		return InvoicePartial
	case paid.Equal(due):
		return InvoicePaid
	default:
		return InvoiceOverpaid
	}
}

// Invoice is one student's bill for one month of one year.
// AmountPaid is only written by the ledger updater.
type Invoice struct {
	ID                 uint            `json:"id" gorm:"primaryKey"`
	StudentID          uint            `json:"student_id" gorm:"not null;uniqueIndex:uniq_invoice_period,priority:1"`
	Month              int             `json:"month" gorm:"column:billing_month;not null;uniqueIndex:uniq_invoice_period,priority:2"`
	Year               int             `json:"year" gorm:"column:billing_year;not null;uniqueIndex:uniq_invoice_period,priority:3"`
	ReferenceNumber    string          `json:"reference_number" gorm:"size:50;not null;index"`
	StudentNumber      string          `json:"student_number" gorm:"size:50;not null"`
	StudentName        string          `json:"student_name" gorm:"size:200"`
	AmountDue          decimal.Decimal `json:"amount_due" gorm:"type:decimal(12,2);not null;default:0"`
	AmountPaid         decimal.Decimal `json:"amount_paid" gorm:"type:decimal(12,2);not null;default:0"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance" gorm:"type:decimal(12,2);not null;default:0"`
	OverpaidAmount     decimal.Decimal `json:"overpaid_amount" gorm:"type:decimal(12,2);not null;default:0"`
	Status             InvoiceStatus   `json:"status" gorm:"size:20;not null;default:'Unpaid';index"`
	Currency           string          `json:"currency" gorm:"size:3"`
	DueDate            time.Time       `json:"due_date" gorm:"type:date"`
	LastPaymentAt      *time.Time      `json:"last_payment_at"`
	Notes              string          `json:"notes" gorm:"type:text"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`

	// Relationships
	Student      *Student             `json:"student,omitempty" gorm:"foreignKey:StudentID"`
	Transactions []PaymentTransaction `json:"transactions,omitempty" gorm:"foreignKey:InvoiceID"`
}

// Recompute refreshes balance, overpayment and status from AmountDue/AmountPaid
func (i *Invoice) Recompute() {
	diff := i.AmountDue.Sub(i.AmountPaid)
	i.OutstandingBalance = decimal.Max(diff, decimal.Zero)
	i.OverpaidAmount = decimal.Max(diff.Neg(), decimal.Zero)
	i.Status = DeriveStatus(i.AmountDue, i.AmountPaid)
}

// BeforeSave keeps the derived columns consistent on every write path
func (i *Invoice) BeforeSave(tx *gorm.DB) error {
	i.Recompute()
	return nil
}

// PaymentTransaction is one payment event. Rows are never removed; a reversed
// row no longer counts toward its invoice's AmountPaid.
type PaymentTransaction struct {
	ID             uint            `json:"id" gorm:"primaryKey"`
	InvoiceID      *uint           `json:"invoice_id" gorm:"index"`
	BatchID        *uint           `json:"batch_id" gorm:"index"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Date           time.Time       `json:"date" gorm:"type:date;not null"`
	RawReference   string          `json:"raw_reference" gorm:"size:255"`
	Method         PaymentMethod   `json:"method" gorm:"size:20;not null;index"`
	Classification Classification  `json:"classification" gorm:"size:20;index"`
	Fingerprint    string          `json:"fingerprint" gorm:"size:80;not null;uniqueIndex"`
	Reversed       bool            `json:"reversed" gorm:"not null;default:false;index"`
	ReversedAt     *time.Time      `json:"reversed_at"`
	Notes          string          `json:"notes" gorm:"type:text"`
	CreatedBy      uint            `json:"created_by"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	// Relationships
	Invoice *Invoice     `json:"invoice,omitempty" gorm:"foreignKey:InvoiceID"`
	Batch   *UploadBatch `json:"-" gorm:"foreignKey:BatchID"`
}

// IsManual reports whether the row was entered by staff
func (p PaymentTransaction) IsManual() bool {
	return p.Method == MethodManualEntry
}

// UploadBatch records one statement import and its per-classification counts
type UploadBatch struct {
	ID         uint      `json:"id" gorm:"primaryKey"`
	FileName   string    `json:"file_name" gorm:"size:255"`
	SourceKey  string    `json:"source_key" gorm:"size:500"`
	UploadedBy uint      `json:"uploaded_by"`
	UploadedAt time.Time `json:"uploaded_at" gorm:"not null"`
	RowCount   int       `json:"row_count"`
	Processed  int       `json:"processed"`
	Matched    int       `json:"matched"`
	Partial    int       `json:"partial"`
	Overpaid   int       `json:"overpaid"`
	Unmatched  int       `json:"unmatched"`
	Duplicates int       `json:"duplicates"`
	ErrorCount int       `json:"error_count"`
	Errors     JSON      `json:"errors" gorm:"type:json"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
