package utils

import (
	"time"

	"tuitionledger/models"
)

// Compact representations used across APIs. Money is rendered with exactly
// two decimals so the UI never has to reformat it.

type UserShort struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role"`
}

type StudentShort struct {
	ID            uint   `json:"id"`
	StudentNumber string `json:"student_number"`
	Name          string `json:"name"`
	Active        bool   `json:"active"`
}

type TransactionDTO struct {
	ID             uint       `json:"id"`
	InvoiceID      *uint      `json:"invoice_id"`
	BatchID        *uint      `json:"batch_id,omitempty"`
	Amount         string     `json:"amount"`
	Date           string     `json:"date"`
	RawReference   string     `json:"raw_reference"`
	Method         string     `json:"method"`
	Classification string     `json:"classification"`
	Reversed       bool       `json:"reversed"`
	ReversedAt     *time.Time `json:"reversed_at,omitempty"`
	Notes          string     `json:"notes,omitempty"`
	CreatedBy      uint       `json:"created_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

type InvoiceDTO struct {
	ID                 uint             `json:"id"`
	StudentID          uint             `json:"student_id"`
	StudentNumber      string           `json:"student_number"`
	StudentName        string           `json:"student_name"`
	Month              int              `json:"month"`
	Year               int              `json:"year"`
	ReferenceNumber    string           `json:"reference_number"`
	AmountDue          string           `json:"amount_due"`
	AmountPaid         string           `json:"amount_paid"`
	OutstandingBalance string           `json:"outstanding_balance"`
	OverpaidAmount     string           `json:"overpaid_amount"`
	Status             string           `json:"status"`
	Currency           string           `json:"currency"`
	DueDate            string           `json:"due_date"`
	LastPaymentAt      *time.Time       `json:"last_payment_at"`
	Notes              string           `json:"notes,omitempty"`
	Student            *StudentShort    `json:"student,omitempty"`
	Transactions       []TransactionDTO `json:"transactions,omitempty"`
}

func ToUserShort(u models.User) UserShort {
	return UserShort{ID: u.ID, Username: u.Username, FullName: u.FullName, Role: u.Role}
}

func ToStudentShort(s models.Student) StudentShort {
	return StudentShort{ID: s.ID, StudentNumber: s.StudentNumber, Name: s.FullName(), Active: s.Active}
}

func ToTransactionDTO(t models.PaymentTransaction) TransactionDTO {
	return TransactionDTO{
		ID:             t.ID,
		InvoiceID:      t.InvoiceID,
		BatchID:        t.BatchID,
		Amount:         t.Amount.StringFixed(2),
		Date:           t.Date.Format("2006-01-02"),
		RawReference:   t.RawReference,
		Method:         string(t.Method),
		Classification: string(t.Classification),
		Reversed:       t.Reversed,
		ReversedAt:     t.ReversedAt,
		Notes:          t.Notes,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
	}
}

func ToTransactionDTOs(items []models.PaymentTransaction) []TransactionDTO {
	out := make([]TransactionDTO, 0, len(items))
	for _, t := range items {
		out = append(out, ToTransactionDTO(t))
	}
	return out
}

// ToInvoiceDTO maps an invoice; Student and Transactions are included only
// when the caller preloaded them
func ToInvoiceDTO(inv models.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:                 inv.ID,
		StudentID:          inv.StudentID,
		StudentNumber:      inv.StudentNumber,
		StudentName:        inv.StudentName,
		Month:              inv.Month,
		Year:               inv.Year,
		ReferenceNumber:    inv.ReferenceNumber,
		AmountDue:          inv.AmountDue.StringFixed(2),
		AmountPaid:         inv.AmountPaid.StringFixed(2),
		OutstandingBalance: inv.OutstandingBalance.StringFixed(2),
		OverpaidAmount:     inv.OverpaidAmount.StringFixed(2),
		Status:             string(inv.Status),
		Currency:           inv.Currency,
		DueDate:            inv.DueDate.Format("2006-01-02"),
		LastPaymentAt:      inv.LastPaymentAt,
		Notes:              inv.Notes,
	}
	if inv.Student != nil {
		st := ToStudentShort(*inv.Student)
		dto.Student = &st
	}
	if len(inv.Transactions) > 0 {
		dto.Transactions = ToTransactionDTOs(inv.Transactions)
	}
	return dto
}

func ToInvoiceDTOs(items []models.Invoice) []InvoiceDTO {
	out := make([]InvoiceDTO, 0, len(items))
	for _, inv := range items {
		out = append(out, ToInvoiceDTO(inv))
	}
	return out
}
