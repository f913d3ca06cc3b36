package reconciliation

import (
	"strings"
	"testing"
	"time"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyBoundary(t *testing.T) {
	inv := &models.Invoice{AmountDue: dec("500.00"), AmountPaid: dec("200.00")}

	tests := []struct {
		amount string
		want   models.Classification
	}{
		{"300.00", models.ClassMatched},
		{"299.99", models.ClassPartial},
		{"300.01", models.ClassOverpaid},
		{"0.01", models.ClassPartial},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Classify(inv, dec(tc.amount)), tc.amount)
	}
	assert.Equal(t, models.ClassUnmatched, Classify(nil, dec("10")))

	settled := &models.Invoice{AmountDue: dec("500"), AmountPaid: dec("500")}
	assert.Equal(t, models.ClassOverpaid, Classify(settled, dec("0.01")))
}

func TestDeriveStatus(t *testing.T) {
	due := dec("450")
	assert.Equal(t, models.InvoiceUnpaid, models.DeriveStatus(due, decimal.Zero))
	assert.Equal(t, models.InvoicePartial, models.DeriveStatus(due, dec("449.99")))
	assert.Equal(t, models.InvoicePaid, models.DeriveStatus(due, dec("450.00")))
	assert.Equal(t, models.InvoiceOverpaid, models.DeriveStatus(due, dec("450.01")))
	assert.Equal(t, models.InvoiceOverpaid, models.DeriveStatus(decimal.Zero, dec("1")))
}

func TestReferenceCandidates(t *testing.T) {
	assert.Equal(t, []string{"STU001"}, referenceCandidates("  stu001 "))
	assert.Equal(t,
		[]string{"TUITION STU001 MAR", "TUITION", "STU001", "MAR"},
		referenceCandidates("Tuition  stu001 mar"))
	assert.Equal(t,
		[]string{"STU001/STU001", "STU001"},
		referenceCandidates("STU001/STU001"))
	assert.Equal(t, []string{"STU001"}, referenceCandidates("\uff33\uff34\uff35\uff10\uff10\uff11"))
	assert.Nil(t, referenceCandidates("   "))
}

func TestFingerprint(t *testing.T) {
	e := Entry{Reference: "stu001  ", Amount: dec("500"), Date: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)}
	same := Entry{Reference: "STU001", Amount: dec("500.00"), Date: e.Date}
	assert.Equal(t, Fingerprint(e, 0), Fingerprint(same, 0))
	assert.NotEqual(t, Fingerprint(e, 0), Fingerprint(e, 1))

	other := same
	other.Amount = dec("500.01")
	assert.NotEqual(t, Fingerprint(e, 0), Fingerprint(other, 0))

	fp := newFingerprinter()
	first := fp.next(e)
	second := fp.next(same)
	assert.Equal(t, Fingerprint(e, 0), first)
	assert.Equal(t, Fingerprint(e, 1), second)

	m1, m2 := ManualFingerprint(), ManualFingerprint()
	assert.True(t, strings.HasPrefix(m1, "manual:"))
	assert.NotEqual(t, m1, m2)
}

func TestResolvePicksOldestOpenInvoice(t *testing.T) {
	svc, db := newTestService(t)
	st := createStudent(t, db, "STU001", true)
	jan := createInvoice(t, db, st, 1, 2025, "500")
	feb := createInvoice(t, db, st, 2, 2025, "500")

	entry := Entry{Reference: "Transfer STU001", Amount: dec("100"), Date: testNow}

	var got *models.Invoice
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = svc.matcher.Resolve(tx, entry)
		return err
	}))
	require.NotNil(t, got)
	assert.Equal(t, jan.ID, got.ID)

	require.NoError(t, db.Model(&models.Invoice{}).Where("id = ?", jan.ID).
		Updates(map[string]interface{}{"amount_paid": "500", "status": models.InvoicePaid}).Error)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = svc.matcher.Resolve(tx, entry)
		return err
	}))
	assert.Equal(t, feb.ID, got.ID)

	require.NoError(t, db.Model(&models.Invoice{}).Where("id = ?", feb.ID).
		Updates(map[string]interface{}{"amount_paid": "500", "status": models.InvoicePaid}).Error)

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = svc.matcher.Resolve(tx, entry)
		return err
	}))
	assert.Equal(t, feb.ID, got.ID, "settled students absorb overpayment on the newest invoice")
}

func TestResolveLazyInvoiceCreation(t *testing.T) {
	svc, db := newTestService(t)
	createStudent(t, db, "STU009", true)
	createStudent(t, db, "STU010", false)
	entry := Entry{Reference: "STU009", Amount: dec("450"), Date: time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)}

	var got *models.Invoice
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = svc.matcher.Resolve(tx, entry)
		return err
	}))
	assert.Nil(t, got, "lazy creation is off without a default fee")

	svc.opts.DefaultMonthlyFee = dec("450")
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = svc.matcher.Resolve(tx, entry)
		return err
	}))
	require.NotNil(t, got)
	assert.Equal(t, 4, got.Month)
	assert.Equal(t, 2025, got.Year)
	requireAmount(t, "450", got.AmountDue)
	assert.Equal(t, time.Date(2025, 4, 10, 0, 0, 0, 0, time.UTC), got.DueDate.UTC())

	inactive := Entry{Reference: "STU010", Amount: dec("450"), Date: entry.Date}
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		got, err = svc.matcher.Resolve(tx, inactive)
		return err
	}))
	assert.Nil(t, got, "inactive students are never billed lazily")
}
