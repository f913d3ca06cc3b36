package reconciliation

import (
	"context"
	"testing"
	"time"

	"tuitionledger/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestManualAddThenDeleteRestoresInvoice(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	_, err := svc.ImportStatement(ctx, "march.csv", statement("STU001,120.00,2025-03-01"), 1)
	require.NoError(t, err)
	before := reloadInvoice(t, db, inv.ID)

	updated, pt, err := svc.AddManualPayment(ctx, ManualPaymentInput{
		StudentID: st.ID,
		Amount:    dec("380.00"),
		Date:      time.Date(2025, 3, 9, 14, 0, 0, 0, time.UTC),
		Month:     3,
		Year:      2025,
		Notes:     "cash at front desk",
		CreatedBy: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, updated.Status)
	assert.Equal(t, models.MethodManualEntry, pt.Method)
	assert.Equal(t, "STU001", pt.RawReference)
	assert.Equal(t, time.Date(2025, 3, 9, 0, 0, 0, 0, time.UTC), pt.Date)

	restored, err := svc.DeleteManualPayment(ctx, pt.ID)
	require.NoError(t, err)
	requireAmount(t, before.AmountPaid.String(), restored.AmountPaid)
	requireAmount(t, before.OutstandingBalance.String(), restored.OutstandingBalance)
	assert.Equal(t, before.Status, restored.Status)

	var stored models.PaymentTransaction
	require.NoError(t, db.First(&stored, pt.ID).Error)
	assert.True(t, stored.Reversed)
	require.NotNil(t, stored.ReversedAt)

	_, err = svc.DeleteManualPayment(ctx, pt.ID)
	require.ErrorIs(t, err, ErrTransactionReversed)
}

func TestManualEditAppliesDelta(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	_, pt, err := svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("200.00"), Month: 3, Year: 2025})
	require.NoError(t, err)

	up := dec("350.25")
	updated, edited, err := svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Amount: &up})
	require.NoError(t, err)
	requireAmount(t, "350.25", updated.AmountPaid)
	requireAmount(t, "149.75", updated.OutstandingBalance)
	requireAmount(t, "350.25", edited.Amount)

	down := dec("10.00")
	updated, _, err = svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Amount: &down})
	require.NoError(t, err)
	requireAmount(t, "10.00", updated.AmountPaid)
	assert.Equal(t, models.InvoicePartial, updated.Status)

	notes := "corrected by bursar"
	updated, edited, err = svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Notes: &notes})
	require.NoError(t, err)
	requireAmount(t, "10.00", updated.AmountPaid)
	assert.Equal(t, notes, edited.Notes)

	got := reloadInvoice(t, db, inv.ID)
	requireAmount(t, "10.00", got.AmountPaid)
}

func TestManualEditMovesPeriod(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	st := createStudent(t, db, "STU001", true)
	mar := createInvoice(t, db, st, 3, 2025, "500.00")
	apr := createInvoice(t, db, st, 4, 2025, "500.00")

	_, pt, err := svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("500.00"), Month: 3, Year: 2025})
	require.NoError(t, err)

	month := 4
	amount := dec("450.00")
	updated, edited, err := svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Month: &month, Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, apr.ID, updated.ID)
	require.NotNil(t, edited.InvoiceID)
	assert.Equal(t, apr.ID, *edited.InvoiceID)

	gotMar := reloadInvoice(t, db, mar.ID)
	requireAmount(t, "0", gotMar.AmountPaid)
	assert.Equal(t, models.InvoiceUnpaid, gotMar.Status)
	gotApr := reloadInvoice(t, db, apr.ID)
	requireAmount(t, "450", gotApr.AmountPaid)

	missing := 5
	_, _, err = svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Month: &missing})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
	gotApr = reloadInvoice(t, db, apr.ID)
	requireAmount(t, "450", gotApr.AmountPaid)
}

func TestManualEditLocksInvoicesInIDOrder(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	st := createStudent(t, db, "STU001", true)
	mar := createInvoice(t, db, st, 3, 2025, "500.00")
	apr := createInvoice(t, db, st, 4, 2025, "500.00")
	require.Less(t, mar.ID, apr.ID)

	_, pt, err := svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("200.00"), Month: 4, Year: 2025})
	require.NoError(t, err)

	var locked []uint
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:record_invoice_locks", func(tx *gorm.DB) {
		if _, ok := tx.Statement.Clauses["FOR"]; !ok || tx.Statement.Table != "invoices" {
			return
		}
		if inv, ok := tx.Statement.Dest.(*models.Invoice); ok {
			locked = append(locked, inv.ID)
		}
	}))

	month := 3
	updated, _, err := svc.UpdateManualPayment(ctx, pt.ID, ManualPaymentUpdate{Month: &month})
	require.NoError(t, err)
	assert.Equal(t, mar.ID, updated.ID)

	require.GreaterOrEqual(t, len(locked), 2)
	assert.Equal(t, []uint{mar.ID, apr.ID}, locked[:2], "the lower id must be locked first")
}

func TestManualPaymentValidation(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	st := createStudent(t, db, "STU001", true)
	createInvoice(t, db, st, 3, 2025, "500.00")

	_, _, err := svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("0"), Month: 3, Year: 2025})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("1.005"), Month: 3, Year: 2025})
	require.ErrorIs(t, err, ErrInvalidAmount)
	_, _, err = svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("10"), Month: 13, Year: 2025})
	require.ErrorIs(t, err, ErrInvalidPeriod)
	_, _, err = svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: st.ID, Amount: dec("10"), Month: 6, Year: 2025})
	require.ErrorIs(t, err, ErrInvoiceNotFound)
	_, _, err = svc.AddManualPayment(ctx, ManualPaymentInput{StudentID: 999, Amount: dec("10"), Month: 3, Year: 2025})
	require.ErrorIs(t, err, ErrStudentNotFound)
	assert.Zero(t, countTransactions(t, svc))

	_, err = svc.DeleteManualPayment(ctx, 12345)
	require.ErrorIs(t, err, ErrTransactionNotFound)

	_, err = svc.ImportStatement(ctx, "march.csv", statement("STU001,100.00,2025-03-01"), 1)
	require.NoError(t, err)
	var bank models.PaymentTransaction
	require.NoError(t, db.Where("method = ?", models.MethodBankImport).First(&bank).Error)
	_, err = svc.DeleteManualPayment(ctx, bank.ID)
	require.ErrorIs(t, err, ErrNotManualEntry)
	amount := dec("1")
	_, _, err = svc.UpdateManualPayment(ctx, bank.ID, ManualPaymentUpdate{Amount: &amount})
	require.ErrorIs(t, err, ErrNotManualEntry)
}

func TestAssignUnmatchedTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	st := createStudent(t, db, "STU001", true)
	inv := createInvoice(t, db, st, 3, 2025, "500.00")

	_, err := svc.ImportStatement(ctx, "march.csv", statement("Mom school fee,500.00,2025-03-03"), 1)
	require.NoError(t, err)
	var pt models.PaymentTransaction
	require.NoError(t, db.First(&pt).Error)
	require.Nil(t, pt.InvoiceID)

	updated, assigned, err := svc.AssignTransaction(ctx, pt.ID, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, updated.Status)
	assert.Equal(t, models.ClassMatched, assigned.Classification)

	_, _, err = svc.AssignTransaction(ctx, pt.ID, inv.ID)
	require.ErrorIs(t, err, ErrAlreadyAssigned)

	issues, err := svc.VerifyLedger(ctx)
	require.NoError(t, err)
	assert.Empty(t, issues)
}
