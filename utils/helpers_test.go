package utils

import (
	"testing"
	"time"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("password123")
	require.NoError(t, err)
	assert.NoError(t, CheckPassword("password123", hash))
	assert.Error(t, CheckPassword("password124", hash))
}

func TestSafeFileName(t *testing.T) {
	assert.Equal(t, "march.csv", SafeFileName("../../etc/march.csv"))
	assert.Equal(t, "march.csv", SafeFileName(`C:\Users\bursar\march.csv`))
	assert.Equal(t, "", SafeFileName(""))
}

func TestToInvoiceDTOFormatsMoney(t *testing.T) {
	inv := models.Invoice{
		ID:                 7,
		StudentNumber:      "STU001",
		Month:              3,
		Year:               2025,
		AmountDue:          decimal.RequireFromString("500"),
		AmountPaid:         decimal.RequireFromString("550"),
		OutstandingBalance: decimal.Zero,
		OverpaidAmount:     decimal.RequireFromString("50"),
		Status:             models.InvoiceOverpaid,
		DueDate:            time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC),
		Transactions: []models.PaymentTransaction{
			{ID: 1, Amount: decimal.RequireFromString("300"), Method: models.MethodBankImport, Date: time.Date(2025, 3, 5, 0, 0, 0, 0, time.UTC)},
		},
	}
	dto := ToInvoiceDTO(inv)
	assert.Equal(t, "500.00", dto.AmountDue)
	assert.Equal(t, "550.00", dto.AmountPaid)
	assert.Equal(t, "0.00", dto.OutstandingBalance)
	assert.Equal(t, "50.00", dto.OverpaidAmount)
	assert.Equal(t, "2025-03-10", dto.DueDate)
	assert.Nil(t, dto.Student)
	require.Len(t, dto.Transactions, 1)
	assert.Equal(t, "300.00", dto.Transactions[0].Amount)
	assert.Equal(t, "2025-03-05", dto.Transactions[0].Date)
}
