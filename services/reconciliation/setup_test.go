package reconciliation

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tuitionledger/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testNow = time.Date(2025, time.March, 15, 9, 30, 0, 0, time.UTC)

// newTestService opens a throwaway sqlite database with the production schema
func newTestService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path+"?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))

	svc := NewService(db, Options{Currency: "THB", DueDay: 10})
	svc.now = func() time.Time { return testNow }
	return svc, db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func createStudent(t *testing.T, db *gorm.DB, number string, active bool) *models.Student {
	t.Helper()
	st := &models.Student{StudentNumber: number, FirstName: "Student", LastName: number, Active: true}
	require.NoError(t, db.Create(st).Error)
	if !active {
		// Active has a column default, so false must be written explicitly
		require.NoError(t, db.Model(st).Update("active", false).Error)
		st.Active = false
	}
	return st
}

func createInvoice(t *testing.T, db *gorm.DB, st *models.Student, month, year int, due string) *models.Invoice {
	t.Helper()
	inv := newInvoice(st, month, year, dec(due), dueDateFor(month, year, 10), "THB")
	require.NoError(t, db.Create(inv).Error)
	return inv
}

func reloadInvoice(t *testing.T, db *gorm.DB, id uint) *models.Invoice {
	t.Helper()
	var inv models.Invoice
	require.NoError(t, db.First(&inv, id).Error)
	return &inv
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "expected %s, got %s", want, got.StringFixed(2))
}

func statement(lines ...string) *strings.Reader {
	return strings.NewReader("reference,amount,date\n" + strings.Join(lines, "\n") + "\n")
}
