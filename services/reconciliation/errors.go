package reconciliation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

var (
	// ErrInvalidAmount rejects zero or negative payment amounts before they reach the ledger
	ErrInvalidAmount = errors.New("amount must be greater than zero")
	// ErrInvalidPeriod rejects month/year pairs outside the billing calendar
	ErrInvalidPeriod = errors.New("invalid billing period")
	// ErrInvoiceNotFound is returned when no invoice exists for the requested student/period or id
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrStudentNotFound is returned when a student id does not resolve
	ErrStudentNotFound = errors.New("student not found")
	// ErrTransactionNotFound is returned for unknown payment transaction ids
	ErrTransactionNotFound = errors.New("payment transaction not found")
	// ErrInvoiceLockConflict is transient; the caller may retry
	ErrInvoiceLockConflict = errors.New("invoice is locked by another operation, retry")
	// ErrNotManualEntry guards edit/delete against bank-imported rows
	ErrNotManualEntry = errors.New("only manual entries can be changed")
	// ErrTransactionReversed is returned when touching a payment that was already undone
	ErrTransactionReversed = errors.New("payment transaction already reversed")
	// ErrAlreadyAssigned is returned when assigning a transaction that already has an invoice
	ErrAlreadyAssigned = errors.New("payment transaction is already linked to an invoice")
	// ErrNegativeBalance would leave amount_paid below zero
	ErrNegativeBalance = errors.New("amount paid cannot become negative")
	// ErrBatchNotFound is returned for unknown upload batch ids
	ErrBatchNotFound = errors.New("upload batch not found")
	// ErrInvalidFilter rejects unknown status or classification filter values
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrMalformedStatement fails a whole upload (no header, wrong delimiter, unreadable file)
	ErrMalformedStatement = errors.New("malformed statement file")
	// ErrStatementTooLarge rejects uploads above Options.MaxStatementBytes
	ErrStatementTooLarge = errors.New("statement file too large")
)

// errDuplicate marks a statement row whose fingerprint was already recorded
var errDuplicate = errors.New("duplicate statement row")

// MySQL server error numbers
const (
	mysqlDuplicateEntry   = 1062
	mysqlLockWaitTimeout  = 1205
	mysqlDeadlockDetected = 1213
)

// classifyDBError translates driver errors into the package taxonomy
func classifyDBError(err error) error {
	if err == nil {
		return nil
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlLockWaitTimeout, mysqlDeadlockDetected:
			return fmt.Errorf("%w: %v", ErrInvoiceLockConflict, err)
		case mysqlDuplicateEntry:
			return fmt.Errorf("%w: %v", gorm.ErrDuplicatedKey, err)
		}
	}
	// sqlite reports contention as "database is locked"
	if strings.Contains(err.Error(), "database is locked") {
		return fmt.Errorf("%w: %v", ErrInvoiceLockConflict, err)
	}
	return err
}

// isDuplicateKey reports unique-index violations from either driver
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
		return true
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
