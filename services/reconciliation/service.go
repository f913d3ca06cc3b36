// Package reconciliation keeps student tuition invoices consistent with the
// payments recorded against them, whether they arrive from bank statements or
// from staff entering them by hand.
package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Options tunes invoice creation defaults
type Options struct {
	Currency string
	// DueDay is the day of month used for generated due dates
	DueDay int
	// DefaultMonthlyFee enables lazy invoice creation by the matcher when positive
	DefaultMonthlyFee decimal.Decimal
	// MaxStatementBytes caps an uploaded statement; zero means no cap
	MaxStatementBytes int64
}

// Service is the entry point for every reconciliation operation. It holds no
// per-request state; everything mutable lives in the database.
type Service struct {
	db       *gorm.DB
	ledger   *Ledger
	matcher  *Matcher
	opts     Options
	events   EventPublisher
	archiver StatementArchiver
	now      func() time.Time
}

// NewService builds a Service over db
func NewService(db *gorm.DB, opts Options) *Service {
	if opts.DueDay < 1 || opts.DueDay > 28 {
		opts.DueDay = 10
	}
	if opts.Currency == "" {
		opts.Currency = "THB"
	}
	s := &Service{
		db:   db,
		opts: opts,
		now:  time.Now,
	}
	s.ledger = &Ledger{now: func() time.Time { return s.now() }}
	s.matcher = &Matcher{opts: &s.opts, now: func() time.Time { return s.now() }}
	return s
}

// SetEventPublisher wires live-update broadcasting (optional)
func (s *Service) SetEventPublisher(p EventPublisher) {
	s.events = p
}

// SetStatementArchiver wires raw statement archiving (optional)
func (s *Service) SetStatementArchiver(a StatementArchiver) {
	s.archiver = a
}

// Ledger exposes the sole invoice balance mutation point
func (s *Service) Ledger() *Ledger {
	return s.ledger
}
