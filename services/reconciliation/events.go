package reconciliation

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Event types pushed to connected staff dashboards
const (
	EventInvoiceUpdated    = "invoice.updated"
	EventStatementImported = "statement.imported"
	EventInvoicesGenerated = "invoices.generated"
	EventInvoicesCleared   = "invoices.cleared"
)

// Event is the envelope broadcast after a committed ledger change
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// EventPublisher fans out events; the websocket hub satisfies it
type EventPublisher interface {
	Broadcast(message interface{})
}

// StatementArchiver keeps the raw uploaded file for audit and returns its storage key
type StatementArchiver interface {
	ArchiveStatement(ctx context.Context, fileName string, data []byte) (string, error)
}

func (s *Service) publish(eventType string, data interface{}) {
	if s.events == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("panic", r).Error("panic recovered while publishing ledger event")
		}
	}()
	s.events.Broadcast(Event{Type: eventType, Data: data})
}
