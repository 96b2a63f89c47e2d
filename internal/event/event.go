// Package event defines the ticket lifecycle events emitted by the queue
// manager and the publishers that carry them to subscribers and to Kafka.
package event

import (
	"time"

	"github.com/google/uuid"

	"govqueue/internal/ticket/models"
	"govqueue/pkg/domain"
)

// Type identifies what happened to a ticket.
type Type string

const (
	TypeTicketCreated   Type = "ticket.created"
	TypeTicketCalled    Type = "ticket.called"
	TypeTicketCompleted Type = "ticket.completed"
	TypeTicketSkipped   Type = "ticket.skipped"
	TypeTicketCancelled Type = "ticket.cancelled"
)

// Event is one ticket lifecycle notification. It carries a full snapshot of
// the ticket at the moment of the transition so consumers never need a
// read-back.
type Event struct {
	ID         uuid.UUID       `json:"id"`
	Type       Type            `json:"type"`
	OfficeID   domain.OfficeID `json:"office_id"`
	Ticket     models.Ticket   `json:"ticket"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// New builds an event for a ticket snapshot.
func New(eventType Type, ticket models.Ticket, at time.Time) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		OfficeID:   ticket.OfficeID,
		Ticket:     ticket,
		OccurredAt: at,
	}
}

// TypeForStatus maps a reached status to its lifecycle event type.
func TypeForStatus(status models.Status) (Type, bool) {
	switch status {
	case models.StatusServing:
		return TypeTicketCalled, true
	case models.StatusCompleted:
		return TypeTicketCompleted, true
	case models.StatusSkipped:
		return TypeTicketSkipped, true
	case models.StatusCancelled:
		return TypeTicketCancelled, true
	default:
		return "", false
	}
}
