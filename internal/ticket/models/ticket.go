package models

import (
	"time"

	"govqueue/internal/catalog"
	"govqueue/pkg/domain"
	derrors "govqueue/pkg/domain-errors"
)

// Ticket is the aggregate root for a citizen's claim to a position in an
// office queue.
//
// Invariants:
//   - Sequence is unique within the office, assigned exactly once at
//     creation under the store's exclusive section, never reassigned
//   - Status transitions are monotonic along the state machine below;
//     at most one transition is in flight per ticket
//   - Waiting tickets of an office are totally ordered by Sequence and
//     that order never changes after creation
//   - Completed, Cancelled and Skipped are terminal
//
// State machine:
//
//	Waiting  --officer calls next--> Serving
//	Waiting  --citizen cancels----> Cancelled
//	Serving  --officer completes--> Completed
//	Serving  --officer skips------> Skipped
//
// Tickets are never deleted; they are retained for audit and reporting.
type Ticket struct {
	ID          domain.TicketID  `json:"id"`
	OfficeID    domain.OfficeID  `json:"office_id"`
	ServiceName string           `json:"service_name"`
	CitizenID   domain.CitizenID `json:"citizen_id"`
	// OfficerID records the officer holding the in-progress serve. Set on
	// call, kept on resolution for the audit trail.
	OfficerID domain.OfficerID `json:"officer_id,omitempty"`
	Status    Status           `json:"status"`
	// Sequence is the per-office strictly increasing FIFO key.
	Sequence   uint64     `json:"sequence"`
	CreatedAt  time.Time  `json:"created_at"`
	CalledAt   *time.Time `json:"called_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewTicket validates input invariants for a ticket request. ID and Sequence
// are zero until the store assigns them at creation.
func NewTicket(officeID domain.OfficeID, serviceName string, citizenID domain.CitizenID, now time.Time) (*Ticket, error) {
	if officeID == "" {
		return nil, derrors.New(derrors.CodeInvariantViolation, "office id cannot be empty")
	}
	if serviceName == "" {
		return nil, derrors.New(derrors.CodeInvariantViolation, "service name cannot be empty")
	}
	if len(serviceName) > catalog.MaxServiceNameLen {
		return nil, derrors.Newf(derrors.CodeInvariantViolation,
			"service name must be %d characters or less", catalog.MaxServiceNameLen)
	}
	if citizenID.IsNil() {
		return nil, derrors.New(derrors.CodeInvariantViolation, "citizen id cannot be empty")
	}
	return &Ticket{
		OfficeID:    officeID,
		ServiceName: serviceName,
		CitizenID:   citizenID,
		Status:      StatusWaiting,
		CreatedAt:   now,
	}, nil
}

// IsOpen reports whether the ticket still occupies the queue
// (waiting or being served).
func (t *Ticket) IsOpen() bool {
	return t.Status == StatusWaiting || t.Status == StatusServing
}

// CanCall checks whether the ticket can be claimed by an officer.
func (t *Ticket) CanCall() error {
	if !t.Status.CanTransitionTo(StatusServing) {
		return derrors.Newf(derrors.CodeInvariantViolation, "ticket is %s, not waiting", t.Status)
	}
	return nil
}

// ApplyCall transitions the ticket to Serving under the claiming officer.
// Call CanCall first to validate the transition.
func (t *Ticket) ApplyCall(officerID domain.OfficerID, now time.Time) {
	t.Status = StatusServing
	t.OfficerID = officerID
	t.CalledAt = &now
}

// CanComplete checks whether the given officer may complete the ticket.
func (t *Ticket) CanComplete(officerID domain.OfficerID) error {
	if !t.Status.CanTransitionTo(StatusCompleted) {
		return derrors.Newf(derrors.CodeInvariantViolation, "ticket is %s, not serving", t.Status)
	}
	if t.OfficerID != officerID {
		return derrors.New(derrors.CodeInvariantViolation, "ticket is serving under another officer")
	}
	return nil
}

// ApplyComplete transitions the ticket to Completed.
func (t *Ticket) ApplyComplete(now time.Time) {
	t.Status = StatusCompleted
	t.ResolvedAt = &now
}

// CanSkip checks whether the given officer may skip the ticket.
func (t *Ticket) CanSkip(officerID domain.OfficerID) error {
	if !t.Status.CanTransitionTo(StatusSkipped) {
		return derrors.Newf(derrors.CodeInvariantViolation, "ticket is %s, not serving", t.Status)
	}
	if t.OfficerID != officerID {
		return derrors.New(derrors.CodeInvariantViolation, "ticket is serving under another officer")
	}
	return nil
}

// ApplySkip transitions the ticket to Skipped.
func (t *Ticket) ApplySkip(now time.Time) {
	t.Status = StatusSkipped
	t.ResolvedAt = &now
}

// CanCancel checks whether the requesting citizen may cancel the ticket.
func (t *Ticket) CanCancel(citizenID domain.CitizenID) error {
	if t.CitizenID != citizenID {
		return derrors.New(derrors.CodeInvariantViolation, "ticket belongs to another citizen")
	}
	if !t.Status.CanTransitionTo(StatusCancelled) {
		return derrors.Newf(derrors.CodeInvariantViolation, "ticket is %s, not waiting", t.Status)
	}
	return nil
}

// ApplyCancel transitions the ticket to Cancelled.
func (t *Ticket) ApplyCancel(now time.Time) {
	t.Status = StatusCancelled
	t.ResolvedAt = &now
}

// ServiceDuration returns how long the completed serve took, or zero when
// the ticket has not been through call and resolution.
func (t *Ticket) ServiceDuration() time.Duration {
	if t.CalledAt == nil || t.ResolvedAt == nil {
		return 0
	}
	return t.ResolvedAt.Sub(*t.CalledAt)
}
