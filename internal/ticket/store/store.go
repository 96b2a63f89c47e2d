// Package store owns the authoritative ticket collection. It is the source
// of truth for status transitions: every mutation is a compare-and-swap on
// the ticket's current status, so concurrent callers race safely and exactly
// one wins.
package store

import (
	"context"
	"errors"
	"time"

	"govqueue/internal/ticket/models"
	"govqueue/pkg/domain"
)

// ErrNoTicketAvailable signals an empty waiting set on a claim. It is a
// normal empty-result condition, not a failure: callers should report an
// idle queue, not retry with backoff.
var ErrNoTicketAvailable = errors.New("no ticket available")

// Filter narrows List results. Nil fields match everything.
type Filter struct {
	CitizenID *domain.CitizenID
	OfficeID  *domain.OfficeID
	Status    *models.Status
}

// Store is the ticket store contract shared by the in-memory and postgres
// implementations. Implementations guarantee:
//
//   - Create assigns ID and per-office Sequence atomically, exactly once
//   - Transition is serialized per ticket: a compare-and-swap on status
//     that either fully applies (with its timestamp stamp) or not at all
//   - ClaimNext atomically pops the lowest-sequence Waiting ticket of an
//     office; two concurrent claims never receive the same ticket, and
//     claims on different offices do not contend
//
// Stores return pkg/platform/sentinel errors (ErrNotFound, ErrConflict);
// the service layer translates them into coded domain errors.
type Store interface {
	// Create persists the ticket, assigning ID and Sequence on it.
	Create(ctx context.Context, ticket *models.Ticket) error

	// Get returns a snapshot of the ticket.
	Get(ctx context.Context, id domain.TicketID) (*models.Ticket, error)

	// Transition moves the ticket from expected to next, stamping CalledAt
	// (on Serving, with the claiming officer) or ResolvedAt (on terminal
	// states). Returns sentinel.ErrConflict when the current status is not
	// expected.
	Transition(ctx context.Context, id domain.TicketID, expected, next models.Status, officerID domain.OfficerID, at time.Time) (*models.Ticket, error)

	// ClaimNext claims the head of the office's waiting queue for the
	// officer, transitioning it to Serving. Returns ErrNoTicketAvailable
	// when nothing is waiting.
	ClaimNext(ctx context.Context, officeID domain.OfficeID, officerID domain.OfficerID, at time.Time) (*models.Ticket, error)

	// ListByOffice returns a point-in-time snapshot of the office's
	// tickets ordered by sequence. Not a live view.
	ListByOffice(ctx context.Context, officeID domain.OfficeID) ([]models.Ticket, error)

	// List returns a filtered snapshot, stably sorted by office then
	// sequence.
	List(ctx context.Context, filter Filter) ([]models.Ticket, error)

	// CountOpen returns the number of waiting or serving tickets for an
	// office.
	CountOpen(ctx context.Context, officeID domain.OfficeID) (int, error)

	// CountByStatus returns per-status ticket counts for an office, for
	// the reporting collaborator.
	CountByStatus(ctx context.Context, officeID domain.OfficeID) (map[models.Status]int, error)
}
