// Package queue derives the ordered waiting-line view of an office from
// ticket store snapshots. It holds no state of its own: positions are
// recomputed on demand, and the atomic head-of-queue claim lives in the
// ticket store.
package queue

import (
	"context"

	"govqueue/internal/ticket/models"
	"govqueue/internal/ticket/store"
	"govqueue/pkg/domain"
)

// Snapshots is the read surface the view needs from the ticket store.
type Snapshots interface {
	ListByOffice(ctx context.Context, officeID domain.OfficeID) ([]models.Ticket, error)
}

// View computes positions of waiting tickets.
type View struct {
	store Snapshots
}

// NewView constructs a queue view over the given store.
func NewView(s Snapshots) *View {
	return &View{store: s}
}

// Position returns the 1-based rank of a waiting ticket among the waiting
// tickets of its office, ordered by sequence. Zero for tickets that are not
// waiting.
func (v *View) Position(ctx context.Context, ticket *models.Ticket) (int, error) {
	if ticket.Status != models.StatusWaiting {
		return 0, nil
	}
	tickets, err := v.store.ListByOffice(ctx, ticket.OfficeID)
	if err != nil {
		return 0, err
	}
	position := 1
	for i := range tickets {
		if tickets[i].Status == models.StatusWaiting && tickets[i].Sequence < ticket.Sequence {
			position++
		}
	}
	return position, nil
}

// Entry pairs a waiting ticket with its computed position.
type Entry struct {
	Ticket   models.Ticket `json:"ticket"`
	Position int           `json:"position"`
}

// Waiting returns the office's waiting tickets in queue order with their
// positions, a permutation of 1..N.
func (v *View) Waiting(ctx context.Context, officeID domain.OfficeID) ([]Entry, error) {
	tickets, err := v.store.ListByOffice(ctx, officeID)
	if err != nil {
		return nil, err
	}
	var entries []Entry
	for i := range tickets {
		if tickets[i].Status != models.StatusWaiting {
			continue
		}
		entries = append(entries, Entry{
			Ticket:   tickets[i],
			Position: len(entries) + 1,
		})
	}
	return entries, nil
}

var _ Snapshots = (store.Store)(nil)
