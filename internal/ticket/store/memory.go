package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"govqueue/internal/ticket/models"
	"govqueue/pkg/domain"
	"govqueue/pkg/platform/sentinel"
)

// InMemory implements Store with fine-grained locking: a short store-level
// lock guards the maps, each ticket carries its own mutex, and each office
// has a lock that serializes sequence assignment and waiting-list changes.
// Transitions on independent tickets proceed concurrently; claims on
// different offices never contend.
//
// Lock ordering: office lock before ticket lock. The store map lock is never
// held while acquiring either.
type InMemory struct {
	mu      sync.RWMutex
	tickets map[domain.TicketID]*record
	offices map[domain.OfficeID]*officeState

	lastID atomic.Int64
}

type record struct {
	mu sync.Mutex
	t  models.Ticket
}

// officeState carries per-office queue bookkeeping. waiting holds ticket IDs
// in sequence order; every mutation of it happens under mu, which is what
// makes the claim atomic with respect to concurrent claims and cancels.
type officeState struct {
	mu      sync.Mutex
	nextSeq uint64
	waiting []domain.TicketID
	open    atomic.Int64
}

// NewInMemory creates an empty in-memory ticket store.
func NewInMemory() *InMemory {
	return &InMemory{
		tickets: make(map[domain.TicketID]*record),
		offices: make(map[domain.OfficeID]*officeState),
	}
}

func (s *InMemory) office(id domain.OfficeID) *officeState {
	s.mu.RLock()
	off := s.offices[id]
	s.mu.RUnlock()
	if off != nil {
		return off
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if off = s.offices[id]; off == nil {
		off = &officeState{}
		s.offices[id] = off
	}
	return off
}

func (s *InMemory) record(id domain.TicketID) (*record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tickets[id]
	return rec, ok
}

// Create assigns ID and per-office sequence under the office's exclusive
// section and appends the ticket to the waiting line.
func (s *InMemory) Create(_ context.Context, ticket *models.Ticket) error {
	off := s.office(ticket.OfficeID)

	off.mu.Lock()
	defer off.mu.Unlock()

	off.nextSeq++
	ticket.ID = domain.TicketID(s.lastID.Add(1))
	ticket.Sequence = off.nextSeq

	rec := &record{t: *ticket}
	s.mu.Lock()
	s.tickets[ticket.ID] = rec
	s.mu.Unlock()

	off.waiting = append(off.waiting, ticket.ID)
	off.open.Add(1)
	return nil
}

// Get returns a snapshot of the ticket.
func (s *InMemory) Get(_ context.Context, id domain.TicketID) (*models.Ticket, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	rec.mu.Lock()
	snapshot := rec.t
	rec.mu.Unlock()
	return &snapshot, nil
}

// Transition compare-and-swaps the ticket's status. Transitions out of
// Waiting additionally maintain the office waiting list, so they take the
// office lock first.
func (s *InMemory) Transition(_ context.Context, id domain.TicketID, expected, next models.Status, officerID domain.OfficerID, at time.Time) (*models.Ticket, error) {
	rec, ok := s.record(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	if expected == models.StatusWaiting {
		off := s.office(rec.t.OfficeID) // OfficeID is immutable after create
		off.mu.Lock()
		defer off.mu.Unlock()

		rec.mu.Lock()
		defer rec.mu.Unlock()
		if rec.t.Status != expected {
			return nil, sentinel.ErrConflict
		}
		off.removeWaiting(id)
		applyTransition(&rec.t, next, officerID, at)
		if !rec.t.IsOpen() {
			off.open.Add(-1)
		}
		snapshot := rec.t
		return &snapshot, nil
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.t.Status != expected {
		return nil, sentinel.ErrConflict
	}
	applyTransition(&rec.t, next, officerID, at)
	if !rec.t.IsOpen() {
		s.office(rec.t.OfficeID).open.Add(-1)
	}
	snapshot := rec.t
	return &snapshot, nil
}

// ClaimNext pops the lowest-sequence waiting ticket under the office lock.
// Tickets only leave the waiting list under that lock, so the head is always
// claimable and two officers can never receive the same ticket.
func (s *InMemory) ClaimNext(_ context.Context, officeID domain.OfficeID, officerID domain.OfficerID, at time.Time) (*models.Ticket, error) {
	off := s.office(officeID)

	off.mu.Lock()
	defer off.mu.Unlock()

	if len(off.waiting) == 0 {
		return nil, ErrNoTicketAvailable
	}
	id := off.waiting[0]
	rec, ok := s.record(id)
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	off.waiting = off.waiting[1:]
	applyTransition(&rec.t, models.StatusServing, officerID, at)
	snapshot := rec.t
	return &snapshot, nil
}

// ListByOffice returns the office's tickets ordered by sequence.
func (s *InMemory) ListByOffice(ctx context.Context, officeID domain.OfficeID) ([]models.Ticket, error) {
	return s.List(ctx, Filter{OfficeID: &officeID})
}

// List returns a filtered snapshot, sorted by office then sequence.
func (s *InMemory) List(_ context.Context, filter Filter) ([]models.Ticket, error) {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.tickets))
	for _, rec := range s.tickets {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	out := make([]models.Ticket, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		snapshot := rec.t
		rec.mu.Unlock()
		if matches(&snapshot, filter) {
			out = append(out, snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OfficeID != out[j].OfficeID {
			return out[i].OfficeID < out[j].OfficeID
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

// CountOpen returns the waiting+serving ticket count for an office.
func (s *InMemory) CountOpen(_ context.Context, officeID domain.OfficeID) (int, error) {
	return int(s.office(officeID).open.Load()), nil
}

// CountByStatus returns per-status counts for an office.
func (s *InMemory) CountByStatus(ctx context.Context, officeID domain.OfficeID) (map[models.Status]int, error) {
	tickets, err := s.ListByOffice(ctx, officeID)
	if err != nil {
		return nil, err
	}
	counts := make(map[models.Status]int)
	for i := range tickets {
		counts[tickets[i].Status]++
	}
	return counts, nil
}

func matches(t *models.Ticket, filter Filter) bool {
	if filter.CitizenID != nil && t.CitizenID != *filter.CitizenID {
		return false
	}
	if filter.OfficeID != nil && t.OfficeID != *filter.OfficeID {
		return false
	}
	if filter.Status != nil && t.Status != *filter.Status {
		return false
	}
	return true
}

func (o *officeState) removeWaiting(id domain.TicketID) {
	for i, waiting := range o.waiting {
		if waiting == id {
			o.waiting = append(o.waiting[:i], o.waiting[i+1:]...)
			return
		}
	}
}

// applyTransition stamps the fields belonging to the target status. Callers
// hold the ticket lock and have already verified the CAS.
func applyTransition(t *models.Ticket, next models.Status, officerID domain.OfficerID, at time.Time) {
	t.Status = next
	switch next {
	case models.StatusServing:
		t.OfficerID = officerID
		called := at
		t.CalledAt = &called
	case models.StatusCompleted, models.StatusSkipped, models.StatusCancelled:
		resolved := at
		t.ResolvedAt = &resolved
	}
}

var _ Store = (*InMemory)(nil)
