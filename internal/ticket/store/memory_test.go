package store

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"govqueue/internal/ticket/models"
	"govqueue/pkg/domain"
	"govqueue/pkg/platform/sentinel"
)

type MemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) create(officeID domain.OfficeID) *models.Ticket {
	ticket, err := models.NewTicket(officeID, "Medical Certificate", domain.CitizenID(uuid.New()), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(s.ctx, ticket))
	return ticket
}

func (s *MemoryStoreSuite) TestCreateAssignsIDsAndSequences() {
	first := s.create("moh")
	second := s.create("moh")
	other := s.create("tax")

	s.Run("ids are unique and monotonic", func() {
		s.Less(first.ID, second.ID)
		s.Less(second.ID, other.ID)
	})

	s.Run("sequence increases per office", func() {
		s.Equal(uint64(1), first.Sequence)
		s.Equal(uint64(2), second.Sequence)
	})

	s.Run("offices have independent sequences", func() {
		s.Equal(uint64(1), other.Sequence)
	})

	s.Run("created tickets are retrievable", func() {
		found, err := s.store.Get(s.ctx, first.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusWaiting, found.Status)
		s.Equal(first.Sequence, found.Sequence)
	})
}

func (s *MemoryStoreSuite) TestGetUnknownTicket() {
	_, err := s.store.Get(s.ctx, domain.TicketID(404))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

func (s *MemoryStoreSuite) TestClaimNextFollowsSequenceOrder() {
	first := s.create("moh")
	second := s.create("moh")
	officer := domain.OfficerID(uuid.New())

	claimed, err := s.store.ClaimNext(s.ctx, "moh", officer, time.Now())
	s.Require().NoError(err)
	s.Equal(first.ID, claimed.ID)
	s.Equal(models.StatusServing, claimed.Status)
	s.Equal(officer, claimed.OfficerID)
	s.Require().NotNil(claimed.CalledAt)

	claimed, err = s.store.ClaimNext(s.ctx, "moh", officer, time.Now())
	s.Require().NoError(err)
	s.Equal(second.ID, claimed.ID)

	_, err = s.store.ClaimNext(s.ctx, "moh", officer, time.Now())
	s.Require().ErrorIs(err, ErrNoTicketAvailable)
}

func (s *MemoryStoreSuite) TestClaimNextEmptyOffice() {
	_, err := s.store.ClaimNext(s.ctx, "empty", domain.OfficerID(uuid.New()), time.Now())
	s.Require().ErrorIs(err, ErrNoTicketAvailable)
}

func (s *MemoryStoreSuite) TestTransitionCASGuards() {
	ticket := s.create("moh")
	officer := domain.OfficerID(uuid.New())

	s.Run("conflict when expected status is stale", func() {
		_, err := s.store.Transition(s.ctx, ticket.ID, models.StatusServing, models.StatusCompleted, officer, time.Now())
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("not found for unknown ticket", func() {
		_, err := s.store.Transition(s.ctx, domain.TicketID(404), models.StatusWaiting, models.StatusCancelled, domain.OfficerID{}, time.Now())
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("cancel stamps resolved time and leaves the waiting list", func() {
		cancelled, err := s.store.Transition(s.ctx, ticket.ID, models.StatusWaiting, models.StatusCancelled, domain.OfficerID{}, time.Now())
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, cancelled.Status)
		s.Require().NotNil(cancelled.ResolvedAt)

		_, err = s.store.ClaimNext(s.ctx, "moh", officer, time.Now())
		s.Require().ErrorIs(err, ErrNoTicketAvailable)
	})
}

func (s *MemoryStoreSuite) TestServeCompleteFlow() {
	ticket := s.create("moh")
	officer := domain.OfficerID(uuid.New())

	claimed, err := s.store.ClaimNext(s.ctx, "moh", officer, time.Now())
	s.Require().NoError(err)

	completed, err := s.store.Transition(s.ctx, claimed.ID, models.StatusServing, models.StatusCompleted, officer, time.Now())
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, completed.Status)
	s.Require().NotNil(completed.ResolvedAt)

	// Terminal tickets stay addressable for audit.
	found, err := s.store.Get(s.ctx, ticket.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, found.Status)

	open, err := s.store.CountOpen(s.ctx, "moh")
	s.Require().NoError(err)
	s.Equal(0, open)
}

func (s *MemoryStoreSuite) TestListFilters() {
	moh1 := s.create("moh")
	s.create("moh")
	tax := s.create("tax")

	officer := domain.OfficerID(uuid.New())
	_, err := s.store.ClaimNext(s.ctx, "moh", officer, time.Now())
	s.Require().NoError(err)

	s.Run("by office, ordered by sequence", func() {
		tickets, err := s.store.ListByOffice(s.ctx, "moh")
		s.Require().NoError(err)
		s.Require().Len(tickets, 2)
		s.Less(tickets[0].Sequence, tickets[1].Sequence)
	})

	s.Run("by status", func() {
		status := models.StatusServing
		tickets, err := s.store.List(s.ctx, Filter{Status: &status})
		s.Require().NoError(err)
		s.Require().Len(tickets, 1)
		s.Equal(moh1.ID, tickets[0].ID)
	})

	s.Run("by citizen", func() {
		tickets, err := s.store.List(s.ctx, Filter{CitizenID: &tax.CitizenID})
		s.Require().NoError(err)
		s.Require().Len(tickets, 1)
		s.Equal(tax.ID, tickets[0].ID)
	})

	s.Run("counts by status", func() {
		counts, err := s.store.CountByStatus(s.ctx, "moh")
		s.Require().NoError(err)
		s.Equal(1, counts[models.StatusWaiting])
		s.Equal(1, counts[models.StatusServing])
	})
}

// TestConcurrentClaims verifies that officers racing on one office never
// receive the same ticket and nobody starves while tickets remain.
func TestConcurrentClaims(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	const tickets = 50
	for i := 0; i < tickets; i++ {
		ticket, err := models.NewTicket("moh", "Medical Certificate", domain.CitizenID(uuid.New()), time.Now())
		if err != nil {
			t.Fatalf("new ticket: %v", err)
		}
		if err := s.Create(ctx, ticket); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[domain.TicketID]int)
	var empty atomic.Int32

	const officers = 10
	for i := 0; i < officers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			officer := domain.OfficerID(uuid.New())
			for {
				claimed, err := s.ClaimNext(ctx, "moh", officer, time.Now())
				if err != nil {
					empty.Add(1)
					return
				}
				mu.Lock()
				seen[claimed.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != tickets {
		t.Fatalf("expected %d distinct claimed tickets, got %d", tickets, len(seen))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("ticket %d claimed %d times", id, count)
		}
	}
	if empty.Load() != officers {
		t.Fatalf("expected all %d officers to drain the queue, got %d", officers, empty.Load())
	}
}

// TestCancelClaimRace verifies the spec'd race: a citizen cancel and an
// officer claim on the same ticket have exactly one winner.
func TestCancelClaimRace(t *testing.T) {
	ctx := context.Background()

	const rounds = 100
	for i := 0; i < rounds; i++ {
		s := NewInMemory()
		ticket, err := models.NewTicket("moh", "Medical Certificate", domain.CitizenID(uuid.New()), time.Now())
		if err != nil {
			t.Fatalf("new ticket: %v", err)
		}
		if err := s.Create(ctx, ticket); err != nil {
			t.Fatalf("create: %v", err)
		}

		var wg sync.WaitGroup
		var cancelled, claimed atomic.Int32

		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.Transition(ctx, ticket.ID, models.StatusWaiting, models.StatusCancelled, domain.OfficerID{}, time.Now()); err == nil {
				cancelled.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.ClaimNext(ctx, "moh", domain.OfficerID(uuid.New()), time.Now()); err == nil {
				claimed.Add(1)
			}
		}()
		wg.Wait()

		if cancelled.Load()+claimed.Load() != 1 {
			t.Fatalf("round %d: expected exactly one winner, cancel=%d claim=%d",
				i, cancelled.Load(), claimed.Load())
		}
	}
}

// TestConcurrentCreateSequences verifies sequence assignment stays gapless
// and duplicate-free under concurrent creation.
func TestConcurrentCreateSequences(t *testing.T) {
	ctx := context.Background()
	s := NewInMemory()

	const creators = 20
	const perCreator = 25

	var wg sync.WaitGroup
	var mu sync.Mutex
	sequences := make(map[uint64]struct{})

	for i := 0; i < creators; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perCreator; j++ {
				ticket, err := models.NewTicket("moh", "Medical Certificate", domain.CitizenID(uuid.New()), time.Now())
				if err != nil {
					t.Error(err)
					return
				}
				if err := s.Create(ctx, ticket); err != nil {
					t.Error(err)
					return
				}
				mu.Lock()
				sequences[ticket.Sequence] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	total := creators * perCreator
	if len(sequences) != total {
		t.Fatalf("expected %d distinct sequences, got %d", total, len(sequences))
	}
	for seq := uint64(1); seq <= uint64(total); seq++ {
		if _, ok := sequences[seq]; !ok {
			t.Fatalf("sequence %d missing: assignment has gaps", seq)
		}
	}
}
