//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"govqueue/internal/ticket/models"
	"govqueue/internal/ticket/store"
	"govqueue/pkg/domain"
	"govqueue/pkg/platform/sentinel"
	"govqueue/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.Postgres
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	_, err := s.postgres.DB.Exec(store.Schema)
	s.Require().NoError(err)
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	s.Require().NoError(s.postgres.TruncateTables(ctx, "tickets", "office_sequences"))
}

func (s *PostgresStoreSuite) create(officeID domain.OfficeID) *models.Ticket {
	ticket, err := models.NewTicket(officeID, "Medical Certificate", domain.CitizenID(uuid.New()), time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NoError(s.store.Create(context.Background(), ticket))
	return ticket
}

func (s *PostgresStoreSuite) TestCreateAndGet() {
	ticket := s.create("moh")
	s.NotZero(ticket.ID)
	s.Equal(uint64(1), ticket.Sequence)

	found, err := s.store.Get(context.Background(), ticket.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusWaiting, found.Status)
	s.Equal(ticket.CitizenID, found.CitizenID)

	_, err = s.store.Get(context.Background(), domain.TicketID(404))
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestConcurrentCreateSequences verifies the office_sequences upsert assigns
// gapless, duplicate-free sequences under concurrent creation.
func (s *PostgresStoreSuite) TestConcurrentCreateSequences() {
	ctx := context.Background()
	const goroutines = 20

	var wg sync.WaitGroup
	var mu sync.Mutex
	sequences := make(map[uint64]struct{})

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := models.NewTicket("moh", "Medical Certificate", domain.CitizenID(uuid.New()), time.Now().UTC())
			if err != nil {
				s.T().Error(err)
				return
			}
			if err := s.store.Create(ctx, ticket); err != nil {
				s.T().Error(err)
				return
			}
			mu.Lock()
			sequences[ticket.Sequence] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.Require().Len(sequences, goroutines)
	for seq := uint64(1); seq <= goroutines; seq++ {
		s.Contains(sequences, seq)
	}
}

// TestConcurrentClaims verifies SKIP LOCKED hands each waiting ticket to
// exactly one officer.
func (s *PostgresStoreSuite) TestConcurrentClaims() {
	ctx := context.Background()
	const tickets = 10
	for i := 0; i < tickets; i++ {
		s.create("moh")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[domain.TicketID]int)

	const officers = 5
	for i := 0; i < officers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			officer := domain.OfficerID(uuid.New())
			for {
				claimed, err := s.store.ClaimNext(ctx, "moh", officer, time.Now().UTC())
				if err != nil {
					return
				}
				mu.Lock()
				seen[claimed.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Require().Len(seen, tickets)
	for id, count := range seen {
		s.Equalf(1, count, "ticket %d claimed %d times", id, count)
	}
}

func (s *PostgresStoreSuite) TestClaimOrderAndEmptyQueue() {
	ctx := context.Background()
	first := s.create("moh")
	second := s.create("moh")
	officer := domain.OfficerID(uuid.New())

	claimed, err := s.store.ClaimNext(ctx, "moh", officer, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(first.ID, claimed.ID)

	claimed, err = s.store.ClaimNext(ctx, "moh", officer, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(second.ID, claimed.ID)

	_, err = s.store.ClaimNext(ctx, "moh", officer, time.Now().UTC())
	s.Require().ErrorIs(err, store.ErrNoTicketAvailable)
}

func (s *PostgresStoreSuite) TestTransitionCAS() {
	ctx := context.Background()
	ticket := s.create("moh")
	officer := domain.OfficerID(uuid.New())

	// Stale expectation fails with conflict.
	_, err := s.store.Transition(ctx, ticket.ID, models.StatusServing, models.StatusCompleted, officer, time.Now().UTC())
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	claimed, err := s.store.ClaimNext(ctx, "moh", officer, time.Now().UTC())
	s.Require().NoError(err)
	s.Require().NotNil(claimed.CalledAt)

	completed, err := s.store.Transition(ctx, claimed.ID, models.StatusServing, models.StatusCompleted, officer, time.Now().UTC())
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, completed.Status)
	s.Require().NotNil(completed.ResolvedAt)

	// Terminal tickets accept no further transitions.
	_, err = s.store.Transition(ctx, claimed.ID, models.StatusServing, models.StatusSkipped, officer, time.Now().UTC())
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	_, err = s.store.Transition(ctx, domain.TicketID(404), models.StatusWaiting, models.StatusCancelled, domain.OfficerID{}, time.Now().UTC())
	s.Require().ErrorIs(err, sentinel.ErrNotFound)
}

// TestCancelClaimRace verifies exactly one of a concurrent cancel and claim
// wins on the same ticket.
func (s *PostgresStoreSuite) TestCancelClaimRace() {
	ctx := context.Background()
	const rounds = 20

	for i := 0; i < rounds; i++ {
		s.Require().NoError(s.postgres.TruncateTables(ctx, "tickets", "office_sequences"))
		ticket := s.create("moh")

		var wg sync.WaitGroup
		var winners atomic.Int32

		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := s.store.Transition(ctx, ticket.ID, models.StatusWaiting, models.StatusCancelled, domain.OfficerID{}, time.Now().UTC()); err == nil {
				winners.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := s.store.ClaimNext(ctx, "moh", domain.OfficerID(uuid.New()), time.Now().UTC()); err == nil {
				winners.Add(1)
			}
		}()
		wg.Wait()

		s.Require().EqualValues(1, winners.Load(), "round %d", i)
	}
}

func (s *PostgresStoreSuite) TestListAndCounts() {
	ctx := context.Background()
	s.create("moh")
	s.create("moh")
	tax := s.create("tax")

	officer := domain.OfficerID(uuid.New())
	_, err := s.store.ClaimNext(ctx, "moh", officer, time.Now().UTC())
	s.Require().NoError(err)

	tickets, err := s.store.ListByOffice(ctx, "moh")
	s.Require().NoError(err)
	s.Require().Len(tickets, 2)
	s.Less(tickets[0].Sequence, tickets[1].Sequence)

	byCitizen, err := s.store.List(ctx, store.Filter{CitizenID: &tax.CitizenID})
	s.Require().NoError(err)
	s.Require().Len(byCitizen, 1)

	open, err := s.store.CountOpen(ctx, "moh")
	s.Require().NoError(err)
	s.Equal(2, open)

	counts, err := s.store.CountByStatus(ctx, "moh")
	s.Require().NoError(err)
	s.Equal(1, counts[models.StatusWaiting])
	s.Equal(1, counts[models.StatusServing])
}
