// Package service orchestrates the ticket lifecycle: issuing tickets,
// calling citizens to the desk and resolving serves. It is the single write
// path over the ticket store and the single emitter of lifecycle events.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"govqueue/internal/catalog"
	"govqueue/internal/event"
	"govqueue/internal/platform/config"
	"govqueue/internal/queue"
	"govqueue/internal/ticket/metrics"
	"govqueue/internal/ticket/models"
	"govqueue/internal/ticket/store"
	"govqueue/pkg/domain"
	derrors "govqueue/pkg/domain-errors"
	"govqueue/pkg/platform/sentinel"
)

const tracerName = "govqueue/ticket"

// Publisher receives lifecycle events. The in-process hub, the Kafka
// producer and the Redis bridge all implement it; delivery is best effort
// and never fails a ticket operation.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event)
}

// Estimator is the wait-time collaborator fed by completions.
type Estimator interface {
	RecordCompletion(officeID domain.OfficeID, serviceName string, duration time.Duration)
	Estimate(position int, officeID domain.OfficeID, serviceName string) time.Duration
}

// Service orchestrates ticket issuance and queue progression.
type Service struct {
	store      store.Store
	catalog    *catalog.Catalog
	queue      *queue.View
	estimator  Estimator
	maxOpen    int
	logger     *slog.Logger
	metrics    *metrics.Metrics
	publishers []Publisher
	tracer     trace.Tracer
	clock      func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithPublisher adds a lifecycle event sink. May be given multiple times.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		if p != nil {
			s.publishers = append(s.publishers, p)
		}
	}
}

// WithEstimator sets the wait-time estimator.
func WithEstimator(e Estimator) Option {
	return func(s *Service) {
		s.estimator = e
	}
}

// WithMaxOpenPerOffice caps how many open tickets one office may hold.
func WithMaxOpenPerOffice(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxOpen = n
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		s.clock = clock
	}
}

// New constructs a Service over the given store and office catalog.
func New(st store.Store, cat *catalog.Catalog, opts ...Option) *Service {
	s := &Service{
		store:   st,
		catalog: cat,
		queue:   queue.NewView(st),
		maxOpen: config.DefaultMaxOpenPerOffice,
		logger:  slog.Default(),
		tracer:  otel.Tracer(tracerName),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TicketDetails is a ticket with its derived queue placement.
type TicketDetails struct {
	Ticket        models.Ticket `json:"ticket"`
	Position      int           `json:"position"`
	EstimatedWait time.Duration `json:"estimated_wait"`
}

// RequestTicket issues a ticket for a citizen at an office. The service name
// must be one the office offers; free-text requests fall under the office's
// catch-all service when it has one.
func (s *Service) RequestTicket(ctx context.Context, citizenID domain.CitizenID, officeID domain.OfficeID, serviceName string) (*TicketDetails, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.request",
		trace.WithAttributes(attribute.String("office_id", string(officeID))))
	defer span.End()

	serviceName = strings.TrimSpace(serviceName)

	ticket, err := models.NewTicket(officeID, serviceName, citizenID, s.clock().UTC())
	if err != nil {
		if derrors.HasCode(err, derrors.CodeInvariantViolation) {
			return nil, derrors.New(derrors.CodeValidation, derrors.MessageOf(err))
		}
		return nil, err
	}

	office, ok := s.catalog.Office(officeID)
	if !ok {
		return nil, derrors.New(derrors.CodeNotFound, "office not found")
	}
	if !office.Active {
		return nil, derrors.New(derrors.CodeConflict, "office is not accepting tickets")
	}
	if !s.catalog.OffersService(officeID, serviceName) {
		return nil, derrors.New(derrors.CodeValidation, "office does not offer this service")
	}

	open, err := s.store.CountOpen(ctx, officeID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to count open tickets")
	}
	if open >= s.maxOpen {
		return nil, derrors.New(derrors.CodeConflict, "office queue is full")
	}

	if err := s.store.Create(ctx, ticket); err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to create ticket")
	}

	s.logger.InfoContext(ctx, "ticket issued",
		"ticket_id", ticket.ID,
		"office_id", officeID,
		"service", serviceName,
		"sequence", ticket.Sequence,
	)
	if s.metrics != nil {
		s.metrics.IncIssued(string(officeID), serviceName)
	}
	s.publish(ctx, event.New(event.TypeTicketCreated, *ticket, s.clock().UTC()))

	return s.details(ctx, ticket)
}

// GetTicket returns a ticket with its current position and wait estimate.
func (s *Service) GetTicket(ctx context.Context, id domain.TicketID) (*TicketDetails, error) {
	ticket, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to get ticket")
	}
	return s.details(ctx, ticket)
}

// ListTickets returns a filtered snapshot of tickets.
func (s *Service) ListTickets(ctx context.Context, filter store.Filter) ([]models.Ticket, error) {
	tickets, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to list tickets")
	}
	return tickets, nil
}

// WaitingLine returns the office's waiting tickets in queue order.
func (s *Service) WaitingLine(ctx context.Context, officeID domain.OfficeID) ([]queue.Entry, error) {
	if _, ok := s.catalog.Office(officeID); !ok {
		return nil, derrors.New(derrors.CodeNotFound, "office not found")
	}
	entries, err := s.queue.Waiting(ctx, officeID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to read waiting line")
	}
	return entries, nil
}

// CallNext claims the head of the office's waiting queue for the officer.
// Returns (nil, nil) when the queue is empty: an idle queue is a normal
// outcome, not an error.
func (s *Service) CallNext(ctx context.Context, officeID domain.OfficeID, officerID domain.OfficerID) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.call_next",
		trace.WithAttributes(attribute.String("office_id", string(officeID))))
	defer span.End()

	if _, ok := s.catalog.Office(officeID); !ok {
		return nil, derrors.New(derrors.CodeNotFound, "office not found")
	}

	now := s.clock().UTC()
	ticket, err := s.store.ClaimNext(ctx, officeID, officerID, now)
	if err != nil {
		if errors.Is(err, store.ErrNoTicketAvailable) {
			return nil, nil
		}
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to claim next ticket")
	}

	s.logger.InfoContext(ctx, "ticket called",
		"ticket_id", ticket.ID,
		"office_id", officeID,
		"officer_id", officerID,
	)
	if s.metrics != nil {
		s.metrics.IncTransition(string(officeID), string(models.StatusServing))
		if ticket.CalledAt != nil {
			s.metrics.ObserveWait(string(officeID), ticket.CalledAt.Sub(ticket.CreatedAt))
		}
	}
	s.publish(ctx, event.New(event.TypeTicketCalled, *ticket, now))

	return ticket, nil
}

// CompleteTicket resolves a serving ticket as done. Only the officer holding
// the serve may complete it.
func (s *Service) CompleteTicket(ctx context.Context, id domain.TicketID, officerID domain.OfficerID) (*models.Ticket, error) {
	return s.resolve(ctx, id, models.StatusCompleted, func(t *models.Ticket) error {
		return t.CanComplete(officerID)
	}, officerID)
}

// SkipTicket resolves a serving ticket as not shown up. Only the officer
// holding the serve may skip it.
func (s *Service) SkipTicket(ctx context.Context, id domain.TicketID, officerID domain.OfficerID) (*models.Ticket, error) {
	return s.resolve(ctx, id, models.StatusSkipped, func(t *models.Ticket) error {
		return t.CanSkip(officerID)
	}, officerID)
}

// CancelTicket withdraws a waiting ticket. Only the owning citizen may
// cancel, and only while the ticket is still waiting; a ticket already
// called races its cancel and the store decides the single winner.
func (s *Service) CancelTicket(ctx context.Context, id domain.TicketID, citizenID domain.CitizenID) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.cancel",
		trace.WithAttributes(attribute.Int64("ticket_id", int64(id))))
	defer span.End()

	ticket, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to get ticket")
	}
	if ticket.CitizenID != citizenID {
		return nil, derrors.New(derrors.CodeForbidden, "ticket belongs to another citizen")
	}
	if err := ticket.CanCancel(citizenID); err != nil {
		return nil, derrors.New(derrors.CodeConflict, derrors.MessageOf(err))
	}

	now := s.clock().UTC()
	updated, err := s.store.Transition(ctx, id, models.StatusWaiting, models.StatusCancelled, domain.OfficerID{}, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, derrors.New(derrors.CodeConflict, "ticket is no longer waiting")
		}
		return nil, s.translateStoreErr(err, "failed to cancel ticket")
	}

	s.logger.InfoContext(ctx, "ticket cancelled", "ticket_id", id, "office_id", updated.OfficeID)
	if s.metrics != nil {
		s.metrics.IncTransition(string(updated.OfficeID), string(models.StatusCancelled))
	}
	s.publish(ctx, event.New(event.TypeTicketCancelled, *updated, now))

	return updated, nil
}

// OfficeStats is the per-office reporting snapshot.
type OfficeStats struct {
	OfficeID      domain.OfficeID       `json:"office_id"`
	Waiting       int                   `json:"waiting"`
	Serving       int                   `json:"serving"`
	Completed     int                   `json:"completed"`
	Cancelled     int                   `json:"cancelled"`
	Skipped       int                   `json:"skipped"`
	EstimatedWait time.Duration         `json:"estimated_wait"`
	ByStatus      map[models.Status]int `json:"by_status"`
}

// Stats summarizes an office's queue, including the expected wait for a
// citizen joining now.
func (s *Service) Stats(ctx context.Context, officeID domain.OfficeID) (*OfficeStats, error) {
	if _, ok := s.catalog.Office(officeID); !ok {
		return nil, derrors.New(derrors.CodeNotFound, "office not found")
	}

	counts, err := s.store.CountByStatus(ctx, officeID)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to count tickets")
	}

	stats := &OfficeStats{
		OfficeID:  officeID,
		Waiting:   counts[models.StatusWaiting],
		Serving:   counts[models.StatusServing],
		Completed: counts[models.StatusCompleted],
		Cancelled: counts[models.StatusCancelled],
		Skipped:   counts[models.StatusSkipped],
		ByStatus:  counts,
	}
	if s.estimator != nil {
		stats.EstimatedWait = s.estimator.Estimate(stats.Waiting+1, officeID, catalog.OtherService)
	}
	if s.metrics != nil {
		s.metrics.SetQueueDepth(string(officeID), stats.Waiting)
	}
	return stats, nil
}

// resolve is the shared Serving-to-terminal path for complete and skip.
func (s *Service) resolve(ctx context.Context, id domain.TicketID, next models.Status, guard func(*models.Ticket) error, officerID domain.OfficerID) (*models.Ticket, error) {
	ctx, span := s.tracer.Start(ctx, "ticket.resolve",
		trace.WithAttributes(
			attribute.Int64("ticket_id", int64(id)),
			attribute.String("status", string(next)),
		))
	defer span.End()

	ticket, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.translateStoreErr(err, "failed to get ticket")
	}
	if !ticket.OfficerID.IsNil() && ticket.OfficerID != officerID {
		return nil, derrors.New(derrors.CodeForbidden, "ticket is serving under another officer")
	}
	if err := guard(ticket); err != nil {
		return nil, derrors.New(derrors.CodeConflict, derrors.MessageOf(err))
	}

	now := s.clock().UTC()
	updated, err := s.store.Transition(ctx, id, models.StatusServing, next, officerID, now)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, derrors.New(derrors.CodeConflict, "ticket is not being served")
		}
		return nil, s.translateStoreErr(err, "failed to resolve ticket")
	}

	s.logger.InfoContext(ctx, "ticket resolved",
		"ticket_id", id,
		"office_id", updated.OfficeID,
		"status", next,
	)
	if s.metrics != nil {
		s.metrics.IncTransition(string(updated.OfficeID), string(next))
		if d := updated.ServiceDuration(); d > 0 {
			s.metrics.ObserveService(string(updated.OfficeID), d)
		}
	}
	if next == models.StatusCompleted && s.estimator != nil {
		if d := updated.ServiceDuration(); d > 0 {
			s.estimator.RecordCompletion(updated.OfficeID, updated.ServiceName, d)
		}
	}

	eventType, ok := event.TypeForStatus(next)
	if ok {
		s.publish(ctx, event.New(eventType, *updated, now))
	}
	return updated, nil
}

func (s *Service) details(ctx context.Context, ticket *models.Ticket) (*TicketDetails, error) {
	position, err := s.queue.Position(ctx, ticket)
	if err != nil {
		return nil, derrors.Wrap(err, derrors.CodeInternal, "failed to compute position")
	}
	details := &TicketDetails{Ticket: *ticket, Position: position}
	if s.estimator != nil && position > 0 {
		details.EstimatedWait = s.estimator.Estimate(position, ticket.OfficeID, ticket.ServiceName)
	}
	return details, nil
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	for _, p := range s.publishers {
		p.Publish(ctx, evt)
	}
}

func (s *Service) translateStoreErr(err error, msg string) error {
	switch {
	case errors.Is(err, sentinel.ErrNotFound):
		return derrors.New(derrors.CodeNotFound, "ticket not found")
	case errors.Is(err, sentinel.ErrConflict):
		return derrors.New(derrors.CodeConflict, "ticket changed concurrently")
	default:
		return derrors.Wrap(err, derrors.CodeInternal, msg)
	}
}
