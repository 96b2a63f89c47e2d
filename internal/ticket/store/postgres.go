package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"govqueue/internal/ticket/models"
	"govqueue/pkg/domain"
	"govqueue/pkg/platform/sentinel"
)

// Postgres implements Store on PostgreSQL. Concurrency control maps onto the
// database: per-office sequence assignment is an atomic upsert on the
// office_sequences row, Transition is a conditional UPDATE (the CAS), and
// ClaimNext uses FOR UPDATE SKIP LOCKED so concurrent claims on one office
// hand out distinct rows without blocking each other.
type Postgres struct {
	db *sql.DB
}

// NewPostgres constructs a postgres-backed ticket store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// Schema creates the tables the store needs. Deployments run migrations out
// of band; tests call this directly.
const Schema = `
CREATE TABLE IF NOT EXISTS office_sequences (
	office_id TEXT PRIMARY KEY,
	last_seq  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tickets (
	id           BIGSERIAL PRIMARY KEY,
	office_id    TEXT NOT NULL,
	service_name TEXT NOT NULL,
	citizen_id   UUID NOT NULL,
	officer_id   UUID,
	status       TEXT NOT NULL,
	sequence     BIGINT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	called_at    TIMESTAMPTZ,
	resolved_at  TIMESTAMPTZ,
	UNIQUE (office_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_tickets_office_status ON tickets (office_id, status);
CREATE INDEX IF NOT EXISTS idx_tickets_citizen ON tickets (citizen_id);
`

const ticketColumns = `id, office_id, service_name, citizen_id, officer_id, status, sequence, created_at, called_at, resolved_at`

// Create inserts the ticket, assigning its per-office sequence atomically
// via the office_sequences upsert inside one transaction.
func (s *Postgres) Create(ctx context.Context, ticket *models.Ticket) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	var seq uint64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO office_sequences (office_id, last_seq)
		VALUES ($1, 1)
		ON CONFLICT (office_id) DO UPDATE SET
			last_seq = office_sequences.last_seq + 1
		RETURNING last_seq
	`, string(ticket.OfficeID)).Scan(&seq)
	if err != nil {
		return fmt.Errorf("assign sequence: %w", err)
	}

	var id int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO tickets (office_id, service_name, citizen_id, status, sequence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		string(ticket.OfficeID),
		ticket.ServiceName,
		uuid.UUID(ticket.CitizenID),
		string(ticket.Status),
		seq,
		ticket.CreatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}

	ticket.ID = domain.TicketID(id)
	ticket.Sequence = seq
	return nil
}

// Get returns a snapshot of the ticket.
func (s *Postgres) Get(ctx context.Context, id domain.TicketID) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, int64(id))
	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	return ticket, nil
}

// Transition is the status CAS: the UPDATE applies only when the row still
// holds the expected status. Zero rows means either a stale expectation or
// an unknown ticket; a follow-up existence check separates the two.
func (s *Postgres) Transition(ctx context.Context, id domain.TicketID, expected, next models.Status, officerID domain.OfficerID, at time.Time) (*models.Ticket, error) {
	var officer any
	if !officerID.IsNil() {
		officer = uuid.UUID(officerID)
	}

	row := s.db.QueryRowContext(ctx, `
		UPDATE tickets SET
			status      = $3,
			officer_id  = COALESCE($4, officer_id),
			called_at   = CASE WHEN $3 = 'serving' THEN $5 ELSE called_at END,
			resolved_at = CASE WHEN $3 IN ('completed', 'skipped', 'cancelled') THEN $5 ELSE resolved_at END
		WHERE id = $1 AND status = $2
		RETURNING `+ticketColumns,
		int64(id), string(expected), string(next), officer, at)

	ticket, err := scanTicket(row)
	if err == nil {
		return ticket, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transition ticket: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check ticket exists: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrConflict
}

// ClaimNext pops the head of the office's waiting queue. SKIP LOCKED makes
// concurrent claims take distinct rows; claims on other offices touch
// disjoint row sets and never contend.
func (s *Postgres) ClaimNext(ctx context.Context, officeID domain.OfficeID, officerID domain.OfficerID, at time.Time) (*models.Ticket, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE tickets SET
			status     = 'serving',
			officer_id = $1,
			called_at  = $2
		WHERE id = (
			SELECT id FROM tickets
			WHERE office_id = $3 AND status = 'waiting'
			ORDER BY sequence
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+ticketColumns,
		uuid.UUID(officerID), at, string(officeID))

	ticket, err := scanTicket(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoTicketAvailable
		}
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return ticket, nil
}

// ListByOffice returns the office's tickets ordered by sequence.
func (s *Postgres) ListByOffice(ctx context.Context, officeID domain.OfficeID) ([]models.Ticket, error) {
	return s.List(ctx, Filter{OfficeID: &officeID})
}

// List returns a filtered snapshot, sorted by office then sequence.
func (s *Postgres) List(ctx context.Context, filter Filter) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE 1=1`
	var args []any
	if filter.CitizenID != nil {
		args = append(args, uuid.UUID(*filter.CitizenID))
		query += fmt.Sprintf(" AND citizen_id = $%d", len(args))
	}
	if filter.OfficeID != nil {
		args = append(args, string(*filter.OfficeID))
		query += fmt.Sprintf(" AND office_id = $%d", len(args))
	}
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += ` ORDER BY office_id, sequence`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		out = append(out, *ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tickets: %w", err)
	}
	return out, nil
}

// CountOpen returns the waiting+serving ticket count for an office.
func (s *Postgres) CountOpen(ctx context.Context, officeID domain.OfficeID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE office_id = $1 AND status = ANY($2)
	`, string(officeID), pq.Array([]string{string(models.StatusWaiting), string(models.StatusServing)})).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count open tickets: %w", err)
	}
	return count, nil
}

// CountByStatus returns per-status counts for an office.
func (s *Postgres) CountByStatus(ctx context.Context, officeID domain.OfficeID) (map[models.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tickets
		WHERE office_id = $1
		GROUP BY status
	`, string(officeID))
	if err != nil {
		return nil, fmt.Errorf("count tickets by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.Status]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[models.Status(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (*models.Ticket, error) {
	var (
		t         models.Ticket
		id        int64
		officeID  string
		citizenID uuid.UUID
		officerID sql.NullString
		status    string
		seq       int64
	)
	err := row.Scan(&id, &officeID, &t.ServiceName, &citizenID, &officerID,
		&status, &seq, &t.CreatedAt, &t.CalledAt, &t.ResolvedAt)
	if err != nil {
		return nil, err
	}
	t.ID = domain.TicketID(id)
	t.OfficeID = domain.OfficeID(officeID)
	t.CitizenID = domain.CitizenID(citizenID)
	if officerID.Valid {
		parsed, err := uuid.Parse(officerID.String)
		if err != nil {
			return nil, fmt.Errorf("parse officer id: %w", err)
		}
		t.OfficerID = domain.OfficerID(parsed)
	}
	t.Status = models.Status(status)
	t.Sequence = uint64(seq)
	return &t, nil
}

var _ Store = (*Postgres)(nil)
