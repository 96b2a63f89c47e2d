package domain

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Typed identifiers for the queue domain. These are domain primitives that
// keep the different identity spaces from being mixed up at compile time.

// TicketID is the engine-wide ticket identifier, assigned monotonically by
// the ticket store at creation time.
type TicketID int64

func (t TicketID) String() string { return strconv.FormatInt(int64(t), 10) }

// IsZero reports whether the ID has not been assigned.
func (t TicketID) IsZero() bool { return t == 0 }

// ParseTicketID parses a decimal ticket ID.
func ParseTicketID(s string) (TicketID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid ticket id: %q", s)
	}
	return TicketID(n), nil
}

// CitizenID identifies the citizen who requested a ticket. It is opaque to
// the engine; the auth collaborator supplies it.
type CitizenID uuid.UUID

func (c CitizenID) String() string { return uuid.UUID(c).String() }
func (c CitizenID) IsNil() bool    { return uuid.UUID(c) == uuid.Nil }

// MarshalText renders the ID in canonical UUID form for JSON payloads.
func (c CitizenID) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText parses the canonical UUID form.
func (c *CitizenID) UnmarshalText(b []byte) error {
	parsed, err := ParseCitizenID(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCitizenID parses a citizen ID from its string form.
func ParseCitizenID(s string) (CitizenID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return CitizenID{}, fmt.Errorf("invalid citizen id: %w", err)
	}
	return CitizenID(u), nil
}

// OfficerID identifies the officer acting on a ticket.
type OfficerID uuid.UUID

func (o OfficerID) String() string { return uuid.UUID(o).String() }
func (o OfficerID) IsNil() bool    { return uuid.UUID(o) == uuid.Nil }

// MarshalText renders the ID in canonical UUID form for JSON payloads.
func (o OfficerID) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// UnmarshalText parses the canonical UUID form.
func (o *OfficerID) UnmarshalText(b []byte) error {
	parsed, err := ParseOfficerID(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// ParseOfficerID parses an officer ID from its string form.
func ParseOfficerID(s string) (OfficerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return OfficerID{}, fmt.Errorf("invalid officer id: %w", err)
	}
	return OfficerID(u), nil
}

// OfficeID is the short catalog code of an office (e.g. "moh").
type OfficeID string

func (o OfficeID) String() string { return string(o) }
