package handler

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"govqueue/internal/catalog"
	"govqueue/internal/notify"
	"govqueue/internal/ticket/service"
	"govqueue/internal/ticket/store"
	"govqueue/pkg/domain"
	"govqueue/pkg/requestcontext"
)

// identityFromHeaders injects caller identity from test headers, standing in
// for the JWT middleware.
func identityFromHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if raw := r.Header.Get("X-Test-Caller"); raw != "" {
			callerID, err := uuid.Parse(raw)
			if err == nil {
				ctx = requestcontext.WithCallerID(ctx, callerID)
			}
		}
		if raw := r.Header.Get("X-Test-Role"); raw != "" {
			ctx = requestcontext.WithRole(ctx, domain.Role(raw))
		}
		if raw := r.Header.Get("X-Test-Office"); raw != "" {
			ctx = requestcontext.WithOfficeID(ctx, domain.OfficeID(raw))
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type fixture struct {
	router http.Handler
	hub    *notify.Hub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.New([]catalog.Office{
		{
			ID:     "moh",
			Name:   "Ministry of Health",
			Active: true,
			Services: []catalog.Service{
				{Name: "Medical Certificate", Code: "MED", EstimatedDuration: 15, Active: true},
			},
		},
		{
			ID:       "tax",
			Name:     "Tax Office",
			Active:   true,
			Services: []catalog.Service{{Name: "Tax Filing", Code: "TAX", Active: true}},
		},
	})
	require.NoError(t, err)

	hub := notify.NewHub()
	svc := service.New(store.NewInMemory(), cat, service.WithPublisher(hub))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := New(svc, cat, hub, logger)
	r := chi.NewRouter()
	r.Use(identityFromHeaders)
	h.Register(r)
	return &fixture{router: r, hub: hub}
}

func (f *fixture) do(t *testing.T, method, path string, body any, identity map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range identity {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func citizen(id uuid.UUID) map[string]string {
	return map[string]string{"X-Test-Caller": id.String(), "X-Test-Role": "citizen"}
}

func officer(id uuid.UUID, officeID string) map[string]string {
	return map[string]string{"X-Test-Caller": id.String(), "X-Test-Role": "officer", "X-Test-Office": officeID}
}

func admin(id uuid.UUID) map[string]string {
	return map[string]string{"X-Test-Caller": id.String(), "X-Test-Role": "admin"}
}

type ticketDetailsResp struct {
	Ticket struct {
		ID       int64  `json:"id"`
		OfficeID string `json:"office_id"`
		Status   string `json:"status"`
	} `json:"ticket"`
	Position int `json:"position"`
}

func (f *fixture) requestTicket(t *testing.T, citizenID uuid.UUID, officeID, serviceName string) ticketDetailsResp {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/tickets",
		TicketRequest{OfficeID: officeID, ServiceName: serviceName}, citizen(citizenID))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp ticketDetailsResp
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

func TestRequestTicket(t *testing.T) {
	f := newFixture(t)
	citizenID := uuid.New()

	resp := f.requestTicket(t, citizenID, "moh", "Medical Certificate")
	require.Equal(t, 1, resp.Position)
	require.Equal(t, "waiting", resp.Ticket.Status)

	t.Run("unknown office", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/tickets",
			TicketRequest{OfficeID: "nowhere", ServiceName: "Medical Certificate"}, citizen(citizenID))
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("service not offered", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/tickets",
			TicketRequest{OfficeID: "tax", ServiceName: "Medical Certificate"}, citizen(citizenID))
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no identity", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/tickets",
			TicketRequest{OfficeID: "moh", ServiceName: "Medical Certificate"}, nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tickets", strings.NewReader("{"))
		for k, v := range citizen(citizenID) {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestGetTicketVisibility(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	resp := f.requestTicket(t, owner, "moh", "Medical Certificate")
	path := fmt.Sprintf("/tickets/%d", resp.Ticket.ID)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, nil, citizen(owner)).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, nil, citizen(uuid.New())).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, nil, officer(uuid.New(), "moh")).Code)
	require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, path, nil, officer(uuid.New(), "tax")).Code)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, path, nil, admin(uuid.New())).Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/tickets/9999", nil, citizen(owner)).Code)
	require.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/tickets/abc", nil, citizen(owner)).Code)
}

func TestCancelTicket(t *testing.T) {
	f := newFixture(t)
	owner := uuid.New()
	resp := f.requestTicket(t, owner, "moh", "Medical Certificate")
	path := fmt.Sprintf("/tickets/%d/cancel", resp.Ticket.ID)

	rec := f.do(t, http.MethodPost, path, nil, citizen(uuid.New()))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, citizen(owner))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodPost, path, nil, citizen(owner))
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestCallNext(t *testing.T) {
	f := newFixture(t)
	officerID := uuid.New()

	t.Run("citizen forbidden", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/offices/moh/next", nil, citizen(uuid.New()))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("officer of another office forbidden", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/offices/moh/next", nil, officer(officerID, "tax"))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("empty queue is 204", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/offices/moh/next", nil, officer(officerID, "moh"))
		require.Equal(t, http.StatusNoContent, rec.Code)
	})

	t.Run("claims in order then completes", func(t *testing.T) {
		first := f.requestTicket(t, uuid.New(), "moh", "Medical Certificate")
		f.requestTicket(t, uuid.New(), "moh", "Medical Certificate")

		rec := f.do(t, http.MethodPost, "/offices/moh/next", nil, officer(officerID, "moh"))
		require.Equal(t, http.StatusOK, rec.Code)

		var called struct {
			ID     int64  `json:"id"`
			Status string `json:"status"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&called))
		require.Equal(t, first.Ticket.ID, called.ID)
		require.Equal(t, "serving", called.Status)

		rec = f.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/complete", called.ID), nil, officer(officerID, "moh"))
		require.Equal(t, http.StatusOK, rec.Code)

		// Completing again conflicts: terminal states stay terminal.
		rec = f.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/complete", called.ID), nil, officer(officerID, "moh"))
		require.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("admin may call on any office", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/offices/moh/next", nil, admin(uuid.New()))
		require.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestSkipTicket(t *testing.T) {
	f := newFixture(t)
	officerID := uuid.New()
	f.requestTicket(t, uuid.New(), "moh", "Medical Certificate")

	rec := f.do(t, http.MethodPost, "/offices/moh/next", nil, officer(officerID, "moh"))
	require.Equal(t, http.StatusOK, rec.Code)
	var called struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&called))

	t.Run("another officer cannot skip", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/skip", called.ID), nil, officer(uuid.New(), "moh"))
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	rec = f.do(t, http.MethodPost, fmt.Sprintf("/tickets/%d/skip", called.ID), nil, officer(officerID, "moh"))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListTicketsScoping(t *testing.T) {
	f := newFixture(t)
	alice := uuid.New()
	bob := uuid.New()
	f.requestTicket(t, alice, "moh", "Medical Certificate")
	f.requestTicket(t, bob, "moh", "Medical Certificate")
	f.requestTicket(t, bob, "tax", "Tax Filing")

	decode := func(rec *httptest.ResponseRecorder) int {
		var resp struct {
			Tickets []json.RawMessage `json:"tickets"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		return len(resp.Tickets)
	}

	rec := f.do(t, http.MethodGet, "/tickets", nil, citizen(alice))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 1, decode(rec))

	rec = f.do(t, http.MethodGet, "/tickets", nil, citizen(bob))
	require.Equal(t, 2, decode(rec))

	rec = f.do(t, http.MethodGet, "/tickets", nil, officer(uuid.New(), "moh"))
	require.Equal(t, 2, decode(rec))

	rec = f.do(t, http.MethodGet, "/tickets?office_id=tax", nil, admin(uuid.New()))
	require.Equal(t, 1, decode(rec))

	rec = f.do(t, http.MethodGet, "/tickets?status=bogus", nil, citizen(alice))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOfficeEndpoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/offices", nil, citizen(uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)
	var offices struct {
		Offices []json.RawMessage `json:"offices"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&offices))
	require.Len(t, offices.Offices, 2)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/offices/moh", nil, citizen(uuid.New())).Code)
	require.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/offices/nowhere", nil, citizen(uuid.New())).Code)

	f.requestTicket(t, uuid.New(), "moh", "Medical Certificate")
	rec = f.do(t, http.MethodGet, "/offices/moh/queue", nil, citizen(uuid.New()))
	require.Equal(t, http.StatusOK, rec.Code)

	t.Run("stats require officer role", func(t *testing.T) {
		require.Equal(t, http.StatusForbidden, f.do(t, http.MethodGet, "/offices/moh/stats", nil, citizen(uuid.New())).Code)

		rec := f.do(t, http.MethodGet, "/offices/moh/stats", nil, officer(uuid.New(), "moh"))
		require.Equal(t, http.StatusOK, rec.Code)
		var stats struct {
			Waiting int `json:"waiting"`
		}
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&stats))
		require.Equal(t, 1, stats.Waiting)
	})
}

func TestOfficeEventsStream(t *testing.T) {
	f := newFixture(t)
	citizenID := uuid.New()

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/offices/moh/events", nil)
	require.NoError(t, err)
	for k, v := range citizen(citizenID) {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// Wait for the stream to attach before producing an event.
	require.Eventually(t, func() bool {
		return f.hub.SubscriberCount("moh") == 1
	}, time.Second, 10*time.Millisecond)

	f.requestTicket(t, citizenID, "moh", "Medical Certificate")

	scanner := bufio.NewScanner(resp.Body)
	var sawEvent, sawData bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: ticket.created" {
			sawEvent = true
		}
		if sawEvent && strings.HasPrefix(line, "data: ") {
			sawData = true
			break
		}
	}
	require.True(t, sawEvent, "stream never carried the created event")
	require.True(t, sawData, "event frame carried no data line")
}

func TestOfficeEventsUnknownOffice(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/offices/nowhere/events", nil, citizen(uuid.New()))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
