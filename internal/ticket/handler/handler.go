// Package handler exposes the queue engine over HTTP. It adapts transport
// concerns (decoding, role checks, SSE framing) onto the ticket service.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"govqueue/internal/catalog"
	"govqueue/internal/event"
	"govqueue/internal/notify"
	"govqueue/internal/queue"
	"govqueue/internal/ticket/models"
	"govqueue/internal/ticket/service"
	"govqueue/internal/ticket/store"
	"govqueue/pkg/domain"
	derrors "govqueue/pkg/domain-errors"
	"govqueue/pkg/platform/httputil"
	"govqueue/pkg/requestcontext"
)

// QueueService defines the ticket operations the handler depends on.
type QueueService interface {
	RequestTicket(ctx context.Context, citizenID domain.CitizenID, officeID domain.OfficeID, serviceName string) (*service.TicketDetails, error)
	GetTicket(ctx context.Context, id domain.TicketID) (*service.TicketDetails, error)
	ListTickets(ctx context.Context, filter store.Filter) ([]models.Ticket, error)
	WaitingLine(ctx context.Context, officeID domain.OfficeID) ([]queue.Entry, error)
	CallNext(ctx context.Context, officeID domain.OfficeID, officerID domain.OfficerID) (*models.Ticket, error)
	CompleteTicket(ctx context.Context, id domain.TicketID, officerID domain.OfficerID) (*models.Ticket, error)
	SkipTicket(ctx context.Context, id domain.TicketID, officerID domain.OfficerID) (*models.Ticket, error)
	CancelTicket(ctx context.Context, id domain.TicketID, citizenID domain.CitizenID) (*models.Ticket, error)
	Stats(ctx context.Context, officeID domain.OfficeID) (*service.OfficeStats, error)
}

// Handler wires queue endpoints to the ticket service.
type Handler struct {
	service QueueService
	catalog *catalog.Catalog
	hub     *notify.Hub
	logger  *slog.Logger
}

// New constructs a queue handler. The hub may be nil; the events endpoint
// then reports unavailable.
func New(svc QueueService, cat *catalog.Catalog, hub *notify.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		service: svc,
		catalog: cat,
		hub:     hub,
		logger:  logger,
	}
}

// Register mounts queue endpoints on the router. Mount behind RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Post("/", h.HandleRequestTicket)
		r.Get("/", h.HandleListTickets)
		r.Get("/{ticketID}", h.HandleGetTicket)
		r.Post("/{ticketID}/cancel", h.HandleCancelTicket)
		r.Post("/{ticketID}/complete", h.HandleCompleteTicket)
		r.Post("/{ticketID}/skip", h.HandleSkipTicket)
	})
	r.Route("/offices", func(r chi.Router) {
		r.Get("/", h.HandleListOffices)
		r.Get("/{officeID}", h.HandleGetOffice)
		r.Get("/{officeID}/queue", h.HandleOfficeQueue)
		r.Get("/{officeID}/stats", h.HandleOfficeStats)
		r.Get("/{officeID}/events", h.HandleOfficeEvents)
		r.Post("/{officeID}/next", h.HandleCallNext)
	})
}

// TicketRequest is the body for POST /tickets.
type TicketRequest struct {
	OfficeID    string `json:"office_id"`
	ServiceName string `json:"service_name"`
}

// HandleRequestTicket handles POST /tickets.
func (h *Handler) HandleRequestTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	citizenID := domain.CitizenID(requestcontext.CallerID(ctx))
	if citizenID.IsNil() {
		httputil.WriteError(w, derrors.New(derrors.CodeUnauthorized, "authentication required"))
		return
	}

	req, ok := httputil.Decode[TicketRequest](w, r, h.logger)
	if !ok {
		return
	}

	details, err := h.service.RequestTicket(ctx, citizenID, domain.OfficeID(req.OfficeID), req.ServiceName)
	if err != nil {
		h.logger.ErrorContext(ctx, "ticket request failed",
			"request_id", requestcontext.RequestID(ctx),
			"office_id", req.OfficeID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, details)
}

// HandleGetTicket handles GET /tickets/{ticketID}. A citizen sees only their
// own tickets; officers see tickets of their assigned office; admins see all.
func (h *Handler) HandleGetTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ticketID, err := domain.ParseTicketID(chi.URLParam(r, "ticketID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "invalid ticket id"))
		return
	}

	details, err := h.service.GetTicket(ctx, ticketID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.canViewTicket(ctx, &details.Ticket); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, details)
}

// HandleListTickets handles GET /tickets. Citizens are scoped to their own
// tickets, officers to their assigned office; admins may filter freely via
// office_id, citizen_id and status query parameters.
func (h *Handler) HandleListTickets(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := h.listFilter(ctx, r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	tickets, err := h.service.ListTickets(ctx, filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"tickets": tickets})
}

// HandleCancelTicket handles POST /tickets/{ticketID}/cancel.
func (h *Handler) HandleCancelTicket(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	ticketID, err := domain.ParseTicketID(chi.URLParam(r, "ticketID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "invalid ticket id"))
		return
	}

	citizenID := domain.CitizenID(requestcontext.CallerID(ctx))
	ticket, err := h.service.CancelTicket(ctx, ticketID, citizenID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ticket)
}

// HandleCompleteTicket handles POST /tickets/{ticketID}/complete.
func (h *Handler) HandleCompleteTicket(w http.ResponseWriter, r *http.Request) {
	h.resolveTicket(w, r, h.service.CompleteTicket)
}

// HandleSkipTicket handles POST /tickets/{ticketID}/skip.
func (h *Handler) HandleSkipTicket(w http.ResponseWriter, r *http.Request) {
	h.resolveTicket(w, r, h.service.SkipTicket)
}

func (h *Handler) resolveTicket(w http.ResponseWriter, r *http.Request, op func(context.Context, domain.TicketID, domain.OfficerID) (*models.Ticket, error)) {
	ctx := r.Context()

	if !requestcontext.Role(ctx).CanOperate() {
		httputil.WriteError(w, derrors.New(derrors.CodeForbidden, "officer role required"))
		return
	}
	ticketID, err := domain.ParseTicketID(chi.URLParam(r, "ticketID"))
	if err != nil {
		httputil.WriteError(w, derrors.New(derrors.CodeValidation, "invalid ticket id"))
		return
	}

	officerID := domain.OfficerID(requestcontext.CallerID(ctx))
	ticket, err := op(ctx, ticketID, officerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ticket)
}

// HandleCallNext handles POST /offices/{officeID}/next. An empty queue is a
// 204, not an error.
func (h *Handler) HandleCallNext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	officeID := domain.OfficeID(chi.URLParam(r, "officeID"))
	if err := h.requireOfficerFor(ctx, officeID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	officerID := domain.OfficerID(requestcontext.CallerID(ctx))
	ticket, err := h.service.CallNext(ctx, officeID, officerID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if ticket == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ticket)
}

// HandleListOffices handles GET /offices.
func (h *Handler) HandleListOffices(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"offices": h.catalog.Offices()})
}

// HandleGetOffice handles GET /offices/{officeID}.
func (h *Handler) HandleGetOffice(w http.ResponseWriter, r *http.Request) {
	office, ok := h.catalog.Office(domain.OfficeID(chi.URLParam(r, "officeID")))
	if !ok {
		httputil.WriteError(w, derrors.New(derrors.CodeNotFound, "office not found"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, office)
}

// HandleOfficeQueue handles GET /offices/{officeID}/queue: the waiting line
// in order, with positions.
func (h *Handler) HandleOfficeQueue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	officeID := domain.OfficeID(chi.URLParam(r, "officeID"))
	entries, err := h.service.WaitingLine(ctx, officeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"office_id": officeID, "waiting": entries})
}

// HandleOfficeStats handles GET /offices/{officeID}/stats.
func (h *Handler) HandleOfficeStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	officeID := domain.OfficeID(chi.URLParam(r, "officeID"))
	if err := h.requireOfficerFor(ctx, officeID); err != nil {
		httputil.WriteError(w, err)
		return
	}

	stats, err := h.service.Stats(ctx, officeID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// HandleOfficeEvents handles GET /offices/{officeID}/events as a
// server-sent-events stream of the office's lifecycle events. Events are
// refresh hints; clients re-query for authoritative state.
func (h *Handler) HandleOfficeEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.hub == nil {
		httputil.WriteError(w, derrors.New(derrors.CodeInternal, "event stream unavailable"))
		return
	}
	officeID := domain.OfficeID(chi.URLParam(r, "officeID"))
	if _, ok := h.catalog.Office(officeID); !ok {
		httputil.WriteError(w, derrors.New(derrors.CodeNotFound, "office not found"))
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, derrors.New(derrors.CodeInternal, "streaming unsupported"))
		return
	}

	sub := h.hub.Subscribe(officeID)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, open := <-sub.Events():
			if !open {
				return
			}
			if err := writeSSE(w, evt); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt event.Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
	return err
}

// canViewTicket enforces read visibility: the owning citizen, an officer of
// the ticket's office, or an admin.
func (h *Handler) canViewTicket(ctx context.Context, ticket *models.Ticket) error {
	role := requestcontext.Role(ctx)
	switch {
	case role == domain.RoleAdmin:
		return nil
	case role == domain.RoleOfficer:
		if requestcontext.OfficeID(ctx) != ticket.OfficeID {
			return derrors.New(derrors.CodeForbidden, "ticket belongs to another office")
		}
		return nil
	default:
		if domain.CitizenID(requestcontext.CallerID(ctx)) != ticket.CitizenID {
			return derrors.New(derrors.CodeForbidden, "ticket belongs to another citizen")
		}
		return nil
	}
}

// requireOfficerFor enforces officer-side access scoped to the officer's
// assigned office. Admins may operate on any office.
func (h *Handler) requireOfficerFor(ctx context.Context, officeID domain.OfficeID) error {
	role := requestcontext.Role(ctx)
	if !role.CanOperate() {
		return derrors.New(derrors.CodeForbidden, "officer role required")
	}
	if role == domain.RoleOfficer && requestcontext.OfficeID(ctx) != officeID {
		return derrors.New(derrors.CodeForbidden, "officer is assigned to another office")
	}
	return nil
}

func (h *Handler) listFilter(ctx context.Context, r *http.Request) (store.Filter, error) {
	var filter store.Filter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := models.Status(raw)
		if !status.Valid() {
			return filter, derrors.New(derrors.CodeValidation, "invalid status filter")
		}
		filter.Status = &status
	}

	role := requestcontext.Role(ctx)
	switch role {
	case domain.RoleAdmin:
		if raw := r.URL.Query().Get("office_id"); raw != "" {
			officeID := domain.OfficeID(raw)
			filter.OfficeID = &officeID
		}
		if raw := r.URL.Query().Get("citizen_id"); raw != "" {
			citizenID, err := domain.ParseCitizenID(raw)
			if err != nil {
				return filter, derrors.New(derrors.CodeValidation, "invalid citizen id filter")
			}
			filter.CitizenID = &citizenID
		}
	case domain.RoleOfficer:
		officeID := requestcontext.OfficeID(ctx)
		filter.OfficeID = &officeID
	default:
		citizenID := domain.CitizenID(requestcontext.CallerID(ctx))
		if citizenID.IsNil() {
			return filter, derrors.New(derrors.CodeUnauthorized, "authentication required")
		}
		filter.CitizenID = &citizenID
	}
	return filter, nil
}
