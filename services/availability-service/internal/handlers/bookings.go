package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidyslot/tidyslot/libs/auth"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/booking"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/tz"
)

type BookingService interface {
	Reserve(ctx context.Context, req booking.ReserveRequest) (model.Booking, error)
	Cancel(ctx context.Context, bookingID, reason string) (model.Booking, error)
	RecordOutcome(ctx context.Context, bookingID string, status model.BookingStatus) (model.Booking, error)
	Get(ctx context.Context, bookingID string) (model.Booking, error)
	ListForOwner(ctx context.Context, ownerID string, from, to time.Time) ([]model.Booking, error)
}

type BookingHandler struct {
	guard      BookingService
	logger     *slog.Logger
	retryAfter time.Duration
}

func NewBookingHandler(guard BookingService, logger *slog.Logger, retryAfter time.Duration) *BookingHandler {
	return &BookingHandler{guard: guard, logger: logger, retryAfter: retryAfter}
}

type inviteeBody struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

type reserveRequest struct {
	ServiceID string      `json:"service_id"`
	StartUTC  string      `json:"start_utc"`
	EndUTC    string      `json:"end_utc"`
	Timezone  string      `json:"timezone"`
	Invitee   inviteeBody `json:"invitee"`
}

type cancelRequest struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type outcomeRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

type bookingResponse struct {
	BookingID    string      `json:"booking_id"`
	OwnerID      string      `json:"owner_id"`
	ServiceID    string      `json:"service_id"`
	StartUTC     string      `json:"start_utc"`
	EndUTC       string      `json:"end_utc"`
	StartLocal   string      `json:"start_local"`
	Timezone     string      `json:"timezone"`
	Status       string      `json:"status"`
	Invitee      inviteeBody `json:"invitee"`
	CancelledAt  string      `json:"cancelled_at,omitempty"`
	CancelReason string      `json:"cancel_reason,omitempty"`
	CreatedAt    string      `json:"created_at"`
}

type listBookingsResponse struct {
	Bookings []bookingResponse `json:"bookings"`
}

func toBookingResponse(b model.Booking) bookingResponse {
	resp := bookingResponse{
		BookingID:    b.ID,
		OwnerID:      b.OwnerID,
		ServiceID:    b.ServiceID,
		StartUTC:     formatInstant(b.Start.UTC()),
		EndUTC:       formatInstant(b.End.UTC()),
		StartLocal:   formatInstant(b.Start.UTC()),
		Timezone:     b.Timezone,
		Status:       string(b.Status),
		Invitee:      inviteeBody{Name: b.Invitee.Name, Email: b.Invitee.Email, Phone: b.Invitee.Phone},
		CancelReason: b.CancelReason,
		CreatedAt:    formatInstant(b.CreatedAt.UTC()),
	}
	if loc, err := tz.LoadLocation(b.Timezone); err == nil {
		resp.StartLocal = formatInstant(b.Start.In(loc))
	}
	if b.CancelledAt != nil {
		resp.CancelledAt = formatInstant(b.CancelledAt.UTC())
	}
	return resp
}

// Reserve serves POST /api/v1/public/reserve.
func (h *BookingHandler) Reserve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req reserveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	start, err := parseInstant(req.StartUTC, "start_utc")
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	end, err := parseInstant(req.EndUTC, "end_utc")
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}

	b, err := h.guard.Reserve(r.Context(), booking.ReserveRequest{
		ServiceID: req.ServiceID,
		Start:     start,
		End:       end,
		Timezone:  req.Timezone,
		Invitee:   model.Invitee{Name: req.Invitee.Name, Email: req.Invitee.Email, Phone: req.Invitee.Phone},
	})
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

// Cancel serves POST /api/v1/bookings/cancel. Cancelling twice returns the
// cancelled booking again.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req cancelRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.authorize(w, r, req.BookingID) {
		return
	}
	b, err := h.guard.Cancel(r.Context(), req.BookingID, strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// Outcome serves POST /api/v1/bookings/outcome.
func (h *BookingHandler) Outcome(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req outcomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if !h.authorize(w, r, req.BookingID) {
		return
	}
	status := model.BookingStatus(strings.ToLower(strings.TrimSpace(req.Status)))
	b, err := h.guard.RecordOutcome(r.Context(), req.BookingID, status)
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// Get serves GET /api/v1/bookings/get?booking_id=.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	b, err := h.guard.Get(r.Context(), r.URL.Query().Get("booking_id"))
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	if !auth.MayActFor(r.Context(), b.OwnerID) {
		forbidden(w)
		return
	}
	writeJSON(w, http.StatusOK, toBookingResponse(b))
}

// List serves GET /api/v1/bookings?owner_id=&from=&to=.
func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	if !auth.MayActFor(r.Context(), ownerID) {
		forbidden(w)
		return
	}
	from, err := parseInstant(q.Get("from"), "from")
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	to, err := parseInstant(q.Get("to"), "to")
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}

	list, err := h.guard.ListForOwner(r.Context(), ownerID, from, to)
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	resp := listBookingsResponse{Bookings: make([]bookingResponse, 0, len(list))}
	for _, b := range list {
		resp.Bookings = append(resp.Bookings, toBookingResponse(b))
	}
	writeJSON(w, http.StatusOK, resp)
}

// authorize loads the booking and checks the caller may manage its owner.
func (h *BookingHandler) authorize(w http.ResponseWriter, r *http.Request, bookingID string) bool {
	if _, ok := auth.ClaimsFromContext(r.Context()); !ok {
		return true
	}
	b, err := h.guard.Get(r.Context(), bookingID)
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return false
	}
	if !auth.MayActFor(r.Context(), b.OwnerID) {
		forbidden(w)
		return false
	}
	return true
}
