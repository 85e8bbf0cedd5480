package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/slots"
)

type SlotComputer interface {
	Compute(ctx context.Context, q slots.Query) (slots.Result, error)
}

type SlotsHandler struct {
	calc       SlotComputer
	logger     *slog.Logger
	now        func() time.Time
	retryAfter time.Duration
}

func NewSlotsHandler(calc SlotComputer, logger *slog.Logger, now func() time.Time, retryAfter time.Duration) *SlotsHandler {
	if now == nil {
		now = time.Now
	}
	return &SlotsHandler{calc: calc, logger: logger, now: now, retryAfter: retryAfter}
}

type slotItem struct {
	StartUTC   string `json:"start_utc"`
	EndUTC     string `json:"end_utc"`
	StartLocal string `json:"start_local"`
	EndLocal   string `json:"end_local"`
}

type slotsResponse struct {
	ServiceID      string     `json:"service_id"`
	Timezone       string     `json:"timezone"`
	TurnaroundDays int        `json:"turnaround_days"`
	Slots          []slotItem `json:"slots"`
}

// List serves GET /api/v1/public/slots?service_id=&start=&end=&timezone=.
func (h *SlotsHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	start, err := parseInstant(q.Get("start"), "start")
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}
	end, err := parseInstant(q.Get("end"), "end")
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}

	res, err := h.calc.Compute(r.Context(), slots.Query{
		ServiceID:       q.Get("service_id"),
		RangeStart:      start,
		RangeEnd:        end,
		DisplayTimezone: q.Get("timezone"),
		Now:             h.now(),
	})
	if err != nil {
		writeError(w, r, h.logger, h.retryAfter, err)
		return
	}

	resp := slotsResponse{
		ServiceID:      res.Service.ID,
		Timezone:       res.Location.String(),
		TurnaroundDays: res.Service.TurnaroundDays,
		Slots:          make([]slotItem, 0, len(res.Slots)),
	}
	for _, s := range res.Slots {
		resp.Slots = append(resp.Slots, slotItem{
			StartUTC:   formatInstant(s.Start.UTC()),
			EndUTC:     formatInstant(s.End.UTC()),
			StartLocal: formatInstant(s.DisplayStart),
			EndLocal:   formatInstant(s.DisplayEnd),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
