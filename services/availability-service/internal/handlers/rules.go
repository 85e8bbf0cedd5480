package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tidyslot/tidyslot/libs/auth"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/tz"
)

type RuleStore interface {
	RulesFor(ctx context.Context, ownerID, serviceID string) ([]model.AvailabilityRule, error)
	Replace(ctx context.Context, ownerID string, serviceID *string, rules []model.AvailabilityRule) error
}

type RulesHandler struct {
	store  RuleStore
	logger *slog.Logger
}

func NewRulesHandler(store RuleStore, logger *slog.Logger) *RulesHandler {
	return &RulesHandler{store: store, logger: logger}
}

type ruleItem struct {
	ID             string  `json:"id,omitempty"`
	DayOfWeek      int     `json:"day_of_week"`
	Start          string  `json:"start"`
	End            string  `json:"end"`
	Timezone       string  `json:"timezone"`
	ScopeServiceID *string `json:"scope_service_id,omitempty"`
}

type replaceRulesRequest struct {
	OwnerID   string     `json:"owner_id"`
	ServiceID string     `json:"service_id,omitempty"`
	Rules     []ruleItem `json:"rules"`
}

type rulesResponse struct {
	OwnerID   string     `json:"owner_id"`
	ServiceID string     `json:"service_id,omitempty"`
	Rules     []ruleItem `json:"rules"`
}

// ServeHTTP handles GET and PUT on /api/v1/availability/rules.
func (h *RulesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.get(w, r)
	case http.MethodPut:
		h.replace(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPut)
	}
}

// get returns the set the calculator would use: the service set when one
// exists, otherwise the owner's default set.
func (h *RulesHandler) get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ownerID, serviceID, err := scopeIDs(q.Get("owner_id"), q.Get("service_id"))
	if err != nil {
		writeError(w, r, h.logger, 0, err)
		return
	}
	if !auth.MayActFor(r.Context(), ownerID) {
		forbidden(w)
		return
	}
	list, err := h.store.RulesFor(r.Context(), ownerID, serviceID)
	if err != nil {
		writeError(w, r, h.logger, 0, err)
		return
	}
	resp := rulesResponse{OwnerID: ownerID, ServiceID: serviceID, Rules: make([]ruleItem, 0, len(list))}
	for _, rule := range list {
		resp.Rules = append(resp.Rules, ruleItem{
			ID:             rule.ID,
			DayOfWeek:      int(rule.DayOfWeek),
			Start:          tz.FormatClock(rule.StartMinute),
			End:            tz.FormatClock(rule.EndMinute),
			Timezone:       rule.Timezone,
			ScopeServiceID: rule.ScopeServiceID,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *RulesHandler) replace(w http.ResponseWriter, r *http.Request) {
	var req replaceRulesRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ownerID, serviceID, err := scopeIDs(req.OwnerID, req.ServiceID)
	if err != nil {
		writeError(w, r, h.logger, 0, err)
		return
	}
	if !auth.MayActFor(r.Context(), ownerID) {
		forbidden(w)
		return
	}

	var scope *string
	if serviceID != "" {
		scope = &serviceID
	}
	list := make([]model.AvailabilityRule, 0, len(req.Rules))
	for _, item := range req.Rules {
		rule, err := item.toRule(ownerID, scope)
		if err != nil {
			writeError(w, r, h.logger, 0, err)
			return
		}
		list = append(list, rule)
	}
	if err := h.store.Replace(r.Context(), ownerID, scope, list); err != nil {
		writeError(w, r, h.logger, 0, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (item ruleItem) toRule(ownerID string, scope *string) (model.AvailabilityRule, error) {
	if item.DayOfWeek < 0 || item.DayOfWeek > 6 {
		return model.AvailabilityRule{}, apperr.Validation("day_of_week", "must be between 0 (Sunday) and 6")
	}
	start, err := tz.ParseClock(item.Start)
	if err != nil {
		return model.AvailabilityRule{}, apperr.Validation("start", "must be HH:MM")
	}
	end, err := tz.ParseClock(item.End)
	if err != nil {
		return model.AvailabilityRule{}, apperr.Validation("end", "must be HH:MM")
	}
	return model.AvailabilityRule{
		OwnerID:        ownerID,
		ScopeServiceID: scope,
		DayOfWeek:      time.Weekday(item.DayOfWeek),
		StartMinute:    start,
		EndMinute:      end,
		Timezone:       strings.TrimSpace(item.Timezone),
	}, nil
}

func scopeIDs(rawOwner, rawService string) (string, string, error) {
	ownerID := strings.TrimSpace(rawOwner)
	if _, err := uuid.Parse(ownerID); err != nil {
		return "", "", apperr.Validation("owner_id", "must be a uuid")
	}
	serviceID := strings.TrimSpace(rawService)
	if serviceID != "" {
		if _, err := uuid.Parse(serviceID); err != nil {
			return "", "", apperr.Validation("service_id", "must be a uuid")
		}
	}
	return ownerID, serviceID, nil
}
