package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidyslot/tidyslot/libs/auth"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/apperr"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/booking"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/calendar"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
	"github.com/tidyslot/tidyslot/services/availability-service/internal/slots"
)

const (
	ownerID   = "5d1c2a9e-5f0a-4c55-9d0c-8a3c7f0b1e01"
	serviceID = "9b8f6c1d-2e3a-4b5c-8d7e-0f1a2b3c4d5e"
	bookingID = "0f0e0d0c-0b0a-4909-8807-060504030201"
)

var fixedNow = time.Date(2026, 10, 5, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func withClaims(r *http.Request, subject, role string) *http.Request {
	claims := &auth.Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
	return r.WithContext(auth.ContextWithClaims(r.Context(), claims))
}

type fakeCalc struct {
	got slots.Query
	res slots.Result
	err error
}

func (f *fakeCalc) Compute(_ context.Context, q slots.Query) (slots.Result, error) {
	f.got = q
	return f.res, f.err
}

func sydneyResult(hours ...int) slots.Result {
	loc, _ := time.LoadLocation("Australia/Sydney")
	res := slots.Result{
		Service:  model.Service{ID: serviceID, OwnerID: ownerID, SlotDurationMinutes: 60, TurnaroundDays: 2},
		Location: loc,
	}
	for _, h := range hours {
		start := time.Date(2026, 10, 12, h, 0, 0, 0, loc)
		res.Slots = append(res.Slots, model.Slot{
			Start: start.UTC(), End: start.Add(time.Hour).UTC(),
			DisplayStart: start, DisplayEnd: start.Add(time.Hour),
		})
	}
	return res
}

func slotsRequest() *http.Request {
	return httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?service_id="+serviceID+
		"&start=2026-10-11T13:00:00Z&end=2026-10-12T13:00:00Z&timezone=Australia/Sydney", nil)
}

func TestSlotsListsUTCAndLocalTimes(t *testing.T) {
	calc := &fakeCalc{res: sydneyResult(9, 10, 11)}
	h := NewSlotsHandler(calc, discardLogger(), func() time.Time { return fixedNow }, 0)

	rec := httptest.NewRecorder()
	h.List(rec, slotsRequest())
	require.Equal(t, http.StatusOK, rec.Code)

	var body slotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Australia/Sydney", body.Timezone)
	assert.Equal(t, 2, body.TurnaroundDays)
	require.Len(t, body.Slots, 3)
	assert.Equal(t, "2026-10-11T22:00:00Z", body.Slots[0].StartUTC)
	assert.Equal(t, "2026-10-12T09:00:00+11:00", body.Slots[0].StartLocal)

	assert.Equal(t, fixedNow, calc.got.Now)
	assert.Equal(t, serviceID, calc.got.ServiceID)
}

func TestSlotsEmptyIsOKWithEmptyArray(t *testing.T) {
	calc := &fakeCalc{res: sydneyResult()}
	h := NewSlotsHandler(calc, discardLogger(), nil, 0)

	rec := httptest.NewRecorder()
	h.List(rec, slotsRequest())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"slots":[]`)
}

func TestSlotsErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   string
	}{
		{"validation", apperr.Validation("timezone", "unknown zone"), http.StatusBadRequest, "unknown zone"},
		{"not found", apperr.NotFound("service", serviceID), http.StatusNotFound, "service not found"},
		{"degraded", &apperr.DegradedAvailabilityError{OwnerID: ownerID, Source: "google", Err: calendar.ErrReauthRequired}, http.StatusServiceUnavailable, msgDegraded},
		{"infrastructure", errors.New("dial tcp: connection refused"), http.StatusInternalServerError, msgInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewSlotsHandler(&fakeCalc{err: tc.err}, discardLogger(), nil, 15*time.Second)
			rec := httptest.NewRecorder()
			h.List(rec, slotsRequest())

			assert.Equal(t, tc.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.body)
			assert.NotContains(t, rec.Body.String(), "connection refused")
			if tc.status == http.StatusServiceUnavailable {
				assert.Equal(t, "15", rec.Header().Get("Retry-After"))
			}
		})
	}
}

func TestSlotsRejectsBadInput(t *testing.T) {
	h := NewSlotsHandler(&fakeCalc{}, discardLogger(), nil, 0)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?service_id="+serviceID+"&start=monday&end=2026-10-12T13:00:00Z", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"start"`)

	rec = httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/slots", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeGuard struct {
	booking   model.Booking
	err       error
	reserved  booking.ReserveRequest
	cancelled int
	outcome   model.BookingStatus
	listFrom  time.Time
}

func (f *fakeGuard) Reserve(_ context.Context, req booking.ReserveRequest) (model.Booking, error) {
	f.reserved = req
	return f.booking, f.err
}

func (f *fakeGuard) Cancel(context.Context, string, string) (model.Booking, error) {
	f.cancelled++
	if f.err != nil {
		return model.Booking{}, f.err
	}
	b := f.booking
	b.Status = model.StatusCancelled
	return b, nil
}

func (f *fakeGuard) RecordOutcome(_ context.Context, _ string, status model.BookingStatus) (model.Booking, error) {
	f.outcome = status
	b := f.booking
	b.Status = status
	return b, f.err
}

func (f *fakeGuard) Get(context.Context, string) (model.Booking, error) {
	return f.booking, nil
}

func (f *fakeGuard) ListForOwner(_ context.Context, _ string, from, _ time.Time) ([]model.Booking, error) {
	f.listFrom = from
	return []model.Booking{f.booking}, f.err
}

func sampleBooking() model.Booking {
	start := time.Date(2026, 10, 11, 23, 0, 0, 0, time.UTC)
	return model.Booking{
		ID: bookingID, OwnerID: ownerID, ServiceID: serviceID,
		Start: start, End: start.Add(time.Hour), Timezone: "Australia/Sydney",
		Status: model.StatusConfirmed, Invitee: model.Invitee{Name: "Ada", Email: "ada@example.com"},
		CreatedAt: fixedNow,
	}
}

const reserveBody = `{"service_id":"` + serviceID + `","start_utc":"2026-10-11T23:00:00Z","end_utc":"2026-10-12T00:00:00Z",` +
	`"timezone":"Australia/Sydney","invitee":{"name":"Ada","email":"ada@example.com"}}`

func TestReserveCreatesBooking(t *testing.T) {
	guard := &fakeGuard{booking: sampleBooking()}
	h := NewBookingHandler(guard, discardLogger(), 0)

	rec := httptest.NewRecorder()
	h.Reserve(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/reserve", strings.NewReader(reserveBody)))
	require.Equal(t, http.StatusCreated, rec.Code)

	var body bookingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, bookingID, body.BookingID)
	assert.Equal(t, "confirmed", body.Status)
	assert.Equal(t, "2026-10-12T10:00:00+11:00", body.StartLocal)
	assert.Equal(t, time.Date(2026, 10, 11, 23, 0, 0, 0, time.UTC), guard.reserved.Start)
	assert.Equal(t, "Ada", guard.reserved.Invitee.Name)
}

func TestReserveConflictIs409(t *testing.T) {
	guard := &fakeGuard{err: apperr.Conflict(apperr.ErrSlotUnavailable)}
	h := NewBookingHandler(guard, discardLogger(), 0)

	rec := httptest.NewRecorder()
	h.Reserve(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/reserve", strings.NewReader(reserveBody)))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"slot no longer available"}`, rec.Body.String())
}

func TestReserveRejectsUnknownFields(t *testing.T) {
	h := NewBookingHandler(&fakeGuard{}, discardLogger(), 0)
	rec := httptest.NewRecorder()
	h.Reserve(rec, httptest.NewRequest(http.MethodPost, "/api/v1/public/reserve", strings.NewReader(`{"slot":"x"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelChecksOwnership(t *testing.T) {
	guard := &fakeGuard{booking: sampleBooking()}
	h := NewBookingHandler(guard, discardLogger(), 0)
	body := `{"booking_id":"` + bookingID + `","reason":"sick"}`

	rec := httptest.NewRecorder()
	req := withClaims(httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel", strings.NewReader(body)), "someone-else", "")
	h.Cancel(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Zero(t, guard.cancelled)

	rec = httptest.NewRecorder()
	req = withClaims(httptest.NewRequest(http.MethodPost, "/api/v1/bookings/cancel", strings.NewReader(body)), ownerID, "")
	h.Cancel(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"cancelled"`)
	assert.Equal(t, 1, guard.cancelled)
}

func TestOutcomeNormalizesStatus(t *testing.T) {
	guard := &fakeGuard{booking: sampleBooking()}
	h := NewBookingHandler(guard, discardLogger(), 0)

	rec := httptest.NewRecorder()
	h.Outcome(rec, httptest.NewRequest(http.MethodPost, "/api/v1/bookings/outcome",
		strings.NewReader(`{"booking_id":"`+bookingID+`","status":" NO_SHOW "}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.StatusNoShow, guard.outcome)
}

func TestListRequiresOwnerMatch(t *testing.T) {
	guard := &fakeGuard{booking: sampleBooking()}
	h := NewBookingHandler(guard, discardLogger(), 0)
	url := "/api/v1/bookings?owner_id=" + ownerID + "&from=2026-10-01T00:00:00Z&to=2026-11-01T00:00:00Z"

	rec := httptest.NewRecorder()
	h.List(rec, withClaims(httptest.NewRequest(http.MethodGet, url, nil), "intruder", ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.List(rec, withClaims(httptest.NewRequest(http.MethodGet, url, nil), "ops", "admin"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), guard.listFrom)
	assert.Contains(t, rec.Body.String(), bookingID)
}

type fakeRules struct {
	stored   []model.AvailabilityRule
	scope    *string
	replaced bool
	err      error
}

func (f *fakeRules) RulesFor(context.Context, string, string) ([]model.AvailabilityRule, error) {
	return f.stored, nil
}

func (f *fakeRules) Replace(_ context.Context, _ string, scope *string, rules []model.AvailabilityRule) error {
	if f.err != nil {
		return f.err
	}
	f.stored, f.scope, f.replaced = rules, scope, true
	return nil
}

func TestRulesReplaceAndGet(t *testing.T) {
	store := &fakeRules{}
	h := NewRulesHandler(store, discardLogger())
	body := `{"owner_id":"` + ownerID + `","rules":[{"day_of_week":1,"start":"09:00","end":"12:00","timezone":"Australia/Sydney"}]}`

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodPut, "/api/v1/availability/rules", strings.NewReader(body)), ownerID, ""))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, store.replaced)
	assert.Nil(t, store.scope)
	require.Len(t, store.stored, 1)
	assert.Equal(t, time.Monday, store.stored[0].DayOfWeek)
	assert.Equal(t, 540, store.stored[0].StartMinute)
	assert.Equal(t, 720, store.stored[0].EndMinute)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/availability/rules?owner_id="+ownerID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"start":"09:00"`)
	assert.Contains(t, rec.Body.String(), `"end":"12:00"`)
}

func TestRulesReplaceValidation(t *testing.T) {
	cases := map[string]string{
		"bad owner": `{"owner_id":"nope","rules":[]}`,
		"bad day":   `{"owner_id":"` + ownerID + `","rules":[{"day_of_week":7,"start":"09:00","end":"12:00","timezone":"UTC"}]}`,
		"bad clock": `{"owner_id":"` + ownerID + `","rules":[{"day_of_week":1,"start":"9am","end":"12:00","timezone":"UTC"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			store := &fakeRules{}
			rec := httptest.NewRecorder()
			NewRulesHandler(store, discardLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/availability/rules", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, store.replaced)
		})
	}
}

func TestRulesStoreValidationSurfacesAs400(t *testing.T) {
	store := &fakeRules{err: apperr.Validation("timezone", "unknown time zone")}
	body := `{"owner_id":"` + ownerID + `","rules":[{"day_of_week":1,"start":"09:00","end":"12:00","timezone":"Mars/Olympus"}]}`
	rec := httptest.NewRecorder()
	NewRulesHandler(store, discardLogger()).ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/v1/availability/rules", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), `"field":"timezone"`)
}

func TestRulesForbiddenForOtherOwner(t *testing.T) {
	store := &fakeRules{}
	body := `{"owner_id":"` + ownerID + `","rules":[]}`
	rec := httptest.NewRecorder()
	NewRulesHandler(store, discardLogger()).ServeHTTP(rec, withClaims(httptest.NewRequest(http.MethodPut, "/api/v1/availability/rules", strings.NewReader(body)), "intruder", ""))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, store.replaced)
}
