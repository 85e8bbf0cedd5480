package outbox

import (
	"encoding/json"
	"time"

	"github.com/tidyslot/tidyslot/services/availability-service/internal/model"
)

// Topics published by the availability service. The Kafka topic name equals
// EventType.
const (
	EventBookingConfirmed = "booking.confirmed.v1"
	EventBookingCancelled = "booking.cancelled.v1"
	EventBookingOutcome   = "booking.outcome.v1"
)

// Event is the domain event envelope written to the outbox table.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type bookingPayload struct {
	BookingID    string `json:"booking_id"`
	OwnerID      string `json:"owner_id"`
	ServiceID    string `json:"service_id"`
	StartUTC     string `json:"start_utc"`
	EndUTC       string `json:"end_utc"`
	Timezone     string `json:"timezone"`
	Status       string `json:"status"`
	InviteeName  string `json:"invitee_name,omitempty"`
	InviteeEmail string `json:"invitee_email,omitempty"`
	InviteePhone string `json:"invitee_phone,omitempty"`
	CancelReason string `json:"cancel_reason,omitempty"`
	OccurredAt   string `json:"occurred_at"`
}

// BookingEvent builds the envelope for a booking state change.
func BookingEvent(eventType string, b model.Booking, at time.Time) (Event, error) {
	payload, err := json.Marshal(bookingPayload{
		BookingID:    b.ID,
		OwnerID:      b.OwnerID,
		ServiceID:    b.ServiceID,
		StartUTC:     b.Start.UTC().Format(time.RFC3339),
		EndUTC:       b.End.UTC().Format(time.RFC3339),
		Timezone:     b.Timezone,
		Status:       string(b.Status),
		InviteeName:  b.Invitee.Name,
		InviteeEmail: b.Invitee.Email,
		InviteePhone: b.Invitee.Phone,
		CancelReason: b.CancelReason,
		OccurredAt:   at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: "booking",
		AggregateID:   b.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}
