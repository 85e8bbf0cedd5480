package model

import "time"

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "confirmed"
	StatusCancelled BookingStatus = "cancelled"
	StatusCompleted BookingStatus = "completed"
	StatusNoShow    BookingStatus = "no_show"
)

// Terminal reports whether no further transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted || s == StatusNoShow
}

// AvailabilityRule is a recurring weekly window. StartMinute and EndMinute are
// minutes after local midnight in Timezone; EndMinute may be 1440.
type AvailabilityRule struct {
	ID             string
	OwnerID        string
	ScopeServiceID *string
	DayOfWeek      time.Weekday
	StartMinute    int
	EndMinute      int
	Timezone       string
}

type BusySource string

const (
	SourceConfirmedBooking BusySource = "confirmed_booking"
	SourceExternalCalendar BusySource = "external_calendar"
)

// BusyInterval is a half-open UTC range during which the owner cannot be booked.
type BusyInterval struct {
	OwnerID   string
	Start     time.Time
	End       time.Time
	Source    BusySource
	SourceRef string
}

type Invitee struct {
	Name  string
	Email string
	Phone string
}

type Booking struct {
	ID           string
	OwnerID      string
	ServiceID    string
	Start        time.Time
	End          time.Time
	Timezone     string
	Status       BookingStatus
	Invitee      Invitee
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

const DefaultBookingWindowDays = 90

// Service carries the booking policy of a catalog service.
type Service struct {
	ID                  string
	OwnerID             string
	Name                string
	SlotDurationMinutes int
	LeadTimeDays        int
	TurnaroundDays      int
	BookingWindowDays   int
}

func (s Service) SlotDuration() time.Duration {
	return time.Duration(s.SlotDurationMinutes) * time.Minute
}

func (s Service) LeadTime() time.Duration {
	return time.Duration(s.LeadTimeDays) * 24 * time.Hour
}

func (s Service) BookingWindow() time.Duration {
	days := s.BookingWindowDays
	if days <= 0 {
		days = DefaultBookingWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Slot is identified by its UTC range. DisplayStart and DisplayEnd hold the
// same instants in the requested display timezone.
type Slot struct {
	Start        time.Time
	End          time.Time
	DisplayStart time.Time
	DisplayEnd   time.Time
}
