package booking

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// ActiveStatuses are the statuses that occupy a provider's time window.
// Two appointments for the same provider may never overlap while both
// carry one of these.
var ActiveStatuses = []AppointmentStatus{StatusScheduled, StatusConfirmed, StatusInProgress}

type WaitlistStatus string

const (
	WaitlistActive    WaitlistStatus = "active"
	WaitlistNotified  WaitlistStatus = "notified"
	WaitlistFulfilled WaitlistStatus = "fulfilled"
	WaitlistExpired   WaitlistStatus = "expired"
	WaitlistCancelled WaitlistStatus = "cancelled"
)

type Provider struct {
	ID        uuid.UUID
	Name      string
	Timezone  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ServiceOffering is an offering of a provider: its duration drives the
// booked window, its cancellation policy drives the cancel lead-time check.
type ServiceOffering struct {
	ID                      uuid.UUID
	ProviderID              uuid.UUID
	Name                    string
	DurationMinutes         int
	PriceCents              int64
	CancellationPolicyHours int
	AutoConfirm             bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

type Client struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	Phone     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Appointment struct {
	ID                 int64             `json:"-"`
	UUID               uuid.UUID         `json:"uuid"`
	ClientID           uuid.UUID         `json:"client_id"`
	ProviderID         uuid.UUID         `json:"provider_id"`
	ServiceID          uuid.UUID         `json:"service_id"`
	StartTime          time.Time         `json:"start_time"`
	DurationMinutes    int               `json:"duration_minutes"`
	EndTime            time.Time         `json:"end_time"`
	Status             AppointmentStatus `json:"status"`
	PriceCents         int64             `json:"price_cents"`
	CancelledBy        *string           `json:"cancelled_by,omitempty"`
	CancellationReason *string           `json:"cancellation_reason,omitempty"`
	Notes              *string           `json:"notes,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

type WaitlistEntry struct {
	ID                 uuid.UUID
	ClientID           uuid.UUID
	ProviderID         uuid.UUID
	ServiceID          uuid.UUID
	PreferredStartTime *time.Time
	PreferredEndTime   *time.Time
	Status             WaitlistStatus
	ExpiresAt          time.Time
	NotifiedAt         *time.Time
	CreatedAt          time.Time
}

// Matches reports whether a freed [start, end) window satisfies the
// entry's preferences. A nil bound is unconstrained.
func (e *WaitlistEntry) Matches(freedStart, freedEnd time.Time) bool {
	if e.PreferredStartTime != nil && freedStart.Before(*e.PreferredStartTime) {
		return false
	}
	if e.PreferredEndTime != nil && freedEnd.After(*e.PreferredEndTime) {
		return false
	}
	return true
}

// IdempotencyRecord is a replay cache row. Created at most once per key,
// never updated afterwards.
type IdempotencyRecord struct {
	Key            string
	AppointmentID  *int64
	ResultSnapshot []byte
	StatusCode     int
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// HistoryEntry is one immutable audit row per appointment transition,
// written in the same transaction as the transition itself.
type HistoryEntry struct {
	ID            int64
	AppointmentID int64
	Action        string
	Changes       []byte
	ChangedBy     string
	CreatedAt     time.Time
}
