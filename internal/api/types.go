package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/booking"
)

type BookRequest struct {
	ClientID   string    `json:"client_id"`
	ProviderID string    `json:"provider_id"`
	ServiceID  string    `json:"service_id"`
	StartTime  time.Time `json:"start_time"`
}

type CancelRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

type RescheduleRequest struct {
	NewStartTime time.Time `json:"new_start_time"`
	Actor        string    `json:"actor"`
}

type CompleteRequest struct {
	Actor string  `json:"actor"`
	Notes *string `json:"notes,omitempty"`
}

type ActorRequest struct {
	Actor string `json:"actor"`
}

type JoinWaitlistRequest struct {
	ClientID           string     `json:"client_id"`
	ProviderID         string     `json:"provider_id"`
	ServiceID          string     `json:"service_id"`
	PreferredStartTime *time.Time `json:"preferred_start_time,omitempty"`
	PreferredEndTime   *time.Time `json:"preferred_end_time,omitempty"`
}

type AppointmentResponse struct {
	UUID               uuid.UUID `json:"uuid"`
	ClientID           uuid.UUID `json:"client_id"`
	ProviderID         uuid.UUID `json:"provider_id"`
	ServiceID          uuid.UUID `json:"service_id"`
	StartTime          time.Time `json:"start_time"`
	DurationMinutes    int       `json:"duration_minutes"`
	EndTime            time.Time `json:"end_time"`
	Status             string    `json:"status"`
	PriceCents         int64     `json:"price_cents"`
	CancelledBy        *string   `json:"cancelled_by,omitempty"`
	CancellationReason *string   `json:"cancellation_reason,omitempty"`
	Notes              *string   `json:"notes,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

func toAppointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		UUID:               a.UUID,
		ClientID:           a.ClientID,
		ProviderID:         a.ProviderID,
		ServiceID:          a.ServiceID,
		StartTime:          a.StartTime,
		DurationMinutes:    a.DurationMinutes,
		EndTime:            a.EndTime,
		Status:             string(a.Status),
		PriceCents:         a.PriceCents,
		CancelledBy:        a.CancelledBy,
		CancellationReason: a.CancellationReason,
		Notes:              a.Notes,
		CreatedAt:          a.CreatedAt,
	}
}

type BookResponse struct {
	Appointment AppointmentResponse `json:"appointment"`
	Replayed    bool                `json:"replayed"`
}

type WaitlistEntryResponse struct {
	ID                 uuid.UUID  `json:"id"`
	ClientID           uuid.UUID  `json:"client_id"`
	ProviderID         uuid.UUID  `json:"provider_id"`
	ServiceID          uuid.UUID  `json:"service_id"`
	PreferredStartTime *time.Time `json:"preferred_start_time,omitempty"`
	PreferredEndTime   *time.Time `json:"preferred_end_time,omitempty"`
	Status             string     `json:"status"`
	ExpiresAt          time.Time  `json:"expires_at"`
	CreatedAt          time.Time  `json:"created_at"`
}

func toWaitlistEntryResponse(e *booking.WaitlistEntry) WaitlistEntryResponse {
	return WaitlistEntryResponse{
		ID:                 e.ID,
		ClientID:           e.ClientID,
		ProviderID:         e.ProviderID,
		ServiceID:          e.ServiceID,
		PreferredStartTime: e.PreferredStartTime,
		PreferredEndTime:   e.PreferredEndTime,
		Status:             string(e.Status),
		ExpiresAt:          e.ExpiresAt,
		CreatedAt:          e.CreatedAt,
	}
}

type HistoryEntryResponse struct {
	Action    string          `json:"action"`
	Changes   json.RawMessage `json:"changes"`
	ChangedBy string          `json:"changed_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
