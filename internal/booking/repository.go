package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound          = errors.New("provider not found")
	ErrServiceNotFound           = errors.New("service not found")
	ErrClientNotFound            = errors.New("client not found")
	ErrAppointmentNotFound       = errors.New("appointment not found")
	ErrWaitlistEntryNotFound     = errors.New("waitlist entry not found")
	ErrIdempotencyRecordNotFound = errors.New("idempotency record not found")
)

// Repository contains all DB interactions needed by the booking engine.
// WithTx yields a Repository bound to a single transaction; every mutating
// flow runs its writes through one so an appointment row and its history
// entry land together or not at all.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*ServiceOffering, error)
	GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error)

	// Appointments
	GetAppointmentByUUID(ctx context.Context, u uuid.UUID) (*Appointment, error)
	ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error)

	// ListActiveOverlapping returns active-status appointments for the
	// provider whose [start_time, end_time) intersects [start, end).
	// excludeID skips one appointment (the one being rescheduled); 0 skips none.
	ListActiveOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID int64) ([]Appointment, error)
	CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error)

	// Conditional updates. Each is a compare-and-set guarded on the current
	// status being one of from; a miss returns ErrAppointmentNotFound.
	UpdateAppointmentStatus(ctx context.Context, id int64, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)
	CancelAppointment(ctx context.Context, id int64, from []AppointmentStatus, cancelledBy, reason string) (*Appointment, error)
	CompleteAppointment(ctx context.Context, id int64, from []AppointmentStatus, notes *string) (*Appointment, error)
	RescheduleAppointment(ctx context.Context, id int64, from []AppointmentStatus, newStart, newEnd time.Time) (*Appointment, error)

	// Waitlist
	CreateWaitlistEntry(ctx context.Context, e *WaitlistEntry) (*WaitlistEntry, error)
	GetActiveWaitlistEntry(ctx context.Context, clientID, providerID, serviceID uuid.UUID, prefStart, prefEnd *time.Time) (*WaitlistEntry, error)
	ListActiveWaitlistEntries(ctx context.Context, providerID, serviceID uuid.UUID, now time.Time) ([]WaitlistEntry, error)
	// ClaimWaitlistEntry is the active -> notified compare-and-set; a lost
	// race returns ErrWaitlistEntryNotFound.
	ClaimWaitlistEntry(ctx context.Context, id uuid.UUID, notifiedAt time.Time) (*WaitlistEntry, error)
	MarkWaitlistFulfilled(ctx context.Context, id uuid.UUID) error
	FindNotifiedEntryForClient(ctx context.Context, clientID, providerID, serviceID uuid.UUID) (*WaitlistEntry, error)
	ExpireWaitlistEntries(ctx context.Context, now time.Time) (int64, error)

	// Idempotency
	GetIdempotencyRecord(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	// InsertIdempotencyRecord is insert-or-ignore: the first writer wins and
	// a duplicate key is not an error.
	InsertIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error
	PurgeExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error)

	// History
	InsertHistoryEntry(ctx context.Context, h HistoryEntry) error
	ListHistoryByAppointment(ctx context.Context, appointmentID int64) ([]HistoryEntry, error)
}
