package booking

import (
	"context"
	"time"
)

// NotificationDispatcher delivers messages to clients after a transaction
// has committed. Calls are fire-and-forget: implementations log their own
// failures and must never be able to roll back a committed reservation,
// hence no error returns.
type NotificationDispatcher interface {
	BookingConfirmed(ctx context.Context, appt *Appointment)
	Cancelled(ctx context.Context, appt *Appointment, reason string)
	Rescheduled(ctx context.Context, appt *Appointment, oldStart time.Time)
	// WaitlistSlotAvailable carries the entry id so downstream delivery can
	// deduplicate if a stale snapshot is ever re-read.
	WaitlistSlotAvailable(ctx context.Context, entry *WaitlistEntry, offeredStart, offeredEnd time.Time)
}
