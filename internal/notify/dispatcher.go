package notify

import (
	"context"
	"log"
	"time"

	"github.com/hackgods/booking-engine/internal/booking"
)

// LogDispatcher writes every notification to the process log. It stands in
// for the real delivery channels (the chat bot, email, SMS) behind the same
// interface; delivery is at-least-once and a failure here can never undo a
// committed booking.
type LogDispatcher struct{}

func NewLogDispatcher() *LogDispatcher { return &LogDispatcher{} }

func (d *LogDispatcher) BookingConfirmed(ctx context.Context, appt *booking.Appointment) {
	log.Printf("notify booking_confirmed appointment=%s client=%s start=%s",
		appt.UUID, appt.ClientID, appt.StartTime.Format(time.RFC3339))
}

func (d *LogDispatcher) Cancelled(ctx context.Context, appt *booking.Appointment, reason string) {
	log.Printf("notify cancelled appointment=%s client=%s reason=%q",
		appt.UUID, appt.ClientID, reason)
}

func (d *LogDispatcher) Rescheduled(ctx context.Context, appt *booking.Appointment, oldStart time.Time) {
	log.Printf("notify rescheduled appointment=%s client=%s old_start=%s new_start=%s",
		appt.UUID, appt.ClientID, oldStart.Format(time.RFC3339), appt.StartTime.Format(time.RFC3339))
}

func (d *LogDispatcher) WaitlistSlotAvailable(ctx context.Context, entry *booking.WaitlistEntry, offeredStart, offeredEnd time.Time) {
	log.Printf("notify waitlist_slot_available entry=%s client=%s offered=[%s, %s)",
		entry.ID, entry.ClientID, offeredStart.Format(time.RFC3339), offeredEnd.Format(time.RFC3339))
}
