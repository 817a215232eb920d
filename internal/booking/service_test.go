package booking

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/config"
)

var testBase = time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingDispatcher struct {
	mu          sync.Mutex
	confirmed   []uuid.UUID
	cancelled   []uuid.UUID
	rescheduled []uuid.UUID
	offered     []uuid.UUID
}

func (d *recordingDispatcher) BookingConfirmed(_ context.Context, appt *Appointment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.confirmed = append(d.confirmed, appt.UUID)
}

func (d *recordingDispatcher) Cancelled(_ context.Context, appt *Appointment, _ string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelled = append(d.cancelled, appt.UUID)
}

func (d *recordingDispatcher) Rescheduled(_ context.Context, appt *Appointment, _ time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rescheduled = append(d.rescheduled, appt.UUID)
}

func (d *recordingDispatcher) WaitlistSlotAvailable(_ context.Context, entry *WaitlistEntry, _, _ time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.offered = append(d.offered, entry.ID)
}

func (d *recordingDispatcher) offeredEntries() []uuid.UUID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]uuid.UUID(nil), d.offered...)
}

type fixture struct {
	repo     *MemRepository
	svc      *Service
	clock    *fakeClock
	notif    *recordingDispatcher
	cfg      config.Config
	provider Provider
	offering ServiceOffering
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemRepository()
	clock := newFakeClock(testBase)
	notif := &recordingDispatcher{}
	cfg := config.Config{
		LockWaitTimeout: 2 * time.Second,
		IdempotencyTTL:  time.Hour,
		WaitlistTTL:     72 * time.Hour,
	}

	provider := Provider{ID: uuid.New(), Name: "Dr. Quinn", Timezone: "UTC"}
	offering := ServiceOffering{
		ID:                      uuid.New(),
		ProviderID:              provider.ID,
		Name:                    "Consultation",
		DurationMinutes:         60,
		PriceCents:              10000,
		CancellationPolicyHours: 24,
	}
	repo.AddProvider(provider)
	repo.AddService(offering)

	svc := NewService(repo, NewMutexLocker(cfg.LockWaitTimeout), notif, clock, nil, cfg)

	return &fixture{
		repo:     repo,
		svc:      svc,
		clock:    clock,
		notif:    notif,
		cfg:      cfg,
		provider: provider,
		offering: offering,
	}
}

func (f *fixture) newClient(t *testing.T, name string) Client {
	t.Helper()
	c := Client{ID: uuid.New(), Name: name}
	f.repo.AddClient(c)
	return c
}

func (f *fixture) book(t *testing.T, client Client, start time.Time, key string) *BookingResult {
	t.Helper()
	res, err := f.svc.Book(context.Background(), BookRequest{
		ClientID:       client.ID,
		ProviderID:     f.provider.ID,
		ServiceID:      f.offering.ID,
		StartTime:      start,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	return res
}

func TestBookCreatesScheduledAppointment(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	start := testBase.Add(48 * time.Hour)

	res := f.book(t, client, start, "")

	appt := res.Appointment
	if appt == nil {
		t.Fatal("expected an appointment in the result")
	}
	if appt.Status != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", appt.Status)
	}
	if !appt.EndTime.Equal(start.Add(60 * time.Minute)) {
		t.Fatalf("expected end time %s, got %s", start.Add(60*time.Minute), appt.EndTime)
	}
	if appt.PriceCents != f.offering.PriceCents {
		t.Fatalf("expected price snapshot %d, got %d", f.offering.PriceCents, appt.PriceCents)
	}
	if res.Replayed {
		t.Fatal("fresh booking must not be marked replayed")
	}

	hist, err := f.svc.History(context.Background(), appt.UUID)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(hist) != 1 || hist[0].Action != string(ActionBook) {
		t.Fatalf("expected one book history entry, got %#v", hist)
	}
}

func TestBookAutoConfirmedService(t *testing.T) {
	f := newFixture(t)
	auto := ServiceOffering{
		ID:              uuid.New(),
		ProviderID:      f.provider.ID,
		Name:            "Walk-in",
		DurationMinutes: 30,
		AutoConfirm:     true,
	}
	f.repo.AddService(auto)
	client := f.newClient(t, "Bob")

	res, err := f.svc.Book(context.Background(), BookRequest{
		ClientID:   client.ID,
		ProviderID: f.provider.ID,
		ServiceID:  auto.ID,
		StartTime:  testBase.Add(48 * time.Hour),
	})
	if err != nil {
		t.Fatalf("book failed: %v", err)
	}
	if res.Appointment.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", res.Appointment.Status)
	}
}

func TestBookRejectsOverlap(t *testing.T) {
	f := newFixture(t)
	alice := f.newClient(t, "Alice")
	bob := f.newClient(t, "Bob")
	start := testBase.Add(48 * time.Hour)

	f.book(t, alice, start, "")

	_, err := f.svc.Book(context.Background(), BookRequest{
		ClientID:   bob.ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.offering.ID,
		StartTime:  start.Add(30 * time.Minute),
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestBookAllowsBackToBack(t *testing.T) {
	f := newFixture(t)
	alice := f.newClient(t, "Alice")
	bob := f.newClient(t, "Bob")
	start := testBase.Add(48 * time.Hour)

	f.book(t, alice, start, "")
	// [10:00, 11:00) and [11:00, 12:00) share only the boundary instant.
	f.book(t, bob, start.Add(60*time.Minute), "")
}

func TestBookUnknownClient(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Book(context.Background(), BookRequest{
		ClientID:   uuid.New(),
		ProviderID: f.provider.ID,
		ServiceID:  f.offering.ID,
		StartTime:  testBase.Add(48 * time.Hour),
	})
	if !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("expected ErrClientNotFound, got %v", err)
	}
}

func TestBookServiceProviderMismatch(t *testing.T) {
	f := newFixture(t)
	other := Provider{ID: uuid.New(), Name: "Dr. Other"}
	f.repo.AddProvider(other)
	client := f.newClient(t, "Alice")

	_, err := f.svc.Book(context.Background(), BookRequest{
		ClientID:   client.ID,
		ProviderID: other.ID,
		ServiceID:  f.offering.ID,
		StartTime:  testBase.Add(48 * time.Hour),
	})
	if !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound for mismatched provider, got %v", err)
	}
}

func TestConcurrentBookingSingleWinner(t *testing.T) {
	f := newFixture(t)
	start := testBase.Add(48 * time.Hour)

	const n = 16
	clients := make([]Client, n)
	for i := range clients {
		clients[i] = f.newClient(t, "Client")
	}

	var success, conflict, other int64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(c Client) {
			defer wg.Done()
			_, err := f.svc.Book(context.Background(), BookRequest{
				ClientID:   c.ID,
				ProviderID: f.provider.ID,
				ServiceID:  f.offering.ID,
				StartTime:  start,
			})
			switch {
			case err == nil:
				atomic.AddInt64(&success, 1)
			case errors.Is(err, ErrSlotUnavailable):
				atomic.AddInt64(&conflict, 1)
			default:
				atomic.AddInt64(&other, 1)
			}
		}(clients[i])
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d (conflicts=%d other=%d)", success, conflict, other)
	}
	if conflict != n-1 {
		t.Fatalf("expected %d conflicts, got %d (other=%d)", n-1, conflict, other)
	}
}

func TestBookIdempotentReplay(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	start := testBase.Add(48 * time.Hour)

	first := f.book(t, client, start, "retry-key-1")
	second := f.book(t, client, start, "retry-key-1")

	if !second.Replayed {
		t.Fatal("expected second request to be replayed")
	}
	if second.Appointment.UUID != first.Appointment.UUID {
		t.Fatalf("replay returned a different appointment: %s vs %s", second.Appointment.UUID, first.Appointment.UUID)
	}

	appts, err := f.svc.ListAppointmentsByClient(context.Background(), client.ID, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(appts) != 1 {
		t.Fatalf("replay must not create a second appointment, found %d", len(appts))
	}
}

func TestBookReplaysConflictOutcome(t *testing.T) {
	f := newFixture(t)
	alice := f.newClient(t, "Alice")
	bob := f.newClient(t, "Bob")
	start := testBase.Add(48 * time.Hour)

	held := f.book(t, alice, start, "")

	_, err := f.svc.Book(context.Background(), BookRequest{
		ClientID:       bob.ID,
		ProviderID:     f.provider.ID,
		ServiceID:      f.offering.ID,
		StartTime:      start,
		IdempotencyKey: "bob-key",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected conflict, got %v", err)
	}

	// Freeing the slot must not change the cached outcome for the old key.
	if _, err := f.svc.Cancel(context.Background(), held.Appointment.UUID, ActorProvider, "freed"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	_, err = f.svc.Book(context.Background(), BookRequest{
		ClientID:       bob.ID,
		ProviderID:     f.provider.ID,
		ServiceID:      f.offering.ID,
		StartTime:      start,
		IdempotencyKey: "bob-key",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected replayed conflict, got %v", err)
	}

	// A fresh key sees the freed slot.
	f.book(t, bob, start, "bob-key-2")
}

type timeoutLocker struct{}

func (timeoutLocker) WithProviderLock(context.Context, uuid.UUID, func(context.Context) error) error {
	return ErrLockTimeout
}

func TestLockTimeoutIsNotCached(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	start := testBase.Add(48 * time.Hour)

	stuck := NewService(f.repo, timeoutLocker{}, f.notif, f.clock, nil, f.cfg)
	_, err := stuck.Book(context.Background(), BookRequest{
		ClientID:       client.ID,
		ProviderID:     f.provider.ID,
		ServiceID:      f.offering.ID,
		StartTime:      start,
		IdempotencyKey: "timeout-key",
	})
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}

	// The retry with the same key must go through the real path and succeed.
	res := f.book(t, client, start, "timeout-key")
	if res.Replayed {
		t.Fatal("timeout outcome must not be replayed from the cache")
	}
}

func TestConfirmTransition(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	res := f.book(t, client, testBase.Add(48*time.Hour), "")

	appt, err := f.svc.Confirm(context.Background(), res.Appointment.UUID, ActorProvider)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if appt.Status != StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", appt.Status)
	}

	if _, err := f.svc.Confirm(context.Background(), res.Appointment.UUID, ActorProvider); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition on double confirm, got %v", err)
	}
}

func TestCompleteFromInProgress(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	res := f.book(t, client, testBase.Add(48*time.Hour), "")
	ctx := context.Background()

	if _, err := f.svc.Confirm(ctx, res.Appointment.UUID, ActorProvider); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if _, err := f.svc.Start(ctx, res.Appointment.UUID, ActorProvider); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	notes := "went well"
	appt, err := f.svc.Complete(ctx, res.Appointment.UUID, ActorProvider, &notes)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if appt.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", appt.Status)
	}
	if appt.Notes == nil || *appt.Notes != notes {
		t.Fatalf("expected notes %q, got %v", notes, appt.Notes)
	}

	if _, err := f.svc.Cancel(ctx, res.Appointment.UUID, ActorProvider, ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition cancelling a completed appointment, got %v", err)
	}
}

func TestCancelPolicyBoundary(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	ctx := context.Background()

	// Lead time exactly equal to the policy window is still allowed.
	onBoundary := f.book(t, client, testBase.Add(24*time.Hour), "")
	if _, err := f.svc.Cancel(ctx, onBoundary.Appointment.UUID, ActorClient, "plans changed"); err != nil {
		t.Fatalf("cancel at the policy boundary should succeed, got %v", err)
	}

	inside := f.book(t, client, testBase.Add(23*time.Hour), "")
	_, err := f.svc.Cancel(ctx, inside.Appointment.UUID, ActorClient, "too late")
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}

	// Providers are not bound by the client cancellation policy.
	appt, err := f.svc.Cancel(ctx, inside.Appointment.UUID, ActorProvider, "emergency")
	if err != nil {
		t.Fatalf("provider cancel failed: %v", err)
	}
	if appt.CancelledBy == nil || *appt.CancelledBy != ActorProvider {
		t.Fatalf("expected cancelled_by provider, got %v", appt.CancelledBy)
	}
}

func TestCancelFreesSlot(t *testing.T) {
	f := newFixture(t)
	alice := f.newClient(t, "Alice")
	bob := f.newClient(t, "Bob")
	start := testBase.Add(48 * time.Hour)

	res := f.book(t, alice, start, "")
	if _, err := f.svc.Cancel(context.Background(), res.Appointment.UUID, ActorProvider, ""); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	f.book(t, bob, start, "")
}

func TestRescheduleConflictLeavesOriginal(t *testing.T) {
	f := newFixture(t)
	alice := f.newClient(t, "Alice")
	bob := f.newClient(t, "Bob")
	startA := testBase.Add(48 * time.Hour)
	startB := testBase.Add(50 * time.Hour)

	a := f.book(t, alice, startA, "")
	f.book(t, bob, startB, "")

	_, err := f.svc.Reschedule(context.Background(), a.Appointment.UUID, startB, ActorClient)
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}

	got, err := f.svc.GetAppointment(context.Background(), a.Appointment.UUID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if !got.StartTime.Equal(startA) || got.Status != StatusScheduled {
		t.Fatalf("failed reschedule must leave the appointment untouched, got start=%s status=%s", got.StartTime, got.Status)
	}
}

func TestRescheduleIntoOwnWindow(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	start := testBase.Add(48 * time.Hour)

	res := f.book(t, client, start, "")

	// Shifting by half the duration overlaps the old window, which the
	// appointment itself must not block.
	appt, err := f.svc.Reschedule(context.Background(), res.Appointment.UUID, start.Add(30*time.Minute), ActorClient)
	if err != nil {
		t.Fatalf("reschedule failed: %v", err)
	}
	if !appt.StartTime.Equal(start.Add(30 * time.Minute)) {
		t.Fatalf("unexpected start after reschedule: %s", appt.StartTime)
	}
	if appt.Status != StatusScheduled {
		t.Fatalf("reschedule must keep status, got %s", appt.Status)
	}
}

func TestMarkNoShowRequiresStartTimePassed(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	start := testBase.Add(48 * time.Hour)
	res := f.book(t, client, start, "")
	ctx := context.Background()

	if _, err := f.svc.MarkNoShow(ctx, res.Appointment.UUID, ActorProvider); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition before start time, got %v", err)
	}

	f.clock.Advance(49 * time.Hour)
	appt, err := f.svc.MarkNoShow(ctx, res.Appointment.UUID, ActorProvider)
	if err != nil {
		t.Fatalf("no-show failed: %v", err)
	}
	if appt.Status != StatusNoShow {
		t.Fatalf("expected no_show, got %s", appt.Status)
	}
}

func TestBookMarksNotifiedWaitlistEntryFulfilled(t *testing.T) {
	f := newFixture(t)
	client := f.newClient(t, "Alice")
	ctx := context.Background()

	entry, err := f.svc.JoinWaitlist(ctx, WaitlistRequest{
		ClientID:   client.ID,
		ProviderID: f.provider.ID,
		ServiceID:  f.offering.ID,
	})
	if err != nil {
		t.Fatalf("join waitlist failed: %v", err)
	}
	if _, err := f.repo.ClaimWaitlistEntry(ctx, entry.ID, f.clock.Now()); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	f.book(t, client, testBase.Add(48*time.Hour), "")

	if _, err := f.repo.FindNotifiedEntryForClient(ctx, client.ID, f.provider.ID, f.offering.ID); !errors.Is(err, ErrWaitlistEntryNotFound) {
		t.Fatalf("expected entry to be fulfilled after booking, got %v", err)
	}
}
