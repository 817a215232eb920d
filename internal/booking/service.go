package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/booking-engine/internal/config"
	"github.com/hackgods/booking-engine/internal/metrics"
	redisclient "github.com/hackgods/booking-engine/internal/redis"
)

var (
	ErrSlotUnavailable   = errors.New("slot is already taken for this provider")
	ErrLockTimeout       = errors.New("timed out waiting for the provider lock, please retry")
	ErrPolicyViolation   = errors.New("cancellation window has passed for this service")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyOnWaitlist = errors.New("client already has an active waitlist entry for this provider and service")
)

// Actors recorded in cancelled_by and history changed_by.
const (
	ActorClient   = "client"
	ActorProvider = "provider"
	ActorSystem   = "system"
)

const errCodeSlotUnavailable = "slot_unavailable"

type BookRequest struct {
	ClientID       uuid.UUID
	ProviderID     uuid.UUID
	ServiceID      uuid.UUID
	StartTime      time.Time
	IdempotencyKey string
}

type WaitlistRequest struct {
	ClientID           uuid.UUID
	ProviderID         uuid.UUID
	ServiceID          uuid.UUID
	PreferredStartTime *time.Time
	PreferredEndTime   *time.Time
}

// Service is the booking engine: reservation under the provider lock,
// lifecycle transitions, waitlist promotion and idempotent replay. All
// mutation of appointment and waitlist rows goes through here, never
// through direct repository writes, so the locking discipline lives in one
// place.
type Service struct {
	repo     Repository
	locker   Locker
	notifier NotificationDispatcher
	clock    Clock
	guard    *IdempotencyGuard
	history  *HistoryLog
	waitlist *WaitlistMatcher
	metrics  *metrics.BookingMetrics
	cfg      config.Config
}

func NewService(repo Repository, locker Locker, notifier NotificationDispatcher, clock Clock, m *metrics.BookingMetrics, cfg config.Config) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		clock:    clock,
		guard:    NewIdempotencyGuard(repo, clock, cfg.IdempotencyTTL),
		history:  NewHistoryLog(clock),
		waitlist: NewWaitlistMatcher(repo, clock, notifier),
		metrics:  m,
		cfg:      cfg,
	}
}

// Book reserves a slot for a client. The overlap check and the insert run
// inside one transaction under the provider-scoped lock, so of any set of
// concurrent attempts on overlapping windows exactly one commits and the
// rest observe ErrSlotUnavailable. A request bearing a known idempotency
// key is answered from the replay cache without side effects.
func (s *Service) Book(ctx context.Context, req BookRequest) (*BookingResult, error) {
	replay, err := s.guard.Begin(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if replay != nil {
		s.metrics.ObserveBooking("replayed")
		if replay.ErrorCode == errCodeSlotUnavailable {
			return nil, ErrSlotUnavailable
		}
		return replay, nil
	}

	if _, err := s.repo.GetClientByID(ctx, req.ClientID); err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	svc, err := s.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc.ProviderID != req.ProviderID {
		return nil, ErrServiceNotFound
	}
	if _, err := s.repo.GetProviderByID(ctx, req.ProviderID); err != nil {
		return nil, fmt.Errorf("load provider: %w", err)
	}

	start := req.StartTime.UTC()
	end := start.Add(time.Duration(svc.DurationMinutes) * time.Minute)

	initial := StatusScheduled
	if svc.AutoConfirm {
		initial = StatusConfirmed
	}

	var created *Appointment

	reserveStart := time.Now()
	err = s.locker.WithProviderLock(ctx, req.ProviderID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			overlapping, err := tx.ListActiveOverlapping(lockCtx, req.ProviderID, start, end, 0)
			if err != nil {
				return fmt.Errorf("check overlapping appointments: %w", err)
			}
			if len(overlapping) > 0 {
				return ErrSlotUnavailable
			}

			now := s.clock.Now()
			appt := &Appointment{
				UUID:            uuid.New(),
				ClientID:        req.ClientID,
				ProviderID:      req.ProviderID,
				ServiceID:       req.ServiceID,
				StartTime:       start,
				DurationMinutes: svc.DurationMinutes,
				EndTime:         end,
				Status:          initial,
				PriceCents:      svc.PriceCents,
				CreatedAt:       now,
				UpdatedAt:       now,
			}

			created, err = tx.CreateAppointment(lockCtx, appt)
			if err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}

			changes := map[string]FieldChange{
				"status":     {From: nil, To: initial},
				"start_time": {From: nil, To: start},
				"end_time":   {From: nil, To: end},
			}
			return s.history.Record(lockCtx, tx, created.ID, ActionBook, changes, ActorClient)
		})
	})
	s.metrics.ObserveReserveDuration(time.Since(reserveStart).Seconds())

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired), errors.Is(err, ErrLockTimeout):
		s.metrics.ObserveBooking("lock_timeout")
		return nil, ErrLockTimeout
	case errors.Is(err, ErrSlotUnavailable):
		s.metrics.ObserveBooking("conflict")
		s.completeIdempotent(ctx, req.IdempotencyKey, BookingResult{
			ErrorCode:  errCodeSlotUnavailable,
			StatusCode: http.StatusConflict,
		})
		return nil, ErrSlotUnavailable
	case err != nil:
		s.metrics.ObserveBooking("error")
		return nil, err
	}

	result := BookingResult{Appointment: created, StatusCode: http.StatusCreated}
	s.completeIdempotent(ctx, req.IdempotencyKey, result)
	s.fulfilNotifiedEntry(ctx, req.ClientID, req.ProviderID, req.ServiceID)

	s.metrics.ObserveBooking("created")
	s.notifier.BookingConfirmed(ctx, created)

	return &result, nil
}

func (s *Service) completeIdempotent(ctx context.Context, key string, result BookingResult) {
	if err := s.guard.Complete(ctx, key, result); err != nil {
		// The booking already committed; a replay-cache write failure must
		// not surface as a booking failure.
		log.Printf("idempotency complete failed key=%s err=%v", key, err)
	}
}

// fulfilNotifiedEntry closes the loop for a waitlisted client who booked
// after being notified of a freed slot.
func (s *Service) fulfilNotifiedEntry(ctx context.Context, clientID, providerID, serviceID uuid.UUID) {
	entry, err := s.repo.FindNotifiedEntryForClient(ctx, clientID, providerID, serviceID)
	if errors.Is(err, ErrWaitlistEntryNotFound) {
		return
	}
	if err != nil {
		log.Printf("lookup notified waitlist entry failed client=%s err=%v", clientID, err)
		return
	}
	if err := s.repo.MarkWaitlistFulfilled(ctx, entry.ID); err != nil {
		log.Printf("mark waitlist entry fulfilled failed entry=%s err=%v", entry.ID, err)
	}
}

// Confirm moves a scheduled appointment to confirmed.
func (s *Service) Confirm(ctx context.Context, apptUUID uuid.UUID, actor string) (*Appointment, error) {
	appt, err := s.loadForAction(ctx, apptUUID, ActionConfirm)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.UpdateAppointmentStatus(ctx, appt.ID, allowedFrom[ActionConfirm], StatusConfirmed)
		if err != nil {
			return casError(err)
		}
		changes := map[string]FieldChange{
			"status": {From: appt.Status, To: StatusConfirmed},
		}
		return s.history.Record(ctx, tx, appt.ID, ActionConfirm, changes, actor)
	})
	if err != nil {
		s.metrics.ObserveTransition(string(ActionConfirm), "error")
		return nil, err
	}

	s.metrics.ObserveTransition(string(ActionConfirm), "ok")
	s.notifier.BookingConfirmed(ctx, updated)
	return updated, nil
}

// Start marks an appointment as underway.
func (s *Service) Start(ctx context.Context, apptUUID uuid.UUID, actor string) (*Appointment, error) {
	appt, err := s.loadForAction(ctx, apptUUID, ActionStart)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.UpdateAppointmentStatus(ctx, appt.ID, allowedFrom[ActionStart], StatusInProgress)
		if err != nil {
			return casError(err)
		}
		changes := map[string]FieldChange{
			"status": {From: appt.Status, To: StatusInProgress},
		}
		return s.history.Record(ctx, tx, appt.ID, ActionStart, changes, actor)
	})
	if err != nil {
		s.metrics.ObserveTransition(string(ActionStart), "error")
		return nil, err
	}

	s.metrics.ObserveTransition(string(ActionStart), "ok")
	return updated, nil
}

// Cancel frees an appointment's slot. Client-initiated cancels must still
// be outside the service's cancellation window; provider cancels are always
// allowed. After commit the freed window is offered to the waitlist.
func (s *Service) Cancel(ctx context.Context, apptUUID uuid.UUID, actor, reason string) (*Appointment, error) {
	appt, err := s.loadForAction(ctx, apptUUID, ActionCancel)
	if err != nil {
		return nil, err
	}

	if actor != ActorProvider {
		svc, err := s.repo.GetServiceByID(ctx, appt.ServiceID)
		if err != nil {
			return nil, fmt.Errorf("load service: %w", err)
		}
		lead := appt.StartTime.Sub(s.clock.Now())
		if lead < time.Duration(svc.CancellationPolicyHours)*time.Hour {
			s.metrics.ObserveTransition(string(ActionCancel), "policy_violation")
			return nil, ErrPolicyViolation
		}
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.CancelAppointment(ctx, appt.ID, allowedFrom[ActionCancel], actor, reason)
		if err != nil {
			return casError(err)
		}
		changes := map[string]FieldChange{
			"status":              {From: appt.Status, To: StatusCancelled},
			"cancelled_by":        {From: nil, To: actor},
			"cancellation_reason": {From: nil, To: reason},
		}
		return s.history.Record(ctx, tx, appt.ID, ActionCancel, changes, actor)
	})
	if err != nil {
		s.metrics.ObserveTransition(string(ActionCancel), "error")
		return nil, err
	}

	s.metrics.ObserveTransition(string(ActionCancel), "ok")
	s.notifier.Cancelled(ctx, updated, reason)
	s.offerFreedSlot(ctx, updated.ProviderID, updated.ServiceID, appt.StartTime, appt.EndTime)

	return updated, nil
}

// Reschedule moves an appointment to a new start time. The new window is
// checked under the same lock discipline as a fresh reservation before the
// old one is released; on conflict the appointment is left untouched.
func (s *Service) Reschedule(ctx context.Context, apptUUID uuid.UUID, newStart time.Time, actor string) (*Appointment, error) {
	appt, err := s.loadForAction(ctx, apptUUID, ActionReschedule)
	if err != nil {
		return nil, err
	}

	oldStart := appt.StartTime
	oldEnd := appt.EndTime
	newStart = newStart.UTC()
	newEnd := newStart.Add(time.Duration(appt.DurationMinutes) * time.Minute)

	var updated *Appointment
	err = s.locker.WithProviderLock(ctx, appt.ProviderID, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			overlapping, err := tx.ListActiveOverlapping(lockCtx, appt.ProviderID, newStart, newEnd, appt.ID)
			if err != nil {
				return fmt.Errorf("check overlapping appointments: %w", err)
			}
			if len(overlapping) > 0 {
				return ErrSlotUnavailable
			}

			updated, err = tx.RescheduleAppointment(lockCtx, appt.ID, allowedFrom[ActionReschedule], newStart, newEnd)
			if err != nil {
				return casError(err)
			}

			changes := map[string]FieldChange{
				"start_time": {From: oldStart, To: newStart},
				"end_time":   {From: oldEnd, To: newEnd},
			}
			return s.history.Record(lockCtx, tx, appt.ID, ActionReschedule, changes, actor)
		})
	})

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired), errors.Is(err, ErrLockTimeout):
		s.metrics.ObserveTransition(string(ActionReschedule), "lock_timeout")
		return nil, ErrLockTimeout
	case errors.Is(err, ErrSlotUnavailable):
		s.metrics.ObserveTransition(string(ActionReschedule), "conflict")
		return nil, ErrSlotUnavailable
	case err != nil:
		s.metrics.ObserveTransition(string(ActionReschedule), "error")
		return nil, err
	}

	s.metrics.ObserveTransition(string(ActionReschedule), "ok")
	s.notifier.Rescheduled(ctx, updated, oldStart)
	s.offerFreedSlot(ctx, updated.ProviderID, updated.ServiceID, oldStart, oldEnd)

	return updated, nil
}

// Complete closes out an appointment, optionally attaching provider notes.
func (s *Service) Complete(ctx context.Context, apptUUID uuid.UUID, actor string, notes *string) (*Appointment, error) {
	appt, err := s.loadForAction(ctx, apptUUID, ActionComplete)
	if err != nil {
		return nil, err
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.CompleteAppointment(ctx, appt.ID, allowedFrom[ActionComplete], notes)
		if err != nil {
			return casError(err)
		}
		changes := map[string]FieldChange{
			"status": {From: appt.Status, To: StatusCompleted},
		}
		if notes != nil {
			changes["notes"] = FieldChange{From: appt.Notes, To: *notes}
		}
		return s.history.Record(ctx, tx, appt.ID, ActionComplete, changes, actor)
	})
	if err != nil {
		s.metrics.ObserveTransition(string(ActionComplete), "error")
		return nil, err
	}

	s.metrics.ObserveTransition(string(ActionComplete), "ok")
	return updated, nil
}

// MarkNoShow records that the client never turned up. Only legal once the
// appointment's start time has passed.
func (s *Service) MarkNoShow(ctx context.Context, apptUUID uuid.UUID, actor string) (*Appointment, error) {
	appt, err := s.loadForAction(ctx, apptUUID, ActionNoShow)
	if err != nil {
		return nil, err
	}
	if s.clock.Now().Before(appt.StartTime) {
		return nil, ErrInvalidTransition
	}

	var updated *Appointment
	err = s.repo.WithTx(ctx, func(tx Repository) error {
		updated, err = tx.UpdateAppointmentStatus(ctx, appt.ID, allowedFrom[ActionNoShow], StatusNoShow)
		if err != nil {
			return casError(err)
		}
		changes := map[string]FieldChange{
			"status": {From: appt.Status, To: StatusNoShow},
		}
		return s.history.Record(ctx, tx, appt.ID, ActionNoShow, changes, actor)
	})
	if err != nil {
		s.metrics.ObserveTransition(string(ActionNoShow), "error")
		return nil, err
	}

	s.metrics.ObserveTransition(string(ActionNoShow), "ok")
	s.offerFreedSlot(ctx, updated.ProviderID, updated.ServiceID, appt.StartTime, appt.EndTime)
	return updated, nil
}

// JoinWaitlist enrolls a client for a (provider, service) preference set.
// A client holds at most one active entry per set at a time.
func (s *Service) JoinWaitlist(ctx context.Context, req WaitlistRequest) (*WaitlistEntry, error) {
	if _, err := s.repo.GetClientByID(ctx, req.ClientID); err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	svc, err := s.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}
	if svc.ProviderID != req.ProviderID {
		return nil, ErrServiceNotFound
	}

	existing, err := s.repo.GetActiveWaitlistEntry(ctx, req.ClientID, req.ProviderID, req.ServiceID, req.PreferredStartTime, req.PreferredEndTime)
	if err != nil && !errors.Is(err, ErrWaitlistEntryNotFound) {
		return nil, fmt.Errorf("check existing waitlist entry: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyOnWaitlist
	}

	now := s.clock.Now()
	entry := &WaitlistEntry{
		ID:                 uuid.New(),
		ClientID:           req.ClientID,
		ProviderID:         req.ProviderID,
		ServiceID:          req.ServiceID,
		PreferredStartTime: req.PreferredStartTime,
		PreferredEndTime:   req.PreferredEndTime,
		Status:             WaitlistActive,
		ExpiresAt:          now.Add(s.cfg.WaitlistTTL),
		CreatedAt:          now,
	}

	created, err := s.repo.CreateWaitlistEntry(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("create waitlist entry: %w", err)
	}
	return created, nil
}

// GetAppointment retrieves an appointment by its external UUID.
func (s *Service) GetAppointment(ctx context.Context, apptUUID uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByUUID(ctx, apptUUID)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

// History returns the audit trail for an appointment, oldest first.
func (s *Service) History(ctx context.Context, apptUUID uuid.UUID) ([]HistoryEntry, error) {
	appt, err := s.repo.GetAppointmentByUUID(ctx, apptUUID)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	entries, err := s.repo.ListHistoryByAppointment(ctx, appt.ID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	return entries, nil
}

// ListAppointmentsByClient retrieves a client's appointments.
func (s *Service) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appts, err := s.repo.ListAppointmentsByClient(ctx, clientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by client: %w", err)
	}
	return appts, nil
}

// ExpireWaitlistEntries is intended to be called by the sweep worker.
func (s *Service) ExpireWaitlistEntries(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireWaitlistEntries(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("expire waitlist entries: %w", err)
	}
	return n, nil
}

// PurgeIdempotencyRecords drops expired replay-cache rows.
func (s *Service) PurgeIdempotencyRecords(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpiredIdempotencyRecords(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return n, nil
}

func (s *Service) loadForAction(ctx context.Context, apptUUID uuid.UUID, action Action) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByUUID(ctx, apptUUID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !canTransition(action, appt.Status) {
		return nil, ErrInvalidTransition
	}
	return appt, nil
}

func (s *Service) offerFreedSlot(ctx context.Context, providerID, serviceID uuid.UUID, freedStart, freedEnd time.Time) {
	promoted, err := s.waitlist.PromoteForFreedSlot(ctx, providerID, serviceID, freedStart, freedEnd)
	if err != nil {
		log.Printf("waitlist promotion failed provider=%s err=%v", providerID, err)
		return
	}
	if promoted != nil {
		s.metrics.ObservePromotion()
	}
}

// casError maps a compare-and-set miss to ErrInvalidTransition: the row
// moved out from under us between the read and the guarded update.
func casError(err error) error {
	if errors.Is(err, ErrAppointmentNotFound) {
		return ErrInvalidTransition
	}
	return err
}
