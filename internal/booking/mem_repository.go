package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository for single-node dev deployments
// and tests. WithTx applies all writes to a copy of the state and swaps it
// in on success, so a failed transaction leaves nothing behind, matching
// the rollback guarantees of the Postgres implementation. Transactions are
// fully serialized by one mutex.
type MemRepository struct {
	mu    sync.Mutex
	state *memState
	inTx  bool
}

type memState struct {
	providers    map[uuid.UUID]Provider
	services     map[uuid.UUID]ServiceOffering
	clients      map[uuid.UUID]Client
	appointments map[int64]Appointment
	apptByUUID   map[uuid.UUID]int64
	waitlist     map[uuid.UUID]WaitlistEntry
	idempotency  map[string]IdempotencyRecord
	history      []HistoryEntry
	nextApptID   int64
	nextHistID   int64
}

func newMemState() *memState {
	return &memState{
		providers:    make(map[uuid.UUID]Provider),
		services:     make(map[uuid.UUID]ServiceOffering),
		clients:      make(map[uuid.UUID]Client),
		appointments: make(map[int64]Appointment),
		apptByUUID:   make(map[uuid.UUID]int64),
		waitlist:     make(map[uuid.UUID]WaitlistEntry),
		idempotency:  make(map[string]IdempotencyRecord),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.providers {
		c.providers[k] = v
	}
	for k, v := range s.services {
		c.services[k] = v
	}
	for k, v := range s.clients {
		c.clients[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.apptByUUID {
		c.apptByUUID[k] = v
	}
	for k, v := range s.waitlist {
		c.waitlist[k] = v
	}
	for k, v := range s.idempotency {
		c.idempotency[k] = v
	}
	c.history = append(c.history, s.history...)
	c.nextApptID = s.nextApptID
	c.nextHistID = s.nextHistID
	return c
}

func NewMemRepository() *MemRepository {
	return &MemRepository{state: newMemState()}
}

func (r *MemRepository) locked(fn func(st *memState) error) error {
	if r.inTx {
		return fn(r.state)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.state)
}

func (r *MemRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clone := r.state.clone()
	tx := &MemRepository{state: clone, inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	r.state = clone
	return nil
}

// Seed helpers for dev mode and tests.

func (r *MemRepository) AddProvider(p Provider) {
	_ = r.locked(func(st *memState) error {
		st.providers[p.ID] = p
		return nil
	})
}

func (r *MemRepository) AddService(s ServiceOffering) {
	_ = r.locked(func(st *memState) error {
		st.services[s.ID] = s
		return nil
	})
}

func (r *MemRepository) AddClient(c Client) {
	_ = r.locked(func(st *memState) error {
		st.clients[c.ID] = c
		return nil
	})
}

// Reference data

func (r *MemRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	var out *Provider
	err := r.locked(func(st *memState) error {
		p, ok := st.providers[id]
		if !ok {
			return ErrProviderNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *MemRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ServiceOffering, error) {
	var out *ServiceOffering
	err := r.locked(func(st *memState) error {
		s, ok := st.services[id]
		if !ok {
			return ErrServiceNotFound
		}
		out = &s
		return nil
	})
	return out, err
}

func (r *MemRepository) GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	var out *Client
	err := r.locked(func(st *memState) error {
		c, ok := st.clients[id]
		if !ok {
			return ErrClientNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

// Appointments

func (r *MemRepository) GetAppointmentByUUID(ctx context.Context, u uuid.UUID) (*Appointment, error) {
	var out *Appointment
	err := r.locked(func(st *memState) error {
		id, ok := st.apptByUUID[u]
		if !ok {
			return ErrAppointmentNotFound
		}
		a := st.appointments[id]
		out = &a
		return nil
	})
	return out, err
}

func (r *MemRepository) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	var out []Appointment
	err := r.locked(func(st *memState) error {
		for _, a := range st.appointments {
			if a.ClientID == clientID {
				out = append(out, a)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
		if offset >= len(out) {
			out = nil
			return nil
		}
		out = out[offset:]
		if limit < len(out) {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func (r *MemRepository) ListActiveOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID int64) ([]Appointment, error) {
	var out []Appointment
	err := r.locked(func(st *memState) error {
		for _, a := range st.appointments {
			if a.ProviderID != providerID || a.ID == excludeID {
				continue
			}
			if !isActiveStatus(a.Status) {
				continue
			}
			if a.StartTime.Before(end) && a.EndTime.After(start) {
				out = append(out, a)
			}
		}
		return nil
	})
	return out, err
}

func isActiveStatus(s AppointmentStatus) bool {
	for _, as := range ActiveStatuses {
		if s == as {
			return true
		}
	}
	return false
}

func (r *MemRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	var out *Appointment
	err := r.locked(func(st *memState) error {
		st.nextApptID++
		stored := *a
		stored.ID = st.nextApptID
		st.appointments[stored.ID] = stored
		st.apptByUUID[stored.UUID] = stored.ID
		out = &stored
		return nil
	})
	return out, err
}

func (r *MemRepository) casAppointment(id int64, from []AppointmentStatus, mutate func(a *Appointment)) (*Appointment, error) {
	var out *Appointment
	err := r.locked(func(st *memState) error {
		a, ok := st.appointments[id]
		if !ok {
			return ErrAppointmentNotFound
		}
		allowed := false
		for _, s := range from {
			if a.Status == s {
				allowed = true
				break
			}
		}
		if !allowed {
			return ErrAppointmentNotFound
		}
		mutate(&a)
		a.UpdatedAt = time.Now()
		st.appointments[id] = a
		out = &a
		return nil
	})
	return out, err
}

func (r *MemRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	return r.casAppointment(id, from, func(a *Appointment) {
		a.Status = to
	})
}

func (r *MemRepository) CancelAppointment(ctx context.Context, id int64, from []AppointmentStatus, cancelledBy, reason string) (*Appointment, error) {
	return r.casAppointment(id, from, func(a *Appointment) {
		a.Status = StatusCancelled
		a.CancelledBy = &cancelledBy
		a.CancellationReason = &reason
	})
}

func (r *MemRepository) CompleteAppointment(ctx context.Context, id int64, from []AppointmentStatus, notes *string) (*Appointment, error) {
	return r.casAppointment(id, from, func(a *Appointment) {
		a.Status = StatusCompleted
		if notes != nil {
			a.Notes = notes
		}
	})
}

func (r *MemRepository) RescheduleAppointment(ctx context.Context, id int64, from []AppointmentStatus, newStart, newEnd time.Time) (*Appointment, error) {
	return r.casAppointment(id, from, func(a *Appointment) {
		a.StartTime = newStart
		a.EndTime = newEnd
	})
}

// Waitlist

func (r *MemRepository) CreateWaitlistEntry(ctx context.Context, e *WaitlistEntry) (*WaitlistEntry, error) {
	var out *WaitlistEntry
	err := r.locked(func(st *memState) error {
		stored := *e
		st.waitlist[stored.ID] = stored
		out = &stored
		return nil
	})
	return out, err
}

func sameTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (r *MemRepository) GetActiveWaitlistEntry(ctx context.Context, clientID, providerID, serviceID uuid.UUID, prefStart, prefEnd *time.Time) (*WaitlistEntry, error) {
	var out *WaitlistEntry
	err := r.locked(func(st *memState) error {
		for _, e := range st.waitlist {
			if e.ClientID == clientID && e.ProviderID == providerID && e.ServiceID == serviceID &&
				e.Status == WaitlistActive &&
				sameTimePtr(e.PreferredStartTime, prefStart) && sameTimePtr(e.PreferredEndTime, prefEnd) {
				entry := e
				out = &entry
				return nil
			}
		}
		return ErrWaitlistEntryNotFound
	})
	return out, err
}

func (r *MemRepository) ListActiveWaitlistEntries(ctx context.Context, providerID, serviceID uuid.UUID, now time.Time) ([]WaitlistEntry, error) {
	var out []WaitlistEntry
	err := r.locked(func(st *memState) error {
		for _, e := range st.waitlist {
			if e.ProviderID == providerID && e.ServiceID == serviceID &&
				e.Status == WaitlistActive && e.ExpiresAt.After(now) {
				out = append(out, e)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r *MemRepository) ClaimWaitlistEntry(ctx context.Context, id uuid.UUID, notifiedAt time.Time) (*WaitlistEntry, error) {
	var out *WaitlistEntry
	err := r.locked(func(st *memState) error {
		e, ok := st.waitlist[id]
		if !ok || e.Status != WaitlistActive {
			return ErrWaitlistEntryNotFound
		}
		e.Status = WaitlistNotified
		e.NotifiedAt = &notifiedAt
		st.waitlist[id] = e
		out = &e
		return nil
	})
	return out, err
}

func (r *MemRepository) MarkWaitlistFulfilled(ctx context.Context, id uuid.UUID) error {
	return r.locked(func(st *memState) error {
		e, ok := st.waitlist[id]
		if !ok || e.Status != WaitlistNotified {
			return ErrWaitlistEntryNotFound
		}
		e.Status = WaitlistFulfilled
		st.waitlist[id] = e
		return nil
	})
}

func (r *MemRepository) FindNotifiedEntryForClient(ctx context.Context, clientID, providerID, serviceID uuid.UUID) (*WaitlistEntry, error) {
	var out *WaitlistEntry
	err := r.locked(func(st *memState) error {
		for _, e := range st.waitlist {
			if e.ClientID == clientID && e.ProviderID == providerID && e.ServiceID == serviceID &&
				e.Status == WaitlistNotified {
				entry := e
				out = &entry
				return nil
			}
		}
		return ErrWaitlistEntryNotFound
	})
	return out, err
}

func (r *MemRepository) ExpireWaitlistEntries(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.locked(func(st *memState) error {
		for id, e := range st.waitlist {
			if e.Status == WaitlistActive && e.ExpiresAt.Before(now) {
				e.Status = WaitlistExpired
				st.waitlist[id] = e
				n++
			}
		}
		return nil
	})
	return n, err
}

// Idempotency

func (r *MemRepository) GetIdempotencyRecord(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error) {
	var out *IdempotencyRecord
	err := r.locked(func(st *memState) error {
		rec, ok := st.idempotency[key]
		if !ok || !rec.ExpiresAt.After(now) {
			return ErrIdempotencyRecordNotFound
		}
		out = &rec
		return nil
	})
	return out, err
}

func (r *MemRepository) InsertIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	return r.locked(func(st *memState) error {
		if _, exists := st.idempotency[rec.Key]; exists {
			// First writer wins.
			return nil
		}
		st.idempotency[rec.Key] = rec
		return nil
	})
}

func (r *MemRepository) PurgeExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.locked(func(st *memState) error {
		for k, rec := range st.idempotency {
			if rec.ExpiresAt.Before(now) {
				delete(st.idempotency, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// History

func (r *MemRepository) InsertHistoryEntry(ctx context.Context, h HistoryEntry) error {
	return r.locked(func(st *memState) error {
		st.nextHistID++
		h.ID = st.nextHistID
		st.history = append(st.history, h)
		return nil
	})
}

func (r *MemRepository) ListHistoryByAppointment(ctx context.Context, appointmentID int64) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := r.locked(func(st *memState) error {
		for _, h := range st.history {
			if h.AppointmentID == appointmentID {
				out = append(out, h)
			}
		}
		return nil
	})
	return out, err
}
