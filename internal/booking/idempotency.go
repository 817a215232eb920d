package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// BookingResult is what Book returns and what the idempotency cache replays.
// A replayed failure carries ErrorCode instead of an Appointment.
type BookingResult struct {
	Appointment *Appointment `json:"appointment,omitempty"`
	ErrorCode   string       `json:"error_code,omitempty"`
	StatusCode  int          `json:"-"`
	Replayed    bool         `json:"-"`
}

// IdempotencyGuard deduplicates booking requests carrying a client-supplied
// key. Begin returns the cached result for a known unexpired key; Complete
// stores a result with first-writer-wins semantics, so two concurrent
// retries bearing the same key cannot both create state: the loser's write
// is silently dropped and the next lookup sees the winner's result.
type IdempotencyGuard struct {
	repo  Repository
	clock Clock
	ttl   time.Duration
}

func NewIdempotencyGuard(repo Repository, clock Clock, ttl time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &IdempotencyGuard{repo: repo, clock: clock, ttl: ttl}
}

// Begin looks up the key. It returns (nil, nil) when the caller should
// proceed: key absent, unknown, or expired.
func (g *IdempotencyGuard) Begin(ctx context.Context, key string) (*BookingResult, error) {
	if key == "" {
		return nil, nil
	}

	rec, err := g.repo.GetIdempotencyRecord(ctx, key, g.clock.Now())
	if errors.Is(err, ErrIdempotencyRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup idempotency record: %w", err)
	}

	var result BookingResult
	if len(rec.ResultSnapshot) > 0 {
		if err := json.Unmarshal(rec.ResultSnapshot, &result); err != nil {
			return nil, fmt.Errorf("decode idempotency snapshot: %w", err)
		}
	}
	result.StatusCode = rec.StatusCode
	result.Replayed = true
	return &result, nil
}

// Complete caches the outcome for the key. Duplicate keys are ignored by
// the insert itself; any other storage error is returned so the caller can
// log it, but a committed booking must never be failed because of it.
func (g *IdempotencyGuard) Complete(ctx context.Context, key string, result BookingResult) error {
	if key == "" {
		return nil
	}

	snapshot, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode idempotency snapshot: %w", err)
	}

	var apptID *int64
	if result.Appointment != nil {
		id := result.Appointment.ID
		apptID = &id
	}

	now := g.clock.Now()
	rec := IdempotencyRecord{
		Key:            key,
		AppointmentID:  apptID,
		ResultSnapshot: snapshot,
		StatusCode:     result.StatusCode,
		ExpiresAt:      now.Add(g.ttl),
		CreatedAt:      now,
	}

	if err := g.repo.InsertIdempotencyRecord(ctx, rec); err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}
