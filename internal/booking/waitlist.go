package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WaitlistMatcher promotes the earliest eligible waiting client when a slot
// frees up. Promotion reserves nothing: the notified client still has to
// book through the normal reservation path.
type WaitlistMatcher struct {
	repo     Repository
	clock    Clock
	notifier NotificationDispatcher
}

func NewWaitlistMatcher(repo Repository, clock Clock, notifier NotificationDispatcher) *WaitlistMatcher {
	return &WaitlistMatcher{repo: repo, clock: clock, notifier: notifier}
}

// PromoteForFreedSlot selects active entries for (provider, service) in
// created_at order and claims the first whose preferences admit the freed
// window. The claim is a conditional active -> notified update, so two
// concurrent cancellations freeing windows that match the same entry
// promote it exactly once; the loser just moves on to the next candidate.
// Returns nil when nothing matched.
func (m *WaitlistMatcher) PromoteForFreedSlot(ctx context.Context, providerID, serviceID uuid.UUID, freedStart, freedEnd time.Time) (*WaitlistEntry, error) {
	now := m.clock.Now()

	candidates, err := m.repo.ListActiveWaitlistEntries(ctx, providerID, serviceID, now)
	if err != nil {
		return nil, fmt.Errorf("list waitlist candidates: %w", err)
	}

	for i := range candidates {
		entry := &candidates[i]
		if !entry.Matches(freedStart, freedEnd) {
			continue
		}

		claimed, err := m.repo.ClaimWaitlistEntry(ctx, entry.ID, now)
		if errors.Is(err, ErrWaitlistEntryNotFound) {
			// Lost the claim race, try the next candidate.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("claim waitlist entry %s: %w", entry.ID, err)
		}

		m.notifier.WaitlistSlotAvailable(ctx, claimed, freedStart, freedEnd)
		return claimed, nil
	}

	return nil, nil
}
