package booking

import (
	"context"
	"encoding/json"
	"fmt"
)

// FieldChange is one side-by-side diff entry in a history row.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// HistoryLog appends audit rows. Record must be called with the same
// transaction-scoped Repository as the mutation it documents.
type HistoryLog struct {
	clock Clock
}

func NewHistoryLog(clock Clock) *HistoryLog {
	return &HistoryLog{clock: clock}
}

func (h *HistoryLog) Record(ctx context.Context, tx Repository, appointmentID int64, action Action, changes map[string]FieldChange, changedBy string) error {
	data, err := json.Marshal(changes)
	if err != nil {
		return fmt.Errorf("marshal history changes: %w", err)
	}

	entry := HistoryEntry{
		AppointmentID: appointmentID,
		Action:        string(action),
		Changes:       data,
		ChangedBy:     changedBy,
		CreatedAt:     h.clock.Now(),
	}

	if err := tx.InsertHistoryEntry(ctx, entry); err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}
