package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemWithTxRollsBackOnError(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()
	boom := errors.New("boom")
	u := uuid.New()

	err := repo.WithTx(ctx, func(tx Repository) error {
		if _, err := tx.CreateAppointment(ctx, &Appointment{UUID: u, Status: StatusScheduled}); err != nil {
			return err
		}
		if err := tx.InsertHistoryEntry(ctx, HistoryEntry{AppointmentID: 1, Action: "book"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error returned, got %v", err)
	}

	if _, err := repo.GetAppointmentByUUID(ctx, u); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("rolled-back appointment must not exist, got %v", err)
	}
	hist, err := repo.ListHistoryByAppointment(ctx, 1)
	if err != nil || len(hist) != 0 {
		t.Fatalf("rolled-back history must not exist, got %v %v", hist, err)
	}
}

func TestMemWithTxCommits(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()
	u := uuid.New()

	err := repo.WithTx(ctx, func(tx Repository) error {
		_, err := tx.CreateAppointment(ctx, &Appointment{UUID: u, Status: StatusScheduled})
		return err
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	if _, err := repo.GetAppointmentByUUID(ctx, u); err != nil {
		t.Fatalf("committed appointment missing: %v", err)
	}
}

func TestMemStatusUpdateIsCompareAndSet(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	created, err := repo.CreateAppointment(ctx, &Appointment{UUID: uuid.New(), Status: StatusCancelled})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	_, err = repo.UpdateAppointmentStatus(ctx, created.ID, []AppointmentStatus{StatusScheduled}, StatusConfirmed)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected CAS miss, got %v", err)
	}

	got, err := repo.GetAppointmentByUUID(ctx, created.UUID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Fatalf("CAS miss must not mutate, got %s", got.Status)
	}
}

func TestMemClaimWaitlistEntryOnlyOnce(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	entry, err := repo.CreateWaitlistEntry(ctx, &WaitlistEntry{
		ID:        uuid.New(),
		Status:    WaitlistActive,
		ExpiresAt: testBase.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if _, err := repo.ClaimWaitlistEntry(ctx, entry.ID, testBase); err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	if _, err := repo.ClaimWaitlistEntry(ctx, entry.ID, testBase); !errors.Is(err, ErrWaitlistEntryNotFound) {
		t.Fatalf("second claim must lose, got %v", err)
	}
}

func TestMemPurgeExpiredIdempotencyRecords(t *testing.T) {
	repo := NewMemRepository()
	ctx := context.Background()

	if err := repo.InsertIdempotencyRecord(ctx, IdempotencyRecord{Key: "old", ExpiresAt: testBase.Add(-time.Hour)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := repo.InsertIdempotencyRecord(ctx, IdempotencyRecord{Key: "fresh", ExpiresAt: testBase.Add(time.Hour)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	n, err := repo.PurgeExpiredIdempotencyRecords(ctx, testBase)
	if err != nil {
		t.Fatalf("purge failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one purged record, got %d", n)
	}
	if _, err := repo.GetIdempotencyRecord(ctx, "fresh", testBase); err != nil {
		t.Fatalf("fresh record must survive, got %v", err)
	}
}
