package booking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *PgRepository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock, NewPgRepository(mock)
}

func TestPgGetAppointmentByUUID(t *testing.T) {
	mock, repo := newMockRepo(t)
	u := uuid.New()
	now := time.Now().UTC()

	rows := pgxmock.NewRows(strings.Split(appointmentColumns, ", ")).AddRow(
		int64(42), u, uuid.New(), uuid.New(), uuid.New(),
		now.Add(24*time.Hour), 60, now.Add(25*time.Hour), StatusScheduled, int64(10000),
		(*string)(nil), (*string)(nil), (*string)(nil), now, now,
	)
	mock.ExpectQuery("SELECT (.+) FROM appointments").WithArgs(u).WillReturnRows(rows)

	appt, err := repo.GetAppointmentByUUID(context.Background(), u)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if appt.ID != 42 || appt.UUID != u || appt.Status != StatusScheduled {
		t.Fatalf("unexpected appointment: %#v", appt)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgGetAppointmentByUUIDNotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	u := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM appointments").WithArgs(u).WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetAppointmentByUUID(context.Background(), u)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestPgUpdateStatusCASMiss(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectQuery("UPDATE appointments").
		WithArgs(int64(42), StatusConfirmed, []string{"scheduled"}).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.UpdateAppointmentStatus(context.Background(), 42, []AppointmentStatus{StatusScheduled}, StatusConfirmed)
	if !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected CAS miss as ErrAppointmentNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgInsertIdempotencyRecordIgnoresDuplicate(t *testing.T) {
	mock, repo := newMockRepo(t)

	// ON CONFLICT DO NOTHING reports zero affected rows for a duplicate key,
	// which must not surface as an error.
	mock.ExpectExec("INSERT INTO idempotency_records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	err := repo.InsertIdempotencyRecord(context.Background(), IdempotencyRecord{
		Key:        "k1",
		StatusCode: 201,
		ExpiresAt:  time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
	})
	if err != nil {
		t.Fatalf("duplicate insert must be silent, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgMarkWaitlistFulfilledRequiresNotified(t *testing.T) {
	mock, repo := newMockRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE waitlist_entries").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkWaitlistFulfilled(context.Background(), id)
	if !errors.Is(err, ErrWaitlistEntryNotFound) {
		t.Fatalf("expected ErrWaitlistEntryNotFound, got %v", err)
	}
}

func TestPgWithTxCommitsOnSuccess(t *testing.T) {
	mock, repo := newMockRepo(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO appointment_history").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := repo.WithTx(context.Background(), func(tx Repository) error {
		return tx.InsertHistoryEntry(context.Background(), HistoryEntry{
			AppointmentID: 1,
			Action:        "book",
			Changes:       []byte(`{}`),
			ChangedBy:     ActorClient,
			CreatedAt:     time.Now(),
		})
	})
	if err != nil {
		t.Fatalf("tx failed: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgWithTxRollsBackOnError(t *testing.T) {
	mock, repo := newMockRepo(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := repo.WithTx(context.Background(), func(tx Repository) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error passed through, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
