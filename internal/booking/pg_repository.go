package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgConn is the subset of pgx shared by pools and transactions, so the same
// repository methods run inside or outside a transaction scope.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is satisfied by *pgxpool.Pool and by pgxmock in tests.
type PgxPool interface {
	pgConn
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool PgxPool
	conn pgConn
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool, conn: pool}
}

// WithTx runs fn against a repository bound to a single transaction and
// commits only if fn returns nil. Nested calls reuse the enclosing
// transaction.
func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&PgRepository{conn: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Column lists

const appointmentColumns = `id, uuid, client_id, provider_id, service_id, start_time, duration_minutes, end_time, status, price_cents, cancelled_by, cancellation_reason, notes, created_at, updated_at`

const waitlistColumns = `id, client_id, provider_id, service_id, preferred_start_time, preferred_end_time, status, expires_at, notified_at, created_at`

// Scan helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	err := row.Scan(&p.ID, &p.Name, &p.Timezone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}
	return &p, nil
}

func scanService(row pgx.Row) (*ServiceOffering, error) {
	var s ServiceOffering
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.Name,
		&s.DurationMinutes,
		&s.PriceCents,
		&s.CancellationPolicyHours,
		&s.AutoConfirm,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func scanClient(row pgx.Row) (*Client, error) {
	var c Client
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	return &c, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.UUID,
		&a.ClientID,
		&a.ProviderID,
		&a.ServiceID,
		&a.StartTime,
		&a.DurationMinutes,
		&a.EndTime,
		&a.Status,
		&a.PriceCents,
		&a.CancelledBy,
		&a.CancellationReason,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanWaitlistEntry(row pgx.Row) (*WaitlistEntry, error) {
	var e WaitlistEntry
	err := row.Scan(
		&e.ID,
		&e.ClientID,
		&e.ProviderID,
		&e.ServiceID,
		&e.PreferredStartTime,
		&e.PreferredEndTime,
		&e.Status,
		&e.ExpiresAt,
		&e.NotifiedAt,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWaitlistEntryNotFound
		}
		return nil, err
	}
	return &e, nil
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Reference data

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT id, name, timezone, created_at, updated_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*ServiceOffering, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT id, provider_id, name, duration_minutes, price_cents, cancellation_policy_hours, auto_confirm, created_at, updated_at
		FROM services
		WHERE id = $1
	`, id)
	return scanService(row)
}

func (r *PgRepository) GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at, updated_at
		FROM clients
		WHERE id = $1
	`, id)
	return scanClient(row)
}

// Appointments

func (r *PgRepository) GetAppointmentByUUID(ctx context.Context, u uuid.UUID) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE uuid = $1
	`, u)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointmentsByClient(ctx context.Context, clientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE client_id = $1
		ORDER BY start_time DESC
		LIMIT $2 OFFSET $3
	`, clientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func (r *PgRepository) ListActiveOverlapping(ctx context.Context, providerID uuid.UUID, start, end time.Time, excludeID int64) ([]Appointment, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND status = ANY($2)
		  AND start_time < $3
		  AND end_time > $4
		  AND ($5::bigint = 0 OR id <> $5)
	`, providerID, statusStrings(ActiveStatuses), end, start, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAppointments(rows)
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO appointments (uuid, client_id, provider_id, service_id, start_time, duration_minutes, end_time, status, price_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING `+appointmentColumns+`
	`, a.UUID, a.ClientID, a.ProviderID, a.ServiceID, a.StartTime, a.DurationMinutes, a.EndTime, a.Status, a.PriceCents, a.CreatedAt)

	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id int64, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, to, statusStrings(from))

	return scanAppointment(row)
}

func (r *PgRepository) CancelAppointment(ctx context.Context, id int64, from []AppointmentStatus, cancelledBy, reason string) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancelled_by = $2,
		    cancellation_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4)
		RETURNING `+appointmentColumns+`
	`, id, cancelledBy, reason, statusStrings(from))

	return scanAppointment(row)
}

func (r *PgRepository) CompleteAppointment(ctx context.Context, id int64, from []AppointmentStatus, notes *string) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    notes = COALESCE($2, notes),
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns+`
	`, id, notes, statusStrings(from))

	return scanAppointment(row)
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id int64, from []AppointmentStatus, newStart, newEnd time.Time) (*Appointment, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    end_time = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($4)
		RETURNING `+appointmentColumns+`
	`, id, newStart, newEnd, statusStrings(from))

	return scanAppointment(row)
}

// Waitlist

func (r *PgRepository) CreateWaitlistEntry(ctx context.Context, e *WaitlistEntry) (*WaitlistEntry, error) {
	row := r.conn.QueryRow(ctx, `
		INSERT INTO waitlist_entries (id, client_id, provider_id, service_id, preferred_start_time, preferred_end_time, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+waitlistColumns+`
	`, e.ID, e.ClientID, e.ProviderID, e.ServiceID, e.PreferredStartTime, e.PreferredEndTime, e.Status, e.ExpiresAt, e.CreatedAt)

	return scanWaitlistEntry(row)
}

func (r *PgRepository) GetActiveWaitlistEntry(ctx context.Context, clientID, providerID, serviceID uuid.UUID, prefStart, prefEnd *time.Time) (*WaitlistEntry, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE client_id = $1
		  AND provider_id = $2
		  AND service_id = $3
		  AND status = 'active'
		  AND preferred_start_time IS NOT DISTINCT FROM $4
		  AND preferred_end_time IS NOT DISTINCT FROM $5
	`, clientID, providerID, serviceID, prefStart, prefEnd)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) ListActiveWaitlistEntries(ctx context.Context, providerID, serviceID uuid.UUID, now time.Time) ([]WaitlistEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE provider_id = $1
		  AND service_id = $2
		  AND status = 'active'
		  AND expires_at > $3
		ORDER BY created_at ASC
	`, providerID, serviceID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []WaitlistEntry
	for rows.Next() {
		e, err := scanWaitlistEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) ClaimWaitlistEntry(ctx context.Context, id uuid.UUID, notifiedAt time.Time) (*WaitlistEntry, error) {
	row := r.conn.QueryRow(ctx, `
		UPDATE waitlist_entries
		SET status = 'notified',
		    notified_at = $2
		WHERE id = $1
		  AND status = 'active'
		RETURNING `+waitlistColumns+`
	`, id, notifiedAt)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) MarkWaitlistFulfilled(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'fulfilled'
		WHERE id = $1
		  AND status = 'notified'
	`, id)
	if err != nil {
		return fmt.Errorf("mark waitlist fulfilled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWaitlistEntryNotFound
	}
	return nil
}

func (r *PgRepository) FindNotifiedEntryForClient(ctx context.Context, clientID, providerID, serviceID uuid.UUID) (*WaitlistEntry, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE client_id = $1
		  AND provider_id = $2
		  AND service_id = $3
		  AND status = 'notified'
		ORDER BY notified_at DESC
		LIMIT 1
	`, clientID, providerID, serviceID)
	return scanWaitlistEntry(row)
}

func (r *PgRepository) ExpireWaitlistEntries(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		UPDATE waitlist_entries
		SET status = 'expired'
		WHERE status = 'active'
		  AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire waitlist entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Idempotency

func (r *PgRepository) GetIdempotencyRecord(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error) {
	row := r.conn.QueryRow(ctx, `
		SELECT idempotency_key, appointment_id, result_snapshot, status_code, expires_at, created_at
		FROM idempotency_records
		WHERE idempotency_key = $1
		  AND expires_at > $2
	`, key, now)

	var rec IdempotencyRecord
	err := row.Scan(&rec.Key, &rec.AppointmentID, &rec.ResultSnapshot, &rec.StatusCode, &rec.ExpiresAt, &rec.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrIdempotencyRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PgRepository) InsertIdempotencyRecord(ctx context.Context, rec IdempotencyRecord) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO idempotency_records (idempotency_key, appointment_id, result_snapshot, status_code, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, rec.Key, rec.AppointmentID, rec.ResultSnapshot, rec.StatusCode, rec.ExpiresAt, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func (r *PgRepository) PurgeExpiredIdempotencyRecords(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.conn.Exec(ctx, `
		DELETE FROM idempotency_records
		WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// History

func (r *PgRepository) InsertHistoryEntry(ctx context.Context, h HistoryEntry) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, action, changes, changed_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, h.AppointmentID, h.Action, h.Changes, h.ChangedBy, h.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

func (r *PgRepository) ListHistoryByAppointment(ctx context.Context, appointmentID int64) ([]HistoryEntry, error) {
	rows, err := r.conn.Query(ctx, `
		SELECT id, appointment_id, action, changes, changed_by, created_at
		FROM appointment_history
		WHERE appointment_id = $1
		ORDER BY created_at ASC, id ASC
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		if err := rows.Scan(&h.ID, &h.AppointmentID, &h.Action, &h.Changes, &h.ChangedBy, &h.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
