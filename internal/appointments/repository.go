package appointments

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository is the persistence surface the orchestrator and reconciler use.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, from Status, reason string) (*Appointment, error)
	Complete(ctx context.Context, id uuid.UUID, from Status, notes string) (*Appointment, error)
	ListInStatus(ctx context.Context, status Status, limit int) ([]Appointment, error)
	ListPendingPaymentCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
	ListConfirmedStartingBetween(ctx context.Context, mode Mode, from, to time.Time, limit int) ([]Appointment, error)
	ListAwaitedPastStart(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
	ListInProgressStalledSince(ctx context.Context, mode Mode, cutoff time.Time, limit int) ([]Appointment, error)
	ListStartingBetween(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error)
	ListNonTerminalIdleSince(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgRepository stores appointments in Postgres.
type PgRepository struct {
	db querier
}

// NewPgRepository initializes a repo backed by pgxpool.
func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	if pool == nil {
		panic("appointments: pgx pool required")
	}
	return &PgRepository{db: pool}
}

// NewPgRepositoryWithQuerier allows injecting a mock for tests.
func NewPgRepositoryWithQuerier(q querier) *PgRepository {
	return &PgRepository{db: q}
}

const appointmentColumns = `id, patient_id, provider_id, slot_id, status, mode,
	reason, notes, cancellation_reason, scheduled_for, duration_minutes,
	created_at, updated_at, completed_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ProviderID,
		&a.SlotID,
		&a.Status,
		&a.Mode,
		&a.Reason,
		&a.Notes,
		&a.CancellationReason,
		&a.ScheduledFor,
		&a.DurationMinutes,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetBySlotID(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY created_at DESC
		LIMIT 1
	`, slotID)
	return scanAppointment(row)
}

// UpdateStatus performs a compare-and-swap: the row is only written if it is
// still in the expected source status. A vanished row means the appointment
// is missing or was concurrently moved; callers treat both as a lost race.
func (r *PgRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)
	return scanAppointment(row)
}

func (r *PgRepository) Cancel(ctx context.Context, id uuid.UUID, from Status, reason string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
		    cancellation_reason = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, reason)
	return scanAppointment(row)
}

func (r *PgRepository) Complete(ctx context.Context, id uuid.UUID, from Status, notes string) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'completed',
		    notes = CASE WHEN $3 = '' THEN notes ELSE trim(both ' ' from notes || ' ' || $3) END,
		    completed_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		RETURNING `+appointmentColumns+`
	`, id, from, notes)
	return scanAppointment(row)
}

func (r *PgRepository) ListInStatus(ctx context.Context, status Status, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = $1
		ORDER BY scheduled_for
		LIMIT $2
	`, status, limit)
}

func (r *PgRepository) ListPendingPaymentCreatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending_payment'
		  AND created_at < $1
		ORDER BY created_at
		LIMIT $2
	`, cutoff, limit)
}

func (r *PgRepository) ListConfirmedStartingBetween(ctx context.Context, mode Mode, from, to time.Time, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND mode = $1
		  AND scheduled_for >= $2
		  AND scheduled_for <= $3
		ORDER BY scheduled_for
		LIMIT $4
	`, mode, from, to, limit)
}

// ListAwaitedPastStart returns confirmed or ready appointments whose start
// time is already behind the no-show cutoff.
func (r *PgRepository) ListAwaitedPastStart(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('confirmed', 'ready_for_call')
		  AND scheduled_for < $1
		ORDER BY scheduled_for
		LIMIT $2
	`, cutoff, limit)
}

func (r *PgRepository) ListInProgressStalledSince(ctx context.Context, mode Mode, cutoff time.Time, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'in_progress'
		  AND mode = $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
	`, mode, cutoff, limit)
}

func (r *PgRepository) ListStartingBetween(ctx context.Context, from, to time.Time, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status IN ('confirmed', 'ready_for_call')
		  AND scheduled_for >= $1
		  AND scheduled_for <= $2
		ORDER BY scheduled_for
		LIMIT $3
	`, from, to, limit)
}

func (r *PgRepository) ListNonTerminalIdleSince(ctx context.Context, cutoff time.Time, limit int) ([]Appointment, error) {
	return r.list(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status NOT IN ('completed', 'cancelled', 'no_show')
		  AND updated_at < $1
		ORDER BY updated_at
		LIMIT $2
	`, cutoff, limit)
}

func (r *PgRepository) list(ctx context.Context, query string, args ...any) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}
