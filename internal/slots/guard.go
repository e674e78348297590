package slots

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	redisclient "github.com/curaline/telecare-platform/internal/redis"
	"github.com/curaline/telecare-platform/pkg/logging"
)

var (
	ErrSlotNotFound = errors.New("time slot not found")
	// ErrSlotRace is returned when a concurrent booking attempt already took
	// the slot. Callers surface it so the user can pick an alternative.
	ErrSlotRace = errors.New("slot lost to concurrent booking")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Guard makes check-then-book atomic for a slot. The Redis lock serializes
// bookers across processes; the conditional UPDATE is the source of truth,
// so a lost or expired lock still cannot double-book.
type Guard struct {
	db     querier
	locker redisclient.Locker
	logger *logging.Logger
}

// NewGuard creates a slot guard.
func NewGuard(pool *pgxpool.Pool, locker redisclient.Locker, logger *logging.Logger) *Guard {
	if pool == nil {
		panic("slots: pgx pool required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{db: pool, locker: locker, logger: logger}
}

// NewGuardWithQuerier allows injecting a mock for tests.
func NewGuardWithQuerier(q querier, locker redisclient.Locker, logger *logging.Logger) *Guard {
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{db: q, locker: locker, logger: logger}
}

const slotColumns = `id, provider_id, start_time, duration_minutes, mode,
	is_booked, is_available, created_at, updated_at`

func scanSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot
	err := row.Scan(
		&s.ID,
		&s.ProviderID,
		&s.StartTime,
		&s.DurationMinutes,
		&s.Mode,
		&s.IsBooked,
		&s.IsAvailable,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

// FindByID loads a slot.
func (g *Guard) FindByID(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	row := g.db.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM time_slots
		WHERE id = $1
	`, slotID)
	return scanSlot(row)
}

// BookSafely atomically marks a free slot as booked. Exactly one of two
// concurrent callers gets the slot; the other receives ErrSlotRace.
func (g *Guard) BookSafely(ctx context.Context, slotID uuid.UUID) (*TimeSlot, error) {
	var booked *TimeSlot

	book := func(ctx context.Context) error {
		row := g.db.QueryRow(ctx, `
			UPDATE time_slots
			SET is_booked = true,
			    updated_at = now()
			WHERE id = $1
			  AND is_booked = false
			  AND is_available = true
			RETURNING `+slotColumns+`
		`, slotID)
		slot, err := scanSlot(row)
		if err != nil {
			if errors.Is(err, ErrSlotNotFound) {
				return g.classifyBookFailure(ctx, slotID)
			}
			return err
		}
		booked = slot
		return nil
	}

	var err error
	if g.locker != nil {
		err = g.locker.WithSlotLock(ctx, slotID, book)
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			err = ErrSlotRace
		}
	} else {
		err = book(ctx)
	}
	if err != nil {
		return nil, err
	}

	g.logger.Info("slot booked", "slot_id", slotID)
	return booked, nil
}

// classifyBookFailure distinguishes a missing slot from a lost race after
// the conditional update matched nothing.
func (g *Guard) classifyBookFailure(ctx context.Context, slotID uuid.UUID) error {
	if _, err := g.FindByID(ctx, slotID); err != nil {
		return err
	}
	return ErrSlotRace
}

// ReleaseSafely frees a slot. Releasing an already-free slot is a no-op.
func (g *Guard) ReleaseSafely(ctx context.Context, slotID uuid.UUID) error {
	ct, err := g.db.Exec(ctx, `
		UPDATE time_slots
		SET is_booked = false,
		    is_available = true,
		    updated_at = now()
		WHERE id = $1
		  AND (is_booked = true OR is_available = false)
	`, slotID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() > 0 {
		g.logger.Info("slot released", "slot_id", slotID)
	}
	return nil
}
