package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrBillNotFound        = errors.New("bill not found")
	ErrTransactionNotFound = errors.New("payment transaction not found")
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository persists bills and payment transactions. Updates are written
// as conditional statements so replayed webhook deliveries degrade to
// no-ops instead of double-applying.
type Repository struct {
	db querier
}

// NewRepository creates a repository backed by pgx.
func NewRepository(pool *pgxpool.Pool) *Repository {
	if pool == nil {
		panic("billing: pgx pool required")
	}
	return &Repository{db: pool}
}

// NewRepositoryWithQuerier allows injecting a mock for tests.
func NewRepositoryWithQuerier(q querier) *Repository {
	return &Repository{db: q}
}

const billColumns = `id, appointment_id, amount_cents, billing_status, refund_status,
	refund_amount_cents, charge_ref, refund_ref, paid_at, created_at, updated_at`

const txColumns = `id, bill_id, intent_ref, charge_ref, refund_ref,
	amount_cents, refund_amount_cents, status, created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var b Bill
	err := row.Scan(
		&b.ID, &b.AppointmentID, &b.AmountCents, &b.BillingStatus, &b.RefundStatus,
		&b.RefundAmountCents, &b.ChargeRef, &b.RefundRef, &b.PaidAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBillNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanTransaction(row pgx.Row) (*PaymentTransaction, error) {
	var t PaymentTransaction
	err := row.Scan(
		&t.ID, &t.BillID, &t.IntentRef, &t.ChargeRef, &t.RefundRef,
		&t.AmountCents, &t.RefundAmountCents, &t.Status, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (r *Repository) GetBillByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	row := r.db.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE id = $1`, id)
	return scanBill(row)
}

func (r *Repository) GetBillByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Bill, error) {
	row := r.db.QueryRow(ctx, `SELECT `+billColumns+` FROM bills WHERE appointment_id = $1`, appointmentID)
	return scanBill(row)
}

func (r *Repository) GetTransactionByBill(ctx context.Context, billID uuid.UUID) (*PaymentTransaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE bill_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, billID)
	return scanTransaction(row)
}

func (r *Repository) GetTransactionByIntentRef(ctx context.Context, intentRef string) (*PaymentTransaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE intent_ref = $1
	`, intentRef)
	return scanTransaction(row)
}

func (r *Repository) GetTransactionByChargeRef(ctx context.Context, chargeRef string) (*PaymentTransaction, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+txColumns+`
		FROM payment_transactions
		WHERE charge_ref = $1
	`, chargeRef)
	return scanTransaction(row)
}

// MarkBillPaid settles an unpaid bill. Returns false when the bill was
// already paid, which makes replayed success events a no-op.
func (r *Repository) MarkBillPaid(ctx context.Context, billID uuid.UUID, chargeRef string) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE bills
		SET billing_status = 'paid',
		    charge_ref = $2,
		    paid_at = now(),
		    updated_at = now()
		WHERE id = $1
		  AND billing_status = 'unpaid'
	`, billID, chargeRef)
	if err != nil {
		return false, fmt.Errorf("billing: mark bill paid: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// CancelBill voids an unpaid bill.
func (r *Repository) CancelBill(ctx context.Context, billID uuid.UUID) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE bills
		SET billing_status = 'cancelled',
		    updated_at = now()
		WHERE id = $1
		  AND billing_status = 'unpaid'
	`, billID)
	if err != nil {
		return false, fmt.Errorf("billing: cancel bill: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// SetTransactionStatus moves a non-terminal transaction to the given status.
func (r *Repository) SetTransactionStatus(ctx context.Context, txID uuid.UUID, status TransactionStatus, chargeRef string) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE payment_transactions
		SET status = $2,
		    charge_ref = COALESCE(NULLIF($3, ''), charge_ref),
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'processing')
	`, txID, status, chargeRef)
	if err != nil {
		return false, fmt.Errorf("billing: set transaction status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkRefundProcessing reserves the refund path for one caller. Only a paid
// bill that is not already refunded or mid-refund qualifies.
func (r *Repository) MarkRefundProcessing(ctx context.Context, billID uuid.UUID) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE bills
		SET refund_status = 'refund_processing',
		    updated_at = now()
		WHERE id = $1
		  AND billing_status = 'paid'
		  AND refund_status IN ('not_refunded', 'refund_failed')
	`, billID)
	if err != nil {
		return false, fmt.Errorf("billing: mark refund processing: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MarkRefundFailed records an exhausted or rejected refund attempt.
func (r *Repository) MarkRefundFailed(ctx context.Context, billID, txID uuid.UUID) error {
	if _, err := r.db.Exec(ctx, `
		UPDATE bills
		SET refund_status = 'refund_failed',
		    updated_at = now()
		WHERE id = $1
		  AND refund_status = 'refund_processing'
	`, billID); err != nil {
		return fmt.Errorf("billing: mark bill refund failed: %w", err)
	}
	if _, err := r.db.Exec(ctx, `
		UPDATE payment_transactions
		SET status = 'failed',
		    updated_at = now()
		WHERE id = $1
		  AND status NOT IN ('refunded', 'cancelled')
	`, txID); err != nil {
		return fmt.Errorf("billing: mark transaction refund failed: %w", err)
	}
	return nil
}

// ApplyRefundOutcome records a gateway-confirmed refund on both the bill and
// the transaction, keyed by the external refund reference. The synchronous
// coordinator path and the async refund.created webhook both land here, so
// whichever arrives first wins and the second application returns false.
func (r *Repository) ApplyRefundOutcome(ctx context.Context, billID, txID uuid.UUID, refundRef string, amountCents int64) (bool, error) {
	ct, err := r.db.Exec(ctx, `
		UPDATE bills
		SET refund_status = CASE WHEN $3 < amount_cents THEN 'partial_refund' ELSE 'refunded' END,
		    refund_amount_cents = $3,
		    refund_ref = $2,
		    updated_at = now()
		WHERE id = $1
		  AND billing_status = 'paid'
		  AND refund_status NOT IN ('refunded', 'partial_refund')
	`, billID, refundRef, amountCents)
	if err != nil {
		return false, fmt.Errorf("billing: apply bill refund: %w", err)
	}
	applied := ct.RowsAffected() > 0
	if !applied {
		return false, nil
	}

	if _, err := r.db.Exec(ctx, `
		UPDATE payment_transactions
		SET status = 'refunded',
		    refund_ref = $2,
		    refund_amount_cents = $3,
		    updated_at = now()
		WHERE id = $1
		  AND status != 'refunded'
	`, txID, refundRef, amountCents); err != nil {
		return false, fmt.Errorf("billing: apply transaction refund: %w", err)
	}
	return true, nil
}
