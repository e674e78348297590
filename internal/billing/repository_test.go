package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
)

func newBillRepoMock(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("pgxmock.NewPool: %v", err)
	}
	t.Cleanup(mock.Close)
	return NewRepositoryWithQuerier(mock), mock
}

func TestGetBillByAppointment(t *testing.T) {
	repo, mock := newBillRepoMock(t)

	billID := uuid.New()
	apptID := uuid.New()
	now := time.Now()
	rows := pgxmock.NewRows([]string{
		"id", "appointment_id", "amount_cents", "billing_status", "refund_status",
		"refund_amount_cents", "charge_ref", "refund_ref", "paid_at", "created_at", "updated_at",
	}).AddRow(billID, apptID, int64(5000), BillUnpaid, RefundNotRefunded,
		int64(0), nil, nil, nil, now, now)

	mock.ExpectQuery(`SELECT .+ FROM bills WHERE appointment_id = \$1`).
		WithArgs(apptID).
		WillReturnRows(rows)

	bill, err := repo.GetBillByAppointment(context.Background(), apptID)
	if err != nil {
		t.Fatalf("GetBillByAppointment: %v", err)
	}
	if bill.ID != billID || bill.AmountCents != 5000 {
		t.Errorf("bill = %+v", bill)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetBillByAppointmentNotFound(t *testing.T) {
	repo, mock := newBillRepoMock(t)
	apptID := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM bills WHERE appointment_id = \$1`).
		WithArgs(apptID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	_, err := repo.GetBillByAppointment(context.Background(), apptID)
	if !errors.Is(err, ErrBillNotFound) {
		t.Errorf("err = %v, want ErrBillNotFound", err)
	}
}

func TestMarkBillPaidIsConditional(t *testing.T) {
	repo, mock := newBillRepoMock(t)
	billID := uuid.New()

	mock.ExpectExec(`UPDATE bills`).
		WithArgs(billID, "ch_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	paid, err := repo.MarkBillPaid(context.Background(), billID, "ch_1")
	if err != nil {
		t.Fatalf("MarkBillPaid: %v", err)
	}
	if !paid {
		t.Error("first settlement should report true")
	}

	// Replay hits zero rows because the bill is no longer unpaid.
	mock.ExpectExec(`UPDATE bills`).
		WithArgs(billID, "ch_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	paid, err = repo.MarkBillPaid(context.Background(), billID, "ch_1")
	if err != nil {
		t.Fatalf("replayed MarkBillPaid: %v", err)
	}
	if paid {
		t.Error("replay must be a no-op")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyRefundOutcome(t *testing.T) {
	repo, mock := newBillRepoMock(t)
	billID := uuid.New()
	txID := uuid.New()

	mock.ExpectExec(`UPDATE bills`).
		WithArgs(billID, "re_1", int64(5000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE payment_transactions`).
		WithArgs(txID, "re_1", int64(5000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	applied, err := repo.ApplyRefundOutcome(context.Background(), billID, txID, "re_1", 5000)
	if err != nil {
		t.Fatalf("ApplyRefundOutcome: %v", err)
	}
	if !applied {
		t.Error("first application should report true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestApplyRefundOutcomeAlreadyApplied(t *testing.T) {
	repo, mock := newBillRepoMock(t)
	billID := uuid.New()
	txID := uuid.New()

	mock.ExpectExec(`UPDATE bills`).
		WithArgs(billID, "re_1", int64(5000)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	applied, err := repo.ApplyRefundOutcome(context.Background(), billID, txID, "re_1", 5000)
	if err != nil {
		t.Fatalf("ApplyRefundOutcome: %v", err)
	}
	if applied {
		t.Error("second application must report false and skip the transaction update")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetTransactionByIntentRef(t *testing.T) {
	repo, mock := newBillRepoMock(t)
	txID := uuid.New()
	billID := uuid.New()
	now := time.Now()

	rows := pgxmock.NewRows([]string{
		"id", "bill_id", "intent_ref", "charge_ref", "refund_ref",
		"amount_cents", "refund_amount_cents", "status", "created_at", "updated_at",
	}).AddRow(txID, billID, "pi_9", nil, nil, int64(5000), int64(0), TxPending, now, now)

	mock.ExpectQuery(`SELECT .+ FROM payment_transactions\s+WHERE intent_ref = \$1`).
		WithArgs("pi_9").
		WillReturnRows(rows)

	tx, err := repo.GetTransactionByIntentRef(context.Background(), "pi_9")
	if err != nil {
		t.Fatalf("GetTransactionByIntentRef: %v", err)
	}
	if tx.ID != txID || tx.Status != TxPending {
		t.Errorf("tx = %+v", tx)
	}
}
