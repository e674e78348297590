package billing

import (
	"time"

	"github.com/google/uuid"
)

// BillingStatus is the charge lifecycle of a bill.
type BillingStatus string

const (
	BillUnpaid    BillingStatus = "unpaid"
	BillPaid      BillingStatus = "paid"
	BillCancelled BillingStatus = "cancelled"
)

// RefundStatus is the lifecycle of money returned against a paid bill.
type RefundStatus string

const (
	RefundNotRefunded RefundStatus = "not_refunded"
	RefundProcessing  RefundStatus = "refund_processing"
	RefundRefunded    RefundStatus = "refunded"
	RefundPartial     RefundStatus = "partial_refund"
	RefundFailed      RefundStatus = "refund_failed"
)

// TransactionStatus mirrors the bill lifecycle at the granularity of one
// gateway charge attempt.
type TransactionStatus string

const (
	TxPending    TransactionStatus = "pending"
	TxProcessing TransactionStatus = "processing"
	TxCompleted  TransactionStatus = "completed"
	TxFailed     TransactionStatus = "failed"
	TxCancelled  TransactionStatus = "cancelled"
	TxRefunded   TransactionStatus = "refunded"
)

// Bill is the money owed for one appointment. RefundStatus can only reach
// refunded/partial_refund while the bill is paid.
type Bill struct {
	ID                uuid.UUID
	AppointmentID     uuid.UUID
	AmountCents       int64
	BillingStatus     BillingStatus
	RefundStatus      RefundStatus
	RefundAmountCents int64
	ChargeRef         *string
	RefundRef         *string
	PaidAt            *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// PaymentTransaction is one gateway charge attempt against a bill.
type PaymentTransaction struct {
	ID                uuid.UUID
	BillID            uuid.UUID
	IntentRef         string
	ChargeRef         *string
	RefundRef         *string
	AmountCents       int64
	RefundAmountCents int64
	Status            TransactionStatus
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
