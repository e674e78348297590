package billing

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/curaline/telecare-platform/internal/appointments"
)

// stubBillStore is an in-memory billStore with the same conditional-update
// semantics as the Postgres repository.
type stubBillStore struct {
	mu    sync.Mutex
	bills map[uuid.UUID]*Bill
	txs   map[uuid.UUID]*PaymentTransaction
}

func newStubBillStore() *stubBillStore {
	return &stubBillStore{
		bills: make(map[uuid.UUID]*Bill),
		txs:   make(map[uuid.UUID]*PaymentTransaction),
	}
}

func (s *stubBillStore) addBill(b *Bill) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bills[b.ID] = b
}

func (s *stubBillStore) addTransaction(t *PaymentTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[t.ID] = t
}

func (s *stubBillStore) GetBillByID(_ context.Context, id uuid.UUID) (*Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bills[id]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, ErrBillNotFound
}

func (s *stubBillStore) GetBillByAppointment(_ context.Context, appointmentID uuid.UUID) (*Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bills {
		if b.AppointmentID == appointmentID {
			cp := *b
			return &cp, nil
		}
	}
	return nil, ErrBillNotFound
}

func (s *stubBillStore) GetTransactionByBill(_ context.Context, billID uuid.UUID) (*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.BillID == billID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *stubBillStore) GetTransactionByIntentRef(_ context.Context, intentRef string) (*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.IntentRef == intentRef {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *stubBillStore) GetTransactionByChargeRef(_ context.Context, chargeRef string) (*PaymentTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.txs {
		if t.ChargeRef != nil && *t.ChargeRef == chargeRef {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrTransactionNotFound
}

func (s *stubBillStore) MarkBillPaid(_ context.Context, billID uuid.UUID, chargeRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok || b.BillingStatus != BillUnpaid {
		return false, nil
	}
	now := time.Now().UTC()
	b.BillingStatus = BillPaid
	b.ChargeRef = &chargeRef
	b.PaidAt = &now
	return true, nil
}

func (s *stubBillStore) CancelBill(_ context.Context, billID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok || b.BillingStatus != BillUnpaid {
		return false, nil
	}
	b.BillingStatus = BillCancelled
	return true, nil
}

func (s *stubBillStore) SetTransactionStatus(_ context.Context, txID uuid.UUID, status TransactionStatus, chargeRef string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.txs[txID]
	if !ok {
		return false, nil
	}
	if t.Status != TxPending && t.Status != TxProcessing {
		return false, nil
	}
	t.Status = status
	if chargeRef != "" {
		t.ChargeRef = &chargeRef
	}
	return true, nil
}

func (s *stubBillStore) MarkRefundProcessing(_ context.Context, billID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok || b.BillingStatus != BillPaid {
		return false, nil
	}
	if b.RefundStatus != RefundNotRefunded && b.RefundStatus != RefundFailed {
		return false, nil
	}
	b.RefundStatus = RefundProcessing
	return true, nil
}

func (s *stubBillStore) MarkRefundFailed(_ context.Context, billID, txID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bills[billID]; ok && b.RefundStatus == RefundProcessing {
		b.RefundStatus = RefundFailed
	}
	if t, ok := s.txs[txID]; ok && t.Status != TxRefunded && t.Status != TxCancelled {
		t.Status = TxFailed
	}
	return nil
}

func (s *stubBillStore) ApplyRefundOutcome(_ context.Context, billID, txID uuid.UUID, refundRef string, amountCents int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bills[billID]
	if !ok || b.BillingStatus != BillPaid {
		return false, nil
	}
	if b.RefundStatus == RefundRefunded || b.RefundStatus == RefundPartial {
		return false, nil
	}
	if amountCents < b.AmountCents {
		b.RefundStatus = RefundPartial
	} else {
		b.RefundStatus = RefundRefunded
	}
	b.RefundAmountCents = amountCents
	b.RefundRef = &refundRef
	if t, ok := s.txs[txID]; ok {
		t.Status = TxRefunded
		t.RefundRef = &refundRef
		t.RefundAmountCents = amountCents
	}
	return true, nil
}

// stubApptStore holds appointments and applies CAS semantics on update.
type stubApptStore struct {
	mu    sync.Mutex
	appts map[uuid.UUID]*appointments.Appointment
}

func newStubApptStore() *stubApptStore {
	return &stubApptStore{appts: make(map[uuid.UUID]*appointments.Appointment)}
}

func (s *stubApptStore) add(a *appointments.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appts[a.ID] = a
}

func (s *stubApptStore) GetByID(_ context.Context, id uuid.UUID) (*appointments.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.appts[id]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, appointments.ErrAppointmentNotFound
}

func (s *stubApptStore) UpdateStatus(_ context.Context, id uuid.UUID, from, to appointments.Status) (*appointments.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || a.Status != from {
		return nil, appointments.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now().UTC()
	cp := *a
	return &cp, nil
}

type insertedEvent struct {
	Type    string
	Payload any
}

type stubOutbox struct {
	mu       sync.Mutex
	inserted []insertedEvent
}

func (s *stubOutbox) Insert(_ context.Context, eventType string, payload any) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, insertedEvent{Type: eventType, Payload: payload})
	return uuid.New(), nil
}

func (s *stubOutbox) events() []insertedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]insertedEvent(nil), s.inserted...)
}

type stubProcessed struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newStubProcessed() *stubProcessed {
	return &stubProcessed{seen: make(map[string]bool)}
}

func (s *stubProcessed) AlreadyProcessed(_ context.Context, source, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[source+":"+eventID], nil
}

func (s *stubProcessed) MarkProcessed(_ context.Context, source, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := source + ":" + eventID
	if s.seen[key] {
		return false, nil
	}
	s.seen[key] = true
	return true, nil
}

// fakeGateway scripts CreateRefund responses per call.
type fakeGateway struct {
	mu       sync.Mutex
	calls    int
	respond  []func(req CreateRefundRequest) (*Refund, error)
	requests []CreateRefundRequest
}

func (g *fakeGateway) CreateRefund(_ context.Context, req CreateRefundRequest) (*Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	idx := g.calls
	g.calls++
	if idx < len(g.respond) {
		return g.respond[idx](req)
	}
	return &Refund{ID: "re_fake", Status: "succeeded", AmountCents: req.AmountCents, CreatedAt: time.Now()}, nil
}
