package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/curaline/telecare-platform/pkg/logging"
)

type processedTracker interface {
	AlreadyProcessed(ctx context.Context, source, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, source, eventID string) (bool, error)
}

type eventApplier interface {
	Apply(ctx context.Context, evt GatewayEvent) error
}

// WebhookHandler receives gateway payment notifications. Unverifiable or
// malformed payloads are rejected so the gateway redelivers; events that are
// verified but cannot be made to succeed are acknowledged so they are not
// redelivered forever.
type WebhookHandler struct {
	webhookSecret string
	reconciler    eventApplier
	processed     processedTracker
	logger        *logging.Logger
	observe       func(eventType, status string)
}

// NewWebhookHandler creates a handler for gateway webhooks.
func NewWebhookHandler(webhookSecret string, reconciler eventApplier, processed processedTracker, logger *logging.Logger) *WebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &WebhookHandler{
		webhookSecret: webhookSecret,
		reconciler:    reconciler,
		processed:     processed,
		logger:        logger,
	}
}

// WithObserver attaches a metrics callback invoked per event.
func (h *WebhookHandler) WithObserver(observe func(eventType, status string)) *WebhookHandler {
	h.observe = observe
	return h
}

// Handle processes incoming gateway webhook events.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	sigHeader := r.Header.Get("Gateway-Signature")
	if !verifyGatewaySignature(h.webhookSecret, payload, sigHeader) {
		h.record("unknown", "forbidden")
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Error("failed to decode gateway event", "error", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if envelope.ID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	if done, err := h.processed.AlreadyProcessed(r.Context(), "gateway", envelope.ID); err != nil {
		h.logger.Error("processed lookup failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	} else if done {
		h.record(envelope.Type, "duplicate")
		w.WriteHeader(http.StatusOK)
		return
	}

	evt, err := envelope.toGatewayEvent()
	if err != nil {
		h.logger.Warn("gateway event with unusable payload", "event_id", envelope.ID, "error", err)
		h.record(envelope.Type, "dropped")
		// Verified but unprocessable: acknowledge so it is not redelivered.
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.reconciler.Apply(r.Context(), evt); err != nil {
		h.logger.Error("failed to apply gateway event", "event_id", envelope.ID, "type", envelope.Type, "error", err)
		h.record(envelope.Type, "error")
		http.Error(w, "server error", http.StatusInternalServerError)
		return
	}

	if _, err := h.processed.MarkProcessed(r.Context(), "gateway", envelope.ID); err != nil {
		h.logger.Error("failed to record processed event", "error", err, "event_id", envelope.ID)
	}

	h.record(envelope.Type, "applied")
	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) record(eventType, status string) {
	if h.observe != nil {
		h.observe(eventType, status)
	}
}

// webhookEnvelope is the provider's event wrapper.
type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object webhookObject `json:"object"`
	} `json:"data"`
}

// webhookObject carries the union of payment_intent and refund fields this
// core reads.
type webhookObject struct {
	ID            string `json:"id"`
	Object        string `json:"object"`
	Amount        int64  `json:"amount"`
	Charge        string `json:"charge"`
	PaymentIntent string `json:"payment_intent"`
	LatestCharge  string `json:"latest_charge"`
}

func (e *webhookEnvelope) toGatewayEvent() (GatewayEvent, error) {
	obj := e.Data.Object
	evt := GatewayEvent{
		ID:          e.ID,
		Type:        e.Type,
		AmountCents: obj.Amount,
		CreatedAt:   time.Unix(e.Created, 0),
	}

	switch e.Type {
	case EventRefundCreated:
		if obj.ID == "" {
			return evt, fmt.Errorf("billing: refund event without refund id")
		}
		evt.RefundRef = obj.ID
		evt.ChargeRef = obj.Charge
		evt.IntentRef = obj.PaymentIntent
	default:
		if obj.ID == "" {
			return evt, fmt.Errorf("billing: payment event without intent id")
		}
		evt.IntentRef = obj.ID
		evt.ChargeRef = obj.LatestCharge
	}
	return evt, nil
}

// verifyGatewaySignature verifies an HMAC-SHA256 webhook signature sent as:
// t=<timestamp>,v1=<signature>[,v1=<rotated_signature>]
func verifyGatewaySignature(secret string, payload []byte, header string) bool {
	if secret == "" {
		return true // bypass for development
	}
	if header == "" {
		return false
	}

	var timestamp string
	var signatures []string

	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return false
	}

	// Reject stale timestamps (5 minute tolerance).
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	if abs64(time.Now().Unix()-ts) > 300 {
		return false
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return true
		}
	}
	return false
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
