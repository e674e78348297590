package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/curaline/telecare-platform/pkg/logging"
)

var gatewayTracer = otel.Tracer("telecare.billing.gateway")

// Gateway is the slice of the external payment provider this core needs.
type Gateway interface {
	CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error)
}

// CreateRefundRequest asks the gateway to return money for a charge.
type CreateRefundRequest struct {
	ChargeRef   string
	AmountCents int64
	Reason      string
	Metadata    map[string]string
}

// Refund is the gateway's view of a created refund.
type Refund struct {
	ID          string
	Status      string
	AmountCents int64
	CreatedAt   time.Time
}

// GatewayError distinguishes transient provider failures, which are safe to
// retry, from rejections of the refund itself, which are not.
type GatewayError struct {
	StatusCode int
	Message    string
	Transient  bool
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("billing: gateway status %d: %s", e.StatusCode, e.Message)
}

// HTTPGateway talks to the payment provider's refunds API.
type HTTPGateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewHTTPGateway creates a gateway client.
func NewHTTPGateway(baseURL, apiKey string, logger *logging.Logger) *HTTPGateway {
	if logger == nil {
		logger = logging.Default()
	}
	return &HTTPGateway{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger,
	}
}

// CreateRefund creates a full or partial refund for a charge. The
// idempotency key is derived from the charge reference so a retried call
// cannot double-refund.
func (g *HTTPGateway) CreateRefund(ctx context.Context, req CreateRefundRequest) (*Refund, error) {
	ctx, span := gatewayTracer.Start(ctx, "gateway.create_refund", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.charge_ref", req.ChargeRef),
		attribute.Int64("telecare.amount_cents", req.AmountCents),
	)

	body := map[string]any{
		"charge": req.ChargeRef,
		"amount": req.AmountCents,
	}
	if req.Reason != "" {
		body["reason"] = req.Reason
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("billing: refund marshal: %w", err)
	}

	apiURL := fmt.Sprintf("%s/v1/refunds", g.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("billing: refund request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", "refund-"+req.ChargeRef)

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, &GatewayError{Message: err.Error(), Transient: true}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= http.StatusMultipleChoices {
		g.logger.Error("gateway refund failed",
			"status", resp.StatusCode,
			"body", string(respBody),
			"charge_ref", req.ChargeRef,
		)
		return nil, &GatewayError{
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			Transient:  resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests,
		}
	}

	var parsed struct {
		ID      string `json:"id"`
		Status  string `json:"status"`
		Amount  int64  `json:"amount"`
		Created int64  `json:"created"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("billing: refund decode: %w", err)
	}

	g.logger.Info("refund created at gateway",
		"refund_ref", parsed.ID,
		"charge_ref", req.ChargeRef,
		"status", parsed.Status,
		"amount_cents", parsed.Amount,
	)

	return &Refund{
		ID:          parsed.ID,
		Status:      parsed.Status,
		AmountCents: parsed.Amount,
		CreatedAt:   time.Unix(parsed.Created, 0),
	}, nil
}
