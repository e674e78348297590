package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/curaline/telecare-platform/internal/billing"
	httpmiddleware "github.com/curaline/telecare-platform/internal/http/middleware"
	"github.com/curaline/telecare-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	WebhookHandler *billing.WebhookHandler
	RefundHandler  *billing.RefundHandler

	OperatorAuthSecret string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// Readiness is polled by /healthz; nil means always ready.
	Readiness func(ctx context.Context) error

	// Webhook endpoint rate limit, requests/sec per IP. Zero disables.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if cfg.Readiness != nil {
			if err := cfg.Readiness(req.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_ = json.NewEncoder(w).Encode(map[string]string{"status": "degraded", "error": err.Error()})
				return
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Gateway webhooks: signature-verified inside the handler, rate limited
	// at the edge.
	if cfg.WebhookHandler != nil {
		r.Group(func(public chi.Router) {
			if cfg.WebhookRateLimit > 0 {
				public.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
			}
			public.Post("/webhooks/payments", cfg.WebhookHandler.Handle)
		})
	}

	// Operator surface.
	if cfg.RefundHandler != nil {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.OperatorJWT(cfg.OperatorAuthSecret))
			admin.Route("/appointments/{appointmentID}/refund", func(rt chi.Router) {
				rt.Post("/", cfg.RefundHandler.ProcessRefund)
				rt.Get("/", cfg.RefundHandler.GetRefundStatus)
			})
		})
	}

	return r
}
