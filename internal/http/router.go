package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mostafaomar7/tadawi-checkout/internal/metrics"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Sessions       SessionSource
	Auth           AuthConfig
	Metrics        *metrics.Metrics
	HandlerTimeout time.Duration
	MaxUploadBytes int64
	Logger         *zap.Logger
}

// NewRouter builds the gateway's HTTP surface. Everything under /api/v1 requires a
// patient bearer token.
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	cartHandler := NewCartHandler(cfg.Sessions, cfg.HandlerTimeout, cfg.Logger)
	checkoutHandler := NewCheckoutHandler(cfg.Sessions, cfg.HandlerTimeout, cfg.MaxUploadBytes, cfg.Logger)
	auth := NewAuthenticator(cfg.Auth)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware(cfg.Logger))
	r.Use(AccessLog(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	// capture and order submission outlive the request, so the timeout only bounds
	// the handler's own calls
	r.Use(middleware.Timeout(cfg.HandlerTimeout + 5*time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Post("/refresh", cartHandler.Refresh)
			r.Post("/lines", cartHandler.AddLine)
			r.Delete("/lines/{lineID}", cartHandler.RemoveLine)
			r.Delete("/pharmacies/{pharmacyID}", cartHandler.ClearPharmacy)
		})

		r.Route("/checkout/{pharmacyID}", func(r chi.Router) {
			r.Post("/", checkoutHandler.Open)
			r.Get("/", checkoutHandler.Get)
			r.Delete("/", checkoutHandler.Leave)
			r.Put("/draft", checkoutHandler.UpdateDraft)
			r.Post("/prescriptions", checkoutHandler.AddPrescription)
			r.Post("/method", checkoutHandler.SelectMethod)
			r.Post("/cash", checkoutHandler.SubmitCash)

			r.Route("/gateway", func(r chi.Router) {
				r.Post("/click", checkoutHandler.ClickGateway)
				r.Post("/approve", checkoutHandler.Approve)
				r.Post("/cancel", checkoutHandler.Cancel)
				r.Post("/error", checkoutHandler.ProviderError)
			})
		})

		r.Get("/incidents", checkoutHandler.Incidents)
	})

	return otelhttp.NewHandler(r, "checkout-gateway")
}
