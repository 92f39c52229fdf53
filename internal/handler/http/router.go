package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/middleware"
)

// RouterConfig holds the router settings that come from configuration.
type RouterConfig struct {
	ServiceName  string
	ConfirmRPS   float64
	ConfirmBurst int
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(
	cfg RouterConfig,
	checkoutService *service.CheckoutService,
	orderService *service.OrderService,
	healthHandler *health.Handler,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(CORS)
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	checkoutHandler := NewCheckoutHandler(checkoutService, logger)
	orderHandler := NewOrderHandler(orderService, logger)

	r.Route("/api/v1/checkout", func(r chi.Router) {
		r.Use(ContentTypeJSON)
		r.Use(IdentityFromHeaders)

		r.Post("/", checkoutHandler.InitiateCheckout)
		r.Get("/{id}", checkoutHandler.GetCheckout)
		r.Put("/{id}/address", checkoutHandler.UpdateCheckoutAddress)
		r.Post("/{id}/coupon", checkoutHandler.ApplyCoupon)
		r.With(middleware.RateLimit(cfg.ConfirmRPS, cfg.ConfirmBurst, logger)).
			Post("/{id}/confirm", checkoutHandler.ConfirmOrder)
	})

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Get("/{id}", orderHandler.GetOrder)
		r.Patch("/{id}/status", orderHandler.UpdateOrderStatus)
	})

	return r
}
