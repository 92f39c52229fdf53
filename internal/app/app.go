package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/utafrali/storefront/internal/config"
	"github.com/utafrali/storefront/internal/event"
	"github.com/utafrali/storefront/internal/gateway"
	handler "github.com/utafrali/storefront/internal/handler/http"
	"github.com/utafrali/storefront/internal/repository/postgres"
	redisrepo "github.com/utafrali/storefront/internal/repository/redis"
	"github.com/utafrali/storefront/internal/service"
	"github.com/utafrali/storefront/migrations"
	"github.com/utafrali/storefront/pkg/database"
	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/httpclient"
	pkgkafka "github.com/utafrali/storefront/pkg/kafka"
	"github.com/utafrali/storefront/pkg/tracing"
)

// mockTaxRates are the state rates served by the in-process tax gateway.
var mockTaxRates = map[string]decimal.Decimal{
	"CA": decimal.RequireFromString("0.0725"),
	"NY": decimal.RequireFromString("0.04"),
	"TX": decimal.RequireFromString("0.0625"),
	"WA": decimal.RequireFromString("0.065"),
}

// App wires together all dependencies and runs the storefront checkout server.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	redis          *redis.Client
	producer       *pkgkafka.Producer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// gateways holds the downstream collaborators selected by GATEWAY_MODE.
type gateways struct {
	payment  gateway.PaymentService
	shipping gateway.ShippingService
	tax      gateway.TaxService
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize OpenTelemetry tracing.
	tracerShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTELEndpoint,
		SampleRate:     cfg.OTELSampleRate,
		Enabled:        cfg.OTELEnabled,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	// Initialize PostgreSQL connection pool.
	pool, err := database.NewPostgresPool(ctx, cfg.Postgres(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	logger.Info("connected to PostgreSQL",
		slog.String("host", cfg.PostgresHost),
		slog.Int("port", cfg.PostgresPort),
		slog.String("database", cfg.PostgresDB),
	)
	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, cfg.ServiceName); err != nil {
		logger.Warn("failed to register pool metrics", slog.String("error", err.Error()))
	}

	// Run database migrations.
	if cfg.RunMigrations {
		if err := database.RunMigrations(ctx, pool, migrations.FS, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("run migrations: %w", err)
		}
		logger.Info("database migrations completed")
	}

	// Configure slow query logging.
	if cfg.SlowQueryThresholdMs > 0 {
		database.SetSlowQueryLogging(cfg.SlowQueryThreshold(), logger)
	}

	// Initialize Redis for checkout sessions.
	redisClient, err := database.NewRedisClient(ctx, cfg.Redis())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("connected to Redis", slog.String("addr", cfg.Redis().Addr()))

	// Initialize Kafka producer.
	producer := pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(cfg.KafkaBrokers), logger)
	logger.Info("kafka producer initialized", slog.Any("brokers", cfg.KafkaBrokers))

	// Build the dependency graph.
	sessions := redisrepo.NewSessionStore(redisClient, cfg.CheckoutTTL())
	orders := postgres.NewOrderRepository(pool)
	uow := postgres.NewUnitOfWork(pool, logger)
	eventProducer := event.NewProducer(producer, logger)
	gw := newGateways(cfg, logger)

	var email gateway.EmailService = gateway.NewLogEmailService(logger)
	if cfg.EmailMode == config.EmailModeKafka {
		email = gateway.NewKafkaEmailService(producer, cfg.EmailTopic, event.SourceStorefront)
	}

	checkoutService := service.NewCheckoutService(
		service.CheckoutRepositories{
			Carts:      postgres.NewCartRepository(pool),
			Products:   postgres.NewProductRepository(pool),
			Addresses:  postgres.NewAddressRepository(pool),
			Orders:     orders,
			Sessions:   sessions,
			Transactor: uow,
		},
		service.CheckoutGateways{
			Payment:  gw.payment,
			Shipping: gw.shipping,
			Tax:      gw.tax,
			Email:    email,
		},
		service.NewCouponService(postgres.NewCouponRepository(pool), logger),
		service.NewRestrictionService(postgres.NewRestrictionRepository(pool), logger),
		service.NewShippingRateResolver(gw.shipping, logger),
		eventProducer,
		logger,
		service.CheckoutOptions{
			Currency:       cfg.Currency,
			PaymentMethods: cfg.AllowedPaymentMethods(),
		},
	)
	orderService := service.NewOrderService(orders, uow, gw.payment, eventProducer, logger)

	// Health checks.
	healthHandler := health.NewHandler()
	healthHandler.Register("postgres", func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthHandler.Register("redis", sessions.Ping)
	healthHandler.RegisterOptional("kafka", producer.Ping)

	// HTTP router.
	router := handler.NewRouter(handler.RouterConfig{
		ServiceName:  cfg.ServiceName,
		ConfirmRPS:   cfg.ConfirmRateLimitRPS,
		ConfirmBurst: cfg.ConfirmRateBurst,
	}, checkoutService, orderService, healthHandler, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       time.Duration(cfg.HTTPReadTimeoutSec) * time.Second,
		WriteTimeout:      time.Duration(cfg.HTTPWriteTimeoutSec) * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return &App{
		cfg:            cfg,
		logger:         logger,
		pool:           pool,
		redis:          redisClient,
		producer:       producer,
		httpServer:     httpServer,
		tracerShutdown: tracerShutdown,
	}, nil
}

// newGateways selects in-process or HTTP collaborators. Payment calls are
// never retried and bypass the breaker so a charge is attempted exactly once.
// Shipment bookings are never retried either. Rate quotes and tax retry, and
// every shipping and tax call goes through a per-downstream breaker.
func newGateways(cfg *config.Config, logger *slog.Logger) gateways {
	if cfg.GatewayMode == config.GatewayModeMock {
		logger.Info("using in-process mock gateways")
		return gateways{
			payment:  gateway.NewMockPaymentService(logger),
			shipping: gateway.NewMockShippingService(logger),
			tax:      gateway.NewMockTaxService(mockTaxRates),
		}
	}

	// Charges and shipment bookings are not idempotent, so they are sent once.
	singleAttempt := httpclient.New(httpclient.Config{
		Timeout:         cfg.GatewayTimeout(),
		MaxRetries:      0,
		MaxConnsPerHost: 100,
	})

	retrying := httpclient.New(httpclient.Config{
		Timeout:         cfg.GatewayTimeout(),
		MaxRetries:      2,
		RetryWaitMin:    200 * time.Millisecond,
		RetryWaitMax:    2 * time.Second,
		MaxConnsPerHost: 100,
	})

	breaker := func(name string, base httpclient.Doer) httpclient.Doer {
		cbCfg := cfg.CircuitBreaker(name)
		logger.Info("circuit breaker initialized",
			slog.String("name", cbCfg.Name),
			slog.Uint64("max_requests", uint64(cbCfg.MaxRequests)),
			slog.Int("timeout_seconds", cfg.CBTimeout),
			slog.Uint64("min_requests", uint64(cbCfg.MinRequests)),
		)
		return httpclient.NewCircuitBreakerClient(base, cbCfg, logger)
	}

	return gateways{
		payment: gateway.NewHTTPPaymentService(singleAttempt, cfg.PaymentServiceURL),
		shipping: gateway.NewHTTPShippingService(
			breaker("shipping", retrying),
			breaker("shipping-bookings", singleAttempt),
			cfg.ShippingServiceURL,
		),
		tax: gateway.NewHTTPTaxService(breaker("tax", retrying), cfg.TaxServiceURL),
	}
}

// Run starts the HTTP server and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	return a.Shutdown()
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client
// 5. PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.ShutdownTimeoutSec)*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.producer.Close(); err != nil {
		a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if err := a.redis.Close(); err != nil {
		a.logger.Error("redis close error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	a.pool.Close()

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}
