package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-checkout/internal/domain/checkout"
	"github.com/xenking/kart-checkout/internal/handler"
	"github.com/xenking/kart-checkout/internal/idempotency"
	"github.com/xenking/kart-checkout/internal/notify"
	"github.com/xenking/kart-checkout/internal/payment"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
	"github.com/xenking/kart-checkout/pkg/health"
	"github.com/xenking/kart-checkout/pkg/httpmiddleware"
)

const serviceName = "checkout"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("payment_mode", cfg.Payment.Mode),
		zap.String("notify_mode", cfg.Notify.Mode),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	gateway, err := newGateway(ctx, cfg.Payment, m)
	if err != nil {
		return errors.Wrap(err, "create payment gateway")
	}

	notifier, closeNotifier := newNotifier(cfg.Notify)
	defer func() {
		if err := closeNotifier(); err != nil {
			lg.Error("Notifier close error", zap.Error(err))
		}
	}()

	// Idempotency is optional; without Redis the header is ignored.
	var idem handler.IdempotencyStore
	if cfg.Idempotency.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.Idempotency.RedisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()

		store := idempotency.NewStore(rdb, serviceName, cfg.Idempotency.TTL)
		healthSvc.AddReadinessCheck("redis", 2*time.Second, store.Ping)
		idem = store
	}

	orderRepo := postgres.NewOrderRepository(pool)
	checkoutSvc := checkout.NewService(gateway, orderRepo, notifier)

	h, err := handler.NewHandler(checkoutSvc, orderRepo, idem, m.MeterProvider().Meter(serviceName))
	if err != nil {
		return errors.Wrap(err, "create handler")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.Payment.Timeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gCtx.Done()
		healthSvc.SetReady(false)
		if ctx.Err() != nil {
			lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
			time.Sleep(cfg.Graceful.ReadinessDelay)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		return nil
	})
	return g.Wait()
}

// newGateway builds the configured payment gateway, screened by the token
// denylist when one is configured.
func newGateway(ctx context.Context, cfg PaymentConfig, m *app.Telemetry) (checkout.PaymentGateway, error) {
	var gateway checkout.PaymentGateway
	switch cfg.Mode {
	case PaymentModeSandbox:
		zctx.From(ctx).Warn("Using sandbox payment gateway")
		gateway = payment.Sandbox{}
	default:
		gateway = payment.NewClient(payment.ClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			Breaker: payment.BreakerConfig{
				MaxFailures: cfg.Breaker.MaxFailures,
				OpenTimeout: cfg.Breaker.OpenTimeout,
			},
		},
			otelhttp.WithTracerProvider(m.TracerProvider()),
			otelhttp.WithMeterProvider(m.MeterProvider()),
		)
	}

	if len(cfg.DenylistFiles) == 0 {
		return gateway, nil
	}
	denied, err := payment.LoadDenylist(ctx, cfg.DenylistFiles...)
	if err != nil {
		return nil, errors.Wrap(err, "load denylist")
	}
	return payment.NewScreen(gateway, denied), nil
}

// newNotifier builds the configured notifier and its close function.
func newNotifier(cfg NotifyConfig) (checkout.Notifier, func() error) {
	if cfg.Mode != NotifyModeKafka {
		return notify.Log{}, func() error { return nil }
	}
	w := notify.NewWriter(cfg.Brokers)
	return notify.NewKafka(w, cfg.Topic), w.Close
}
