package app

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/mothership-commerce/internal/domain/auth"
	"github.com/xenking/mothership-commerce/internal/domain/discount"
	"github.com/xenking/mothership-commerce/internal/domain/order"
	"github.com/xenking/mothership-commerce/internal/domain/product"
	"github.com/xenking/mothership-commerce/internal/domain/tax"
	"github.com/xenking/mothership-commerce/internal/events"
	"github.com/xenking/mothership-commerce/internal/handler"
	"github.com/xenking/mothership-commerce/internal/metrics"
	"github.com/xenking/mothership-commerce/internal/storage/postgres"
	"github.com/xenking/mothership-commerce/internal/storage/redis"
	"github.com/xenking/mothership-commerce/pkg/health"
	"github.com/xenking/mothership-commerce/pkg/httpmiddleware"
)

const serviceName = "commerce-api"

// service is the assembled application: the wrapped HTTP handler, its
// health probes and the resources to release on exit.
type service struct {
	handler http.Handler
	health  *health.Health
	closers []func()
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	svc, err := newService(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	svc.health.Start(ctx, 10*time.Second)
	svc.health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           svc.handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		svc.health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		svc.health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newService is the single wiring point for the application. The returned
// service has its health checks registered but not started.
func newService(ctx context.Context, lg *zap.Logger, p httpmiddleware.Provider, cfg *Config) (_ *service, rerr error) {
	svc := &service{health: health.New()}
	defer func() {
		if rerr != nil {
			svc.close()
		}
	}()

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	svc.closers = append(svc.closers, pool.Close)

	if err := postgres.Migrate(ctx, pool); err != nil {
		return nil, errors.Wrap(err, "run migrations")
	}

	business := metrics.New(cfg.Metrics.Namespace)

	// Tax rules, reloaded on SIGHUP.
	rules, err := tax.NewRegistry(cfg.Tax.Rules...)
	if err != nil {
		return nil, errors.Wrap(err, "load tax rules")
	}
	business.RulesReloaded(nil)
	lg.Info("Tax rules loaded",
		zap.Strings("files", cfg.Tax.Rules),
		zap.Strings("countries", rules.Resolver().Rules().CountryCodes()),
	)
	go reloadOnHangup(ctx, lg, rules, business)

	svc.health.Register(health.Readiness, "postgres", health.PingCheck(pool), health.WithTimeout(5*time.Second))
	svc.health.Register(health.Liveness, "goroutines", health.GoroutineCountCheck(10000))

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountRepo := postgres.NewDiscountRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)
	apikeyRepo := postgres.NewAPIKeyRepository(pool)

	filter, err := loadCodeFilter(ctx, cfg.Discounts, discountRepo)
	if err != nil {
		return nil, errors.Wrap(err, "load discount code filter")
	}

	// Optional collaborators.
	options := []order.Option{order.WithMetrics(business)}
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(cfg.Redis)
		svc.closers = append(svc.closers, func() { _ = client.Close() })

		cache := redis.NewOrderCache(client, cfg.Redis.TTL)
		options = append(options, order.WithCache(cache))
		svc.health.Register(health.Readiness, "redis", health.PingCheck(cache), health.WithTimeout(2*time.Second))
		lg.Info("Order cache enabled", zap.String("redis", cfg.Redis.Addr))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		publisher := events.NewPublisher(cfg.Kafka)
		svc.closers = append(svc.closers, func() {
			if err := publisher.Close(); err != nil {
				lg.Warn("Close event publisher", zap.Error(err))
			}
		})
		options = append(options, order.WithPublisher(publisher))
		lg.Info("Order events enabled", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Domain services.
	catalog := product.NewCatalog(productRepo, cfg.StoreAddress())
	orderService := order.NewService(
		catalog,
		discount.NewRepoValidator(discountRepo, filter),
		orderRepo,
		rules,
		cfg.AssemblerOptions(),
		options...,
	)

	var authenticator *auth.Authenticator
	if cfg.APIKeyPepper != "" {
		authenticator = auth.NewAuthenticator(apikeyRepo, []byte(cfg.APIKeyPepper))
	} else {
		lg.Warn("API key pepper not set, API authentication disabled")
	}

	// Mux: health, metrics and API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", svc.health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", svc.health.ReadyEndpoint)
	mux.Handle("GET /metrics", business.Handler())
	handler.New(orderService, rules, authenticator).Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	svc.handler = httpmiddleware.Wrap(mux,
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization", handler.APIKeyHeader},
			ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Max:    cfg.RateLimit.Max,
			Window: cfg.RateLimit.Window,
			Skip:   httpmiddleware.SkipPaths("/livez", "/readyz", "/metrics"),
		}),
		httpmiddleware.Instrument(serviceName, routeFinder, p),
		httpmiddleware.LogRequests(routeFinder),
	)
	return svc, nil
}

// reloadOnHangup swaps in freshly parsed tax rules on every SIGHUP. A failed
// reload keeps the previous rules in service.
func reloadOnHangup(ctx context.Context, lg *zap.Logger, rules *tax.Registry, business *metrics.Business) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			err := rules.Reload()
			business.RulesReloaded(err)
			if err != nil {
				lg.Error("Tax rules reload failed, keeping previous rules", zap.Error(err))
				continue
			}
			lg.Info("Tax rules reloaded", zap.Strings("countries", rules.Resolver().Rules().CountryCodes()))
		}
	}
}

// loadCodeFilter reads the prebuilt filter file when configured and
// otherwise builds one from the active codes in the database.
func loadCodeFilter(ctx context.Context, cfg DiscountConfig, repo *postgres.DiscountRepository) (*discount.CodeFilter, error) {
	if cfg.FilterPath != "" {
		return discount.LoadCodeFilter(cfg.FilterPath)
	}

	filter := discount.NewCodeFilter(cfg.FilterCapacity, cfg.FilterFPR)
	count := 0
	if err := repo.ActiveCodes(ctx, func(code string) {
		filter.Add(code)
		count++
	}); err != nil {
		return nil, err
	}
	zctx.From(ctx).Info("Discount code filter built", zap.Int("codes", count))
	return filter, nil
}
