package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/orderflow/internal/cache"
	"github.com/xenking/orderflow/internal/domain/customer"
	"github.com/xenking/orderflow/internal/domain/order"
	"github.com/xenking/orderflow/internal/domain/product"
	"github.com/xenking/orderflow/internal/events"
	"github.com/xenking/orderflow/internal/gateway"
	"github.com/xenking/orderflow/internal/handler"
	"github.com/xenking/orderflow/internal/stock"
	"github.com/xenking/orderflow/internal/storage/postgres"
	"github.com/xenking/orderflow/internal/storage/redis"
	"github.com/xenking/orderflow/pkg/health"
	"github.com/xenking/orderflow/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("stock_mode", cfg.Stock.Mode),
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
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Remote authorities behind the resilience gateway and the read caches.
	recorder, err := gateway.TransitionRecorder(m.MeterProvider(), lg)
	if err != nil {
		return err
	}
	hc := gateway.NewHTTPClient(m.TracerProvider(), m.MeterProvider())
	gw := gateway.New(
		gateway.NewCustomerClient(cfg.Customers.URL, hc),
		gateway.NewProductClient(cfg.Products.URL, hc),
		gateway.Config{Breaker: cfg.Breaker, Call: cfg.Call},
		recorder,
	)
	for _, b := range []*gateway.Breaker{gw.CustomerBreaker(), gw.ProductBreaker()} {
		healthSvc.AddReadinessCheck(b.Name(), time.Second, health.CircuitCheck(b.Name(), func() bool {
			return b.State() == gateway.StateOpen
		}), health.Advisory())
	}
	customers := gateway.NewCachedDirectory(gw, cache.New[*customer.Customer](cfg.Cache))
	catalog := gateway.NewCachedCatalog(gw, cache.New[*product.Product](cfg.Cache))

	// Stock ledger.
	var (
		ledger        order.StockLedger
		validatorOpts []order.ValidatorOption
	)
	switch cfg.Stock.Mode {
	case StockModeRemote:
		ledger = gw.RemoteStock(gateway.WithStockChange(catalog.Invalidate))
	default:
		locker, closeLocker, err := newLocker(ctx, cfg.Stock, healthSvc)
		if err != nil {
			return err
		}
		defer closeLocker()

		local := stock.NewLedger(postgres.NewStockStore(pool), locker, stock.Config{
			Attempts:       cfg.Stock.LockAttempts,
			InitialBackoff: stock.DefaultConfig().InitialBackoff,
			MaxBackoff:     stock.DefaultConfig().MaxBackoff,
		}, stock.WithOnChange(catalog.Invalidate))
		ledger = local
		validatorOpts = append(validatorOpts, order.WithStockReader(local))
	}

	// Order events.
	var publisher order.Publisher = events.Nop{}
	if len(cfg.Kafka.Brokers) > 0 {
		w := events.NewWriter(cfg.Kafka.Brokers)
		defer func() {
			if err := w.Close(); err != nil {
				lg.Warn("Close event writer", zap.Error(err))
			}
		}()
		publisher = events.NewKafkaPublisher(w, cfg.Kafka.Topic)
	}

	// Orchestrator.
	orderService := order.NewService(
		postgres.NewOrderRepository(pool),
		order.NewValidator(customers, catalog, validatorOpts...),
		ledger,
		customers,
		catalog,
		order.WithPublisher(publisher),
		order.WithCaches(cache.New[*order.Order](cfg.Cache), cache.New[[]order.Order](cfg.Cache)),
	)

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	router := chi.NewRouter()
	router.Get("/livez", healthSvc.LiveEndpoint)
	router.Get("/readyz", healthSvc.ReadyEndpoint)
	router.Mount("/api", handler.NewHandler(orderService).Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(router,
			httpmiddleware.Recovery(),
			httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("order-service", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newLocker returns the distributed Redis locker when an address is
// configured and the in-process keyed mutex otherwise.
func newLocker(ctx context.Context, cfg StockConfig, healthSvc *health.Health) (stock.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		return stock.NewKeyedMutex(cfg.LockWait), func() {}, nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, errors.Wrap(err, "ping redis")
	}
	healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	})

	locker := redis.NewLocker(client, redis.Config{
		TTL:  cfg.LockTTL,
		Wait: cfg.LockWait,
	})
	return locker, func() { _ = client.Close() }, nil
}
