package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"my-bank-api/internal/config"
	"my-bank-api/internal/httpapi"
	"my-bank-api/internal/ledger"
	"my-bank-api/internal/lock"
	"my-bank-api/internal/logging"
	promcollector "my-bank-api/internal/metrics/prometheus"
	"my-bank-api/internal/store"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.NewLoggerFromEnv("bank-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(logger *zap.Logger) error {
	start := time.Now()

	cfg, envFile := config.Load()
	logger.Info("startup begin",
		zap.String("addr", cfg.HTTPAddr),
		zap.String("store", cfg.StoreKind),
		zap.Bool("migrate", cfg.DBMigrate),
		zap.Bool("env_file", envFile),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Startup context
	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := promcollector.NewCollector("bank")
	if err := collector.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	var backend store.Store
	switch cfg.StoreKind {
	case "memory":
		logger.Warn("using in-memory store, data is lost on exit")
		backend = store.NewMemory()
	case "postgres":
		pool, err := openPool(startCtx, logger, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		backend = store.New(pool)
	default:
		return fmt.Errorf("unknown LEDGER_STORE %q", cfg.StoreKind)
	}

	breakerCfg := store.DefaultBreakerConfig()
	breakerCfg.ConsecutiveFailures = cfg.BreakerFailures
	breakerCfg.Timeout = cfg.BreakerTimeout
	guarded := store.NewBreaker(backend, breakerCfg, logger.Named("store"), collector)

	opts := []ledger.Option{ledger.WithPromoteConcurrency(cfg.PromoteConcurrency)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPass})
		defer rdb.Close()
		if err := rdb.Ping(startCtx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("promotion lock backed by redis", zap.String("addr", cfg.RedisAddr))
		opts = append(opts, ledger.WithLocker(lock.NewRedis(rdb, 4*cfg.RequestTimeout+5*time.Second)))
	}
	svc := ledger.New(guarded, opts...)

	h := httpapi.NewHandlers(svc, logger.Named("http"), collector, cfg.RequestTimeout)
	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.Router(h, httpapi.RouterConfig{
			MaxInflight:    cfg.MaxInflight,
			RequestTimeout: 60 * time.Second,
			Gatherer:       reg,
		}),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logger.Info("ready",
		zap.Duration("startup", time.Since(start).Truncate(time.Millisecond)),
		zap.String("addr", cfg.HTTPAddr),
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openPool(ctx context.Context, logger *zap.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	logger.Info("parsing DB config", zap.Int("max_conns", cfg.DBMaxConns))
	pcfg, err := pgxpool.ParseConfig(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pcfg.MaxConns = int32(cfg.DBMaxConns)
	pcfg.MinConns = 1
	pcfg.HealthCheckPeriod = 10 * time.Second
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}

	if cfg.DBMigrate {
		logger.Info("running migrations")
		if err := store.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("migrations complete")
	} else {
		logger.Info("migrations disabled")
	}
	return pool, nil
}
