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

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jwalitptl/diagnosis-api/internal/config"
	"github.com/jwalitptl/diagnosis-api/internal/email"
	"github.com/jwalitptl/diagnosis-api/internal/repository/postgres"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/messaging/redis"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
	"github.com/jwalitptl/diagnosis-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewZap(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	if !cfg.Database.Enabled() {
		return errors.New("outbox worker requires a database")
	}
	if cfg.Redis.URL == "" {
		return errors.New("outbox worker requires REDIS_URL")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	workerMetrics := metrics.New(registry, "diagnosis_worker")

	broker, err := redis.NewRedisBroker(ctx, redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, log)
	if err != nil {
		return err
	}
	defer broker.Close()

	var alerter worker.Alerter
	if cfg.Alerts.Enabled {
		alerter = email.NewAlertService(email.Config{
			Host:     cfg.Alerts.SMTPHost,
			Port:     cfg.Alerts.SMTPPort,
			Username: cfg.Alerts.SMTPUser,
			Password: cfg.Alerts.SMTPPass,
			From:     cfg.Alerts.From,
			To:       cfg.Alerts.To,
		})
		log.Info("emergency alerts enabled", zap.Strings("to", cfg.Alerts.To))
	}

	base := postgres.NewBaseRepository(db, workerMetrics)
	processor, err := worker.NewOutboxProcessor(
		postgres.NewOutboxRepository(base),
		broker,
		alerter,
		worker.OutboxProcessorConfig{
			BatchSize:     cfg.Outbox.BatchSize,
			PollInterval:  cfg.Outbox.PollInterval,
			RetryAttempts: cfg.Outbox.RetryAttempts,
			RetryDelay:    cfg.Outbox.RetryDelay,
			MaxEventRetry: cfg.Outbox.MaxEventRetry,
			ChannelPrefix: cfg.Outbox.ChannelPrefix,
			RetainFor:     cfg.Outbox.RetainFor,
		},
		log,
		workerMetrics,
	)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Outbox.MetricsAddress,
		Handler:           healthMux(db, registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("health server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("health server failed", zap.Error(err))
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		processor.Start(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	<-done

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("health server shutdown", zap.Error(err))
	}
	return nil
}

func healthMux(db *sqlx.DB, registry *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}
