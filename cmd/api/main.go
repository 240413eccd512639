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
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/diagnosis-api/internal/config"
	diagnosisHandler "github.com/jwalitptl/diagnosis-api/internal/handler/diagnosis"
	"github.com/jwalitptl/diagnosis-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/diagnosis-api/internal/handler/patient"
	promHandler "github.com/jwalitptl/diagnosis-api/internal/handler/prometheus"
	"github.com/jwalitptl/diagnosis-api/internal/middleware"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/internal/repository/postgres"
	"github.com/jwalitptl/diagnosis-api/internal/router"
	diagnosisService "github.com/jwalitptl/diagnosis-api/internal/service/diagnosis"
	patientService "github.com/jwalitptl/diagnosis-api/internal/service/patient"
	"github.com/jwalitptl/diagnosis-api/pkg/gemini"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.New(registry, "diagnosis_api")

	ctx := context.Background()

	var db *sqlx.DB
	if cfg.Database.Enabled() {
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			// Diagnosis still works without storage; history and patients report 503.
			log.Error().Err(err).Msg("database unavailable, continuing without persistence")
			db = nil
		} else {
			defer db.Close()
			if cfg.Database.AutoMigrate {
				if err := postgres.Migrate(ctx, db); err != nil {
					log.Fatal().Err(err).Msg("failed to apply schema")
				}
			}
		}
	} else {
		log.Warn().Msg("no database configured, diagnoses will not be stored")
	}

	var (
		patientRepo   repository.PatientRepository
		diagnosisRepo repository.DiagnosisRepository
		pinger        health.Pinger
	)
	if db != nil {
		base := postgres.NewBaseRepository(db, appMetrics)
		patientRepo = postgres.NewPatientRepository(base)
		diagnosisRepo = postgres.NewDiagnosisRepository(base)
		pinger = db
	}

	if cfg.Gemini.APIKey == "" {
		log.Warn().Msg("GEMINI_API_KEY is not set, diagnosis requests will fail")
	}
	llm := gemini.NewClient(gemini.Config{
		APIKey:          cfg.Gemini.APIKey,
		BaseURL:         cfg.Gemini.BaseURL,
		APIVersion:      cfg.Gemini.APIVersion,
		Model:           cfg.Gemini.Model,
		Timeout:         cfg.Gemini.Timeout,
		MaxRetries:      cfg.Gemini.MaxRetries,
		RetryBackoff:    cfg.Gemini.RetryBackoff,
		Temperature:     cfg.Gemini.Temperature,
		TopK:            cfg.Gemini.TopK,
		TopP:            cfg.Gemini.TopP,
		MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
		SafetyThreshold: cfg.Gemini.SafetyThreshold,
	}, gemini.WithMetrics(appMetrics))

	diagOpts := []diagnosisService.Option{
		diagnosisService.WithMetrics(appMetrics),
		diagnosisService.WithHistoryTTL(cfg.History.CacheTTL),
	}
	if diagnosisRepo != nil {
		diagOpts = append(diagOpts, diagnosisService.WithRepository(diagnosisRepo))
	}
	diagnosisSvc := diagnosisService.NewService(llm, diagOpts...)
	patientSvc := patientService.NewService(patientRepo)

	var auth *middleware.AuthMiddleware
	if cfg.Auth.JWTSecret != "" {
		auth = middleware.NewAuthMiddleware(middleware.AuthConfig{
			Secret: cfg.Auth.JWTSecret,
			Issuer: cfg.Auth.Issuer,
		})
	} else {
		log.Warn().Msg("JWT_SECRET is not set, patient routes are unauthenticated")
	}

	r := router.NewRouter(
		auth,
		diagnosisHandler.NewHandler(diagnosisSvc),
		patientHandler.NewHandler(patientSvc),
		health.NewHandler(pinger),
		promHandler.New(registry),
		router.RouterConfig{
			Mode:             cfg.Server.Mode,
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			DiagnosisLimit:   rate.Limit(cfg.RateLimit.DiagnosisRequestsPerSecond),
			DiagnosisBurst:   cfg.RateLimit.DiagnosisBurst,
			AllowedOrigins:   cfg.CORS.AllowedOrigins,
			AllowedMethods:   cfg.CORS.AllowedMethods,
			AllowedHeaders:   cfg.CORS.AllowedHeaders,
			MaxBodyBytes:     cfg.Server.MaxBodyBytes,
			RequestTimeout:   requestTimeout(cfg),
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Str("model", cfg.Gemini.Model).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}

// requestTimeout leaves room for every Gemini retry inside the write deadline.
func requestTimeout(cfg *config.Config) time.Duration {
	d := cfg.Gemini.Timeout*time.Duration(cfg.Gemini.MaxRetries+1) + 5*time.Second
	if cfg.Server.WriteTimeout > 0 && d > cfg.Server.WriteTimeout {
		d = cfg.Server.WriteTimeout
	}
	return d
}
