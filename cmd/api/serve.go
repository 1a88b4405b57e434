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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	consulthandler "github.com/jwalitptl/econsult/internal/handler/consult"
	"github.com/jwalitptl/econsult/internal/handler/health"
	intakehandler "github.com/jwalitptl/econsult/internal/handler/intake"
	promhandler "github.com/jwalitptl/econsult/internal/handler/prometheus"
	flow "github.com/jwalitptl/econsult/internal/intake"
	"github.com/jwalitptl/econsult/internal/middleware"
	"github.com/jwalitptl/econsult/internal/repository"
	"github.com/jwalitptl/econsult/internal/repository/memory"
	"github.com/jwalitptl/econsult/internal/repository/postgres"
	"github.com/jwalitptl/econsult/internal/router"
	"github.com/jwalitptl/econsult/internal/service/consult"
	"github.com/jwalitptl/econsult/internal/service/dashboard"
	"github.com/jwalitptl/econsult/internal/service/intake"
	"github.com/jwalitptl/econsult/pkg/auth"
	"github.com/jwalitptl/econsult/pkg/metrics"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	registry := promhandler.NewRegistry()
	m := metrics.NewWithRegistry(registry, "econsult", "api")

	base := postgres.NewBaseRepository(db)
	consultRepo := postgres.NewConsultRepository(base)

	// go-cache also reports explicit deletes here; only drafts still being edited expired.
	var drafts repository.DraftStore
	drafts = memory.NewDraftStore(cfg.Intake.DraftTTL, cfg.Intake.SweepInterval, func(s *flow.Session) {
		m.ActiveDrafts.Set(float64(drafts.Count()))
		if s.State() == flow.StateEditing {
			m.IntakeSessions.WithLabelValues("expired").Inc()
			log.Info().Str("session_id", s.ID.String()).Msg("intake draft expired")
		}
	})

	consultSvc := consult.NewService(consultRepo, m)
	intakeSvc := intake.NewService(drafts, consultSvc, m, intake.Config{SubmitTimeout: cfg.Intake.SubmitTimeout})
	dashboardSvc := dashboard.NewService(consultRepo)

	tokens := auth.NewJWTService(auth.JWTConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		TTL:      cfg.JWT.TTL,
	})

	r := router.NewRouter(
		middleware.NewAuthMiddleware(tokens),
		intakehandler.NewHandler(intakeSvc),
		consulthandler.NewHandler(dashboardSvc),
		health.NewHandler(map[string]health.Check{"database": base.Ping}),
		promhandler.New(prometheus.Gatherers{registry}),
		router.RouterConfig{
			Mode:             cfg.Server.Mode,
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
			RequestTimeout:   cfg.Server.RequestTimeout,
			Metrics:          m,
		},
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server exited properly")
	return nil
}
