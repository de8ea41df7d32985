package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/daochan/daochan/internal/api"
	"github.com/daochan/daochan/internal/auth"
	"github.com/daochan/daochan/internal/metrics"
	"github.com/daochan/daochan/internal/ratelimit"
	"github.com/daochan/daochan/internal/store"
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the reference forum backend",
		Args:  cobra.NoArgs,
		RunE:  serveFunc,
	}
}

func serveFunc(c *cobra.Command, args []string) error {
	cfg, err := loadConfig(c.Flags())
	if err != nil {
		return err
	}
	log := newLogger(cfg)
	ctx := c.Context()

	// Initialize store
	sqliteStore, err := store.NewSQLiteStore(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer sqliteStore.Close()

	// Initialize services
	var limiter ratelimit.Limiter
	if cfg.RateLimitURL != "" {
		redisLimiter, err := ratelimit.NewRedisLimiter(ctx, cfg.RateLimitURL)
		if err != nil {
			return err
		}
		defer redisLimiter.Close()
		limiter = redisLimiter
	} else {
		memLimiter := ratelimit.NewMemoryLimiter()
		go memLimiter.RunCleanup(ctx, 5*time.Minute)
		limiter = memLimiter
	}

	authService, err := auth.NewService(sqliteStore, cfg.JWTSecret, cfg.ChallengeTTL, cfg.TokenTTL)
	if err != nil {
		return err
	}
	if cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET not set, tokens will not survive a restart")
	}

	images, err := api.NewImageStore(cfg.ImageDir, cfg.BaseURL)
	if err != nil {
		return fmt.Errorf("initialize image store: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	handler := api.NewHandler(sqliteStore, authService, limiter, images, cfg, log, m)
	go handler.RunHydrator(ctx, cfg.HydrateInterval)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	// Create server with timeouts
	server := &http.Server{
		Addr:         addr,
		Handler:      api.LogRequests(log, m, handler.Routes(reg)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("starting daochan backend")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
	return nil
}
