package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/erauner12/garagesync/internal/auth"
	"github.com/erauner12/garagesync/internal/db"
	"github.com/erauner12/garagesync/internal/httpapi"
	"github.com/erauner12/garagesync/internal/schema"
	"github.com/erauner12/garagesync/internal/service/entityservice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil {
		return def
	}
	return n
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	log.Logger = log.With().Str("service", "garagesync-server").Logger()

	// Pretty logging for local dev
	if env("ENV", "dev") == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	ctx := context.Background()
	registry := schema.DefaultRegistry()

	srv := &httpapi.Server{
		RateLimitConfig: httpapi.RateLimitInfo{
			WindowSeconds: envInt("RATE_LIMIT_WINDOW_SECONDS", 60),
			MaxRequests:   envInt("RATE_LIMIT_MAX_REQUESTS", 0),
			Burst:         envInt("RATE_LIMIT_BURST", 0),
		},
	}

	// Postgres when configured, otherwise documents live in memory
	if pgURL := env("DATABASE_URL", ""); pgURL != "" {
		pool, err := db.Open(ctx, pgURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		if err := db.Migrate(ctx, pool); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate postgres")
		}
		srv.Entities = entityservice.New(entityservice.NewPostgres(pool), registry)
		srv.Users = auth.PGUsers{DB: pool}
	} else {
		log.Warn().Msg("DATABASE_URL not set, using in-memory entity store")
		srv.Entities = entityservice.New(entityservice.NewMemory(), registry)
		srv.Users = auth.Subjects{}
	}

	jwtCfg := auth.JWTCfg{
		HS256Secret: env("JWT_HS256_SECRET", "dev-secret-change-in-production"),
		DevMode:     env("DEV_MODE", "") == "true",
	}

	httpAddr := env("HTTP_ADDR", ":8080")
	httpServer := &http.Server{
		Addr:         httpAddr,
		Handler:      srv.Routes(jwtCfg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", httpAddr).Msg("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown error")
	}

	log.Info().Msg("server stopped")
}
