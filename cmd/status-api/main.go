package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	cyclespg "github.com/scorecast/scorecast/internal/cycles/postgres"
	"github.com/scorecast/scorecast/internal/jobs"
	jobspg "github.com/scorecast/scorecast/internal/jobs/postgres"
	lockspg "github.com/scorecast/scorecast/internal/locks/postgres"
	"github.com/scorecast/scorecast/internal/statusapi"
)

func main() {
	var (
		listenAddr  = flag.String("listen", "127.0.0.1:8090", "HTTP listen address")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required)")

		authTokenEnv = flag.String("auth-token-env", "SCORECAST_STATUS_API_TOKEN", "env var holding the force-release bearer token; empty value disables force-release")

		stuckLockAge    = flag.Duration("stuck-lock-age", time.Hour, "held locks older than this flag unhealthy")
		stuckRunningAge = flag.Duration("stuck-running-age", time.Hour, "running executions older than this flag unhealthy")
		failureRate     = flag.Float64("failure-rate-threshold", 0.5, "failed fraction of recent runs that flags a job unhealthy")
		failureWindow   = flag.Duration("failure-window", 24*time.Hour, "window for job failure rate checks")

		readHeaderTimeout = flag.Duration("read-header-timeout", 5*time.Second, "http.Server ReadHeaderTimeout")
		readTimeout       = flag.Duration("read-timeout", 10*time.Second, "http.Server ReadTimeout")
		writeTimeout      = flag.Duration("write-timeout", 10*time.Second, "http.Server WriteTimeout")
		idleTimeout       = flag.Duration("idle-timeout", 60*time.Second, "http.Server IdleTimeout")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if strings.TrimSpace(*postgresDSN) == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required")
		os.Exit(2)
	}
	if *listenAddr == "" {
		fmt.Fprintln(os.Stderr, "error: --listen must be non-empty")
		os.Exit(2)
	}
	if *readHeaderTimeout <= 0 || *readTimeout <= 0 || *writeTimeout <= 0 || *idleTimeout <= 0 {
		fmt.Fprintln(os.Stderr, "error: timeouts must be > 0")
		os.Exit(2)
	}
	if *stuckLockAge <= 0 || *stuckRunningAge <= 0 || *failureRate <= 0 || *failureWindow <= 0 {
		fmt.Fprintln(os.Stderr, "error: health settings must be > 0")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		log.Error("init pgx pool", "err", err)
		os.Exit(2)
	}
	defer pool.Close()

	lockStore, err := lockspg.New(pool)
	if err != nil {
		log.Error("init lock store", "err", err)
		os.Exit(2)
	}
	if err := lockStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure lock schema", "err", err)
		os.Exit(2)
	}
	recordStore, err := jobspg.New(pool)
	if err != nil {
		log.Error("init execution record store", "err", err)
		os.Exit(2)
	}
	if err := recordStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure execution record schema", "err", err)
		os.Exit(2)
	}
	cycleStore, err := cyclespg.New(pool)
	if err != nil {
		log.Error("init cycle store", "err", err)
		os.Exit(2)
	}
	if err := cycleStore.EnsureSchema(ctx); err != nil {
		log.Error("ensure cycle schema", "err", err)
		os.Exit(2)
	}

	health, err := jobs.NewHealth(jobs.HealthConfig{
		StuckLockAge:         *stuckLockAge,
		StuckRunningAge:      *stuckRunningAge,
		FailureRateThreshold: *failureRate,
		FailureWindow:        *failureWindow,
	}, lockStore, recordStore)
	if err != nil {
		log.Error("init health checks", "err", err)
		os.Exit(2)
	}

	handler, err := statusapi.NewHandler(statusapi.Config{
		AuthToken: strings.TrimSpace(os.Getenv(*authTokenEnv)),
	}, health, recordStore, lockStore, cycleStore)
	if err != nil {
		log.Error("init status api handler", "err", err)
		os.Exit(2)
	}

	srv := &http.Server{
		Addr:              *listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: *readHeaderTimeout,
		ReadTimeout:       *readTimeout,
		WriteTimeout:      *writeTimeout,
		IdleTimeout:       *idleTimeout,
		MaxHeaderBytes:    1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("status-api listening", "addr", *listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown", "reason", ctx.Err())
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
