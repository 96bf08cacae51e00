// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic and
// can be tested independently of the CLI framework.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hatchery-sh/hatchery/internal/api"
	"github.com/hatchery-sh/hatchery/internal/compose"
	"github.com/hatchery-sh/hatchery/internal/config"
	"github.com/hatchery-sh/hatchery/internal/engine"
	"github.com/hatchery-sh/hatchery/internal/images"
	"github.com/hatchery-sh/hatchery/internal/platform/maas"
	"github.com/hatchery-sh/hatchery/internal/store"
	"github.com/hatchery-sh/hatchery/internal/tracker"
)

const shutdownGrace = 15 * time.Second

// Serve runs the orchestrator until the context is cancelled or a
// termination signal arrives.
//
// It wires the full stack: SQLite store, backend client, lifecycle
// tracker, deployment engine, image sync scheduler, and the HTTP API.
func Serve(ctx context.Context, configPath string) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	timeouts := config.LoadTimeouts()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	backend := maas.NewRealClient(cfg.Backend.Endpoint, maas.Credentials{
		ConsumerKey: cfg.Backend.ConsumerKey,
		TokenKey:    cfg.Backend.TokenKey,
		TokenSecret: cfg.Backend.TokenSecret,
	},
		maas.WithRequestTimeout(timeouts.Request),
		maas.WithRetryPolicy(timeouts.RetryMaxAttempts, timeouts.RetryInitialDelay),
		maas.WithMachineCap(cfg.Backend.MachineCap),
	)

	tr := tracker.New(st, backend, cfg.Tracker.ActiveInterval, cfg.Tracker.IdleInterval)
	eng := engine.New(st, backend, compose.NewComposer(st), tr, *timeouts, nil)
	manager := images.NewManager(st, backend, eng, images.NewHTTPSource(timeouts.Request), cfg.Images, *timeouts)
	scheduler := images.NewScheduler(st, manager, cfg.Images.CheckInterval)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serve: tracker stopped: %v", err)
		}
	}()
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("serve: image scheduler stopped: %v", err)
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           api.NewServer(st, tr, eng, cfg.WebhookSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("serve: listening on %s", cfg.Listen)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Println("serve: shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(graceCtx); err != nil {
		log.Printf("serve: http shutdown: %v", err)
	}
	if err := eng.Shutdown(graceCtx); err != nil {
		log.Printf("serve: engine shutdown: %v", err)
	}
	return nil
}
