package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentworkforce/relayfeed/internal/httpapi"
	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/relayfeed"
)

const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "relayfeed terminated with error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	cfg, err := loadConfig()
	if err != nil {
		return exitConfig, err
	}
	log := logging.New(os.Stderr, cfg.LogLevel)

	stateBackend, replyQueue, err := buildStorageBackends(cfg)
	if err != nil {
		return exitConfig, fmt.Errorf("failed to initialize storage backends: %w", err)
	}
	store, err := relayfeed.NewStoreWithOptions(relayfeed.StoreOptions{
		StateBackend: stateBackend,
		ReplyQueue:   replyQueue,
		AutoReply: relayfeed.AutoReplyOptions{
			Enabled: cfg.AutoReply,
			Delay:   cfg.AutoReplyDelay,
			Message: cfg.AutoReplyMessage,
		},
		IdempotencyTTL: cfg.IdempotencyTTL,
		BackendProfile: cfg.BackendProfile,
		Logger:         log.With("component", "store"),
	})
	if err != nil {
		store.Close()
		return exitRuntime, err
	}
	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		JWTSecret:       cfg.JWTSecret,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		MaxBodyBytes:    int64(cfg.MaxBodyBytes),
		Logger:          log.With("component", "httpapi"),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{Addr: cfg.Addr, Handler: server}
	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "relayfeed listening", "addr", cfg.Addr, "profile", cfg.BackendProfile, "auto_reply", cfg.AutoReply)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		store.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return exitOK, nil
		}
		return exitRuntime, fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info(context.Background(), "relayfeed shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("http shutdown: %w", err)
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return exitRuntime, fmt.Errorf("store shutdown: %w", err)
	}
	return exitOK, nil
}

func buildStorageBackends(cfg Config) (relayfeed.StateBackend, relayfeed.ReplyQueue, error) {
	stateDSN, err := cfg.stateDSN()
	if err != nil {
		return nil, nil, err
	}
	stateBackend, err := relayfeed.BuildStateBackendFromDSN(stateDSN)
	if err != nil {
		return nil, nil, err
	}
	queueDSN, err := cfg.replyQueueDSN()
	if err != nil {
		return nil, nil, err
	}
	replyQueue, err := relayfeed.BuildReplyQueueFromDSN(queueDSN, cfg.ReplyQueueSize)
	if err != nil {
		return nil, nil, err
	}
	return stateBackend, replyQueue, nil
}
