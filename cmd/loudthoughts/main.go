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

	"github.com/rs/zerolog"

	"github.com/loudthoughts/loudthoughts/internal/buffer"
	"github.com/loudthoughts/loudthoughts/internal/config"
	"github.com/loudthoughts/loudthoughts/internal/httpapi"
	"github.com/loudthoughts/loudthoughts/internal/logger"
	"github.com/loudthoughts/loudthoughts/internal/provider"
)

func main() {
	log := logger.New("loudthoughts")
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	log = logger.WithLevel(log, cfg.LogLevel)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(rootCtx, cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	srv, closeBackend, err := newHTTPServer(cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeBackend(); err != nil {
			log.Warn().Err(err).Msg("buffer backend close failed")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("loudthoughts listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newHTTPServer(cfg *config.Config, log zerolog.Logger) (*http.Server, func() error, error) {
	dsn, err := cfg.ResolveBufferDSN()
	if err != nil {
		return nil, nil, err
	}
	backend, err := buffer.BuildBackendFromDSN(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize buffer backend: %w", err)
	}
	buf := buffer.New(backend, buffer.Options{ExpiryDays: cfg.EntryTTLDays})
	handler := httpapi.NewServerWithConfig(buf, provider.DefaultRegistry(nil), httpapi.ServerConfig{
		JWTSecret:       cfg.JWTSecret,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
		MaxBodyBytes:    cfg.MaxBodyBytes,
		SyncTokenTTL:    cfg.SyncTokenTTL,
		Logger:          log,
	})
	if cfg.JWTSecret == "" {
		log.Warn().Msg("LOUDTHOUGHTS_JWT_SECRET not set, using the development secret")
	}
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}, backend.Close, nil
}
