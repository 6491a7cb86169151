package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"kitstudio/internal/export"
	"kitstudio/internal/httpapi"
)

const limiterSweepInterval = time.Minute

func (c *cli) serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				c.cfg.Addr = addr
			}
			return c.withApp(cmd.Context(), func(a *app) error {
				return serve(cmd.Context(), a)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides KITSTUDIO_ADDR)")
	return cmd
}

func serve(ctx context.Context, a *app) error {
	worker := export.NewWorker(a.exporter, a.blob, a.logger)
	worker.Start()

	limiter := httpapi.NewClientLimiter(a.cfg.HTTPRateLimit, a.cfg.HTTPBurst, a.logger)
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sweepLimiter(bgCtx, limiter)
	go trackRevision(bgCtx, a)

	api := httpapi.New(httpapi.Deps{
		Service:        a.service,
		Blob:           a.blob,
		Origin:         a.origin,
		Uploader:       a.uploader,
		Assembler:      a.assembler,
		Exporter:       a.exporter,
		Exports:        worker,
		Renderer:       a.renderer,
		AssetDir:       a.cfg.AssetDir,
		MaxUploadBytes: a.cfg.MaxUploadBytes,
		Limiter:        limiter,
		Metrics:        a.metrics,
		Logger:         a.logger,
	})
	srv := &http.Server{
		Addr:              a.cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info("shutting down", zap.Duration("timeout", a.cfg.ShutdownTimeout))
	shutdownCtx, release := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer release()
	err := srv.Shutdown(shutdownCtx)
	if werr := worker.Stop(shutdownCtx); werr != nil {
		err = errors.Join(err, fmt.Errorf("stop export worker: %w", werr))
	}
	return err
}

func sweepLimiter(ctx context.Context, limiter *httpapi.ClientLimiter) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			limiter.Sweep(now)
		}
	}
}

func trackRevision(ctx context.Context, a *app) {
	for doc := range a.service.Subscribe(ctx) {
		a.metrics.DocumentRevision(doc.Revision)
	}
}
