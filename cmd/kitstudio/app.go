package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"kitstudio/internal/ai"
	"kitstudio/internal/blob"
	"kitstudio/internal/classify"
	"kitstudio/internal/config"
	"kitstudio/internal/core"
	"kitstudio/internal/export"
	"kitstudio/internal/metrics"
	"kitstudio/internal/naming"
	"kitstudio/internal/pipeline"
	"kitstudio/internal/render"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	service *core.Service
	blob    blob.Store
	origin  blob.Origin

	uploader  *pipeline.Uploader
	assembler *pipeline.Assembler
	exporter  *export.Exporter
	renderer  *render.Renderer
	browser   *render.Browser
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New(), origin: cfg.Origin()}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage(), core.NewDefaultRulesEngine())
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	a.service = core.NewService(store, core.WithLogger(logger))

	a.blob, err = blob.Open(ctx, cfg.Blob())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	classifier, namer, err := models(ctx, cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	limiter := modelLimiter(cfg)
	a.uploader = pipeline.NewUploader(a.blob, classifier, a.service, limiter,
		pipeline.WithOrigin(a.origin),
		pipeline.WithExpander(cfg.Expander()),
		pipeline.WithUploaderLogger(logger),
		pipeline.WithUploaderMetrics(a.metrics),
	)
	a.assembler = pipeline.NewAssembler(a.service, namer, limiter, logger, a.metrics)
	a.exporter = export.New(a.service, a.blob, a.origin,
		export.WithConcurrency(cfg.ExportConcurrency),
		export.WithLogger(logger),
		export.WithMetrics(a.metrics),
	)

	var pdf, image render.Rasterizer
	if cfg.BrowserEnabled {
		a.browser = render.NewBrowser(render.BrowserConfig{ControlURL: cfg.BrowserControlURL, Bin: cfg.BrowserBin}, logger)
		pdf, image = a.browser, a.browser
	}
	if cfg.ScreenshotURL != "" {
		api, err := render.NewScreenshotAPI(render.ScreenshotConfig{Endpoint: cfg.ScreenshotURL, APIKey: cfg.ScreenshotKey})
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		image = api
	}
	a.renderer = render.NewRenderer(pdf, image)
	return a, nil
}

// models picks the Gemini-backed classifier and namer when a key is
// configured, and the offline fallbacks otherwise.
func models(ctx context.Context, cfg config.Config, logger *zap.Logger) (classify.Classifier, naming.Namer, error) {
	if cfg.GeminiAPIKey == "" {
		logger.Warn("no gemini api key configured, using filename heuristics and fallback names")
		return classify.Heuristic{}, naming.Static{}, nil
	}
	gen, err := ai.NewGemini(ctx, ai.Config{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel, BaseURL: cfg.GeminiBaseURL}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("gemini client: %w", err)
	}
	logger.Info("gemini models enabled", zap.String("model", gen.Model()))
	return classify.NewGemini(gen), naming.NewGemini(gen), nil
}

// modelLimiter paces remote model calls. The offline fallbacks make no
// remote calls, so they run unthrottled.
func modelLimiter(cfg config.Config) *rate.Limiter {
	if cfg.GeminiAPIKey == "" {
		return nil
	}
	return rate.NewLimiter(rate.Every(cfg.ModelInterval()), cfg.ModelBurst)
}

func (a *app) Close() error {
	var errs []error
	if a.browser != nil {
		errs = append(errs, a.browser.Close())
	}
	errs = append(errs, a.service.Store().Close())
	return errors.Join(errs...)
}
