package render

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"go.uber.org/zap"
)

// BrowserConfig selects the Chromium instance to drive.
type BrowserConfig struct {
	// ControlURL attaches to a running browser's DevTools endpoint.
	ControlURL string
	// Bin overrides the Chromium binary when launching locally.
	Bin           string
	ViewportWidth int
}

// Browser rasterizes through a headless Chromium controlled with rod. The
// browser is started on first use and shared by later calls.
type Browser struct {
	cfg    BrowserConfig
	logger *zap.Logger

	mu      sync.Mutex
	browser *rod.Browser
}

// NewBrowser returns a lazily connected Browser.
func NewBrowser(cfg BrowserConfig, logger *zap.Logger) *Browser {
	if cfg.ViewportWidth <= 0 {
		cfg.ViewportWidth = 820
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Browser{cfg: cfg, logger: logger}
}

func (b *Browser) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	controlURL := b.cfg.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		if b.cfg.Bin != "" {
			l = l.Bin(b.cfg.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chromium: %w", err)
		}
		controlURL = url
	}
	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("connect to chromium: %w", err)
	}
	b.logger.Info("headless browser connected", zap.String("control_url", controlURL))
	b.browser = browser
	return browser, nil
}

// Rasterize loads html into a fresh page and prints or captures it.
func (b *Browser) Rasterize(ctx context.Context, html string, format Format) ([]byte, error) {
	browser, err := b.connect()
	if err != nil {
		return nil, err
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			b.logger.Debug("close page", zap.Error(cerr))
		}
	}()
	page = page.Context(ctx)
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: b.cfg.ViewportWidth, Height: 1100, DeviceScaleFactor: 2}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	if err := page.SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("set content: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("wait load: %w", err)
	}

	switch format {
	case FormatPDF:
		r, err := page.PDF(&proto.PagePrintToPDF{PrintBackground: true, PreferCSSPageSize: true})
		if err != nil {
			return nil, fmt.Errorf("print pdf: %w", err)
		}
		return io.ReadAll(r)
	case FormatPNG:
		return page.Screenshot(true, &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng})
	default:
		return nil, fmt.Errorf("unsupported format %q", format)
	}
}

// Close shuts the browser down if it was started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}
