package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxScreenshotBytes caps the response accepted from the screenshot service.
const MaxScreenshotBytes = 32 << 20

// ScreenshotConfig configures ScreenshotAPI.
type ScreenshotConfig struct {
	Endpoint   string
	APIKey     string
	Width      int
	HTTPClient *http.Client
}

// ScreenshotAPI posts markup to a hosted HTML-to-image service and returns
// the binary it answers with.
type ScreenshotAPI struct {
	cfg    ScreenshotConfig
	client *http.Client
}

// NewScreenshotAPI validates cfg.
func NewScreenshotAPI(cfg ScreenshotConfig) (*ScreenshotAPI, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("screenshot endpoint: %w", ErrNotConfigured)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("screenshot api key: %w", ErrNotConfigured)
	}
	if cfg.Width <= 0 {
		cfg.Width = 820
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &ScreenshotAPI{cfg: cfg, client: client}, nil
}

type screenshotRequest struct {
	HTML     string `json:"html"`
	Format   string `json:"format"`
	Width    int    `json:"viewport_width"`
	FullPage bool   `json:"full_page"`
}

// Rasterize implements Rasterizer.
func (s *ScreenshotAPI) Rasterize(ctx context.Context, html string, format Format) ([]byte, error) {
	body, err := json.Marshal(screenshotRequest{HTML: html, Format: string(format), Width: s.cfg.Width, FullPage: true})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", format.ContentType())
	req.Header.Set("X-API-Key", s.cfg.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("screenshot request: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxScreenshotBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := bytes.TrimSpace(data)
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return nil, fmt.Errorf("screenshot service returned %s: %s", resp.Status, msg)
	}
	if len(data) > MaxScreenshotBytes {
		return nil, fmt.Errorf("screenshot exceeds %d bytes", MaxScreenshotBytes)
	}
	return data, nil
}
