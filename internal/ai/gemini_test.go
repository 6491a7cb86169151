package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"google.golang.org/genai"
)

func replyServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, ":generateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func candidate(text string) string {
	b, _ := json.Marshal(text)
	return fmt.Sprintf(`{"candidates":[{"content":{"role":"model","parts":[{"text":%s}]}}]}`, b)
}

func newTestGemini(t *testing.T, srv *httptest.Server) *Gemini {
	t.Helper()
	g, err := NewGemini(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()}, nil)
	if err != nil {
		t.Fatalf("new gemini: %v", err)
	}
	return g
}

func TestGenerateJSON(t *testing.T) {
	g := newTestGemini(t, replyServer(t, http.StatusOK, candidate(`{"soundType":"Kick","key":null}`)))
	var out struct {
		SoundType string  `json:"soundType"`
		Key       *string `json:"key"`
	}
	if err := g.GenerateJSON(context.Background(), "classify", &genai.Schema{Type: genai.TypeObject}, &out); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out.SoundType != "Kick" || out.Key != nil {
		t.Fatalf("unexpected decode %+v", out)
	}
	if g.Model() != DefaultModel {
		t.Fatalf("expected default model")
	}
}

func TestGenerateTextTrims(t *testing.T) {
	g := newTestGemini(t, replyServer(t, http.StatusOK, candidate("  Velvet Thump \n")))
	got, err := g.GenerateText(context.Background(), "name")
	if err != nil || got != "Velvet Thump" {
		t.Fatalf("unexpected %q %v", got, err)
	}
}

func TestRateLimitSurfaces(t *testing.T) {
	g := newTestGemini(t, replyServer(t, http.StatusTooManyRequests, `{"error":{"code":429,"message":"Resource has been exhausted","status":"RESOURCE_EXHAUSTED"}}`))
	_, err := g.GenerateText(context.Background(), "name")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}

func TestIsRateLimited(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{errors.New("Error 429, Too Many Requests"), true},
		{fmt.Errorf("wrap: %w", ErrRateLimited), true},
		{genai.APIError{Code: http.StatusTooManyRequests}, true},
		{genai.APIError{Code: http.StatusInternalServerError, Message: "x"}, false},
	}
	for _, tc := range cases {
		if got := IsRateLimited(tc.err); got != tc.want {
			t.Errorf("IsRateLimited(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestNewGeminiRequiresKey(t *testing.T) {
	if _, err := NewGemini(context.Background(), Config{}, nil); err == nil {
		t.Fatalf("expected missing key error")
	}
}
