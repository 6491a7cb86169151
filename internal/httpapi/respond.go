package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"kitstudio/internal/blob"
	"kitstudio/internal/core"
	"kitstudio/internal/pipeline"
	"kitstudio/internal/render"
	"kitstudio/pkg/domain"
)

// maxJSONBody bounds JSON request bodies. Data URI uploads are the largest.
const maxJSONBody = 64 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}

// decodeJSON reads a single JSON object, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body required")
		}
		return fmt.Errorf("invalid request payload: %w", err)
	}
	return nil
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	var (
		notFound  core.ErrNotFound
		invalid   domain.ValidationError
		violation domain.RuleViolationError
	)
	switch {
	case errors.As(err, &notFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRevisionConflict), errors.Is(err, blob.ErrExists):
		return http.StatusConflict
	case errors.Is(err, pipeline.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, render.ErrNotConfigured):
		return http.StatusInternalServerError
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", requestFields(r, err)...)
	}
	var violation domain.RuleViolationError
	if errors.As(err, &violation) {
		writeJSON(w, status, map[string]any{"error": err.Error(), "violations": violation.Result.Violations})
		return
	}
	writeError(w, status, err.Error())
}
