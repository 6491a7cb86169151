// Package httpapi exposes the dashboard, kit studio and document routes over
// HTTP.
package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"kitstudio/internal/blob"
	"kitstudio/internal/core"
	"kitstudio/internal/export"
	"kitstudio/internal/metrics"
	"kitstudio/internal/pipeline"
	"kitstudio/internal/render"
)

// DefaultMaxUploadBytes bounds multipart batch uploads.
const DefaultMaxUploadBytes = 512 << 20

// Deps carries the collaborators behind the routes. Optional collaborators
// left nil answer with 500 "not configured".
type Deps struct {
	Service        *core.Service
	Blob           blob.Store
	Origin         blob.Origin
	Uploader       *pipeline.Uploader
	Assembler      *pipeline.Assembler
	Exporter       *export.Exporter
	Exports        *export.Worker
	Renderer       *render.Renderer
	AssetDir       string
	MaxUploadBytes int64
	Limiter        *ClientLimiter
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// Server implements the HTTP API.
type Server struct {
	Deps
	logger *zap.Logger
}

// New builds a server from deps.
func New(deps Deps) *Server {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = DefaultMaxUploadBytes
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{Deps: deps, logger: logger}
}

// Handler returns the routed handler with logging, metrics and rate limiting.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.Metrics.Middleware)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.Metrics != nil {
		router.Handle("/metrics", s.Metrics.Handler()).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	if s.Limiter != nil {
		api.Use(s.Limiter.Middleware)
	}

	api.HandleFunc("/r2-proxy", s.handleProxy).Methods(http.MethodGet)
	api.HandleFunc("/r2-upload", s.handleUpload).Methods(http.MethodPost)
	api.HandleFunc("/generate-pdf", s.handleGenerate(render.FormatPDF)).Methods(http.MethodPost)
	api.HandleFunc("/generate-image", s.handleGenerate(render.FormatPNG)).Methods(http.MethodPost)
	api.HandleFunc("/download", s.handleDownload).Methods(http.MethodGet)

	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/state/stream", s.handleStateStream).Methods(http.MethodGet)

	api.HandleFunc("/library", s.handleListSounds).Methods(http.MethodGet)
	api.HandleFunc("/library/batch", s.handleBatch).Methods(http.MethodPost)
	api.HandleFunc("/library/{id}", s.handleUpdateSound).Methods(http.MethodPatch)
	api.HandleFunc("/library/{id}", s.handleDeleteSound).Methods(http.MethodDelete)

	api.HandleFunc("/kits", s.handleListKits).Methods(http.MethodGet)
	api.HandleFunc("/kits", s.handleCreateKit).Methods(http.MethodPost)
	api.HandleFunc("/kits/{id}", s.handleGetKit).Methods(http.MethodGet)
	api.HandleFunc("/kits/{id}", s.handleUpdateKit).Methods(http.MethodPatch)
	api.HandleFunc("/kits/{id}", s.handleDeleteKit).Methods(http.MethodDelete)
	api.HandleFunc("/kits/{id}/sounds", s.handleAddKitSound).Methods(http.MethodPost)
	api.HandleFunc("/kits/{id}/sounds/{soundId}", s.handleRemoveKitSound).Methods(http.MethodDelete)
	api.HandleFunc("/kits/{id}/rename", s.handleRenameKit).Methods(http.MethodPost)
	api.HandleFunc("/kits/{id}/export", s.handleExportKit).Methods(http.MethodGet)
	api.HandleFunc("/kits/{id}/exports", s.handleEnqueueExport).Methods(http.MethodPost)
	api.HandleFunc("/exports/{id}", s.handleGetExport).Methods(http.MethodGet)
	api.HandleFunc("/exports/{id}/download", s.handleDownloadExport).Methods(http.MethodGet)

	api.HandleFunc("/work-items", s.handleListWorkItems).Methods(http.MethodGet)
	api.HandleFunc("/work-items", s.handleCreateWorkItem).Methods(http.MethodPost)
	api.HandleFunc("/work-items/{id}", s.handleUpdateWorkItem).Methods(http.MethodPatch)
	api.HandleFunc("/work-items/{id}", s.handleDeleteWorkItem).Methods(http.MethodDelete)
	api.HandleFunc("/work-items/{id}/status", s.handleWorkItemStatus).Methods(http.MethodPatch)

	api.HandleFunc("/tasks", s.handleCreateTask).Methods(http.MethodPost)
	api.HandleFunc("/tasks/{id}/column", s.handleMoveTask).Methods(http.MethodPatch)
	api.HandleFunc("/tasks/{id}", s.handleDeleteTask).Methods(http.MethodDelete)

	api.HandleFunc("/calendar", s.handleListEvents).Methods(http.MethodGet)
	api.HandleFunc("/calendar", s.handleCreateEvent).Methods(http.MethodPost)
	api.HandleFunc("/calendar/{id}", s.handleDeleteEvent).Methods(http.MethodDelete)

	api.HandleFunc("/income", s.handleRecordIncome).Methods(http.MethodPost)
	api.HandleFunc("/income/summary", s.handleIncomeSummary).Methods(http.MethodGet)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return s.logRequests(router)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "revision": s.Service.Snapshot().Revision})
}
