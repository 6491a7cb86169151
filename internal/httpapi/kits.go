package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"

	"github.com/gorilla/mux"

	"kitstudio/internal/export"
	"kitstudio/internal/pipeline"
	"kitstudio/pkg/domain"
)

type kitRequest struct {
	Name        *string   `json:"name"`
	Description *string   `json:"description"`
	CoverArtURL *string   `json:"coverArtUrl"`
	ImagePrompt *string   `json:"imagePrompt"`
	SEONames    *[]string `json:"seoNames"`
}

func (k kitRequest) apply(kit *domain.Kit) {
	if k.Name != nil {
		kit.Name = *k.Name
	}
	if k.Description != nil {
		kit.Description = *k.Description
	}
	if k.CoverArtURL != nil {
		kit.CoverArtURL = *k.CoverArtURL
	}
	if k.ImagePrompt != nil {
		kit.ImagePrompt = *k.ImagePrompt
	}
	if k.SEONames != nil {
		kit.SEONames = append([]string(nil), (*k.SEONames)...)
	}
}

func (s *Server) handleListKits(w http.ResponseWriter, r *http.Request) {
	kits, err := s.Service.ListKits(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if kits == nil {
		kits = []domain.Kit{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"kits": kits})
}

func (s *Server) handleCreateKit(w http.ResponseWriter, r *http.Request) {
	var req kitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var kit domain.Kit
	req.apply(&kit)
	created, _, err := s.Service.CreateKit(r.Context(), kit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"kit": created})
}

func (s *Server) handleGetKit(w http.ResponseWriter, r *http.Request) {
	kit, sounds, err := s.Service.GetKit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kit": kit, "sounds": sounds})
}

func (s *Server) handleUpdateKit(w http.ResponseWriter, r *http.Request) {
	var req kitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	updated, _, err := s.Service.UpdateKit(r.Context(), mux.Vars(r)["id"], func(k *domain.Kit) error {
		req.apply(k)
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kit": updated})
}

func (s *Server) handleDeleteKit(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Service.DeleteKit(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleAddKitSound adds a library sound to the kit and waits for its
// generated name.
func (s *Server) handleAddKitSound(w http.ResponseWriter, r *http.Request) {
	if s.Assembler == nil {
		writeError(w, http.StatusInternalServerError, "kit assembler not configured")
		return
	}
	var req struct {
		SoundID string `json:"soundId"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SoundID == "" {
		writeError(w, http.StatusBadRequest, "soundId is required")
		return
	}
	rename, err := s.Assembler.AddToKit(r.Context(), mux.Vars(r)["id"], req.SoundID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rename": rename})
}

func (s *Server) handleRemoveKitSound(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kit, _, err := s.Service.RemoveSoundFromKit(r.Context(), vars["id"], vars["soundId"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kit": kit})
}

func (s *Server) handleRenameKit(w http.ResponseWriter, r *http.Request) {
	if s.Assembler == nil {
		writeError(w, http.StatusInternalServerError, "kit assembler not configured")
		return
	}
	report, err := s.Assembler.RenameAll(r.Context(), mux.Vars(r)["id"])
	switch {
	case errors.Is(err, pipeline.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": err.Error(), "report": report})
	case err != nil:
		s.fail(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	}
}

// handleExportKit builds the archive in memory so a failure can still be
// reported as JSON before any bytes are sent.
func (s *Server) handleExportKit(w http.ResponseWriter, r *http.Request) {
	if s.Exporter == nil {
		writeError(w, http.StatusInternalServerError, "exporter not configured")
		return
	}
	var buf bytes.Buffer
	report, err := s.Exporter.Export(r.Context(), mux.Vars(r)["id"], &buf)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("X-Export-Files", strconv.Itoa(len(report.Files)))
	w.Header().Set("X-Export-Failed", strconv.Itoa(len(report.Failed)))
	writeAttachment(w, report.Archive, "application/zip", buf.Bytes())
}

func (s *Server) handleEnqueueExport(w http.ResponseWriter, r *http.Request) {
	if s.Exports == nil {
		writeError(w, http.StatusInternalServerError, "export worker not configured")
		return
	}
	job, err := s.Exports.Enqueue(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, export.ErrQueueFull) {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/exports/"+job.ID)
	writeJSON(w, http.StatusAccepted, map[string]any{"export": job})
}

func (s *Server) handleGetExport(w http.ResponseWriter, r *http.Request) {
	if s.Exports == nil {
		writeError(w, http.StatusInternalServerError, "export worker not configured")
		return
	}
	job, ok := s.Exports.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"export": job})
}

func (s *Server) handleDownloadExport(w http.ResponseWriter, r *http.Request) {
	if s.Exports == nil || s.Blob == nil {
		writeError(w, http.StatusInternalServerError, "export worker not configured")
		return
	}
	job, ok := s.Exports.Get(mux.Vars(r)["id"])
	if !ok {
		writeError(w, http.StatusNotFound, "export not found")
		return
	}
	if job.Status != export.JobSucceeded {
		writeError(w, http.StatusConflict, fmt.Sprintf("export is %s", job.Status))
		return
	}
	info, rc, err := s.Blob.Get(r.Context(), job.Key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(job.Key)))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("export download interrupted", requestFields(r, err)...)
	}
}
