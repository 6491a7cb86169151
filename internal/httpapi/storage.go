package httpapi

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"kitstudio/internal/blob"
	"kitstudio/internal/ingest"
)

// handleProxy streams an object that lives under the public storage origin.
// Any other URL is refused so the route cannot be used as an open relay.
func (s *Server) handleProxy(w http.ResponseWriter, r *http.Request) {
	if s.Origin.IsZero() || s.Blob == nil {
		writeError(w, http.StatusInternalServerError, "storage origin not configured")
		return
	}
	raw := r.URL.Query().Get("url")
	if strings.TrimSpace(raw) == "" {
		writeError(w, http.StatusBadRequest, "url query parameter required")
		return
	}
	key, err := s.Origin.KeyFromURL(raw)
	switch {
	case errors.Is(err, blob.ErrForbiddenOrigin):
		writeError(w, http.StatusForbidden, "url is not allowed")
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, rc, err := s.Blob.Get(r.Context(), key)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer rc.Close()
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("proxy copy interrupted", requestFields(r, err)...)
	}
}

type uploadRequest struct {
	FileName string `json:"fileName"`
	DataURI  string `json:"dataUri"`
	Folder   string `json:"folder"`
}

type uploadResponse struct {
	URL string `json:"url"`
	Key string `json:"key"`
}

// handleUpload stores a data URI under the sounds/ or cover-art/ prefix.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.Blob == nil {
		writeError(w, http.StatusInternalServerError, "blob storage not configured")
		return
	}
	var req uploadRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.FileName) == "" || req.DataURI == "" {
		writeError(w, http.StatusBadRequest, "fileName and dataUri are required")
		return
	}
	contentType, data, err := ingest.DecodeDataURI(req.DataURI)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var key string
	switch strings.Trim(req.Folder, "/") {
	case "", "sounds":
		key = blob.SoundKey(req.FileName)
	case "cover-art":
		ext := path.Ext(req.FileName)
		if ext == "" {
			if m := mimetype.Lookup(contentType); m != nil {
				ext = m.Extension()
			}
		}
		key = blob.CoverArtKey(ext)
	default:
		writeError(w, http.StatusBadRequest, "folder must be sounds or cover-art")
		return
	}

	info, err := s.Blob.Put(r.Context(), key, bytes.NewReader(data), blob.PutOptions{
		ContentType: contentType,
		Metadata:    map[string]string{"original-name": req.FileName},
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	url := info.URL
	if !s.Origin.IsZero() {
		url = s.Origin.URL(key)
	}
	writeJSON(w, http.StatusCreated, uploadResponse{URL: url, Key: key})
}
