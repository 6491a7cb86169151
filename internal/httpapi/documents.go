package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"kitstudio/internal/blob"
	"kitstudio/internal/render"
)

func (s *Server) handleGenerate(format render.Format) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.Renderer == nil {
			writeError(w, http.StatusInternalServerError, "renderer not configured")
			return
		}
		var doc render.OrderDocument
		if err := decodeJSON(w, r, &doc); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := doc.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		out, err := s.Renderer.Render(r.Context(), doc, format)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeAttachment(w, out.Filename, out.ContentType, out.Data)
	}
}

func writeAttachment(w http.ResponseWriter, filename, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// handleDownload serves a file from the asset directory under a name built
// from the client and order query parameters.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if s.AssetDir == "" {
		writeError(w, http.StatusInternalServerError, "asset directory not configured")
		return
	}
	q := r.URL.Query()
	asset := q.Get("asset")
	if asset == "" || asset != path.Base(asset) || strings.ContainsAny(asset, `/\`) || strings.HasPrefix(asset, ".") {
		writeError(w, http.StatusBadRequest, "asset must be a plain file name")
		return
	}
	f, err := os.Open(filepath.Join(s.AssetDir, asset))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "asset not found")
			return
		}
		s.fail(w, r, err)
		return
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil || st.IsDir() {
		writeError(w, http.StatusNotFound, "asset not found")
		return
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(asset, q.Get("client"), q.Get("order"))))
	http.ServeContent(w, r, asset, st.ModTime(), f)
}

// downloadName returns "<client>-<order><ext>", falling back to the asset
// name when neither parameter is given.
func downloadName(asset, client, order string) string {
	parts := make([]string, 0, 2)
	for _, p := range []string{client, order} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, strings.TrimSpace(p))
		}
	}
	if len(parts) == 0 {
		return asset
	}
	return blob.SanitizeFilename(strings.Join(parts, "-")) + path.Ext(asset)
}
