package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"kitstudio/internal/ingest"
	"kitstudio/internal/pipeline"
	"kitstudio/pkg/domain"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = 50 * time.Second
	multipartMemory  = 32 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 << 10,
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Service.Snapshot())
}

// handleStateStream pushes the current document and then every committed one
// until the client goes away. Slow clients may miss intermediate revisions
// but always converge on the latest.
func (s *Server) handleStateStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", requestFields(r, err)...)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	updates := s.Service.Subscribe(ctx)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(doc domain.Document) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(doc)
	}
	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(streamWriteWait))
			return
		case doc, ok := <-updates:
			if !ok {
				return
			}
			if err := send(doc); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleListSounds(w http.ResponseWriter, r *http.Request) {
	sounds, err := s.Service.ListSounds(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if sounds == nil {
		sounds = []domain.Sound{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"sounds": sounds})
}

// handleBatch ingests every "files" part of a multipart form through the
// upload pipeline. A rate-limited batch answers 429 with the partial report.
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.Uploader == nil {
		writeError(w, http.StatusInternalServerError, "upload pipeline not configured")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files provided")
		return
	}
	files := make([]ingest.File, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable file "+fh.Filename)
			return
		}
		files = append(files, ingest.File{Name: fh.Filename, Data: data})
	}

	report, err := s.Uploader.Run(r.Context(), files)
	switch {
	case errors.Is(err, pipeline.ErrRateLimited):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error": err.Error(), "report": report})
	case err != nil:
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "report": report})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"report": report})
	}
}

type soundPatch struct {
	SoundType *string         `json:"soundType"`
	Key       json.RawMessage `json:"key"`
}

// handleUpdateSound applies a manual type or key override. A JSON null key
// clears it; an absent key leaves it unchanged.
func (s *Server) handleUpdateSound(w http.ResponseWriter, r *http.Request) {
	var patch soundPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var soundType domain.SoundType
	if patch.SoundType != nil {
		st, err := domain.ParseSoundType(*patch.SoundType)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		soundType = st
	}
	setKey := len(patch.Key) > 0
	var key *string
	if setKey && string(patch.Key) != "null" {
		var raw string
		if err := json.Unmarshal(patch.Key, &raw); err != nil {
			writeError(w, http.StatusBadRequest, "key must be a string or null")
			return
		}
		key = &raw
	}
	updated, _, err := s.Service.UpdateSound(r.Context(), mux.Vars(r)["id"], func(snd *domain.Sound) error {
		if soundType != "" {
			snd.SoundType = soundType
		}
		if setKey {
			snd.Key = key
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sound": updated})
}

// handleDeleteSound removes the sound from the library and every kit, then
// deletes its stored object.
func (s *Server) handleDeleteSound(w http.ResponseWriter, r *http.Request) {
	removed, _, err := s.Service.DeleteSound(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if s.Blob != nil {
		key := removed.StorageKey
		if key == "" && !s.Origin.IsZero() {
			key, _ = s.Origin.KeyFromURL(removed.StorageURL)
		}
		if key != "" {
			if _, err := s.Blob.Delete(r.Context(), key); err != nil {
				s.logger.Warn("delete stored sound", requestFields(r, err)...)
			}
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
