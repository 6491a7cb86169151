// Package ingest turns user-supplied files and ZIP archives into the flat
// list of audio files the upload pipeline consumes.
package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const (
	// DefaultMaxEntryBytes bounds a single decompressed archive entry.
	DefaultMaxEntryBytes int64 = 256 << 20
	// DefaultMaxTotalBytes bounds everything decompressed by one Expand call.
	DefaultMaxTotalBytes int64 = 1 << 30
)

var errEntryTooLarge = errors.New("entry too large")

var audioTypes = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mpeg",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".m4a":  "audio/mp4",
}

// File is a named payload supplied by the caller.
type File struct {
	Name string
	Data []byte
}

// AudioFile is an accepted audio payload.
type AudioFile struct {
	// Name is the base filename used for classification and storage keys.
	Name string
	// Source is the uploaded file the audio came from; equals Name unless
	// extracted from an archive.
	Source      string
	Data        []byte
	ContentType string
}

// Skipped records an input or archive entry that was dropped.
type Skipped struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Result lists accepted audio files in input order and everything dropped.
type Result struct {
	Audio   []AudioFile
	Skipped []Skipped
}

// Expander expands uploads. Zero limits fall back to DefaultMaxEntryBytes
// and DefaultMaxTotalBytes.
type Expander struct {
	MaxEntryBytes int64
	MaxTotalBytes int64
}

// Expand expands files with the default limits.
func Expand(files []File) Result {
	return Expander{}.Expand(files)
}

// Expand flattens files: ZIP payloads are decompressed in memory, hidden
// macOS metadata and non-audio entries are dropped.
func (e Expander) Expand(files []File) Result {
	var res Result
	budget := e.MaxTotalBytes
	if budget <= 0 {
		budget = DefaultMaxTotalBytes
	}
	for _, f := range files {
		if strings.EqualFold(path.Ext(f.Name), ".zip") {
			e.expandZip(f, &res, &budget)
			continue
		}
		e.accept(f.Name, f.Name, f.Data, &res)
	}
	return res
}

// expandZip decompresses the audio entries of f. budget is what remains of
// the decompression allowance for the whole Expand call.
func (e Expander) expandZip(f File, res *Result, budget *int64) {
	zr, err := zip.NewReader(bytes.NewReader(f.Data), int64(len(f.Data)))
	if err != nil {
		res.Skipped = append(res.Skipped, Skipped{Name: f.Name, Reason: fmt.Sprintf("unreadable archive: %v", err)})
		return
	}
	limit := e.MaxEntryBytes
	if limit <= 0 {
		limit = DefaultMaxEntryBytes
	}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() || IsHiddenEntry(entry.Name) {
			continue
		}
		if !IsAudioName(entry.Name) {
			res.Skipped = append(res.Skipped, Skipped{Name: entry.Name, Reason: "not an audio file"})
			continue
		}
		entryLimit := min(limit, *budget)
		data, err := readEntry(entry, entryLimit)
		if err != nil {
			reason := err.Error()
			if errors.Is(err, errEntryTooLarge) {
				reason = fmt.Sprintf("entry exceeds %d bytes", limit)
				if entryLimit < limit {
					reason = "archive contents exceed the decompression limit"
				}
			}
			res.Skipped = append(res.Skipped, Skipped{Name: entry.Name, Reason: reason})
			continue
		}
		*budget -= int64(len(data))
		e.accept(path.Base(entry.Name), f.Name, data, res)
	}
}

func readEntry(entry *zip.File, limit int64) ([]byte, error) {
	if entry.UncompressedSize64 > uint64(limit) {
		return nil, errEntryTooLarge
	}
	rc, err := entry.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	if int64(len(data)) > limit {
		return nil, errEntryTooLarge
	}
	return data, nil
}

func (e Expander) accept(name, source string, data []byte, res *Result) {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch {
	case IsHiddenEntry(name):
		return
	case !IsAudioName(base):
		res.Skipped = append(res.Skipped, Skipped{Name: name, Reason: "not an audio file"})
		return
	case len(data) == 0:
		res.Skipped = append(res.Skipped, Skipped{Name: name, Reason: "empty file"})
		return
	}
	contentType, ok := sniffAudio(base, data)
	if !ok {
		res.Skipped = append(res.Skipped, Skipped{Name: name, Reason: "content is " + contentType})
		return
	}
	res.Audio = append(res.Audio, AudioFile{Name: base, Source: source, Data: data, ContentType: contentType})
}

// sniffAudio returns the content type to store and whether the payload may
// be audio. Unrecognized binary content is trusted to its extension.
func sniffAudio(name string, data []byte) (string, bool) {
	detected := mimetype.Detect(data)
	mime := detected.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	switch {
	case strings.HasPrefix(mime, "audio/"):
		return mime, true
	case strings.HasPrefix(mime, "video/"), mime == "application/ogg", mime == "application/octet-stream":
		return audioTypes[strings.ToLower(path.Ext(name))], true
	default:
		return mime, false
	}
}

// IsAudioName reports whether the filename carries a supported audio extension.
func IsAudioName(name string) bool {
	_, ok := audioTypes[strings.ToLower(path.Ext(name))]
	return ok
}

// IsHiddenEntry reports macOS archive metadata (__MACOSX/ trees and ._ resource forks).
func IsHiddenEntry(name string) bool {
	name = strings.ReplaceAll(name, "\\", "/")
	if strings.HasPrefix(name, "__MACOSX/") || strings.Contains(name, "/__MACOSX/") {
		return true
	}
	return strings.HasPrefix(path.Base(name), "._")
}

// ContentTypeFor returns the audio MIME type implied by the extension, or
// application/octet-stream.
func ContentTypeFor(name string) string {
	if ct, ok := audioTypes[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}
