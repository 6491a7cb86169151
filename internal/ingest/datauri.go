package ingest

import (
	"encoding/base64"
	"errors"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ErrInvalidDataURI is returned for payloads that are not base64 data URIs.
var ErrInvalidDataURI = errors.New("invalid data uri")

// EncodeDataURI renders data as a base64 data URI. An empty content type is
// sniffed from the payload.
func EncodeDataURI(contentType string, data []byte) string {
	if contentType == "" {
		contentType = mimetype.Detect(data).String()
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURI parses "data:<type>;base64,<payload>". A missing type falls
// back to the sniffed type of the payload.
func DecodeDataURI(uri string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrInvalidDataURI
	}
	params := strings.Split(meta, ";")
	if params[len(params)-1] != "base64" {
		return "", nil, ErrInvalidDataURI
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return "", nil, ErrInvalidDataURI
		}
	}
	contentType := params[0]
	if contentType == "" || contentType == "base64" {
		contentType = mimetype.Detect(data).String()
	}
	return contentType, data, nil
}
