package blob

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"
)

// Key namespaces inside the bucket.
const (
	SoundPrefix    = "sounds/"
	CoverArtPrefix = "cover-art/"
)

var (
	// ErrForbiddenOrigin is returned when a URL does not belong to the public storage origin.
	ErrForbiddenOrigin = errors.New("url outside storage origin")
	// ErrInvalidURL is returned for URLs that cannot be parsed or carry no key.
	ErrInvalidURL = errors.New("invalid storage url")
)

// SanitizeFilename keeps ASCII letters, digits, dot and underscore, collapsing
// every other run of characters, dashes included, into a single dash.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	dash := false
	for _, r := range name {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)), r == '.', r == '_':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-.")
	if out == "" {
		return "file"
	}
	return out
}

// SoundKey returns a fresh object key for an uploaded sound file.
func SoundKey(filename string) string {
	return SoundPrefix + uuid.NewString() + "-" + SanitizeFilename(filename)
}

// CoverArtKey returns a fresh object key for kit cover art. ext may carry a leading dot.
func CoverArtKey(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if ext == "" {
		ext = "png"
	}
	return CoverArtPrefix + uuid.NewString() + "." + ext
}

// Origin is the public URL prefix objects are served from.
type Origin struct {
	base *url.URL
}

// ParseOrigin validates an absolute http(s) origin such as
// https://pub-123.r2.dev or https://cdn.example.com/kits.
func ParseOrigin(raw string) (Origin, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Origin{}, fmt.Errorf("parse storage origin: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Origin{}, fmt.Errorf("storage origin %q must be an absolute http(s) url", raw)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/"
	u.RawQuery, u.Fragment, u.RawPath = "", "", ""
	return Origin{base: u}, nil
}

// IsZero reports whether the origin is unset.
func (o Origin) IsZero() bool { return o.base == nil }

// String returns the origin with a trailing slash.
func (o Origin) String() string {
	if o.base == nil {
		return ""
	}
	return o.base.String()
}

// URL returns the public URL for key.
func (o Origin) URL(key string) string {
	if o.base == nil {
		return ""
	}
	u := *o.base
	u.Path += strings.TrimPrefix(key, "/")
	return u.String()
}

// KeyFromURL returns the object key addressed by raw. URLs on another
// scheme, host or path prefix yield ErrForbiddenOrigin.
func (o Origin) KeyFromURL(raw string) (string, error) {
	if o.base == nil {
		return "", ErrForbiddenOrigin
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", ErrInvalidURL
	}
	if !strings.EqualFold(u.Scheme, o.base.Scheme) || !strings.EqualFold(u.Host, o.base.Host) || u.User != nil {
		return "", ErrForbiddenOrigin
	}
	if !strings.HasPrefix(u.Path, o.base.Path) {
		return "", ErrForbiddenOrigin
	}
	key := strings.TrimPrefix(u.Path, o.base.Path)
	if key == "" || strings.Contains(key, "..") {
		return "", ErrInvalidURL
	}
	return key, nil
}
