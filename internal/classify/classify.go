// Package classify assigns a sound category and musical key to an uploaded
// filename.
package classify

import (
	"context"
	"strings"
	"unicode"

	"kitstudio/internal/ai"
	"kitstudio/pkg/domain"
)

// ErrRateLimited is returned when the backing model answered HTTP 429.
var ErrRateLimited = ai.ErrRateLimited

// Classification is the category and optional key inferred for a filename.
type Classification struct {
	SoundType domain.SoundType `json:"soundType"`
	Key       *string          `json:"key"`
}

// Classifier infers a Classification from a filename.
type Classifier interface {
	Classify(ctx context.Context, filename string) (Classification, error)
}

// Normalize applies the deterministic post-processing every classifier
// shares: open hi-hat tokens force Hi-Hat Open, keys are canonicalized and
// melodic one-shots without a key default to C.
func Normalize(filename string, c Classification) Classification {
	if IsOpenHatName(filename) {
		c.SoundType = domain.SoundHiHatOpen
	}
	if c.Key != nil {
		if k, err := domain.ParseMusicalKey(*c.Key); err == nil {
			c.Key = &k
		} else {
			c.Key = nil
		}
	}
	if c.SoundType == domain.SoundOneshotMelodic && c.Key == nil {
		k := domain.DefaultMelodicKey
		c.Key = &k
	}
	return c
}

// IsOpenHatName reports whether the filename marks an open hi-hat: a token
// "oh" or the substring "open".
func IsOpenHatName(filename string) bool {
	stem := strings.ToLower(stripExt(filename))
	if strings.Contains(stem, "open") {
		return true
	}
	for _, tok := range Tokens(filename) {
		if tok == "oh" {
			return true
		}
	}
	return false
}

// Tokens splits a filename stem into lower-case tokens on separators,
// letter/digit boundaries and lower-to-upper case changes, so "HatOH" yields
// "hat" and "oh". '#' stays attached so keys like "F#m" survive.
func Tokens(filename string) []string {
	stem := stripExt(filename)
	var (
		out  []string
		cur  []rune
		prev rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	for _, r := range stem {
		switch {
		case unicode.IsLetter(r) || r == '#':
			if unicode.IsDigit(prev) || (unicode.IsLower(prev) && unicode.IsUpper(r)) {
				flush()
			}
			cur = append(cur, r)
		case unicode.IsDigit(r):
			if unicode.IsLetter(prev) {
				flush()
			}
			cur = append(cur, r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return out
}

func stripExt(filename string) string {
	base := filename
	if i := strings.LastIndexAny(base, `/\`); i >= 0 {
		base = base[i+1:]
	}
	if i := strings.LastIndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	return base
}
