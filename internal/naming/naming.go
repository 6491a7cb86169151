// Package naming produces creative display names for sounds inside a kit.
package naming

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"

	"kitstudio/internal/ai"
)

// ErrRateLimited is returned when the backing model answered HTTP 429.
var ErrRateLimited = ai.ErrRateLimited

// MaxNameRunes bounds generated names.
const MaxNameRunes = 40

var listMarker = regexp.MustCompile(`^(?:[-*•]+|\d+[.)])\s+`)

// Request carries everything the namer may use.
type Request struct {
	OriginalName   string
	KitDescription string
	// UsedNames are the names already settled in the kit.
	UsedNames []string
}

// Namer proposes a new name for one sound.
type Namer interface {
	Rename(ctx context.Context, req Request) (string, error)
}

// TextGenerator is the model capability the Gemini namer needs.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

const promptTemplate = `You name sounds in a drum kit for music producers.
Kit theme: %s
Original filename: %q
Names already used in this kit: %s

Reply with ONE new evocative name of one to three words that fits the theme and hints at the sound.
Do not reuse or closely copy any used name. No file extension, no quotes, no numbering, no explanation.`

// Gemini asks a generative model for a name.
type Gemini struct {
	gen TextGenerator
}

// NewGemini wraps a model client.
func NewGemini(gen TextGenerator) *Gemini { return &Gemini{gen: gen} }

// Prompt renders the rename prompt.
func Prompt(req Request) string {
	used := "none"
	if len(req.UsedNames) > 0 {
		used = strings.Join(req.UsedNames, ", ")
	}
	theme := strings.TrimSpace(req.KitDescription)
	if theme == "" {
		theme = "unspecified"
	}
	return fmt.Sprintf(promptTemplate, theme, req.OriginalName, used)
}

// Rename implements Namer. The reply is cleaned and made unique against UsedNames.
func (g *Gemini) Rename(ctx context.Context, req Request) (string, error) {
	reply, err := g.gen.GenerateText(ctx, Prompt(req))
	if err != nil {
		return "", fmt.Errorf("rename %s: %w", req.OriginalName, err)
	}
	name := Clean(reply)
	if name == "" {
		return "", fmt.Errorf("rename %s: model returned no usable name", req.OriginalName)
	}
	return Unique(name, req.UsedNames), nil
}

// Clean keeps the first line of a model reply, strips quotes, list markers
// and any file extension, and bounds the length.
func Clean(reply string) string {
	line := strings.TrimSpace(reply)
	if i := strings.IndexAny(line, "\r\n"); i >= 0 {
		line = line[:i]
	}
	line = listMarker.ReplaceAllString(line, "")
	line = strings.Trim(line, " \t\"'`“”‘’*")
	if ext := path.Ext(line); ext != "" && len(ext) <= 5 && !strings.ContainsRune(ext, ' ') {
		line = strings.TrimSuffix(line, ext)
	}
	line = strings.Join(strings.Fields(line), " ")
	if r := []rune(line); len(r) > MaxNameRunes {
		line = strings.TrimSpace(string(r[:MaxNameRunes]))
	}
	return line
}

// Unique returns name, or name suffixed " 2", " 3", ... when it collides
// case-insensitively with a used name.
func Unique(name string, used []string) string {
	taken := make(map[string]struct{}, len(used))
	for _, u := range used {
		taken[strings.ToLower(strings.TrimSpace(u))] = struct{}{}
	}
	if _, ok := taken[strings.ToLower(name)]; !ok {
		return name
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s %d", name, n)
		if _, ok := taken[strings.ToLower(candidate)]; !ok {
			return candidate
		}
	}
}

// FallbackName derives a readable name from the original filename: the stem
// with separators turned into spaces and words title-cased.
func FallbackName(original string) string {
	stem := path.Base(strings.ReplaceAll(original, "\\", "/"))
	stem = strings.TrimSuffix(stem, path.Ext(stem))
	words := strings.FieldsFunc(stem, func(r rune) bool {
		return r == '_' || r == '-' || r == '.' || unicode.IsSpace(r)
	})
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	name := strings.Join(words, " ")
	if name == "" {
		return "Untitled"
	}
	return name
}

// Static returns FallbackName for every request; used when no model is configured.
type Static struct{}

// Rename implements Namer.
func (Static) Rename(_ context.Context, req Request) (string, error) {
	return Unique(FallbackName(req.OriginalName), req.UsedNames), nil
}
