package classify

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"kitstudio/pkg/domain"
)

// JSONGenerator is the model capability the Gemini classifier needs.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema, out any) error
}

const promptTemplate = `You are classifying audio sample files for a music producer's sound library.
Given only the filename, choose exactly one category from this list: %s.

Rules:
- Hi-hats: if the name contains "open" or "OH" it is "Hi-Hat Open"; otherwise "Hi-Hat Closed".
- "808" means an 808 bass, not a drum machine kick, unless the name also says kick.
- Melodic one-shots (keys, plucks, bells, synth stabs) are "Oneshot Melodic".
- Anything with a tempo or the word loop is "Loop".
- Extract the musical key only if the filename states it (e.g. "Cm", "F#", "A minor"). Use short form such as "C#m" or "Bb".
- If the category is "Oneshot Melodic" and no key is stated, use "C".
- Otherwise return key as null.

Filename: %q`

// Gemini classifies with a generative model constrained by a JSON schema.
type Gemini struct {
	gen JSONGenerator
}

// NewGemini wraps a model client.
func NewGemini(gen JSONGenerator) *Gemini {
	return &Gemini{gen: gen}
}

// Schema returns the response schema: soundType constrained to the enum and a nullable key.
func Schema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"soundType": {Type: genai.TypeString, Enum: domain.SoundTypeNames()},
			"key":       {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		},
		Required:         []string{"soundType"},
		PropertyOrdering: []string{"soundType", "key"},
	}
}

// Prompt renders the classification prompt for filename.
func Prompt(filename string) string {
	return fmt.Sprintf(promptTemplate, strings.Join(domain.SoundTypeNames(), ", "), filename)
}

// Classify implements Classifier.
func (g *Gemini) Classify(ctx context.Context, filename string) (Classification, error) {
	var raw struct {
		SoundType string  `json:"soundType"`
		Key       *string `json:"key"`
	}
	if err := g.gen.GenerateJSON(ctx, Prompt(filename), Schema(), &raw); err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", filename, err)
	}
	st, err := domain.ParseSoundType(raw.SoundType)
	if err != nil {
		return Classification{}, fmt.Errorf("classify %s: %w", filename, err)
	}
	return Normalize(filename, Classification{SoundType: st, Key: raw.Key}), nil
}
