package classify

import (
	"context"

	"kitstudio/pkg/domain"
)

var keywordTypes = []struct {
	soundType domain.SoundType
	tokens    []string
}{
	{domain.Sound808, []string{"808", "sub"}},
	{domain.SoundLoop, []string{"loop", "bpm"}},
	{domain.SoundKick, []string{"kick", "kik", "kck", "bd", "bassdrum"}},
	{domain.SoundSnare, []string{"snare", "snr", "sd"}},
	{domain.SoundClap, []string{"clap", "clp", "snap"}},
	{domain.SoundRim, []string{"rim", "rimshot", "stick"}},
	{domain.SoundHiHatClosed, []string{"hat", "hats", "hh", "hihat", "ch", "closed"}},
	{domain.SoundCymbal, []string{"cymbal", "cym", "crash", "ride", "splash", "china"}},
	{domain.SoundVocal, []string{"vox", "vocal", "vocals", "voice", "chant", "adlib"}},
	{domain.SoundFX, []string{"fx", "sfx", "riser", "impact", "sweep", "noise", "reverse", "transition"}},
	{domain.SoundPercussion, []string{"perc", "shaker", "tom", "conga", "bongo", "tamb", "tambourine", "cowbell", "block"}},
	{domain.SoundOneshotMelodic, []string{"melody", "keys", "piano", "pluck", "synth", "bell", "lead", "pad", "chord", "guitar", "flute", "brass", "strings", "stab"}},
}

// Heuristic classifies by filename keywords. It never calls out and never
// rate limits, so it serves offline runs and deployments without a model key.
type Heuristic struct{}

// Classify implements Classifier.
func (Heuristic) Classify(_ context.Context, filename string) (Classification, error) {
	tokens := Tokens(filename)
	set := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		set[tok] = struct{}{}
	}
	c := Classification{SoundType: domain.SoundPercussion}
	for _, kw := range keywordTypes {
		if matchAny(set, kw.tokens) {
			c.SoundType = kw.soundType
			break
		}
	}
	if key, ok := keyFromTokens(tokens); ok {
		c.Key = &key
	}
	return Normalize(filename, c), nil
}

var keyQualities = map[string]bool{"maj": true, "major": true, "min": true, "minor": true}

func matchAny(set map[string]struct{}, tokens []string) bool {
	for _, tok := range tokens {
		if _, ok := set[tok]; ok {
			return true
		}
	}
	return false
}

// keyFromTokens finds a key token. Single-letter notes only count right after
// a "key" token so stray letters are not mistaken for keys. A quality split
// off by a case change ("Eb" "Min") is joined back onto its note.
func keyFromTokens(tokens []string) (string, bool) {
	for i, tok := range tokens {
		if len(tok) < 2 && !(i > 0 && tokens[i-1] == "key") {
			continue
		}
		if i+1 < len(tokens) && keyQualities[tokens[i+1]] {
			if k, err := domain.ParseMusicalKey(tok + tokens[i+1]); err == nil {
				return k, true
			}
		}
		if k, err := domain.ParseMusicalKey(tok); err == nil {
			return k, true
		}
	}
	return "", false
}
