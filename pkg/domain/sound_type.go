package domain

import "strings"

// SoundType is the fixed category enum assigned to library sounds.
type SoundType string

// Sound categories recognised by classification and export.
const (
	SoundKick           SoundType = "Kick"
	SoundSnare          SoundType = "Snare"
	SoundClap           SoundType = "Clap"
	SoundHiHatClosed    SoundType = "Hi-Hat Closed"
	SoundHiHatOpen      SoundType = "Hi-Hat Open"
	SoundPercussion     SoundType = "Percussion"
	Sound808            SoundType = "808"
	SoundCymbal         SoundType = "Cymbal"
	SoundRim            SoundType = "Rim"
	SoundFX             SoundType = "FX"
	SoundVocal          SoundType = "Vocal"
	SoundOneshotMelodic SoundType = "Oneshot Melodic"
	SoundLoop           SoundType = "Loop"
)

// DefaultMelodicKey is assigned to melodic one-shots whose name carries no key.
const DefaultMelodicKey = "C"

var soundTypes = []SoundType{
	SoundKick,
	SoundSnare,
	SoundClap,
	SoundHiHatClosed,
	SoundHiHatOpen,
	SoundPercussion,
	Sound808,
	SoundCymbal,
	SoundRim,
	SoundFX,
	SoundVocal,
	SoundOneshotMelodic,
	SoundLoop,
}

// SoundTypes returns every valid sound type in declaration order.
func SoundTypes() []SoundType {
	return append([]SoundType(nil), soundTypes...)
}

// SoundTypeNames returns the enum values as strings, for schemas and prompts.
func SoundTypeNames() []string {
	out := make([]string, len(soundTypes))
	for i, st := range soundTypes {
		out[i] = string(st)
	}
	return out
}

// ParseSoundType resolves a case-insensitive sound type name. Hyphens and
// spaces are interchangeable, so "hi hat open" resolves to Hi-Hat Open.
func ParseSoundType(raw string) (SoundType, error) {
	want := foldSoundType(raw)
	if want == "" {
		return "", Invalidf("empty sound type")
	}
	for _, st := range soundTypes {
		if foldSoundType(string(st)) == want {
			return st, nil
		}
	}
	return "", Invalidf("unknown sound type %q", raw)
}

func foldSoundType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "", " ", "", "_", "").Replace(s)
	return s
}

// Valid reports whether st is one of the enum values.
func (st SoundType) Valid() bool {
	for _, known := range soundTypes {
		if known == st {
			return true
		}
	}
	return false
}

// Melodic reports whether the category carries a musical key.
func (st SoundType) Melodic() bool {
	return st == SoundOneshotMelodic || st == Sound808 || st == SoundLoop
}

// Folder returns the archive folder for the category. Hi-hats nest under a
// shared Hi-Hat folder.
func (st SoundType) Folder() string {
	switch st {
	case SoundHiHatOpen:
		return "Hi-Hat/Open"
	case SoundHiHatClosed:
		return "Hi-Hat/Closed"
	case "":
		return "Uncategorized"
	default:
		return string(st)
	}
}
