package domain

import "strings"

// ParseMusicalKey canonicalizes a key name: a root note A-G, an optional
// sharp or flat, and "m" for minor. "c#min" becomes "C#m", "Bb major" becomes "Bb".
func ParseMusicalKey(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", Invalidf("empty musical key")
	}
	root := strings.ToUpper(s[:1])
	if !strings.Contains("ABCDEFG", root) {
		return "", Invalidf("invalid musical key %q", raw)
	}
	rest := s[1:]
	accidental := ""
	switch {
	case strings.HasPrefix(rest, "#"), strings.HasPrefix(rest, "♯"):
		accidental = "#"
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "#"), "♯")
	case strings.HasPrefix(rest, "b"), strings.HasPrefix(rest, "♭"):
		accidental = "b"
		rest = strings.TrimPrefix(strings.TrimPrefix(rest, "b"), "♭")
	}
	switch strings.ToLower(strings.Join(strings.Fields(rest), "")) {
	case "", "maj", "major":
		return root + accidental, nil
	case "m", "min", "minor":
		return root + accidental + "m", nil
	default:
		return "", Invalidf("invalid musical key %q", raw)
	}
}

// NormalizeKey returns the canonical form of raw when it parses, otherwise
// raw with surrounding whitespace removed.
func NormalizeKey(raw string) string {
	if k, err := ParseMusicalKey(raw); err == nil {
		return k
	}
	return strings.TrimSpace(raw)
}
