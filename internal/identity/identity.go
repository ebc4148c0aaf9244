// Package identity normalises player ids. Host election compares ids as
// strings, so every replica must agree on one canonical form.
package identity

import (
	"strings"

	"github.com/google/uuid"
)

const (
	maxIDLen   = 24
	maxNameLen = 12
)

// NormalizeID lowercases raw and keeps only [a-z0-9_-], at most 24 runes.
// The result may be empty.
func NormalizeID(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if b.Len() == maxIDLen {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func NormalizeName(raw string) string {
	name := strings.TrimSpace(raw)
	if r := []rune(name); len(r) > maxNameLen {
		name = string(r[:maxNameLen])
	}
	return name
}

// NewID returns a fresh normalised id.
var NewID = func() string {
	return NormalizeID("p-" + strings.ReplaceAll(uuid.NewString(), "-", ""))
}

// Ensure returns the normalised raw id, or a new one if nothing survives.
func Ensure(raw string) string {
	if id := NormalizeID(raw); id != "" {
		return id
	}
	return NewID()
}
