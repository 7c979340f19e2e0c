// Package util holds small helpers shared by the HTTP and session layers.
package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random id such as "vis_3f2a...". An empty prefix yields the
// bare 32 hex characters.
func NewID(prefix string) string {
	raw := uuid.New()
	hex := strings.ReplaceAll(raw.String(), "-", "")
	if prefix == "" {
		return hex
	}
	return prefix + "_" + hex
}

// HasPrefix reports whether id was minted by NewID with prefix.
func HasPrefix(id, prefix string) bool {
	rest, ok := strings.CutPrefix(id, prefix+"_")
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
