package fsutil

import (
	"path/filepath"
	"strings"
)

// DefaultVideoExtensions lists the container formats cameras write to cards.
var DefaultVideoExtensions = []string{
	".mp4", ".mov", ".m4v", ".mxf", ".avi", ".mts", ".m2ts",
	".mkv", ".r3d", ".braw", ".crm", ".insv", ".3gp", ".wmv",
}

// ExtensionMatcher decides which files count as footage.
// Matching is case-insensitive on the final extension only.
type ExtensionMatcher struct {
	exts map[string]bool
}

// NewExtensionMatcher creates a matcher from raw extensions.
// Blank entries and entries starting with '#' are skipped; a missing
// leading dot is added. An empty list falls back to DefaultVideoExtensions.
func NewExtensionMatcher(rawExts []string) *ExtensionMatcher {
	exts := make(map[string]bool)
	for _, raw := range rawExts {
		raw = strings.ToLower(strings.TrimSpace(raw))
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		if !strings.HasPrefix(raw, ".") {
			raw = "." + raw
		}
		exts[raw] = true
	}
	if len(exts) == 0 {
		for _, e := range DefaultVideoExtensions {
			exts[e] = true
		}
	}
	return &ExtensionMatcher{exts: exts}
}

// Match reports whether name has a known video extension and is not hidden.
func (m *ExtensionMatcher) Match(name string) bool {
	base := filepath.Base(name)
	if IsHidden(base) {
		return false
	}
	return m.exts[strings.ToLower(filepath.Ext(base))]
}

// IsHidden reports whether a base name is a dotfile. Camera vendors and
// operating systems leave metadata (.Trashes, ._clip.mov) that must be skipped.
func IsHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}
