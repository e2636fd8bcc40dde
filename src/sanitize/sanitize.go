// Package sanitize keeps secret values out of logs and cleans terminal
// escape codes from text destined for MCP responses.
//
// Masking applies everywhere a log line becomes observable: the store,
// broker chunks, the TUI and MCP output. ANSI stripping is only for MCP
// responses; the TUI has its own handling via charmbracelet/x/ansi.
package sanitize

import (
	"regexp"
	"strings"
	"sync"
)

// MaskReplacement substitutes each registered secret occurrence.
const MaskReplacement = "***"

// Masker replaces registered secret values in text. Safe for concurrent
// use; steps register additional masks mid-run via ::add-mask::.
type Masker struct {
	mu      sync.RWMutex
	secrets []string
}

// NewMasker creates a masker preloaded with the given secret values.
func NewMasker(secrets ...string) *Masker {
	m := &Masker{}
	for _, s := range secrets {
		m.Add(s)
	}
	return m
}

// Add registers a value to mask. Values shorter than 3 characters are
// ignored, they would shred ordinary output.
func (m *Masker) Add(secret string) {
	if len(secret) < 3 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = append(m.secrets, secret)
}

// Apply replaces every registered secret in s.
func (m *Masker) Apply(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, secret := range m.secrets {
		s = strings.ReplaceAll(s, secret, MaskReplacement)
	}
	return s
}

// Count returns the number of registered masks.
func (m *Masker) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}

// addMaskPrefix is the workflow command that registers a mask mid-run.
const addMaskPrefix = "::add-mask::"

// ParseAddMask extracts the value of an ::add-mask:: workflow command.
// Returns false when the line is not a mask command.
func ParseAddMask(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, addMaskPrefix) {
		return "", false
	}
	return strings.TrimPrefix(trimmed, addMaskPrefix), true
}

var (
	// ANSI escape codes: \x1b[...m (SGR sequences)
	ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)
)

// StripANSI removes ANSI SGR escape codes.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}
