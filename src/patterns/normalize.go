// Package patterns provides problem matchers for job log output and the
// normalization used to group recurring failures across matrix jobs.
//
// The same underlying patterns are used with different masking levels:
//   - MaskRecurrence: Aggressive normalization for grouping (masks line numbers)
//   - MaskPresentation: Conservative normalization for display (preserves line numbers)
package patterns

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

// MaskingLevel controls how aggressively log lines are normalized.
type MaskingLevel int

const (
	// MaskPresentation preserves diagnostic details like line numbers.
	// Use for: MCP responses, UI display.
	MaskPresentation MaskingLevel = iota

	// MaskRecurrence aggressively normalizes for grouping identical errors.
	// Use for: Deduplication, recurrence counting across matrix legs.
	MaskRecurrence
)

// Shared regex patterns - compiled once at package init.
var (
	// timestampPattern matches ISO8601 and common log timestamps.
	timestampPattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}([.,]\d+)?(Z|[+-]\d{2}:?\d{2})?`)

	// uuidPattern matches standard UUIDs.
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)

	// longHashPattern matches long hex strings (container IDs, git SHAs, etc.)
	longHashPattern = regexp.MustCompile(`\b[a-f0-9]{12,}\b`)

	// hexAddressPattern matches 0x-prefixed hex addresses.
	hexAddressPattern = regexp.MustCompile(`\b0x[0-9a-fA-F]+\b`)

	// numberPattern matches standalone numbers.
	numberPattern = regexp.MustCompile(`\b\d+\b`)

	// longPathPattern matches absolute paths with 3+ directories,
	// capturing filename and optional line number for preservation.
	longPathPattern = regexp.MustCompile(`/(?:[^/\s]+/){3,}([^/\s:]+(?::\d+)?)`)

	// whitespacePattern matches multiple consecutive whitespace.
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Normalize applies pattern normalization to a single line.
// The masking level determines how aggressively patterns are replaced.
func Normalize(line string, level MaskingLevel) string {
	line = stripTimestamps(line, level)
	line = uuidPattern.ReplaceAllString(line, "[UUID]")
	line = hexAddressPattern.ReplaceAllString(line, "[HEX]")

	switch level {
	case MaskPresentation:
		line = longPathPattern.ReplaceAllString(line, ".../$1")
		line = longHashPattern.ReplaceAllString(line, "[HASH]")
	case MaskRecurrence:
		line = longPathPattern.ReplaceAllString(line, "[PATH]")
		line = longHashPattern.ReplaceAllString(line, "[HASH]")
		line = numberPattern.ReplaceAllString(line, "[NUM]")
	}

	return strings.TrimSpace(whitespacePattern.ReplaceAllString(line, " "))
}

// stripTimestamps removes or replaces timestamps based on level.
func stripTimestamps(line string, level MaskingLevel) string {
	switch level {
	case MaskPresentation:
		// Strip leading timestamps entirely for cleaner display.
		if loc := timestampPattern.FindStringIndex(line); loc != nil && loc[0] < 5 {
			line = strings.TrimSpace(line[loc[1]:])
		}
		return line
	case MaskRecurrence:
		return timestampPattern.ReplaceAllString(line, "[TIMESTAMP]")
	}
	return line
}

// Hash returns the recurrence hash for a log line: sha256 over its
// aggressively normalized form, truncated for readability.
func Hash(line string) string {
	normalized := Normalize(line, MaskRecurrence)
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum[:8])
}
