package mcp

import (
	"strings"

	"kiln-runner/src/patterns"
	"kiln-runner/src/sanitize"
)

// minPrefixLength is the shortest shared prefix worth collapsing;
// anything shorter saves fewer tokens than the "..." marker costs.
const minPrefixLength = 20

// CompressLog prepares a job log for an MCP response: the last tail
// lines, ANSI stripped, timestamps and hashes masked, and any long
// prefix shared by every line collapsed.
func CompressLog(log string, tail int) string {
	lines := strings.Split(strings.TrimRight(log, "\n"), "\n")

	truncated := false
	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
		truncated = true
	}

	for i, line := range lines {
		lines[i] = patterns.Normalize(sanitize.StripANSI(line), patterns.MaskPresentation)
	}
	lines = collapseCommonPrefix(lines)

	out := strings.Join(lines, "\n")
	if truncated {
		out = "[... earlier output omitted ...]\n" + out
	}
	return out
}

// collapseCommonPrefix replaces a prefix shared by every line with
// "... ". Build logs from matrix legs often repeat a long leg banner.
func collapseCommonPrefix(lines []string) []string {
	prefix := commonPrefix(lines)
	if len(prefix) < minPrefixLength {
		return lines
	}

	result := make([]string, len(lines))
	for i, line := range lines {
		result[i] = "... " + line[len(prefix):]
	}
	return result
}

func commonPrefix(lines []string) string {
	if len(lines) < 2 {
		return ""
	}
	prefix := lines[0]
	for _, line := range lines[1:] {
		for len(prefix) > 0 && !strings.HasPrefix(line, prefix) {
			prefix = prefix[:len(prefix)-1]
		}
		if prefix == "" {
			break
		}
	}
	return prefix
}
