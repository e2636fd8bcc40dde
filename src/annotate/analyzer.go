// Package annotate turns raw job log chunks into annotations by running
// the problem matchers over every line.
package annotate

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"kiln-runner/src/contracts"
	"kiln-runner/src/ingest"
	"kiln-runner/src/patterns"
)

const (
	// PreContextLines and PostContextLines bound the log excerpt
	// attached to each annotation.
	PreContextLines  = 5
	PostContextLines = 10
)

// AnalyzeChunk scans one log chunk and returns an annotation per
// matched line. Chunks after the first skip their leading overlap
// region, which the previous chunk already reported.
func AnalyzeChunk(chunk contracts.LogChunk) []contracts.Annotation {
	lines := strings.Split(strings.TrimRight(chunk.Content, "\n"), "\n")

	start := 0
	if chunk.ChunkIndex > 0 {
		start = ingest.ContextOverlap
		if start > len(lines) {
			start = len(lines)
		}
	}

	var annotations []contracts.Annotation
	for i := start; i < len(lines); i++ {
		match, ok := patterns.MatchLine(lines[i])
		if !ok {
			continue
		}

		pre := lines[max(0, i-PreContextLines):i]
		post := lines[i+1 : min(len(lines), i+1+PostContextLines)]

		annotations = append(annotations, contracts.Annotation{
			ID:            uuid.NewString(),
			RunID:         chunk.RunID,
			JobID:         chunk.JobID,
			JobName:       chunk.JobName,
			Severity:      match.Severity,
			RawMessage:    lines[i],
			NormalizedMsg: patterns.Normalize(lines[i], patterns.MaskPresentation),
			MessageHash:   patterns.Hash(lines[i]),
			Matcher:       match.Matcher,
			File:          match.File,
			Line:          match.Line,
			LogLine:       chunk.LineStart + i,
			PreContext:    append([]string(nil), pre...),
			PostContext:   append([]string(nil), post...),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		})
	}
	return annotations
}
