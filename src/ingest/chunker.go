// Package ingest splits job log output into chunks for the annotation
// agent.
package ingest

import (
	"bufio"
	"strings"

	"kiln-runner/src/contracts"
)

const (
	// TargetChunkSize is the target size for each chunk.
	TargetChunkSize = 64 * 1024

	// ContextOverlap is the number of lines repeated from the previous
	// chunk so matchers keep context across chunk boundaries.
	ContextOverlap = 20
)

// ChunkLog splits a job log into chunks with line overlap. Line numbers
// are 1-based positions in the full log.
func ChunkLog(content, runID, jobID, jobName string, metadata map[string]string) []contracts.LogChunk {
	if len(content) == 0 {
		return []contracts.LogChunk{}
	}

	lines := splitLines(content)
	if len(lines) == 0 {
		return []contracts.LogChunk{}
	}

	if len(content) <= TargetChunkSize {
		return []contracts.LogChunk{{
			RunID:       runID,
			JobID:       jobID,
			JobName:     jobName,
			ChunkIndex:  0,
			TotalChunks: 1,
			Content:     content,
			LineStart:   1,
			LineEnd:     len(lines),
			Metadata:    metadata,
		}}
	}

	var chunks []contracts.LogChunk
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) && size < TargetChunkSize {
			size += len(lines[end]) + 1
			end++
		}

		chunks = append(chunks, contracts.LogChunk{
			RunID:      runID,
			JobID:      jobID,
			JobName:    jobName,
			ChunkIndex: len(chunks),
			Content:    strings.Join(lines[start:end], "\n"),
			LineStart:  start + 1,
			LineEnd:    end,
			Metadata:   metadata,
		})

		if end >= len(lines) {
			break
		}
		// Overlap backwards, but always make forward progress.
		next := end - ContextOverlap
		if next <= start {
			next = end
		}
		start = next
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

func splitLines(content string) []string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
