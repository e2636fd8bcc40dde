package annotate

import (
	"strings"
	"testing"

	"kiln-runner/src/contracts"
)

func chunkOf(lines ...string) contracts.LogChunk {
	return contracts.LogChunk{
		RunID:       "run-1",
		JobID:       "job-1",
		JobName:     "test (3.9)",
		ChunkIndex:  0,
		TotalChunks: 1,
		Content:     strings.Join(lines, "\n") + "\n",
		LineStart:   1,
		LineEnd:     len(lines),
	}
}

func TestAnalyzeChunk_PythonTraceback(t *testing.T) {
	chunk := chunkOf(
		"Collecting numpy",
		"Traceback (most recent call last):",
		`  File "/app/setup.py", line 12, in <module>`,
		"    import scipy",
		"ModuleNotFoundError: No module named 'scipy'",
	)

	anns := AnalyzeChunk(chunk)
	if len(anns) != 2 {
		t.Fatalf("Expected 2 annotations, got %d", len(anns))
	}

	tb := anns[0]
	if tb.Matcher != "python-traceback" {
		t.Errorf("Expected matcher python-traceback, got %s", tb.Matcher)
	}
	if tb.File != "/app/setup.py" {
		t.Errorf("Expected file /app/setup.py, got %s", tb.File)
	}
	if tb.Line != 12 {
		t.Errorf("Expected line 12, got %d", tb.Line)
	}
	if tb.LogLine != 3 {
		t.Errorf("Expected log line 3, got %d", tb.LogLine)
	}
	if tb.Severity != "error" {
		t.Errorf("Expected severity error, got %s", tb.Severity)
	}

	exc := anns[1]
	if exc.Matcher != "python-exception" {
		t.Errorf("Expected matcher python-exception, got %s", exc.Matcher)
	}
	if exc.MessageHash == "" {
		t.Error("Expected a message hash")
	}
}

func TestAnalyzeChunk_Context(t *testing.T) {
	lines := make([]string, 0, 20)
	for i := 0; i < 8; i++ {
		lines = append(lines, "setup output")
	}
	lines = append(lines, "ERROR: build failed")
	for i := 0; i < 12; i++ {
		lines = append(lines, "trailing output")
	}

	anns := AnalyzeChunk(chunkOf(lines...))
	if len(anns) != 1 {
		t.Fatalf("Expected 1 annotation, got %d", len(anns))
	}
	if len(anns[0].PreContext) != PreContextLines {
		t.Errorf("Expected %d pre-context lines, got %d", PreContextLines, len(anns[0].PreContext))
	}
	if len(anns[0].PostContext) != PostContextLines {
		t.Errorf("Expected %d post-context lines, got %d", PostContextLines, len(anns[0].PostContext))
	}
}

func TestAnalyzeChunk_SkipsOverlapRegion(t *testing.T) {
	var lines []string
	for i := 0; i < 25; i++ {
		lines = append(lines, "ERROR: repeated failure")
	}
	chunk := chunkOf(lines...)
	chunk.ChunkIndex = 1
	chunk.TotalChunks = 2
	chunk.LineStart = 100

	anns := AnalyzeChunk(chunk)
	// The first 20 lines repeat the previous chunk's tail.
	if len(anns) != 5 {
		t.Fatalf("Expected 5 annotations after overlap skip, got %d", len(anns))
	}
	if anns[0].LogLine != 120 {
		t.Errorf("Expected first annotation at log line 120, got %d", anns[0].LogLine)
	}
}

func TestAnalyzeChunk_CleanLog(t *testing.T) {
	anns := AnalyzeChunk(chunkOf(
		"Collecting pip",
		"Successfully installed pip-24.0",
		"All tests passed",
	))
	if len(anns) != 0 {
		t.Errorf("Expected no annotations for a clean log, got %d", len(anns))
	}
}

func TestAnalyzeChunk_HashStableAcrossJobs(t *testing.T) {
	a := AnalyzeChunk(chunkOf("ModuleNotFoundError: No module named 'scipy'"))
	b := chunkOf("ModuleNotFoundError: No module named 'scipy'")
	b.JobID = "job-2"
	b.JobName = "test (3.12)"
	c := AnalyzeChunk(b)

	if len(a) != 1 || len(c) != 1 {
		t.Fatalf("Expected 1 annotation each, got %d and %d", len(a), len(c))
	}
	if a[0].MessageHash != c[0].MessageHash {
		t.Errorf("Expected identical hashes across jobs, got %s vs %s", a[0].MessageHash, c[0].MessageHash)
	}
}
