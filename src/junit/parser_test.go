package junit

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParse_SingleSuiteWithFailure(t *testing.T) {
	xml := `<?xml version="1.0" encoding="UTF-8"?>
<testsuite name="phylokit" tests="2" failures="1" errors="0" skipped="0" time="1.234">
  <testcase name="test_gtr_evolve" classname="test_phylokit.TestGTR" time="0.123"/>
  <testcase name="test_clade_assignment" classname="test_phylokit.TestClades" time="1.111">
    <failure message="assert 3 == 4" type="AssertionError">
Traceback (most recent call last):
  File "test_phylokit.py", line 42, in test_clade_assignment
    </failure>
  </testcase>
</testsuite>`

	failures, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(failures))
	}

	f := failures[0]
	if f.TestName != "test_clade_assignment" {
		t.Errorf("Expected test name test_clade_assignment, got %q", f.TestName)
	}
	if f.Type != "failure" {
		t.Errorf("Expected type failure, got %q", f.Type)
	}
	if !strings.Contains(f.StackTrace, "line 42") {
		t.Errorf("Expected stack trace captured, got %q", f.StackTrace)
	}
}

func TestParse_MultipleSuitesWithError(t *testing.T) {
	xml := `<testsuites>
  <testsuite name="a" tests="1">
    <testcase name="ok" classname="A"/>
  </testsuite>
  <testsuite name="b" tests="1" errors="1">
    <testcase name="boom" classname="B">
      <error message="ImportError: no module named scipy" type="ImportError"/>
    </testcase>
  </testsuite>
</testsuites>`

	failures, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure, got %d", len(failures))
	}
	if failures[0].Type != "error" || failures[0].SuiteName != "b" {
		t.Errorf("Unexpected failure %+v", failures[0])
	}
}

func TestParse_AllPassing(t *testing.T) {
	xml := `<testsuite name="ok" tests="1"><testcase name="t" classname="C"/></testsuite>`

	failures, err := Parse([]byte(xml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(failures) != 0 {
		t.Fatalf("Expected no failures, got %d", len(failures))
	}
}

func TestParse_Malformed(t *testing.T) {
	if _, err := Parse([]byte("not xml at all <")); err == nil {
		t.Fatal("Expected parse error")
	}
}

func TestHash_StableAcrossRuns(t *testing.T) {
	a := TestFailure{TestName: "t", ClassName: "C", Message: "assert failed"}
	b := TestFailure{TestName: "t", ClassName: "C", Message: "assert failed"}
	if a.Hash() != b.Hash() {
		t.Error("Expected identical hashes for identical failures")
	}

	c := TestFailure{TestName: "t2", ClassName: "C", Message: "assert failed"}
	if a.Hash() == c.Hash() {
		t.Error("Expected different hashes for different tests")
	}
}

func TestToAnnotation(t *testing.T) {
	tf := TestFailure{
		TestName:   "test_x",
		ClassName:  "suite",
		Message:    "boom",
		Type:       "failure",
		StackTrace: "line1\nline2",
	}

	a := tf.ToAnnotation("run-1", "job-1", "test (3.9)")
	if a.RunID != "run-1" || a.JobID != "job-1" {
		t.Errorf("Unexpected identity %+v", a)
	}
	if a.Matcher != "junit" || a.Severity != "error" {
		t.Errorf("Unexpected classification %+v", a)
	}
	if len(a.PostContext) != 2 {
		t.Errorf("Expected stack trace context, got %v", a.PostContext)
	}
	if a.MessageHash == "" || a.ID == "" {
		t.Error("Expected hash and ID set")
	}
}

func TestCollectReports(t *testing.T) {
	dir := t.TempDir()
	good := `<testsuite name="s" tests="1" failures="1">
  <testcase name="t" classname="C"><failure message="nope"/></testcase>
</testsuite>`
	if err := os.WriteFile(filepath.Join(dir, "report-1.xml"), []byte(good), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "report-2.xml"), []byte("garbage <"), 0o644); err != nil {
		t.Fatal(err)
	}

	failures, err := CollectReports(dir, "report-*.xml")
	if err != nil {
		t.Fatalf("CollectReports failed: %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("Expected 1 failure (malformed file skipped), got %d", len(failures))
	}
}
