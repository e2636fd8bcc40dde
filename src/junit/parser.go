// Package junit parses JUnit XML reports produced by test steps and
// folds their failures into run annotations.
package junit

import (
	"crypto/sha256"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"kiln-runner/src/contracts"
)

// TestSuites is the root element for multiple test suites.
type TestSuites struct {
	XMLName    xml.Name    `xml:"testsuites"`
	TestSuites []TestSuite `xml:"testsuite"`
}

// TestSuite represents a <testsuite> element.
type TestSuite struct {
	Name      string     `xml:"name,attr"`
	Tests     int        `xml:"tests,attr"`
	Failures  int        `xml:"failures,attr"`
	Errors    int        `xml:"errors,attr"`
	Skipped   int        `xml:"skipped,attr"`
	Time      float64    `xml:"time,attr"`
	TestCases []TestCase `xml:"testcase"`
}

// TestCase represents a <testcase> element.
type TestCase struct {
	Name      string   `xml:"name,attr"`
	ClassName string   `xml:"classname,attr"`
	Time      float64  `xml:"time,attr"`
	Failure   *Failure `xml:"failure"`
	Error     *Error   `xml:"error"`
	Skipped   *Skipped `xml:"skipped"`
}

// Failure represents a test failure.
type Failure struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// Error represents a test error.
type Error struct {
	Message string `xml:"message,attr"`
	Type    string `xml:"type,attr"`
	Content string `xml:",chardata"`
}

// Skipped represents a skipped test.
type Skipped struct {
	Message string `xml:"message,attr"`
}

// TestFailure is a parsed failure or error from a report.
type TestFailure struct {
	TestName   string
	ClassName  string
	SuiteName  string
	Message    string
	Type       string // "failure" or "error"
	StackTrace string
	Duration   float64
}

// Parse parses JUnit XML data and returns only test failures and errors.
// Returns an empty slice if all tests passed.
func Parse(data []byte) ([]TestFailure, error) {
	// Try parsing as <testsuites> (multiple suites) first
	var suites TestSuites
	if err := xml.Unmarshal(data, &suites); err == nil && len(suites.TestSuites) > 0 {
		return extractFailures(suites.TestSuites), nil
	}

	// Try parsing as single <testsuite>
	var suite TestSuite
	if err := xml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("failed to parse JUnit XML: %w", err)
	}

	return extractFailures([]TestSuite{suite}), nil
}

func extractFailures(suites []TestSuite) []TestFailure {
	var failures []TestFailure

	for _, suite := range suites {
		for _, tc := range suite.TestCases {
			if tc.Failure != nil {
				failures = append(failures, TestFailure{
					TestName:   tc.Name,
					ClassName:  tc.ClassName,
					SuiteName:  suite.Name,
					Message:    tc.Failure.Message,
					Type:       "failure",
					StackTrace: strings.TrimSpace(tc.Failure.Content),
					Duration:   tc.Time,
				})
			}
			if tc.Error != nil {
				failures = append(failures, TestFailure{
					TestName:   tc.Name,
					ClassName:  tc.ClassName,
					SuiteName:  suite.Name,
					Message:    tc.Error.Message,
					Type:       "error",
					StackTrace: strings.TrimSpace(tc.Error.Content),
					Duration:   tc.Time,
				})
			}
		}
	}

	return failures
}

// Hash creates a deterministic hash for the test failure so the same
// failing test groups together across matrix legs and runs.
func (tf *TestFailure) Hash() string {
	key := fmt.Sprintf("%s::%s::%s", tf.ClassName, tf.TestName, tf.Message)
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum[:8])
}

// DisplayMessage returns a human-readable message for the failure.
func (tf *TestFailure) DisplayMessage() string {
	if tf.Message != "" {
		return fmt.Sprintf("[%s] %s.%s: %s", tf.Type, tf.ClassName, tf.TestName, tf.Message)
	}
	return fmt.Sprintf("[%s] %s.%s", tf.Type, tf.ClassName, tf.TestName)
}

// ToAnnotation converts the failure into a run annotation.
func (tf *TestFailure) ToAnnotation(runID, jobID, jobName string) contracts.Annotation {
	var post []string
	if tf.StackTrace != "" {
		post = strings.Split(tf.StackTrace, "\n")
		if len(post) > 30 {
			post = post[:30]
		}
	}
	return contracts.Annotation{
		ID:            uuid.NewString(),
		RunID:         runID,
		JobID:         jobID,
		JobName:       jobName,
		Severity:      "error",
		RawMessage:    tf.DisplayMessage(),
		NormalizedMsg: tf.DisplayMessage(),
		MessageHash:   tf.Hash(),
		Matcher:       "junit",
		PostContext:   post,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
}

// CollectReports parses every report matching the glob under dir and
// returns the combined failures. Unreadable or malformed files are
// skipped; a test step that crashed mid-write should not fail report
// collection for its siblings.
func CollectReports(dir, glob string) ([]TestFailure, error) {
	paths, err := filepath.Glob(filepath.Join(dir, glob))
	if err != nil {
		return nil, fmt.Errorf("bad report glob %q: %w", glob, err)
	}

	var all []TestFailure
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		failures, err := Parse(data)
		if err != nil {
			continue
		}
		all = append(all, failures...)
	}
	return all, nil
}
