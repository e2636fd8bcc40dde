package patterns

import (
	"regexp"
	"strconv"
)

// Matcher recognizes a class of problem lines in job output, in the
// spirit of the platform's problem matchers.
type Matcher struct {
	// Name identifies the matcher in annotations, e.g. "python-traceback".
	Name     string
	Severity string
	pattern  *regexp.Regexp
	// fileGroup and lineGroup are submatch indexes for source location,
	// zero when the pattern cannot extract them.
	fileGroup int
	lineGroup int
}

// Match is a matched problem line.
type Match struct {
	Matcher  string
	Severity string
	File     string
	Line     int
}

// DefaultMatchers cover the toolchains the runner commonly executes.
// Order matters: the first matching entry wins.
var DefaultMatchers = []Matcher{
	{
		// File "/app/setup.py", line 12, in <module>
		Name:      "python-traceback",
		Severity:  "error",
		pattern:   regexp.MustCompile(`^\s*File "([^"]+)", line (\d+)`),
		fileGroup: 1,
		lineGroup: 2,
	},
	{
		// E   assert 1 == 2  /  FAILED tests/test_x.py::test_y
		Name:     "pytest",
		Severity: "error",
		pattern:  regexp.MustCompile(`^(FAILED|ERROR) \S+::`),
	},
	{
		// main.c:12:3: error: ... (also warnings)
		Name:      "gcc",
		Severity:  "error",
		pattern:   regexp.MustCompile(`^([^\s:]+):(\d+)(?::\d+)?: (?:fatal )?error: `),
		fileGroup: 1,
		lineGroup: 2,
	},
	{
		Name:      "gcc-warning",
		Severity:  "warning",
		pattern:   regexp.MustCompile(`^([^\s:]+):(\d+)(?::\d+)?: warning: `),
		fileGroup: 1,
		lineGroup: 2,
	},
	{
		// --- FAIL: TestName (0.01s)
		Name:     "go-test",
		Severity: "error",
		pattern:  regexp.MustCompile(`^--- FAIL: `),
	},
	{
		// ModuleNotFoundError: No module named 'scipy'
		Name:     "python-exception",
		Severity: "error",
		pattern:  regexp.MustCompile(`^\w*(Error|Exception): `),
	},
	{
		// Catch-all for explicit error markers from arbitrary tools.
		Name:     "generic-error",
		Severity: "error",
		pattern:  regexp.MustCompile(`(?i)^(error|err!|fatal)\b[:\s]`),
	},
	{
		Name:     "generic-warning",
		Severity: "warning",
		pattern:  regexp.MustCompile(`(?i)^(warning|warn)\b[:\s]`),
	},
}

// MatchLine runs the default matchers against a log line.
func MatchLine(line string) (Match, bool) {
	for _, m := range DefaultMatchers {
		sub := m.pattern.FindStringSubmatch(line)
		if sub == nil {
			continue
		}
		match := Match{Matcher: m.Name, Severity: m.Severity}
		if m.fileGroup > 0 && m.fileGroup < len(sub) {
			match.File = sub[m.fileGroup]
		}
		if m.lineGroup > 0 && m.lineGroup < len(sub) {
			match.Line, _ = strconv.Atoi(sub[m.lineGroup])
		}
		return match, true
	}
	return Match{}, false
}
