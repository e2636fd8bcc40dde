// Package event models the repository events that trigger workflows and
// decides whether a workflow's triggers match a given event.
package event

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"kiln-runner/src/workflow"
)

// Event kinds.
const (
	KindPush             = "push"
	KindPullRequest      = "pull_request"
	KindWorkflowDispatch = "workflow_dispatch"
)

// Event is a repository event a workflow run is attributed to.
type Event struct {
	Kind string
	// Ref is the full ref, e.g. "refs/heads/master" or "refs/pull/7/merge".
	Ref string
	// Branch is the short branch name the event targets.
	Branch string
	SHA    string
	Actor  string
	// Repo is the repository name, the checkout directory's basename
	// for locally synthesized events.
	Repo string
	// ChangedPaths feeds the paths/paths-ignore filters when known.
	ChangedPaths []string
	Timestamp    time.Time
}

// NewPush builds a push event for a branch.
func NewPush(branch, sha, actor string) Event {
	return Event{
		Kind:      KindPush,
		Ref:       "refs/heads/" + branch,
		Branch:    branch,
		SHA:       sha,
		Actor:     actor,
		Timestamp: time.Now(),
	}
}

// NewPullRequest builds a pull request event targeting a base branch.
func NewPullRequest(number int, base, sha, actor string) Event {
	return Event{
		Kind:      KindPullRequest,
		Ref:       fmt.Sprintf("refs/pull/%d/merge", number),
		Branch:    base,
		SHA:       sha,
		Actor:     actor,
		Timestamp: time.Now(),
	}
}

// Matches reports whether the workflow's triggers fire for the event.
func Matches(wf *workflow.Workflow, ev Event) bool {
	switch ev.Kind {
	case KindPush:
		return matchFilter(wf.On.Push, ev)
	case KindPullRequest:
		return matchFilter(wf.On.PullRequest, ev)
	case KindWorkflowDispatch:
		return wf.On.WorkflowDispatch
	}
	return false
}

func matchFilter(bf *workflow.BranchFilter, ev Event) bool {
	if bf == nil {
		return false
	}
	if len(bf.Branches) > 0 && !anyGlob(bf.Branches, ev.Branch) {
		return false
	}
	if anyGlob(bf.BranchesIgnore, ev.Branch) {
		return false
	}
	// Path filters only apply when the changed set is known; an unknown
	// set matches, same as a force-push the platform cannot diff.
	if len(bf.Paths) > 0 && len(ev.ChangedPaths) > 0 {
		matched := false
		for _, p := range ev.ChangedPaths {
			if anyGlob(bf.Paths, p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if len(bf.PathsIgnore) > 0 && len(ev.ChangedPaths) > 0 {
		allIgnored := true
		for _, p := range ev.ChangedPaths {
			if !anyGlob(bf.PathsIgnore, p) {
				allIgnored = false
				break
			}
		}
		if allIgnored {
			return false
		}
	}
	return true
}

func anyGlob(patterns []string, s string) bool {
	for _, p := range patterns {
		if Glob(p, s) {
			return true
		}
	}
	return false
}

// Glob matches workflow filter patterns: * matches within a path
// segment, ** crosses segments, ? matches one character.
func Glob(pattern, s string) bool {
	return globMatch(pattern, s)
}

func globMatch(pattern, s string) bool {
	// Fast path for the common literal case.
	if !strings.ContainsAny(pattern, "*?") {
		return pattern == s
	}

	var match func(p, t string) bool
	match = func(p, t string) bool {
		for len(p) > 0 {
			switch {
			case strings.HasPrefix(p, "**"):
				rest := strings.TrimPrefix(p[2:], "/")
				for i := 0; i <= len(t); i++ {
					if match(rest, t[i:]) {
						return true
					}
				}
				return false
			case p[0] == '*':
				for i := 0; i <= len(t); i++ {
					if i > 0 && t[i-1] == '/' {
						break
					}
					if match(p[1:], t[i:]) {
						return true
					}
				}
				return false
			case p[0] == '?':
				if len(t) == 0 || t[0] == '/' {
					return false
				}
				p, t = p[1:], t[1:]
			default:
				if len(t) == 0 || p[0] != t[0] {
					return false
				}
				p, t = p[1:], t[1:]
			}
		}
		return len(p) == 0 && len(t) == 0
	}
	return match(pattern, s)
}

// FromLocalRepo synthesizes a push event from a git checkout's HEAD.
// Outside a git repository it falls back to the configured default
// branch with an empty SHA.
func FromLocalRepo(dir, defaultBranch string) Event {
	branch := gitOutput(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if branch == "" || branch == "HEAD" {
		branch = defaultBranch
	}
	sha := gitOutput(dir, "rev-parse", "HEAD")

	actor := os.Getenv("USER")
	if actor == "" {
		actor = "kiln"
	}
	ev := NewPush(branch, sha, actor)
	if abs, err := filepath.Abs(dir); err == nil {
		ev.Repo = filepath.Base(abs)
	}
	return ev
}

func gitOutput(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
