// Package matrix expands a job's strategy matrix into concrete
// parameter combinations.
package matrix

import (
	"sort"
	"strings"

	"kiln-runner/src/workflow"
)

// Combination is one matrix leg: axis name to value.
type Combination map[string]string

// Expand produces the combinations for a matrix in deterministic order:
// the cartesian product over axes in declaration order, minus exclusions,
// plus standalone includes appended at the end.
//
// Exclusion and include-extension follow platform semantics: an exclude
// entry removes every combination it is a subset of; an include entry
// whose axis keys all match an existing combination extends that
// combination with its extra keys, otherwise it is appended as a new leg.
func Expand(m *workflow.Matrix) []Combination {
	if m == nil || (len(m.Axes) == 0 && len(m.Include) == 0) {
		// A job without a matrix still runs once.
		return []Combination{{}}
	}

	combos := cartesian(m.Axes)

	if len(m.Exclude) > 0 {
		kept := combos[:0]
		for _, combo := range combos {
			excluded := false
			for _, ex := range m.Exclude {
				if subset(ex, combo) {
					excluded = true
					break
				}
			}
			if !excluded {
				kept = append(kept, combo)
			}
		}
		combos = kept
	}

	axisNames := make(map[string]bool, len(m.Axes))
	for _, axis := range m.Axes {
		axisNames[axis.Name] = true
	}

	for _, inc := range m.Include {
		if extendMatching(combos, inc, axisNames) {
			continue
		}
		extra := Combination{}
		for k, v := range inc {
			extra[k] = v
		}
		combos = append(combos, extra)
	}

	return combos
}

// cartesian walks axes left-to-right so the first axis varies slowest.
func cartesian(axes []workflow.Axis) []Combination {
	combos := []Combination{{}}
	for _, axis := range axes {
		next := make([]Combination, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, val := range axis.Values {
				extended := make(Combination, len(combo)+1)
				for k, v := range combo {
					extended[k] = v
				}
				extended[axis.Name] = val
				next = append(next, extended)
			}
		}
		combos = next
	}
	return combos
}

// subset reports whether every key of sub matches in combo.
func subset(sub map[string]string, combo Combination) bool {
	for k, v := range sub {
		if combo[k] != v {
			return false
		}
	}
	return true
}

// extendMatching merges an include entry into every combination whose
// axis values it matches. Returns false when the entry matched nothing
// and should become its own leg.
func extendMatching(combos []Combination, inc map[string]string, axisNames map[string]bool) bool {
	// Split the include entry into axis keys (matching criteria) and
	// extra keys (values to add).
	criteria := map[string]string{}
	hasAxisKey := false
	for k, v := range inc {
		if axisNames[k] {
			criteria[k] = v
			hasAxisKey = true
		}
	}
	if !hasAxisKey {
		// No axis keys: the entry extends every combination.
		for _, combo := range combos {
			for k, v := range inc {
				if _, exists := combo[k]; !exists {
					combo[k] = v
				}
			}
		}
		return len(combos) > 0
	}

	matched := false
	for _, combo := range combos {
		if !subset(criteria, combo) {
			continue
		}
		matched = true
		for k, v := range inc {
			if !axisNames[k] {
				combo[k] = v
			}
		}
	}
	return matched
}

// DisplayName renders the platform-style job title, e.g. "test (3.9)"
// or "test (3.9, ubuntu-latest)". Axis order follows the matrix
// declaration; keys not in any axis sort last alphabetically.
func DisplayName(jobName string, m *workflow.Matrix, combo Combination) string {
	if len(combo) == 0 {
		return jobName
	}

	var ordered []string
	seen := map[string]bool{}
	if m != nil {
		for _, axis := range m.Axes {
			if v, ok := combo[axis.Name]; ok {
				ordered = append(ordered, v)
				seen[axis.Name] = true
			}
		}
	}
	var rest []string
	for k := range combo {
		if !seen[k] {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		ordered = append(ordered, combo[k])
	}

	return jobName + " (" + strings.Join(ordered, ", ") + ")"
}
