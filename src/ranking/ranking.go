// Package ranking provides shared tier classification for annotations.
// Both the MCP server and the TUI consume this package so findings are
// prioritized consistently.
package ranking

import (
	"sort"

	"kiln-runner/src/contracts"
)

// Tier constants for annotation classification.
const (
	TierUnique = 1 // appears in a single job, likely specific to that leg
	TierNoise  = 3 // recurs across jobs, likely environmental
)

// RankedAnnotation wraps an annotation with tier and rank information.
type RankedAnnotation struct {
	Annotation contracts.Annotation
	Tier       int
	// Rank is the position within the flattened list, 1-indexed.
	Rank int
	// Recurrence counts jobs sharing this annotation's message hash.
	Recurrence int
}

// TieredAnnotations groups annotations by tier.
type TieredAnnotations struct {
	Unique []RankedAnnotation
	Noise  []RankedAnnotation
}

// Rank classifies annotations into tiers. A hash seen in one job is a
// unique failure; a hash recurring across matrix legs is noise. Each
// tier is sorted errors first, then by recurrence descending.
// Duplicates (same message hash) are collapsed to their first instance.
func Rank(annotations []contracts.Annotation) TieredAnnotations {
	if len(annotations) == 0 {
		return TieredAnnotations{}
	}

	recurrence := countJobsPerHash(annotations)

	sorted := make([]contracts.Annotation, len(annotations))
	copy(sorted, annotations)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Severity != sorted[j].Severity {
			return sorted[i].Severity == "error"
		}
		return recurrence[sorted[i].MessageHash] > recurrence[sorted[j].MessageHash]
	})

	seen := make(map[string]bool)
	var tiered TieredAnnotations
	for _, ann := range sorted {
		if seen[ann.MessageHash] {
			continue
		}
		seen[ann.MessageHash] = true

		ranked := RankedAnnotation{
			Annotation: ann,
			Recurrence: recurrence[ann.MessageHash],
		}
		if ranked.Recurrence > 1 {
			ranked.Tier = TierNoise
			tiered.Noise = append(tiered.Noise, ranked)
		} else {
			ranked.Tier = TierUnique
			tiered.Unique = append(tiered.Unique, ranked)
		}
	}
	return tiered
}

// FlattenByTier returns all annotations sorted by tier, unique first,
// preserving order within each tier and assigning global ranks.
func (ta TieredAnnotations) FlattenByTier() []RankedAnnotation {
	total := len(ta.Unique) + len(ta.Noise)
	if total == 0 {
		return nil
	}

	result := make([]RankedAnnotation, 0, total)
	result = append(result, ta.Unique...)
	result = append(result, ta.Noise...)
	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}

// Counts returns the number of unique failures and noise entries.
func (ta TieredAnnotations) Counts() (unique, noise int) {
	return len(ta.Unique), len(ta.Noise)
}

// countJobsPerHash counts distinct jobs per message hash.
func countJobsPerHash(annotations []contracts.Annotation) map[string]int {
	jobs := make(map[string]map[string]bool)
	for _, ann := range annotations {
		if jobs[ann.MessageHash] == nil {
			jobs[ann.MessageHash] = make(map[string]bool)
		}
		jobs[ann.MessageHash][ann.JobID] = true
	}

	counts := make(map[string]int, len(jobs))
	for hash, set := range jobs {
		counts[hash] = len(set)
	}
	return counts
}
