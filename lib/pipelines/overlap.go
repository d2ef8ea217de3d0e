// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipelines

import "sort"

// ResolveOverlaps reduces candidate entities to a conflict-free subset.
// Candidates are visited in descending score order (stable, so equal scores
// keep their original relative order) and accepted when they conflict with
// nothing accepted so far. The result is sorted by ascending start offset.
//
// This is a greedy approximation of the maximum-weight independent set, kept
// O(k^2) on the small above-threshold candidate counts seen per text. The
// visit order is part of the observable behavior and must not change.
func ResolveOverlaps(candidates []Entity, flatNER, multiLabel bool) []Entity {
	sorted := make([]Entity, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Score > sorted[j].Score
	})

	accepted := make([]Entity, 0, len(sorted))
	for _, cand := range sorted {
		conflict := false
		for _, kept := range accepted {
			if spansConflict(cand, kept, flatNER, multiLabel) {
				conflict = true
				break
			}
		}
		if !conflict {
			accepted = append(accepted, cand)
		}
	}

	sort.Slice(accepted, func(i, j int) bool {
		if accepted[i].Start != accepted[j].Start {
			return accepted[i].Start < accepted[j].Start
		}
		return accepted[i].End < accepted[j].End
	})

	return accepted
}

// spansConflict reports whether two candidates cannot coexist. Offsets are
// inclusive-exclusive character positions.
func spansConflict(a, b Entity, flatNER, multiLabel bool) bool {
	// A span carries one label, unless multi-label extraction is on and
	// the labels differ.
	if a.Start == b.Start && a.End == b.End {
		return !(multiLabel && a.Label != b.Label)
	}
	// Disjoint spans never conflict; touching at a boundary is disjoint.
	if a.Start >= b.End || b.Start >= a.End {
		return false
	}
	// Full nesting is permitted when nested extraction is enabled.
	if !flatNER && (containsSpan(a, b) || containsSpan(b, a)) {
		return false
	}
	return true
}

// containsSpan reports whether outer fully covers inner.
func containsSpan(outer, inner Entity) bool {
	return outer.Start <= inner.Start && outer.End >= inner.End
}
