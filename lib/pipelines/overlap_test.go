// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pipelines

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOverlapsKeepsHighestScore(t *testing.T) {
	candidates := []Entity{
		{Text: "New York", Label: "location", Start: 0, End: 8, Score: 0.7},
		{Text: "New York City", Label: "location", Start: 0, End: 13, Score: 0.9},
	}

	got := ResolveOverlaps(candidates, true, false)
	require.Len(t, got, 1)
	assert.Equal(t, "New York City", got[0].Text)
}

func TestResolveOverlapsDisjointSpansPass(t *testing.T) {
	candidates := []Entity{
		{Text: "Seattle", Label: "location", Start: 24, End: 31, Score: 0.8},
		{Text: "John", Label: "person", Start: 0, End: 4, Score: 0.9},
		{Text: "Google", Label: "organization", Start: 14, End: 20, Score: 0.7},
	}

	got := ResolveOverlaps(candidates, true, false)
	require.Len(t, got, 3)

	// Output is sorted by ascending start offset.
	assert.Equal(t, "John", got[0].Text)
	assert.Equal(t, "Google", got[1].Text)
	assert.Equal(t, "Seattle", got[2].Text)
}

func TestResolveOverlapsTouchingBoundaries(t *testing.T) {
	// End-exclusive offsets: [0,4) and [4,8) share no position.
	candidates := []Entity{
		{Text: "Hong", Label: "location", Start: 0, End: 4, Score: 0.6},
		{Text: "Kong", Label: "location", Start: 4, End: 8, Score: 0.6},
	}

	got := ResolveOverlaps(candidates, true, false)
	assert.Len(t, got, 2)
}

func TestResolveOverlapsIdenticalSpan(t *testing.T) {
	candidates := []Entity{
		{Text: "Apple", Label: "organization", Start: 0, End: 5, Score: 0.8},
		{Text: "Apple", Label: "product", Start: 0, End: 5, Score: 0.6},
	}

	t.Run("single label keeps the best", func(t *testing.T) {
		got := ResolveOverlaps(candidates, true, false)
		require.Len(t, got, 1)
		assert.Equal(t, "organization", got[0].Label)
	})

	t.Run("multi label keeps both", func(t *testing.T) {
		got := ResolveOverlaps(candidates, true, true)
		require.Len(t, got, 2)
	})

	t.Run("multi label still dedupes the same label", func(t *testing.T) {
		dup := []Entity{
			{Text: "Apple", Label: "organization", Start: 0, End: 5, Score: 0.8},
			{Text: "Apple", Label: "organization", Start: 0, End: 5, Score: 0.6},
		}
		got := ResolveOverlaps(dup, true, true)
		require.Len(t, got, 1)
		assert.InDelta(t, 0.8, got[0].Score, 1e-6)
	})
}

func TestResolveOverlapsNested(t *testing.T) {
	// "New York" inside "New York City Council".
	candidates := []Entity{
		{Text: "New York City Council", Label: "organization", Start: 0, End: 21, Score: 0.9},
		{Text: "New York", Label: "location", Start: 0, End: 8, Score: 0.8},
	}

	t.Run("flat rejects nesting", func(t *testing.T) {
		got := ResolveOverlaps(candidates, true, false)
		require.Len(t, got, 1)
		assert.Equal(t, "New York City Council", got[0].Text)
	})

	t.Run("nested mode allows full containment", func(t *testing.T) {
		got := ResolveOverlaps(candidates, false, false)
		require.Len(t, got, 2)
		// Same start: the shorter span sorts first.
		assert.Equal(t, "New York", got[0].Text)
		assert.Equal(t, "New York City Council", got[1].Text)
	})

	t.Run("partial overlap conflicts even in nested mode", func(t *testing.T) {
		partial := []Entity{
			{Text: "ab", Label: "x", Start: 0, End: 4, Score: 0.9},
			{Text: "bc", Label: "y", Start: 1, End: 6, Score: 0.8},
		}
		got := ResolveOverlaps(partial, false, false)
		require.Len(t, got, 1)
		assert.Equal(t, "ab", got[0].Text)
	})
}

func TestResolveOverlapsEqualScoreTieBreak(t *testing.T) {
	// Equal scores keep their original relative order: the earlier
	// candidate wins the conflict.
	candidates := []Entity{
		{Text: "first", Label: "a", Start: 0, End: 5, Score: 0.7},
		{Text: "second", Label: "b", Start: 3, End: 9, Score: 0.7},
	}

	got := ResolveOverlaps(candidates, true, false)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Text)
}

func TestResolveOverlapsIdempotent(t *testing.T) {
	candidates := []Entity{
		{Text: "John Smith", Label: "person", Start: 0, End: 10, Score: 0.95},
		{Text: "Smith", Label: "person", Start: 5, End: 10, Score: 0.6},
		{Text: "Acme Corp", Label: "organization", Start: 20, End: 29, Score: 0.8},
	}

	once := ResolveOverlaps(candidates, true, false)
	twice := ResolveOverlaps(once, true, false)
	assert.Equal(t, once, twice)
}

func TestResolveOverlapsEmpty(t *testing.T) {
	got := ResolveOverlaps(nil, true, false)
	assert.Empty(t, got)
}

func TestResolveOverlapsDoesNotMutateInput(t *testing.T) {
	candidates := []Entity{
		{Text: "b", Label: "x", Start: 5, End: 6, Score: 0.5},
		{Text: "a", Label: "x", Start: 0, End: 1, Score: 0.9},
	}
	_ = ResolveOverlaps(candidates, true, false)
	assert.Equal(t, "b", candidates[0].Text)
	assert.Equal(t, "a", candidates[1].Text)
}
