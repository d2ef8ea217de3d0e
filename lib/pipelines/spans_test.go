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

func TestNewSpanLattice(t *testing.T) {
	lattice := NewSpanLattice(3, 2)
	require.Equal(t, 6, lattice.Size())

	want := []struct {
		span  Span
		valid bool
	}{
		{Span{Start: 0, End: 0}, true},
		{Span{Start: 0, End: 1}, true},
		{Span{Start: 1, End: 1}, true},
		{Span{Start: 1, End: 2}, true},
		{Span{Start: 2, End: 2}, true},
		// Would extend past the end: kept in place, marked invalid,
		// end clamped to the last position.
		{Span{Start: 2, End: 2}, false},
	}
	for i, w := range want {
		span, valid := lattice.At(i)
		assert.Equal(t, w.span, span, "entry %d", i)
		assert.Equal(t, w.valid, valid, "entry %d", i)
	}
}

func TestNewSpanLatticeFixedGrid(t *testing.T) {
	// The grid always holds exactly n*maxWidth entries, so flat offsets map
	// back to (start, width) with arithmetic alone.
	for _, n := range []int{0, 1, 5, 17} {
		for _, maxWidth := range []int{1, 4, 12} {
			lattice := NewSpanLattice(n, maxWidth)
			require.Equal(t, n*maxWidth, lattice.Size(), "n=%d maxWidth=%d", n, maxWidth)
			for i := 0; i < lattice.Size(); i++ {
				start, offset := i/maxWidth, i%maxWidth
				span, valid := lattice.At(i)
				assert.Equal(t, start, span.Start)
				assert.Equal(t, start+offset < n, valid)
				assert.LessOrEqual(t, span.End, n-1)
				if valid {
					assert.Equal(t, start+offset, span.End)
				}
			}
		}
	}
}

func TestNewSpanLatticeEmpty(t *testing.T) {
	lattice := NewSpanLattice(0, 12)
	assert.Equal(t, 0, lattice.Size())
	assert.Empty(t, lattice.Spans)
}

func TestSpanLayoutStrides(t *testing.T) {
	layout := SpanLayout{Positions: 5, MaxWidth: 3, Labels: 4}

	assert.Equal(t, 60, layout.BatchStride())
	assert.Equal(t, 12, layout.PositionStride())
	assert.Equal(t, 4, layout.WidthStride())

	assert.Equal(t, 0, layout.FlatIndex(0, 0, 0))
	assert.Equal(t, 2*12+1*4+3, layout.FlatIndex(2, 1, 3))
}

func TestSpanLayoutUnravelRoundTrip(t *testing.T) {
	layout := SpanLayout{Positions: 4, MaxWidth: 3, Labels: 2}

	for pos := 0; pos < layout.Positions; pos++ {
		for width := 0; width < layout.MaxWidth; width++ {
			for label := 0; label < layout.Labels; label++ {
				flat := layout.FlatIndex(pos, width, label)
				gotPos, gotWidth, gotLabel := layout.Unravel(flat)
				require.Equal(t, pos, gotPos)
				require.Equal(t, width, gotWidth)
				require.Equal(t, label, gotLabel)
			}
		}
	}
}
