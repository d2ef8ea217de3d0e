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

// Span is a candidate (start, end) pair over word or sub-token positions,
// depending on the model family. Both bounds are inclusive unit indices.
type Span struct {
	Start int
	End   int
}

// SpanLattice is the exhaustive, fixed-order enumeration of candidate spans
// for one sequence: for each start position, one entry per width offset up
// to MaxWidth. The lattice always holds exactly Length*MaxWidth entries;
// spans that would extend past the end of the sequence are kept in place
// but marked invalid rather than omitted. Keeping the grid fixed-size and
// fixed-order is what lets flat model-output offsets be mapped back to
// (start, end) pairs with arithmetic alone.
type SpanLattice struct {
	Length   int
	MaxWidth int
	Spans    []Span
	Valid    []bool
}

// NewSpanLattice enumerates all candidate spans for a sequence of length n
// with width offsets 0..maxWidth-1. Entry start*maxWidth+offset covers
// (start, min(start+offset, n-1)) and is invalid when start+offset >= n.
// n == 0 yields an empty lattice.
func NewSpanLattice(n, maxWidth int) *SpanLattice {
	lattice := &SpanLattice{
		Length:   n,
		MaxWidth: maxWidth,
		Spans:    make([]Span, n*maxWidth),
		Valid:    make([]bool, n*maxWidth),
	}

	for start := 0; start < n; start++ {
		for offset := 0; offset < maxWidth; offset++ {
			i := start*maxWidth + offset
			end := start + offset
			if end > n-1 {
				end = n - 1
			}
			lattice.Spans[i] = Span{Start: start, End: end}
			lattice.Valid[i] = start+offset < n
		}
	}

	return lattice
}

// Size returns the number of lattice entries, always Length*MaxWidth.
func (l *SpanLattice) Size() int {
	return len(l.Spans)
}

// At returns the span at flat index i and whether it is valid.
func (l *SpanLattice) At(i int) (Span, bool) {
	return l.Spans[i], l.Valid[i]
}

// SpanLayout declares the dimension order of the flat span-score tensor:
// [batch, position, width, label]. Both batch assembly and span decoding
// derive their stride arithmetic from the same SpanLayout value, so the two
// sides cannot silently drift apart.
type SpanLayout struct {
	// Positions is the padded length of the position axis (words or
	// sub-tokens, by model family).
	Positions int
	// MaxWidth is the number of width offsets per position.
	MaxWidth int
	// Labels is the number of candidate labels.
	Labels int
}

// BatchStride is the flat distance between consecutive examples.
func (l SpanLayout) BatchStride() int {
	return l.Positions * l.MaxWidth * l.Labels
}

// PositionStride is the flat distance between consecutive positions.
func (l SpanLayout) PositionStride() int {
	return l.MaxWidth * l.Labels
}

// WidthStride is the flat distance between consecutive width offsets.
func (l SpanLayout) WidthStride() int {
	return l.Labels
}

// FlatIndex returns the offset of (position, widthOffset, labelIndex)
// within one example.
func (l SpanLayout) FlatIndex(pos, width, label int) int {
	return pos*l.PositionStride() + width*l.WidthStride() + label
}

// Unravel recovers (position, widthOffset, labelIndex) from a flat offset
// within one example. It is the inverse of FlatIndex.
func (l SpanLayout) Unravel(flat int) (pos, width, label int) {
	pos = flat / l.PositionStride()
	rem := flat % l.PositionStride()
	width = rem / l.WidthStride()
	label = rem % l.WidthStride()
	return pos, width, label
}
