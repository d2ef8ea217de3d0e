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

import (
	"strings"

	"go.uber.org/zap"
)

// SpanDecoder turns raw engine scores back into per-example candidate
// entities. It owns no state across calls; the batch carries everything the
// decode needs (layout, word tables, true lengths, labels).
type SpanDecoder struct {
	// WordsJoiner joins word texts when an offset pair cannot be sliced
	// from the original text. Normally a single space.
	WordsJoiner string

	Logger *zap.Logger
}

// NewSpanDecoder returns a decoder with the given words joiner. A nil
// logger is replaced with a no-op logger.
func NewSpanDecoder(wordsJoiner string, logger *zap.Logger) *SpanDecoder {
	if wordsJoiner == "" {
		wordsJoiner = " "
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SpanDecoder{WordsJoiner: wordsJoiner, Logger: logger}
}

// DecodeLogits walks a flat raw score tensor laid out per the batch's
// SpanLayout ([batch, position, width, label]) and collects candidates at or
// above threshold. Index recovery uses the layout's stride arithmetic, the
// same strides assembly used, never values inferred from the array length.
// Cells whose recovered positions fall outside an example's true unit count
// are dropped and counted, not treated as errors; they are the expected
// consequence of padding.
func (d *SpanDecoder) DecodeLogits(logits []float32, shape []int64, batch *Batch, threshold float32) ([][]Entity, error) {
	layout := batch.Layout
	if err := checkLogitsShape(shape, batch); err != nil {
		return nil, err
	}

	results := make([][]Entity, len(batch.Texts))
	batchStride := layout.BatchStride()
	if batchStride == 0 {
		return results, nil
	}

	dropped := 0
	for flat, raw := range logits {
		b := flat / batchStride
		if b >= len(batch.Texts) {
			break
		}
		pos, width, label := layout.Unravel(flat % batchStride)

		score := Sigmoid(raw)
		if score < threshold {
			continue
		}

		end := pos + width
		if count := batch.UnitCounts[b]; pos >= count || end >= count {
			dropped++
			continue
		}

		results[b] = append(results[b], d.entityAt(batch, b, Span{Start: pos, End: end}, batch.Labels[label], score))
	}

	if dropped > 0 {
		d.Logger.Debug("Dropped above-threshold spans outside true lengths",
			zap.Int("count", dropped))
	}

	return results, nil
}

// DecodeDense consumes the dense [batch, span, label] score matrix produced
// by the parallel-channel family. Scores arrive already sigmoid-activated
// (the engine computed them as a dot product between span and label
// representations), and span positions come from the batch's explicit span
// tables rather than stride recovery.
func (d *SpanDecoder) DecodeDense(scores []float32, shape []int64, batch *Batch, threshold float32) ([][]Entity, error) {
	numSpans := 0
	if len(batch.Spans) > 0 {
		numSpans = len(batch.Spans[0])
	}
	if err := checkDenseShape(shape, batch, numSpans); err != nil {
		return nil, err
	}

	results := make([][]Entity, len(batch.Texts))
	numLabels := len(batch.Labels)
	if numSpans == 0 || numLabels == 0 {
		return results, nil
	}

	dropped := 0
	for b := range batch.Texts {
		for s := 0; s < numSpans; s++ {
			base := (b*numSpans + s) * numLabels
			for l := 0; l < numLabels; l++ {
				score := scores[base+l]
				if score < threshold {
					continue
				}
				if !batch.SpanValid[b][s] {
					dropped++
					continue
				}
				results[b] = append(results[b], d.entityAt(batch, b, batch.SpanWords[b][s], batch.Labels[l], score))
			}
		}
	}

	if dropped > 0 {
		d.Logger.Debug("Dropped above-threshold scores on masked spans",
			zap.Int("count", dropped))
	}

	return results, nil
}

// entityAt materializes a candidate from a word-index span. The text is a
// character slice of the original input; joining word texts is only the
// fallback when the offsets cannot be sliced.
func (d *SpanDecoder) entityAt(batch *Batch, example int, wordSpan Span, label string, score float32) Entity {
	words := batch.Words[example]
	text := batch.Texts[example]

	charStart := words[wordSpan.Start].Start
	charEnd := words[wordSpan.End].End

	spanText := ""
	if charStart < len(text) && charEnd <= len(text) && charStart <= charEnd {
		spanText = text[charStart:charEnd]
	} else {
		parts := make([]string, 0, wordSpan.End-wordSpan.Start+1)
		for _, w := range words[wordSpan.Start : wordSpan.End+1] {
			parts = append(parts, w.Text)
		}
		spanText = strings.Join(parts, d.WordsJoiner)
	}

	return Entity{
		Text:  spanText,
		Label: label,
		Start: charStart,
		End:   charEnd,
		Score: score,
	}
}

// checkLogitsShape verifies the engine's declared shape agrees with the
// layout assembly declared. A disagreement means the model and the
// pipeline's layout constant are out of contract.
func checkLogitsShape(shape []int64, batch *Batch) error {
	if len(shape) != 4 {
		return newConfigurationError(TensorLogits, "expected a 4-dimensional [batch, position, width, label] tensor")
	}
	layout := batch.Layout
	if int(shape[0]) != len(batch.Texts) ||
		int(shape[1]) != layout.Positions ||
		int(shape[2]) != layout.MaxWidth ||
		int(shape[3]) != layout.Labels {
		return newConfigurationError(TensorLogits, "tensor shape disagrees with the assembled batch layout")
	}
	return nil
}

// checkDenseShape verifies the dense score matrix matches the batch's span
// grid and label count.
func checkDenseShape(shape []int64, batch *Batch, numSpans int) error {
	if len(shape) != 3 {
		return newConfigurationError(TensorScores, "expected a 3-dimensional [batch, span, label] tensor")
	}
	if int(shape[0]) != len(batch.Texts) ||
		int(shape[1]) != numSpans ||
		int(shape[2]) != len(batch.Labels) {
		return newConfigurationError(TensorScores, "tensor shape disagrees with the assembled span grid")
	}
	return nil
}
