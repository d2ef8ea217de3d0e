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
	"github.com/ajroetker/go-highway/hwy/contrib/algo"
	"github.com/ajroetker/go-highway/hwy/contrib/nn"
)

// ============================================================================
// Classification Decoding
// ============================================================================

// ClassificationResult holds the decoded classification of a single text.
type ClassificationResult struct {
	// Label is the predicted class label (highest scoring).
	Label string `json:"label"`

	// Score is the confidence score for the predicted label (0.0 to 1.0).
	Score float32 `json:"score"`

	// Scores contains the scores the decode kept: the single best label in
	// single-label mode, every label at or above threshold in multi-label
	// mode.
	Scores map[string]float32 `json:"scores,omitempty"`
}

// DecodeSingleLabel applies softmax across the per-label logits and returns
// the arg-max label with its probability. Ties break toward the first-seen
// index; the comparison is strictly greater-than.
func DecodeSingleLabel(logits []float32, labels []string) (*ClassificationResult, error) {
	if len(logits) != len(labels) {
		return nil, newConfigurationError(TensorLogits, "per-label score count disagrees with label count")
	}
	if len(labels) == 0 {
		return nil, newConfigurationError(TensorLogits, "no labels to decode")
	}

	probs := applySoftmax(copyScores(logits))

	bestIdx := 0
	bestScore := probs[0]
	for i := 1; i < len(probs); i++ {
		if probs[i] > bestScore {
			bestScore = probs[i]
			bestIdx = i
		}
	}

	return &ClassificationResult{
		Label:  labels[bestIdx],
		Score:  bestScore,
		Scores: map[string]float32{labels[bestIdx]: bestScore},
	}, nil
}

// DecodeMultiLabel applies sigmoid to each label's logit independently and
// returns every label whose score meets the threshold. Map insertion order
// carries no meaning.
func DecodeMultiLabel(logits []float32, labels []string, threshold float32) (*ClassificationResult, error) {
	if len(logits) != len(labels) {
		return nil, newConfigurationError(TensorLogits, "per-label score count disagrees with label count")
	}
	if len(labels) == 0 {
		return nil, newConfigurationError(TensorLogits, "no labels to decode")
	}

	probs := applySigmoid(copyScores(logits))

	scores := make(map[string]float32)
	bestIdx := -1
	var bestScore float32
	for i, label := range labels {
		if probs[i] >= threshold {
			scores[label] = probs[i]
		}
		if bestIdx < 0 || probs[i] > bestScore {
			bestScore = probs[i]
			bestIdx = i
		}
	}

	result := &ClassificationResult{Scores: scores}
	if bestIdx >= 0 {
		result.Label = labels[bestIdx]
		result.Score = bestScore
	}
	return result, nil
}

// applySoftmax converts logits to a probability distribution in place.
func applySoftmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	nn.SoftmaxInPlace(logits)
	return logits
}

// applySigmoid converts logits to independent probabilities in place.
func applySigmoid(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	algo.SigmoidTransform(logits, logits)
	return logits
}

// copyScores clones a score slice so decoding never mutates engine output.
func copyScores(scores []float32) []float32 {
	out := make([]float32, len(scores))
	copy(out, scores)
	return out
}
