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

func TestDecodeSingleLabel(t *testing.T) {
	logits := []float32{2.0, 0.1, -1.0}
	labels := []string{"positive", "neutral", "negative"}

	result, err := DecodeSingleLabel(logits, labels)
	require.NoError(t, err)

	assert.Equal(t, "positive", result.Label)
	// exp(2)/(exp(2)+exp(0.1)+exp(-1))
	assert.InDelta(t, 0.8338, result.Score, 5e-4)

	// Single-label decode keeps only the winner's score.
	require.Len(t, result.Scores, 1)
	assert.InDelta(t, result.Score, result.Scores["positive"], 1e-6)
}

func TestDecodeSingleLabelTieBreak(t *testing.T) {
	// Strictly-greater comparison: equal scores keep the first-seen label.
	result, err := DecodeSingleLabel([]float32{1.0, 1.0, 1.0}, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, "a", result.Label)
	assert.InDelta(t, 1.0/3.0, result.Score, 1e-5)
}

func TestDecodeSingleLabelErrors(t *testing.T) {
	t.Run("count mismatch", func(t *testing.T) {
		_, err := DecodeSingleLabel([]float32{1, 2}, []string{"only"})
		require.Error(t, err)
		var confErr *ConfigurationError
		require.ErrorAs(t, err, &confErr)
	})

	t.Run("no labels", func(t *testing.T) {
		_, err := DecodeSingleLabel(nil, nil)
		require.Error(t, err)
	})
}

func TestDecodeSingleLabelDoesNotMutateLogits(t *testing.T) {
	logits := []float32{2.0, 0.1, -1.0}
	_, err := DecodeSingleLabel(logits, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, []float32{2.0, 0.1, -1.0}, logits)
}

func TestDecodeMultiLabel(t *testing.T) {
	logits := []float32{2.0, 0.1, -1.0}
	labels := []string{"positive", "neutral", "negative"}

	result, err := DecodeMultiLabel(logits, labels, 0.5)
	require.NoError(t, err)

	// sigmoid(2.0)=0.8808, sigmoid(0.1)=0.5250, sigmoid(-1.0)=0.2689:
	// the first two clear the threshold.
	require.Len(t, result.Scores, 2)
	assert.InDelta(t, 0.8808, result.Scores["positive"], 5e-4)
	assert.InDelta(t, 0.5250, result.Scores["neutral"], 5e-4)

	assert.Equal(t, "positive", result.Label)
	assert.InDelta(t, 0.8808, result.Score, 5e-4)
}

func TestDecodeMultiLabelAllBelowThreshold(t *testing.T) {
	result, err := DecodeMultiLabel([]float32{-3, -4}, []string{"a", "b"}, 0.5)
	require.NoError(t, err)

	// Nothing clears the threshold, but the best label is still reported.
	assert.Empty(t, result.Scores)
	assert.Equal(t, "a", result.Label)
	assert.InDelta(t, 0.04743, result.Score, 5e-4)
}

func TestDecodeMultiLabelErrors(t *testing.T) {
	_, err := DecodeMultiLabel([]float32{1}, []string{"a", "b"}, 0.5)
	require.Error(t, err)

	_, err = DecodeMultiLabel(nil, nil, 0.5)
	require.Error(t, err)
}
