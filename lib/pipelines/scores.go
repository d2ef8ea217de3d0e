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

import "math"

// Sigmoid maps a raw score into (0,1). It uses the numerically stable form:
// 1/(1+e^-x) for x >= 0 and e^x/(1+e^x) otherwise, so the exponential never
// receives a large positive argument.
func Sigmoid(x float32) float32 {
	if x >= 0 {
		return float32(1.0 / (1.0 + math.Exp(-float64(x))))
	}
	e := math.Exp(float64(x))
	return float32(e / (1.0 + e))
}

// Softmax returns the softmax distribution over logits as a new slice. The
// row maximum is subtracted before exponentiating, keeping arbitrarily large
// logits finite. Output values lie in [0,1] and sum to 1 for non-empty
// input; an empty input yields nil.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}

	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}

	probs := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxLogit)))
		probs[i] = e
		sum += e
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}
