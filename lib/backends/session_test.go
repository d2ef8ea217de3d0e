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
package backends

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultSessionConfig(t *testing.T) {
	cfg := DefaultSessionConfig()
	assert.Equal(t, 0, cfg.NumThreads)
	assert.Equal(t, 3, cfg.GraphOptimizationLevel)
}

func TestApplySessionOptions(t *testing.T) {
	// No options keeps the defaults.
	cfg := ApplySessionOptions()
	assert.Equal(t, 0, cfg.NumThreads)
	assert.Equal(t, 3, cfg.GraphOptimizationLevel)

	cfg = ApplySessionOptions(
		WithSessionThreads(4),
		WithGraphOptimizationLevel(1),
	)
	assert.Equal(t, 4, cfg.NumThreads)
	assert.Equal(t, 1, cfg.GraphOptimizationLevel)
}
