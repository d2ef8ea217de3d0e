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
package modelregistry

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseModelRef(t *testing.T) {
	tests := []struct {
		name     string
		ref      string
		expected ModelRef
	}{
		{
			name: "owner and name",
			ref:  "urchade/gliner_multi-v2.1",
			expected: ModelRef{
				Owner: "urchade",
				Name:  "gliner_multi-v2.1",
			},
		},
		{
			name: "hf prefix with variant",
			ref:  "hf:onnx-community/gliner_small-v2.1:quantized",
			expected: ModelRef{
				Owner:         "onnx-community",
				Name:          "gliner_small-v2.1",
				Variant:       "quantized",
				IsHuggingFace: true,
			},
		},
		{
			name: "hf.co prefix",
			ref:  "hf.co/knowledgator/gliner-bi-small-v1.0",
			expected: ModelRef{
				Owner:         "knowledgator",
				Name:          "gliner-bi-small-v1.0",
				IsHuggingFace: true,
			},
		},
		{
			name: "huggingface.co prefix with variant",
			ref:  "huggingface.co/urchade/gliner_base:fp16",
			expected: ModelRef{
				Owner:         "urchade",
				Name:          "gliner_base",
				Variant:       "fp16",
				IsHuggingFace: true,
			},
		},
		{
			name:     "bare name",
			ref:      "gliner_small",
			expected: ModelRef{Name: "gliner_small"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseModelRef(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestParseModelRefErrors(t *testing.T) {
	tests := []struct {
		name string
		ref  string
	}{
		{name: "empty reference", ref: ""},
		{name: "empty variant", ref: "owner/name:"},
		{name: "unknown variant", ref: "owner/name:bogus"},
		{name: "missing name", ref: "owner/"},
		{name: "missing owner", ref: "/name"},
		{name: "too many segments", ref: "a/b/c"},
		{name: "variant only", ref: ":fp16"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseModelRef(tt.ref)
			assert.Error(t, err)
		})
	}
}

func TestModelRefString(t *testing.T) {
	tests := []struct {
		name string
		ref  string
	}{
		{name: "bare name", ref: "gliner_small"},
		{name: "owner and name", ref: "urchade/gliner_multi-v2.1"},
		{name: "hf with variant", ref: "hf:onnx-community/gliner_small-v2.1:quantized"},
	}

	// String renders the canonical form, so canonical references round-trip.
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, err := ParseModelRef(tt.ref)
			require.NoError(t, err)
			assert.Equal(t, tt.ref, parsed.String())
		})
	}
}

func TestModelRefFullName(t *testing.T) {
	assert.Equal(t, "urchade/gliner_base", ModelRef{Owner: "urchade", Name: "gliner_base"}.FullName())
	assert.Equal(t, "gliner_base", ModelRef{Name: "gliner_base"}.FullName())
}

func TestModelRefDirPath(t *testing.T) {
	ref := ModelRef{Owner: "urchade", Name: "gliner_base"}
	assert.Equal(t, filepath.Join("models", "urchade", "gliner_base"), ref.DirPath("models"))

	bare := ModelRef{Name: "gliner_base"}
	assert.Equal(t, filepath.Join("models", "gliner_base"), bare.DirPath("models"))
}

func TestMustParseModelRef(t *testing.T) {
	ref := MustParseModelRef("urchade/gliner_base")
	assert.Equal(t, "urchade", ref.Owner)

	assert.Panics(t, func() { MustParseModelRef("") })
}
