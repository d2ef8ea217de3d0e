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
	"testing"

	"github.com/stretchr/testify/assert"
)

// repoFiles mimics a typical ONNX community repository listing.
var repoFiles = []string{
	"README.md",
	"gliner_config.json",
	"tokenizer.json",
	"tokenizer_config.json",
	"model.onnx",
	"model.onnx_data",
	"onnx/model_fp16.onnx",
	"onnx/model_quantized.onnx",
	"subdir/deep/config.json",
}

func TestSelectModelFiles(t *testing.T) {
	t.Run("full precision", func(t *testing.T) {
		selected, haveModel := selectModelFiles(repoFiles, "")
		assert.True(t, haveModel)
		assert.Contains(t, selected, "gliner_config.json")
		assert.Contains(t, selected, "tokenizer.json")
		assert.Contains(t, selected, "tokenizer_config.json")
		assert.Contains(t, selected, "model.onnx")
		// External weights travel with their model file.
		assert.Contains(t, selected, "model.onnx_data")
		assert.NotContains(t, selected, "README.md")
		assert.NotContains(t, selected, "onnx/model_fp16.onnx")
		assert.NotContains(t, selected, "subdir/deep/config.json")
	})

	t.Run("fp16 variant from onnx subdir", func(t *testing.T) {
		selected, haveModel := selectModelFiles(repoFiles, "fp16")
		assert.True(t, haveModel)
		assert.Contains(t, selected, "onnx/model_fp16.onnx")
		assert.NotContains(t, selected, "model.onnx")
		// The default model's external weights do not belong to fp16.
		assert.NotContains(t, selected, "model.onnx_data")
	})

	t.Run("variant not published", func(t *testing.T) {
		selected, haveModel := selectModelFiles(repoFiles, "int8")
		assert.False(t, haveModel)
		// Metadata is still selected; the caller decides whether to abort.
		assert.Contains(t, selected, "gliner_config.json")
	})
}

func TestDetectAvailableVariants(t *testing.T) {
	files := []string{
		"model.onnx",
		"onnx/model_quantized.onnx",
		"onnx/model_fp16.onnx",
		"deep/nested/model_int8.onnx",
	}

	// Canonical order, deep directories ignored.
	assert.Equal(t, []string{"fp16", "quantized"}, DetectAvailableVariants(files))
	assert.Nil(t, DetectAvailableVariants([]string{"model.onnx", "README.md"}))
}

func TestValidVariants(t *testing.T) {
	assert.Equal(t, []string{"fp16", "int8", "q4", "q4f16", "quantized"}, ValidVariants())

	assert.True(t, IsValidVariant("fp16"))
	assert.True(t, IsValidVariant("quantized"))
	assert.False(t, IsValidVariant(""))
	assert.False(t, IsValidVariant("bf16"))
}

func TestVariantDescription(t *testing.T) {
	assert.Equal(t, "full precision", VariantDescription(""))
	assert.Equal(t, "4-bit integer quantization", VariantDescription("q4"))
	assert.Equal(t, "unknown", VariantDescription("bf16"))
}

func TestVariantFileName(t *testing.T) {
	assert.Equal(t, "model.onnx", variantFileName(""))
	assert.Equal(t, "model_fp16.onnx", variantFileName("fp16"))
	assert.Equal(t, "model_quantized.onnx", variantFileName("quantized"))
}

func TestNewHuggingFaceClient(t *testing.T) {
	// The HF_TOKEN environment variable supplies the default token.
	t.Setenv("HF_TOKEN", "env-token")
	client := NewHuggingFaceClient()
	assert.Equal(t, "env-token", client.token)

	// An explicit option wins over the environment.
	client = NewHuggingFaceClient(WithHFToken("explicit-token"))
	assert.Equal(t, "explicit-token", client.token)
}
