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
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antflydb/gliner/lib/backends"
)

// stubSession implements backends.Session with a caller-provided run
// function, counting calls so tests can assert the engine was (not) touched.
type stubSession struct {
	run      func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error)
	runCalls int
	closed   int
}

func (s *stubSession) Run(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
	s.runCalls++
	if s.run == nil {
		return nil, fmt.Errorf("stub session has no run function")
	}
	return s.run(inputs)
}

func (s *stubSession) InputInfo() []backends.TensorInfo  { return nil }
func (s *stubSession) OutputInfo() []backends.TensorInfo { return nil }

func (s *stubSession) Close() error {
	s.closed++
	return nil
}

// stubFactory implements backends.SessionFactory, recording the model file
// each created session was asked to load.
type stubFactory struct {
	run      func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error)
	sessions []*stubSession
	lastPath string
}

func (f *stubFactory) CreateSession(modelPath string, _ ...backends.SessionOption) (backends.Session, error) {
	f.lastPath = modelPath
	s := &stubSession{run: f.run}
	f.sessions = append(f.sessions, s)
	return s, nil
}

func (f *stubFactory) Backend() backends.BackendType { return "stub" }

// hotCell names one (example, position, width, label) score cell to raise.
type hotCell struct {
	example int
	pos     int
	width   int
	label   int
	raw     float32
}

// schemaLogitsRun builds a run function that emits a cold [batch, position,
// width, label] logits tensor with the given cells raised, deriving the grid
// dimensions from the assembled span mask.
func schemaLogitsRun(maxWidth, numLabels int, cells []hotCell) func([]backends.NamedTensor) ([]backends.NamedTensor, error) {
	return func(inputs []backends.NamedTensor) ([]backends.NamedTensor, error) {
		var spanMask backends.NamedTensor
		for _, in := range inputs {
			if in.Name == TensorSpanMask {
				spanMask = in
			}
		}
		if spanMask.Name == "" {
			return nil, fmt.Errorf("span_mask input missing")
		}

		batchSize := int(spanMask.Shape[0])
		positions := int(spanMask.Shape[1]) / maxWidth
		layout := SpanLayout{Positions: positions, MaxWidth: maxWidth, Labels: numLabels}

		data := make([]float32, batchSize*layout.BatchStride())
		for i := range data {
			data[i] = -20
		}
		for _, c := range cells {
			data[c.example*layout.BatchStride()+layout.FlatIndex(c.pos, c.width, c.label)] = c.raw
		}

		return []backends.NamedTensor{{
			Name:  TensorLogits,
			Shape: []int64{int64(batchSize), int64(positions), int64(maxWidth), int64(numLabels)},
			Data:  data,
		}}, nil
	}
}

// classifyLogitsRun builds a run function that emits a fixed [batch, label]
// score tensor.
func classifyLogitsRun(rows [][]float32) func([]backends.NamedTensor) ([]backends.NamedTensor, error) {
	return func([]backends.NamedTensor) ([]backends.NamedTensor, error) {
		numLabels := 0
		if len(rows) > 0 {
			numLabels = len(rows[0])
		}
		data := make([]float32, 0, len(rows)*numLabels)
		for _, row := range rows {
			data = append(data, row...)
		}
		return []backends.NamedTensor{{
			Name:  TensorLogits,
			Shape: []int64{int64(len(rows)), int64(numLabels)},
			Data:  data,
		}}, nil
	}
}

func newTestPipeline(session backends.Session, maxWidth int) *Pipeline {
	config := DefaultModelConfig()
	config.MaxWidth = maxWidth
	return NewPipeline(session, newFakeTokenizer(), config, nil)
}

func TestPipelineExtractBatch(t *testing.T) {
	labels := []string{"person", "organization", "location"}
	session := &stubSession{run: schemaLogitsRun(4, len(labels), []hotCell{
		{example: 0, pos: 0, width: 0, label: 0, raw: 12}, // John
		{example: 0, pos: 3, width: 0, label: 1, raw: 12}, // Google
		{example: 0, pos: 5, width: 0, label: 2, raw: 12}, // Seattle
	})}
	pipeline := newTestPipeline(session, 4)

	results, err := pipeline.ExtractBatch(context.Background(),
		[]string{"John works at Google in Seattle"}, labels, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Len(t, results[0], 3)
	assert.Equal(t, 1, session.runCalls)

	assert.Equal(t, "John", results[0][0].Text)
	assert.Equal(t, "person", results[0][0].Label)
	assert.Equal(t, 0, results[0][0].Start)
	assert.Equal(t, 4, results[0][0].End)
	assert.InDelta(t, 0.999994, results[0][0].Score, 1e-5)
	assert.Equal(t, "Google", results[0][1].Text)
	assert.Equal(t, "organization", results[0][1].Label)
	assert.Equal(t, 14, results[0][1].Start)
	assert.Equal(t, 20, results[0][1].End)
	assert.Equal(t, "Seattle", results[0][2].Text)
	assert.Equal(t, "location", results[0][2].Label)
}

func TestPipelineExtractFlatKeepsBestOverlap(t *testing.T) {
	cells := []hotCell{
		{example: 0, pos: 0, width: 1, label: 0, raw: 8},  // "New York"
		{example: 0, pos: 0, width: 2, label: 0, raw: 12}, // "New York City"
	}

	session := &stubSession{run: schemaLogitsRun(4, 1, cells)}
	pipeline := newTestPipeline(session, 4)

	results, err := pipeline.ExtractBatch(context.Background(),
		[]string{"New York City"}, []string{"location"}, nil)
	require.NoError(t, err)
	require.Len(t, results[0], 1)
	assert.Equal(t, "New York City", results[0][0].Text)
}

func TestPipelineExtractNestedKeepsContained(t *testing.T) {
	cells := []hotCell{
		{example: 0, pos: 0, width: 1, label: 0, raw: 8},
		{example: 0, pos: 0, width: 2, label: 0, raw: 12},
	}

	session := &stubSession{run: schemaLogitsRun(4, 1, cells)}
	pipeline := newTestPipeline(session, 4)
	pipeline.Config.FlatNER = false

	results, err := pipeline.ExtractBatch(context.Background(),
		[]string{"New York City"}, []string{"location"}, nil)
	require.NoError(t, err)
	require.Len(t, results[0], 2)

	// Same start: the shorter span sorts first.
	assert.Equal(t, "New York", results[0][0].Text)
	assert.Equal(t, "New York City", results[0][1].Text)
}

func TestPipelineExtractThresholdOverride(t *testing.T) {
	// sigmoid(1) is about 0.73: above the default 0.5, below 0.9.
	cells := []hotCell{{example: 0, pos: 0, width: 0, label: 0, raw: 1}}

	session := &stubSession{run: schemaLogitsRun(4, 1, cells)}
	pipeline := newTestPipeline(session, 4)

	results, err := pipeline.ExtractBatch(context.Background(),
		[]string{"Hello"}, []string{"greeting"}, nil)
	require.NoError(t, err)
	assert.Len(t, results[0], 1)

	results, err = pipeline.ExtractBatch(context.Background(),
		[]string{"Hello"}, []string{"greeting"}, &ExtractOptions{Threshold: 0.9})
	require.NoError(t, err)
	assert.Empty(t, results[0])
}

func TestPipelineExtractValidation(t *testing.T) {
	tests := []struct {
		name   string
		texts  []string
		labels []string
	}{
		{name: "no texts", texts: nil, labels: []string{"person"}},
		{name: "empty text", texts: []string{""}, labels: []string{"person"}},
		{name: "no labels", texts: []string{"Hello"}, labels: nil},
		{name: "empty label", texts: []string{"Hello"}, labels: []string{"person", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &stubSession{}
			tok := newFakeTokenizer()
			pipeline := NewPipeline(session, tok, nil, nil)

			_, err := pipeline.ExtractBatch(context.Background(), tt.texts, tt.labels, nil)
			require.Error(t, err)

			var valErr *ValidationError
			require.ErrorAs(t, err, &valErr)

			// Bad input is rejected before the tokenizer or engine runs.
			assert.Equal(t, 0, session.runCalls)
			assert.Equal(t, 0, tok.encodes)
		})
	}
}

func TestPipelineExtractSingle(t *testing.T) {
	cells := []hotCell{{example: 0, pos: 0, width: 0, label: 0, raw: 12}}
	session := &stubSession{run: schemaLogitsRun(4, 1, cells)}
	pipeline := newTestPipeline(session, 4)

	entities, err := pipeline.Extract(context.Background(), "Hello", []string{"greeting"}, nil)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Hello", entities[0].Text)
}

func TestPipelineExtractSessionError(t *testing.T) {
	session := &stubSession{run: func([]backends.NamedTensor) ([]backends.NamedTensor, error) {
		return nil, fmt.Errorf("engine exploded")
	}}
	pipeline := newTestPipeline(session, 4)

	_, err := pipeline.ExtractBatch(context.Background(), []string{"Hello"}, []string{"greeting"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "running inference")
}

func TestPipelineClassifyBatch(t *testing.T) {
	labels := []string{"positive", "neutral", "negative"}
	session := &stubSession{run: classifyLogitsRun([][]float32{{2.0, 0.1, -1.0}})}
	pipeline := newTestPipeline(session, 4)

	results, err := pipeline.ClassifyBatch(context.Background(),
		[]string{"This product is great"}, labels, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	got := results[0]
	assert.Equal(t, "positive", got.Label)
	assert.InDelta(t, 0.8338, got.Score, 5e-4)
	assert.Len(t, got.Scores, 1)
}

func TestPipelineClassifyBatchMultiLabel(t *testing.T) {
	labels := []string{"positive", "neutral", "negative"}
	session := &stubSession{run: classifyLogitsRun([][]float32{{2.0, 0.1, -1.0}})}
	pipeline := newTestPipeline(session, 4)

	results, err := pipeline.ClassifyBatch(context.Background(),
		[]string{"This product is great"}, labels, &ClassifyOptions{MultiLabel: true})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// Independent sigmoids against the default 0.5 threshold: positive
	// (0.88) and neutral (0.52) stay, negative (0.27) drops.
	got := results[0]
	assert.Equal(t, "positive", got.Label)
	assert.InDelta(t, 0.8808, got.Score, 5e-4)
	require.Len(t, got.Scores, 2)
	assert.Contains(t, got.Scores, "positive")
	assert.Contains(t, got.Scores, "neutral")
}

func TestPipelineClassifySingle(t *testing.T) {
	session := &stubSession{run: classifyLogitsRun([][]float32{{3.0, -3.0}})}
	pipeline := newTestPipeline(session, 4)

	result, err := pipeline.Classify(context.Background(), "Hello", []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", result.Label)
}

func TestPipelineClassifyShapeMismatch(t *testing.T) {
	// Two columns for three labels is a model contract violation.
	session := &stubSession{run: classifyLogitsRun([][]float32{{1.0, 2.0}})}
	pipeline := newTestPipeline(session, 4)

	_, err := pipeline.ClassifyBatch(context.Background(),
		[]string{"Hello"}, []string{"a", "b", "c"}, nil)
	require.Error(t, err)
	var confErr *ConfigurationError
	assert.ErrorAs(t, err, &confErr)
}

func TestPipelineClose(t *testing.T) {
	session := &stubSession{}
	pipeline := newTestPipeline(session, 4)

	require.NoError(t, pipeline.Close())
	assert.Equal(t, 1, session.closed)
}

func TestLoadModelConfigDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644)
	require.NoError(t, err)

	config, err := LoadModelConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(tmpDir, "model.onnx"), config.ModelFile)
	assert.Equal(t, 12, config.MaxWidth)
	assert.Equal(t, 512, config.MaxLength)
	assert.Equal(t, float32(0.5), config.Threshold)
	assert.True(t, config.FlatNER)
	assert.False(t, config.MultiLabel)
	assert.Equal(t, ModelUniEncoder, config.ModelType)
	assert.Equal(t, " ", config.WordsJoiner)
	assert.NotEmpty(t, config.DefaultLabels)
}

func TestLoadModelConfigOverlay(t *testing.T) {
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644)
	require.NoError(t, err)

	configJSON := `{
		"max_width": 8,
		"max_len": 384,
		"labels": ["drug", "dosage"],
		"threshold": 0.3,
		"multi_label": true,
		"model_type": "biencoder",
		"words_joiner": ""
	}`
	err = os.WriteFile(filepath.Join(tmpDir, "gliner_config.json"), []byte(configJSON), 0644)
	require.NoError(t, err)

	config, err := LoadModelConfig(tmpDir)
	require.NoError(t, err)

	assert.Equal(t, 8, config.MaxWidth)
	assert.Equal(t, 384, config.MaxLength)
	assert.Equal(t, []string{"drug", "dosage"}, config.DefaultLabels)
	assert.Equal(t, float32(0.3), config.Threshold)
	assert.True(t, config.MultiLabel)
	assert.Equal(t, ModelBiEncoder, config.ModelType)
	// An empty joiner in the file keeps the default.
	assert.Equal(t, " ", config.WordsJoiner)
}

func TestLoadModelConfigNoModel(t *testing.T) {
	_, err := LoadModelConfig(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no ONNX model file found")
}

func TestLoadModelConfigVariantFallback(t *testing.T) {
	// Only a quantization variant present: the loader picks it up even
	// though it is not on the fixed candidate list.
	tmpDir := t.TempDir()
	err := os.WriteFile(filepath.Join(tmpDir, "model_fp16.onnx"), []byte("dummy"), 0644)
	require.NoError(t, err)

	config, err := LoadModelConfig(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmpDir, "model_fp16.onnx"), config.ModelFile)
}

func TestLoadModelConfigONNXSubdir(t *testing.T) {
	// HuggingFace ONNX exports keep model files under onnx/.
	tmpDir := t.TempDir()
	onnxDir := filepath.Join(tmpDir, "onnx")
	require.NoError(t, os.MkdirAll(onnxDir, 0755))
	err := os.WriteFile(filepath.Join(onnxDir, "model.onnx"), []byte("dummy"), 0644)
	require.NoError(t, err)

	config, err := LoadModelConfig(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(onnxDir, "model.onnx"), config.ModelFile)
}

func TestLoadModelConfigBiEncoderByName(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "gliner_biencoder-small")
	require.NoError(t, os.MkdirAll(tmpDir, 0755))
	err := os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644)
	require.NoError(t, err)

	config, err := LoadModelConfig(tmpDir)
	require.NoError(t, err)
	assert.Equal(t, ModelBiEncoder, config.ModelType)
}

func TestIsGLiNERModel(t *testing.T) {
	// Test 1: Directory with gliner_config.json
	withConfig := t.TempDir()
	err := os.WriteFile(filepath.Join(withConfig, "gliner_config.json"), []byte("{}"), 0644)
	require.NoError(t, err)
	assert.True(t, IsGLiNERModel(withConfig))

	// Test 2: Directory named like a GLiNER model, no config
	byName := filepath.Join(t.TempDir(), "gliner_small-v2.1")
	require.NoError(t, os.MkdirAll(byName, 0755))
	assert.True(t, IsGLiNERModel(byName))

	// Test 3: Unrelated model directory
	other := filepath.Join(t.TempDir(), "bge-small-en")
	require.NoError(t, os.MkdirAll(other, 0755))
	assert.False(t, IsGLiNERModel(other))
}

func TestDetectModelType(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		expected ModelType
	}{
		{name: "biencoder suffix", path: "models/gliner_biencoder-large", expected: ModelBiEncoder},
		{name: "bi-encoder spelling", path: "models/gliner-bi-encoder", expected: ModelBiEncoder},
		{name: "standard model", path: "models/gliner_small-v2.1", expected: ModelUniEncoder},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, detectModelType(tt.path))
		})
	}
}

// writeVocab writes a minimal BERT WordPiece vocabulary usable by the pure
// Go tokenizer.
func writeVocab(t *testing.T, dir string) {
	t.Helper()
	vocab := "[PAD]\n[UNK]\n[CLS]\n[SEP]\n[MASK]\nhello\nworld\njohn\nworks\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "vocab.txt"), []byte(vocab), 0644))
}

func TestLoadPipeline(t *testing.T) {
	tmpDir := t.TempDir()
	writeVocab(t, tmpDir)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model_quantized.onnx"), []byte("dummy"), 0644))
	configJSON := `{"max_width": 6, "threshold": 0.4}`
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "gliner_config.json"), []byte(configJSON), 0644))

	factory := &stubFactory{}
	pipeline, err := LoadPipeline(tmpDir, factory)
	require.NoError(t, err)
	defer pipeline.Close()

	assert.Equal(t, filepath.Join(tmpDir, "model.onnx"), factory.lastPath)
	assert.Len(t, factory.sessions, 1)
	assert.Equal(t, 6, pipeline.Config.MaxWidth)
	assert.Equal(t, float32(0.4), pipeline.Config.Threshold)
	assert.Equal(t, ModelUniEncoder, pipeline.Family())
}

func TestLoadPipelineQuantized(t *testing.T) {
	tmpDir := t.TempDir()
	writeVocab(t, tmpDir)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model_quantized.onnx"), []byte("dummy"), 0644))

	factory := &stubFactory{}
	pipeline, err := LoadPipeline(tmpDir, factory, WithQuantized(true))
	require.NoError(t, err)
	defer pipeline.Close()

	assert.Equal(t, filepath.Join(tmpDir, "model_quantized.onnx"), factory.lastPath)
}

func TestLoadPipelineOptions(t *testing.T) {
	tmpDir := t.TempDir()
	writeVocab(t, tmpDir)
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644))

	factory := &stubFactory{}
	pipeline, err := LoadPipeline(tmpDir, factory,
		WithThreshold(0.9),
		WithMaxWidth(3),
		WithLabels([]string{"ticker"}),
		WithFlatNER(false),
		WithMultiLabel(true),
	)
	require.NoError(t, err)
	defer pipeline.Close()

	assert.Equal(t, float32(0.9), pipeline.Config.Threshold)
	assert.Equal(t, 3, pipeline.Config.MaxWidth)
	assert.Equal(t, []string{"ticker"}, pipeline.Config.DefaultLabels)
	assert.False(t, pipeline.Config.FlatNER)
	assert.True(t, pipeline.Config.MultiLabel)
}

func TestLoadPipelineNoTokenizer(t *testing.T) {
	tmpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "model.onnx"), []byte("dummy"), 0644))

	_, err := LoadPipeline(tmpDir, &stubFactory{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading tokenizer")
}

func TestLoadPipelineNoModel(t *testing.T) {
	_, err := LoadPipeline(t.TempDir(), &stubFactory{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading model config")
}
