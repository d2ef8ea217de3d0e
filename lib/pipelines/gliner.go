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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers"
	"go.uber.org/zap"

	"github.com/antflydb/gliner/lib/backends"
)

// ============================================================================
// Model Config Types and Loading
// ============================================================================

// ModelType identifies the GLiNER model family, which determines how label
// and text tokens are arranged for the engine.
type ModelType string

const (
	// ModelUniEncoder is the standard GLiNER family: labels and text share
	// one schema-prefixed token sequence. Best for small label sets.
	ModelUniEncoder ModelType = "uniencoder"
	// ModelBiEncoder encodes labels and text through parallel channels and
	// scores spans against labels densely. Scales to hundreds of labels.
	ModelBiEncoder ModelType = "biencoder"
)

// ModelConfig holds parsed configuration for a GLiNER model.
type ModelConfig struct {
	// Path to the model directory
	ModelPath string

	// ModelFile is the ONNX file for the model
	ModelFile string

	// MaxWidth is the maximum entity span width in words
	MaxWidth int

	// MaxLength is the maximum sequence length in tokens
	MaxLength int

	// DefaultLabels are the entity labels to use if none specified
	DefaultLabels []string

	// Threshold is the score threshold for entity detection (0.0-1.0)
	Threshold float32

	// FlatNER if true, don't allow nested/overlapping entities
	FlatNER bool

	// MultiLabel if true, allow entities to have multiple labels
	MultiLabel bool

	// ModelType indicates the architecture family
	ModelType ModelType

	// WordsJoiner is the string used to join words (typically a space)
	WordsJoiner string
}

// DefaultModelConfig returns the defaults published GLiNER checkpoints ship
// with when gliner_config.json omits a field.
func DefaultModelConfig() *ModelConfig {
	return &ModelConfig{
		MaxWidth:      12,
		MaxLength:     512,
		DefaultLabels: []string{"person", "organization", "location", "date", "product"},
		Threshold:     0.5,
		FlatNER:       true,
		MultiLabel:    false,
		ModelType:     ModelUniEncoder,
		WordsJoiner:   " ",
	}
}

// LoadModelConfig loads and parses configuration for a GLiNER model
// directory, layering gliner_config.json over defaults.
func LoadModelConfig(modelPath string) (*ModelConfig, error) {
	config := DefaultModelConfig()
	config.ModelPath = modelPath

	// Detect model file
	config.ModelFile = FindONNXFile(modelPath, []string{
		"model.onnx",
		"model_quantized.onnx",
		"gliner.onnx",
	})
	if config.ModelFile == "" {
		// Quantization variants carry names like model_fp16.onnx.
		config.ModelFile = FindAnyONNXFile(modelPath)
	}

	if config.ModelFile == "" {
		return nil, fmt.Errorf("no ONNX model file found in %s", modelPath)
	}

	// Load gliner_config.json if present
	configPath := filepath.Join(modelPath, "gliner_config.json")
	if data, err := os.ReadFile(configPath); err == nil {
		var rawConfig rawModelConfig
		if err := json.Unmarshal(data, &rawConfig); err == nil {
			if rawConfig.MaxWidth > 0 {
				config.MaxWidth = rawConfig.MaxWidth
			}
			if rawConfig.MaxLength > 0 {
				config.MaxLength = rawConfig.MaxLength
			}
			if len(rawConfig.Labels) > 0 {
				config.DefaultLabels = rawConfig.Labels
			}
			if rawConfig.Threshold > 0 {
				config.Threshold = rawConfig.Threshold
			}
			if rawConfig.FlatNER {
				config.FlatNER = rawConfig.FlatNER
			}
			if rawConfig.MultiLabel {
				config.MultiLabel = rawConfig.MultiLabel
			}
			if rawConfig.ModelType != "" {
				config.ModelType = ModelType(rawConfig.ModelType)
			}
			if rawConfig.WordsJoiner != "" {
				config.WordsJoiner = rawConfig.WordsJoiner
			}
		}
	}

	// Detect model family from the model name if the config didn't say
	if config.ModelType == "" || config.ModelType == ModelUniEncoder {
		config.ModelType = detectModelType(modelPath)
	}

	return config, nil
}

// rawModelConfig represents gliner_config.json structure.
type rawModelConfig struct {
	MaxWidth    int      `json:"max_width"`
	MaxLength   int      `json:"max_len"`
	Labels      []string `json:"labels"`
	Threshold   float32  `json:"threshold"`
	FlatNER     bool     `json:"flat_ner"`
	MultiLabel  bool     `json:"multi_label"`
	ModelType   string   `json:"model_type"`
	WordsJoiner string   `json:"words_joiner"`
}

// detectModelType attempts to detect the model family from the model name.
func detectModelType(modelPath string) ModelType {
	modelName := strings.ToLower(filepath.Base(modelPath))

	switch {
	case strings.Contains(modelName, "biencoder") || strings.Contains(modelName, "bi-encoder"):
		return ModelBiEncoder
	default:
		return ModelUniEncoder
	}
}

// IsGLiNERModel checks if a model path contains a GLiNER model.
func IsGLiNERModel(modelPath string) bool {
	// Check for gliner_config.json
	configPath := filepath.Join(modelPath, "gliner_config.json")
	if _, err := os.Stat(configPath); err == nil {
		return true
	}

	// Check if model name contains "gliner"
	modelName := strings.ToLower(filepath.Base(modelPath))
	return strings.Contains(modelName, "gliner")
}

// ============================================================================
// Entity Types
// ============================================================================

// Entity is a labeled text span extracted from one input text.
type Entity struct {
	// Text is the entity text
	Text string `json:"text"`
	// Label is the entity type
	Label string `json:"label"`
	// Start is the byte offset where the entity begins
	Start int `json:"start"`
	// End is the byte offset where the entity ends (exclusive)
	End int `json:"end"`
	// Score is the confidence score (0.0 to 1.0)
	Score float32 `json:"score"`
}

// ============================================================================
// Pipeline
// ============================================================================

// Pipeline wraps a GLiNER model for zero-shot Named Entity Recognition and
// text classification. Unlike traditional NER models, GLiNER extracts
// entities of any type named at inference time, without retraining.
//
// Every call assembles fresh batches and decode buffers, so no state leaks
// between calls. Concurrent callers should hold one pipeline per worker or
// wrap a set of pipelines in a pool.
type Pipeline struct {
	// Session is the low-level engine session for running inference
	Session backends.Session

	// Tokenizer handles text-to-token conversion
	Tokenizer tokenizers.Tokenizer

	// Config holds model configuration
	Config *ModelConfig

	assembler BatchAssembler
	decoder   *SpanDecoder
	logger    *zap.Logger
}

// ExtractOptions tunes a single extraction request.
type ExtractOptions struct {
	// Threshold overrides the model's score threshold when > 0.
	Threshold float32
}

// ClassifyOptions tunes a single classification request.
type ClassifyOptions struct {
	// Threshold is the minimum score for a label to be kept in
	// multi-label mode. Overrides the model's threshold when > 0.
	Threshold float32

	// MultiLabel scores each label independently (sigmoid) instead of
	// picking the single best label (softmax).
	MultiLabel bool
}

// NewPipeline creates a pipeline from an engine session and a tokenizer.
// A nil config gets defaults and a nil logger is replaced with a no-op.
func NewPipeline(session backends.Session, tokenizer tokenizers.Tokenizer, config *ModelConfig, logger *zap.Logger) *Pipeline {
	if config == nil {
		config = DefaultModelConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		Session:   session,
		Tokenizer: tokenizer,
		Config:    config,
		assembler: NewBatchAssembler(config.ModelType, tokenizer, config.MaxLength, config.MaxWidth),
		decoder:   NewSpanDecoder(config.WordsJoiner, logger),
		logger:    logger,
	}
}

// Family reports which model family this pipeline serves.
func (p *Pipeline) Family() ModelType {
	return p.assembler.Family()
}

// Extract extracts entities of the given types from a single text.
func (p *Pipeline) Extract(ctx context.Context, text string, labels []string, opts *ExtractOptions) ([]Entity, error) {
	results, err := p.ExtractBatch(ctx, []string{text}, labels, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExtractBatch extracts entities from each text, returning one entity list
// per input text in input order. Inputs are validated before the tokenizer
// or the engine is touched.
func (p *Pipeline) ExtractBatch(ctx context.Context, texts []string, labels []string, opts *ExtractOptions) ([][]Entity, error) {
	if err := validateRequest(texts, labels); err != nil {
		return nil, err
	}

	threshold := p.Config.Threshold
	if opts != nil && opts.Threshold > 0 {
		threshold = opts.Threshold
	}

	batch, err := p.assembler.Assemble(texts, labels)
	if err != nil {
		return nil, fmt.Errorf("assembling batch: %w", err)
	}

	outputs, err := p.Session.Run(batch.Inputs)
	if err != nil {
		return nil, fmt.Errorf("running inference: %w", err)
	}

	var candidates [][]Entity
	switch p.assembler.Family() {
	case ModelBiEncoder:
		scores, shape, err := findFloatOutput(outputs, TensorScores)
		if err != nil {
			return nil, err
		}
		candidates, err = p.decoder.DecodeDense(scores, shape, batch, threshold)
		if err != nil {
			return nil, err
		}
	default:
		logits, shape, err := findFloatOutput(outputs, TensorLogits)
		if err != nil {
			return nil, err
		}
		candidates, err = p.decoder.DecodeLogits(logits, shape, batch, threshold)
		if err != nil {
			return nil, err
		}
	}

	results := make([][]Entity, len(texts))
	for i := range candidates {
		results[i] = ResolveOverlaps(candidates[i], p.Config.FlatNER, p.Config.MultiLabel)
	}
	return results, nil
}

// Classify scores the given labels against a single text.
func (p *Pipeline) Classify(ctx context.Context, text string, labels []string, opts *ClassifyOptions) (*ClassificationResult, error) {
	results, err := p.ClassifyBatch(ctx, []string{text}, labels, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ClassifyBatch classifies each text against the given labels, returning one
// result per input text in input order. Single-label mode returns the
// arg-max label; multi-label mode returns every label meeting the threshold.
func (p *Pipeline) ClassifyBatch(ctx context.Context, texts []string, labels []string, opts *ClassifyOptions) ([]*ClassificationResult, error) {
	if err := validateRequest(texts, labels); err != nil {
		return nil, err
	}

	threshold := p.Config.Threshold
	multiLabel := p.Config.MultiLabel
	if opts != nil {
		if opts.Threshold > 0 {
			threshold = opts.Threshold
		}
		multiLabel = multiLabel || opts.MultiLabel
	}

	batch, err := p.assembler.Assemble(texts, labels)
	if err != nil {
		return nil, fmt.Errorf("assembling batch: %w", err)
	}

	outputs, err := p.Session.Run(batch.Inputs)
	if err != nil {
		return nil, fmt.Errorf("running inference: %w", err)
	}

	logits, shape, err := findFloatOutput(outputs, TensorLogits)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 || int(shape[0]) != len(texts) || int(shape[1]) != len(labels) {
		return nil, newConfigurationError(TensorLogits, "expected a [batch, label] score tensor")
	}

	results := make([]*ClassificationResult, len(texts))
	for i := range texts {
		row := logits[i*len(labels) : (i+1)*len(labels)]
		if multiLabel {
			results[i], err = DecodeMultiLabel(row, labels, threshold)
		} else {
			results[i], err = DecodeSingleLabel(row, labels)
		}
		if err != nil {
			return nil, fmt.Errorf("decoding text %d: %w", i, err)
		}
	}
	return results, nil
}

// Close releases the underlying engine session.
func (p *Pipeline) Close() error {
	if p.Session != nil {
		return p.Session.Close()
	}
	return nil
}

// validateRequest rejects caller-input problems before any tokenizer or
// engine work begins.
func validateRequest(texts []string, labels []string) error {
	if len(texts) == 0 {
		return newValidationError("texts", "at least one text is required")
	}
	for i, text := range texts {
		if text == "" {
			return newValidationError(fmt.Sprintf("texts[%d]", i), "text must not be empty")
		}
	}
	if len(labels) == 0 {
		return newValidationError("labels", "at least one label is required")
	}
	for i, label := range labels {
		if label == "" {
			return newValidationError(fmt.Sprintf("labels[%d]", i), "label must not be empty")
		}
	}
	return nil
}

// findFloatOutput locates a float32 output tensor by name. Engines exported
// from different toolchains name the score tensor inconsistently, so an
// unmatched name falls back to the first float32 output before giving up.
func findFloatOutput(outputs []backends.NamedTensor, name string) ([]float32, []int64, error) {
	for _, out := range outputs {
		if strings.Contains(strings.ToLower(out.Name), name) {
			if data, ok := out.Data.([]float32); ok {
				return data, out.Shape, nil
			}
		}
	}
	for _, out := range outputs {
		if data, ok := out.Data.([]float32); ok {
			return data, out.Shape, nil
		}
	}
	return nil, nil, newConfigurationError(name, "missing from engine outputs")
}

// ============================================================================
// Loader Functions
// ============================================================================

// LoaderOption configures pipeline loading.
type LoaderOption func(*loaderConfig)

type loaderConfig struct {
	threshold     float32
	maxWidth      int
	flatNER       *bool
	multiLabel    *bool
	defaultLabels []string
	quantized     bool
	logger        *zap.Logger
}

// WithThreshold sets the score threshold for entity detection.
func WithThreshold(threshold float32) LoaderOption {
	return func(c *loaderConfig) {
		c.threshold = threshold
	}
}

// WithMaxWidth sets the maximum entity span width.
func WithMaxWidth(maxWidth int) LoaderOption {
	return func(c *loaderConfig) {
		c.maxWidth = maxWidth
	}
}

// WithFlatNER controls flat NER mode (no overlapping entities). Unset, the
// model configuration decides.
func WithFlatNER(flatNER bool) LoaderOption {
	return func(c *loaderConfig) {
		c.flatNER = &flatNER
	}
}

// WithMultiLabel controls multi-label mode. Unset, the model configuration
// decides.
func WithMultiLabel(multiLabel bool) LoaderOption {
	return func(c *loaderConfig) {
		c.multiLabel = &multiLabel
	}
}

// WithLabels sets the default labels.
func WithLabels(labels []string) LoaderOption {
	return func(c *loaderConfig) {
		c.defaultLabels = labels
	}
}

// WithQuantized uses quantized model files if available.
func WithQuantized(quantized bool) LoaderOption {
	return func(c *loaderConfig) {
		c.quantized = quantized
	}
}

// WithLogger sets the logger the pipeline reports through.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(c *loaderConfig) {
		c.logger = logger
	}
}

// LoadPipeline loads a GLiNER pipeline from a model directory, creating the
// engine session through the given factory.
func LoadPipeline(modelPath string, factory backends.SessionFactory, opts ...LoaderOption) (*Pipeline, error) {
	// Apply options
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		opt(loaderCfg)
	}

	// Load model configuration
	modelConfig, err := LoadModelConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model config: %w", err)
	}

	// Override config with loader options
	if loaderCfg.threshold > 0 {
		modelConfig.Threshold = loaderCfg.threshold
	}
	if loaderCfg.maxWidth > 0 {
		modelConfig.MaxWidth = loaderCfg.maxWidth
	}
	if len(loaderCfg.defaultLabels) > 0 {
		modelConfig.DefaultLabels = loaderCfg.defaultLabels
	}
	if loaderCfg.flatNER != nil {
		modelConfig.FlatNER = *loaderCfg.flatNER
	}
	if loaderCfg.multiLabel != nil {
		modelConfig.MultiLabel = *loaderCfg.multiLabel
	}
	if loaderCfg.quantized {
		if quantizedFile := FindONNXFile(modelPath, []string{"model_quantized.onnx"}); quantizedFile != "" {
			modelConfig.ModelFile = quantizedFile
		}
	}

	// Load tokenizer
	tokenizer, err := LoadTokenizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}

	// Create session for the ONNX model
	session, err := factory.CreateSession(modelConfig.ModelFile)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	return NewPipeline(session, tokenizer, modelConfig, loaderCfg.logger), nil
}
