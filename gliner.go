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

// Package gliner provides zero-shot named-entity extraction and text
// classification against caller-supplied label sets, backed by ONNX
// span-extraction models of the GLiNER family.
//
// The root package wraps the core pipeline (lib/pipelines) with pooling,
// result caching, a lazy model registry, and prometheus metrics. Most
// callers load a model directory with Load and use the returned Recognizer:
//
//	rec, err := gliner.Load("models/urchade/gliner_multi-v2.1")
//	entities, err := rec.Extract(ctx, text, []string{"person", "location"}, nil)
package gliner

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"time"

	"github.com/antflydb/gliner/lib/backends"
	"github.com/antflydb/gliner/lib/pipelines"
	"go.uber.org/zap"
)

// Result and option types come from the core pipeline package.
type (
	// Entity is a labeled text span with byte offsets and a score in [0,1].
	Entity = pipelines.Entity
	// ClassificationResult is the best label plus per-label scores.
	ClassificationResult = pipelines.ClassificationResult
	// ExtractOptions tunes a single extraction call.
	ExtractOptions = pipelines.ExtractOptions
	// ClassifyOptions tunes a single classification call.
	ClassifyOptions = pipelines.ClassifyOptions
)

// Recognizer extracts entities and classifies texts against arbitrary label
// sets. Batch variants preserve input order. Implementations are safe for
// concurrent use.
type Recognizer interface {
	Extract(ctx context.Context, text string, labels []string, opts *ExtractOptions) ([]Entity, error)
	ExtractBatch(ctx context.Context, texts []string, labels []string, opts *ExtractOptions) ([][]Entity, error)
	Classify(ctx context.Context, text string, labels []string, opts *ClassifyOptions) (*ClassificationResult, error)
	ClassifyBatch(ctx context.Context, texts []string, labels []string, opts *ClassifyOptions) ([]*ClassificationResult, error)
	Close() error
}

// ============================================================================
// Load options
// ============================================================================

type loadConfig struct {
	poolSize     int
	name         string
	factory      backends.SessionFactory
	logger       *zap.Logger
	pipelineOpts []pipelines.LoaderOption
}

// Option configures Load.
type Option func(*loadConfig)

// WithPoolSize sets how many pipelines back the recognizer. Zero or negative
// auto-detects from the CPU count, capped at 4.
func WithPoolSize(n int) Option {
	return func(c *loadConfig) { c.poolSize = n }
}

// WithModelName sets the name used in logs and metrics. Defaults to the
// model directory's base name.
func WithModelName(name string) Option {
	return func(c *loadConfig) { c.name = name }
}

// WithSessionFactory overrides the engine backend. Defaults to the ONNX
// Runtime factory, which requires the onnx build tag.
func WithSessionFactory(factory backends.SessionFactory) Option {
	return func(c *loadConfig) { c.factory = factory }
}

// WithLogger sets the logger. Defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *loadConfig) { c.logger = logger }
}

// WithThreshold overrides the model's score threshold.
func WithThreshold(threshold float32) Option {
	return func(c *loadConfig) {
		c.pipelineOpts = append(c.pipelineOpts, pipelines.WithThreshold(threshold))
	}
}

// WithMaxWidth overrides the maximum span width in words.
func WithMaxWidth(maxWidth int) Option {
	return func(c *loadConfig) {
		c.pipelineOpts = append(c.pipelineOpts, pipelines.WithMaxWidth(maxWidth))
	}
}

// WithFlatNER controls whether nested spans are excluded.
func WithFlatNER(flatNER bool) Option {
	return func(c *loadConfig) {
		c.pipelineOpts = append(c.pipelineOpts, pipelines.WithFlatNER(flatNER))
	}
}

// WithMultiLabel allows one span to carry several labels.
func WithMultiLabel(multiLabel bool) Option {
	return func(c *loadConfig) {
		c.pipelineOpts = append(c.pipelineOpts, pipelines.WithMultiLabel(multiLabel))
	}
}

// WithLabels sets the default labels used when a call passes none.
func WithLabels(labels []string) Option {
	return func(c *loadConfig) {
		c.pipelineOpts = append(c.pipelineOpts, pipelines.WithLabels(labels))
	}
}

// WithQuantized prefers the quantized model file when present.
func WithQuantized(quantized bool) Option {
	return func(c *loadConfig) {
		c.pipelineOpts = append(c.pipelineOpts, pipelines.WithQuantized(quantized))
	}
}

// ============================================================================
// Load
// ============================================================================

// Load opens the model directory and returns a pooled recognizer backed by
// poolSize pipelines sharing one score threshold and label configuration.
func Load(modelPath string, opts ...Option) (*PooledRecognizer, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}

	var cfg loadConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	poolSize := cfg.poolSize
	if poolSize <= 0 {
		poolSize = min(runtime.NumCPU(), 4)
	}

	name := cfg.name
	if name == "" {
		name = filepath.Base(modelPath)
	}

	factory := cfg.factory
	if factory == nil {
		f, err := backends.NewORTSessionFactory(logger)
		if err != nil {
			return nil, fmt.Errorf("creating session factory: %w", err)
		}
		factory = f
	}

	modelConfig, err := pipelines.LoadModelConfig(modelPath)
	if err != nil {
		return nil, fmt.Errorf("loading model config: %w", err)
	}

	logger.Info("Loading recognizer",
		zap.String("model", name),
		zap.String("path", modelPath),
		zap.Int("poolSize", poolSize),
		zap.String("family", string(modelConfig.ModelType)),
		zap.Strings("default_labels", modelConfig.DefaultLabels),
		zap.Float32("threshold", modelConfig.Threshold))

	pipelineOpts := append([]pipelines.LoaderOption{pipelines.WithLogger(logger)}, cfg.pipelineOpts...)

	start := time.Now()
	pipelineList := make([]*pipelines.Pipeline, poolSize)
	for i := 0; i < poolSize; i++ {
		pipe, err := pipelines.LoadPipeline(modelPath, factory, pipelineOpts...)
		if err != nil {
			// Clean up already-created pipelines
			for j := 0; j < i; j++ {
				if pipelineList[j] != nil {
					pipelineList[j].Close()
				}
			}
			return nil, fmt.Errorf("creating pipeline %d: %w", i, err)
		}
		pipelineList[i] = pipe
	}
	RecordModelLoadDuration(name, "recognizer", time.Since(start).Seconds())

	logger.Info("Recognizer ready",
		zap.String("model", name),
		zap.Int("poolSize", poolSize),
		zap.String("backend", string(factory.Backend())))

	return newPooledRecognizer(name, pipelineList, pipelineList[0].Config, logger), nil
}
