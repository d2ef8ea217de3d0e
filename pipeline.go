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

package gliner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/antflydb/gliner/lib/pipelines"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// PooledRecognizer runs a fixed pool of pipelines behind a weighted
// semaphore so concurrent callers never share an engine session. Calls pick
// a pipeline round-robin and block while all pipelines are busy.
type PooledRecognizer struct {
	pipelineList []*pipelines.Pipeline
	sem          *semaphore.Weighted
	nextPipeline atomic.Uint64
	logger       *zap.Logger
	poolSize     int
	name         string
	config       *pipelines.ModelConfig
}

var _ Recognizer = (*PooledRecognizer)(nil)

func newPooledRecognizer(name string, pipelineList []*pipelines.Pipeline, config *pipelines.ModelConfig, logger *zap.Logger) *PooledRecognizer {
	return &PooledRecognizer{
		pipelineList: pipelineList,
		sem:          semaphore.NewWeighted(int64(len(pipelineList))),
		logger:       logger,
		poolSize:     len(pipelineList),
		name:         name,
		config:       config,
	}
}

// Name returns the recognizer's name as used in logs and metrics.
func (p *PooledRecognizer) Name() string {
	return p.name
}

// Labels returns the default labels used when a call passes none.
func (p *PooledRecognizer) Labels() []string {
	return p.config.DefaultLabels
}

// Config returns the resolved model configuration.
func (p *PooledRecognizer) Config() *pipelines.ModelConfig {
	return p.config
}

// Extract extracts entities from a single text.
func (p *PooledRecognizer) Extract(ctx context.Context, text string, labels []string, opts *ExtractOptions) ([]Entity, error) {
	results, err := p.ExtractBatch(ctx, []string{text}, labels, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExtractBatch extracts entities from each text, preserving input order.
// An empty label set falls back to the model's default labels.
func (p *PooledRecognizer) ExtractBatch(ctx context.Context, texts []string, labels []string, opts *ExtractOptions) ([][]Entity, error) {
	if len(labels) == 0 {
		labels = p.config.DefaultLabels
	}

	// Acquire semaphore slot (blocks if all pipelines busy)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring pipeline slot: %w", err)
	}
	defer p.sem.Release(1)

	// Round-robin pipeline selection
	idx := int(p.nextPipeline.Add(1) % uint64(p.poolSize))
	pipe := p.pipelineList[idx]

	RecordExtractRequest(p.name)
	start := time.Now()

	results, err := pipe.ExtractBatch(ctx, texts, labels, opts)
	if err != nil {
		RecordRequestDuration("extract", p.name, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("running extraction pipeline: %w", err)
	}
	RecordRequestDuration("extract", p.name, "ok", time.Since(start).Seconds())
	RecordEntityCreation(p.name, countEntities(results))

	p.logger.Debug("Extraction completed",
		zap.Int("pipelineIndex", idx),
		zap.Int("num_texts", len(texts)),
		zap.Int("total_entities", countEntities(results)),
		zap.Duration("duration", time.Since(start)))

	return results, nil
}

// Classify classifies a single text against the labels.
func (p *PooledRecognizer) Classify(ctx context.Context, text string, labels []string, opts *ClassifyOptions) (*ClassificationResult, error) {
	results, err := p.ClassifyBatch(ctx, []string{text}, labels, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ClassifyBatch classifies each text, preserving input order. An empty label
// set falls back to the model's default labels.
func (p *PooledRecognizer) ClassifyBatch(ctx context.Context, texts []string, labels []string, opts *ClassifyOptions) ([]*ClassificationResult, error) {
	if len(labels) == 0 {
		labels = p.config.DefaultLabels
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquiring pipeline slot: %w", err)
	}
	defer p.sem.Release(1)

	idx := int(p.nextPipeline.Add(1) % uint64(p.poolSize))
	pipe := p.pipelineList[idx]

	RecordClassifyRequest(p.name)
	start := time.Now()

	results, err := pipe.ClassifyBatch(ctx, texts, labels, opts)
	if err != nil {
		RecordRequestDuration("classify", p.name, "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("running classification pipeline: %w", err)
	}
	RecordRequestDuration("classify", p.name, "ok", time.Since(start).Seconds())

	p.logger.Debug("Classification completed",
		zap.Int("pipelineIndex", idx),
		zap.Int("num_texts", len(texts)),
		zap.Duration("duration", time.Since(start)))

	return results, nil
}

// Close releases every pipeline in the pool.
func (p *PooledRecognizer) Close() error {
	p.logger.Info("Closing pooled recognizer", zap.String("model", p.name))

	var firstErr error
	for _, pipe := range p.pipelineList {
		if pipe == nil {
			continue
		}
		if err := pipe.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.pipelineList = nil
	return firstErr
}

func countEntities(results [][]Entity) int {
	total := 0
	for _, entities := range results {
		total += len(entities)
	}
	return total
}
