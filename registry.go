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
	"sort"
	"sync"
	"time"

	"github.com/antflydb/gliner/lib/backends"
	"github.com/antflydb/gliner/lib/modelregistry"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

// ModelInfo holds metadata about a discovered model (not loaded yet).
type ModelInfo struct {
	Name      string
	Path      string
	Quantized bool
	SizeBytes int64
	Variants  []string
}

// loadedModel guards the recognizer against double-close when TTL eviction
// and registry shutdown race.
type loadedModel struct {
	rec       Recognizer
	closeOnce sync.Once
	closeErr  error
}

func (m *loadedModel) close() error {
	m.closeOnce.Do(func() {
		m.closeErr = m.rec.Close()
	})
	return m.closeErr
}

// RegistryConfig configures the model registry.
type RegistryConfig struct {
	ModelsDir       string
	KeepAlive       time.Duration // How long to keep models loaded (0 = forever)
	MaxLoadedModels uint64        // Max models in memory (0 = unlimited)
	PoolSize        int           // Pipelines per model (0 = default)
	CacheResults    bool          // Wrap loaded recognizers with the result cache
}

// Registry manages recognizers with lazy loading and TTL-based unloading.
// Models are discovered up front (paths only) and loaded on first use.
type Registry struct {
	modelsDir string
	factory   backends.SessionFactory
	logger    *zap.Logger

	// Model discovery (paths only, not loaded)
	discovered map[string]*ModelInfo
	mu         sync.RWMutex

	// Loaded models with TTL cache
	cache   *ttlcache.Cache[string, *loadedModel]
	results *ResultCache

	keepAlive       time.Duration
	maxLoadedModels uint64
	poolSize        int
}

// NewRegistry creates a lazy-loading registry over config.ModelsDir. A nil
// factory selects the ONNX Runtime backend.
func NewRegistry(config RegistryConfig, factory backends.SessionFactory, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if factory == nil {
		f, err := backends.NewORTSessionFactory(logger)
		if err != nil {
			return nil, fmt.Errorf("creating session factory: %w", err)
		}
		factory = f
	}

	keepAlive := config.KeepAlive
	if keepAlive == 0 {
		keepAlive = ttlcache.NoTTL // Never expire
	}

	registry := &Registry{
		modelsDir:       config.ModelsDir,
		factory:         factory,
		logger:          logger,
		discovered:      make(map[string]*ModelInfo),
		keepAlive:       keepAlive,
		maxLoadedModels: config.MaxLoadedModels,
		poolSize:        config.PoolSize,
	}

	if config.CacheResults {
		registry.results = NewResultCache(logger)
	}

	// Configure TTL cache with LRU eviction
	cacheOpts := []ttlcache.Option[string, *loadedModel]{
		ttlcache.WithTTL[string, *loadedModel](keepAlive),
	}
	if config.MaxLoadedModels > 0 {
		cacheOpts = append(cacheOpts,
			ttlcache.WithCapacity[string, *loadedModel](config.MaxLoadedModels))
	}
	registry.cache = ttlcache.New(cacheOpts...)

	// Close models on TTL expiration or capacity eviction. Manual deletion
	// is handled synchronously by Close.
	registry.cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *loadedModel]) {
		if reason == ttlcache.EvictionReasonDeleted {
			logger.Debug("Model removed from cache (cleanup handled separately)",
				zap.String("model", item.Key()))
			return
		}

		reasonStr := "unknown"
		switch reason {
		case ttlcache.EvictionReasonExpired:
			reasonStr = "expired (keep-alive timeout)"
		case ttlcache.EvictionReasonCapacityReached:
			reasonStr = "capacity reached (LRU eviction)"
		}
		logger.Info("Evicting model from cache",
			zap.String("model", item.Key()),
			zap.String("reason", reasonStr))
		if err := item.Value().close(); err != nil {
			logger.Warn("Error closing evicted model",
				zap.String("model", item.Key()),
				zap.Error(err))
		}
	})

	go registry.cache.Start()

	// Discover models (but don't load them)
	if err := registry.discoverModels(); err != nil {
		registry.cache.Stop()
		if registry.results != nil {
			registry.results.Close()
		}
		return nil, err
	}

	logger.Info("Lazy model registry initialized",
		zap.Int("models_discovered", len(registry.discovered)),
		zap.Duration("keep_alive", keepAlive),
		zap.Uint64("max_loaded_models", config.MaxLoadedModels))

	return registry, nil
}

// discoverModels finds model directories without loading them.
func (r *Registry) discoverModels() error {
	if r.modelsDir == "" {
		r.logger.Info("No models directory configured")
		return nil
	}

	models, err := modelregistry.ListLocalModels(r.modelsDir)
	if err != nil {
		return fmt.Errorf("discovering models: %w", err)
	}

	for _, m := range models {
		quantized := false
		for _, v := range m.Variants {
			if v == "quantized" {
				quantized = true
			}
		}

		r.discovered[m.Ref] = &ModelInfo{
			Name:      m.Ref,
			Path:      m.Path,
			Quantized: quantized,
			SizeBytes: m.SizeBytes,
			Variants:  m.Variants,
		}
		r.logger.Info("Discovered model (not loaded)",
			zap.String("name", m.Ref),
			zap.String("path", m.Path),
			zap.Strings("variants", m.Variants))
	}

	r.logger.Info("Model discovery complete",
		zap.Int("models_discovered", len(r.discovered)))

	return nil
}

// Get returns a recognizer by name, loading it if necessary.
func (r *Registry) Get(modelName string) (Recognizer, error) {
	if item := r.cache.Get(modelName); item != nil {
		r.logger.Debug("Model cache hit", zap.String("model", modelName))
		return item.Value().rec, nil
	}

	r.mu.RLock()
	info, ok := r.discovered[modelName]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("model not found: %s", modelName)
	}

	return r.loadModel(info)
}

// loadModel loads a model from disk and caches it.
func (r *Registry) loadModel(info *ModelInfo) (Recognizer, error) {
	r.logger.Info("Loading model on demand",
		zap.String("model", info.Name),
		zap.String("path", info.Path),
		zap.Bool("quantized", info.Quantized))

	opts := []Option{
		WithModelName(info.Name),
		WithPoolSize(r.poolSize),
		WithSessionFactory(r.factory),
		WithLogger(r.logger.Named(info.Name)),
	}
	if info.Quantized {
		opts = append(opts, WithQuantized(true))
	}

	pooled, err := Load(info.Path, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading model %s: %w", info.Name, err)
	}

	var rec Recognizer = pooled
	if r.results != nil {
		rec = r.results.WrapRecognizer(pooled, info.Name)
	}

	r.cache.Set(info.Name, &loadedModel{rec: rec}, r.keepAlive)

	r.logger.Info("Successfully loaded model",
		zap.String("name", info.Name),
		zap.Bool("quantized", info.Quantized),
		zap.Strings("default_labels", pooled.Labels()))

	return rec, nil
}

// List returns all discovered model names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.discovered))
	for name := range r.discovered {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListLoaded returns only the currently loaded model names.
func (r *Registry) ListLoaded() []string {
	return r.cache.Keys()
}

// IsLoaded returns whether a model is currently loaded in memory.
func (r *Registry) IsLoaded(modelName string) bool {
	return r.cache.Has(modelName)
}

// Preload loads the named models up front to avoid first-request latency.
func (r *Registry) Preload(modelNames []string) error {
	if len(modelNames) == 0 {
		return nil
	}

	r.logger.Info("Preloading models", zap.Strings("models", modelNames))

	var loaded, failed int
	for _, name := range modelNames {
		if _, err := r.Get(name); err != nil {
			r.logger.Warn("Failed to preload model",
				zap.String("model", name),
				zap.Error(err))
			failed++
		} else {
			loaded++
		}
	}

	r.logger.Info("Preloading complete",
		zap.Int("loaded", loaded),
		zap.Int("failed", failed))

	if failed > 0 && loaded == 0 {
		return fmt.Errorf("all %d models failed to preload", failed)
	}
	return nil
}

// PreloadAll loads all discovered models.
func (r *Registry) PreloadAll() error {
	return r.Preload(r.List())
}

// Close stops the cache and unloads all models.
func (r *Registry) Close() error {
	r.logger.Info("Closing model registry")

	// Stop cache first to prevent new evictions
	r.cache.Stop()

	// Close all cached models synchronously rather than relying on async
	// eviction callbacks.
	for _, key := range r.cache.Keys() {
		if item := r.cache.Get(key); item != nil {
			if err := item.Value().close(); err != nil {
				r.logger.Warn("Error closing model",
					zap.String("model", key),
					zap.Error(err))
			}
		}
	}
	r.cache.DeleteAll()

	if r.results != nil {
		r.results.Close()
	}
	return nil
}
