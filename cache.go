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
	"encoding/binary"
	"math"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ResultCacheTTL is the default TTL for cached extraction and
// classification results.
const ResultCacheTTL = 2 * time.Minute

// ============================================================================
// Cached recognizer
// ============================================================================

// CachedRecognizer wraps a Recognizer with result caching. Identical
// concurrent requests are deduplicated with singleflight; completed results
// are cached by a key over (model, options, labels, texts).
type CachedRecognizer struct {
	inner    Recognizer
	name     string
	extract  *ttlcache.Cache[string, [][]Entity]
	classify *ttlcache.Cache[string, []*ClassificationResult]
	sfGroup  *singleflight.Group
	logger   *zap.Logger

	// Metrics
	hits   atomic.Uint64
	misses atomic.Uint64
	sfHits atomic.Uint64
}

var _ Recognizer = (*CachedRecognizer)(nil)

// Extract extracts entities from a single text through the cache.
func (c *CachedRecognizer) Extract(ctx context.Context, text string, labels []string, opts *ExtractOptions) ([]Entity, error) {
	results, err := c.ExtractBatch(ctx, []string{text}, labels, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ExtractBatch extracts entities with caching support.
func (c *CachedRecognizer) ExtractBatch(ctx context.Context, texts []string, labels []string, opts *ExtractOptions) ([][]Entity, error) {
	threshold := float32(0)
	if opts != nil {
		threshold = opts.Threshold
	}
	key := c.cacheKey("extract", texts, labels, threshold, false)

	if item := c.extract.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("extract")
		c.logger.Debug("Extraction cache hit",
			zap.String("model", c.name),
			zap.Int("num_texts", len(texts)))
		return item.Value(), nil
	}

	// Use singleflight to deduplicate concurrent identical requests
	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("extract")

		entities, err := c.inner.ExtractBatch(ctx, texts, labels, opts)
		if err != nil {
			return nil, err
		}

		c.extract.Set(key, entities, ttlcache.DefaultTTL)
		return entities, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for extraction request",
			zap.String("model", c.name))
	}

	return result.([][]Entity), nil
}

// Classify classifies a single text through the cache.
func (c *CachedRecognizer) Classify(ctx context.Context, text string, labels []string, opts *ClassifyOptions) (*ClassificationResult, error) {
	results, err := c.ClassifyBatch(ctx, []string{text}, labels, opts)
	if err != nil {
		return nil, err
	}
	return results[0], nil
}

// ClassifyBatch classifies texts with caching support.
func (c *CachedRecognizer) ClassifyBatch(ctx context.Context, texts []string, labels []string, opts *ClassifyOptions) ([]*ClassificationResult, error) {
	threshold := float32(0)
	multiLabel := false
	if opts != nil {
		threshold = opts.Threshold
		multiLabel = opts.MultiLabel
	}
	key := c.cacheKey("classify", texts, labels, threshold, multiLabel)

	if item := c.classify.Get(key); item != nil {
		c.hits.Add(1)
		RecordCacheHit("classify")
		c.logger.Debug("Classification cache hit",
			zap.String("model", c.name),
			zap.Int("num_texts", len(texts)))
		return item.Value(), nil
	}

	result, err, shared := c.sfGroup.Do(key, func() (any, error) {
		c.misses.Add(1)
		RecordCacheMiss("classify")

		results, err := c.inner.ClassifyBatch(ctx, texts, labels, opts)
		if err != nil {
			return nil, err
		}

		c.classify.Set(key, results, ttlcache.DefaultTTL)
		return results, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.sfHits.Add(1)
		c.logger.Debug("Singleflight hit for classification request",
			zap.String("model", c.name))
	}

	return result.([]*ClassificationResult), nil
}

// cacheKey builds a key over model name, call kind, options, labels and
// texts. Index bytes keep permutations of the same strings distinct.
func (c *CachedRecognizer) cacheKey(kind string, texts, labels []string, threshold float32, multiLabel bool) string {
	h := xxhash.New()

	_, _ = h.WriteString(c.name)
	_, _ = h.WriteString("|")
	_, _ = h.WriteString(kind)
	_, _ = h.WriteString("|")

	var optBits [5]byte
	binary.BigEndian.PutUint32(optBits[:4], math.Float32bits(threshold))
	if multiLabel {
		optBits[4] = 1
	}
	_, _ = h.Write(optBits[:])

	for i, label := range labels {
		_, _ = h.WriteString("l")
		_, _ = h.Write([]byte{byte(i >> 8), byte(i)})
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(label)
		_, _ = h.WriteString("|")
	}
	for i, text := range texts {
		_, _ = h.WriteString("t")
		_, _ = h.Write([]byte{byte(i >> 8), byte(i)})
		_, _ = h.WriteString(":")
		_, _ = h.WriteString(text)
		_, _ = h.WriteString("|")
	}

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return string(buf[:])
}

// Close closes the underlying recognizer.
func (c *CachedRecognizer) Close() error {
	return c.inner.Close()
}

// Stats returns cache statistics for this recognizer.
func (c *CachedRecognizer) Stats() CacheStats {
	return CacheStats{
		Model:            c.name,
		Hits:             c.hits.Load(),
		Misses:           c.misses.Load(),
		SingleflightHits: c.sfHits.Load(),
	}
}

// CacheStats holds cache statistics for a recognizer.
type CacheStats struct {
	Model            string `json:"model"`
	Hits             uint64 `json:"hits"`
	Misses           uint64 `json:"misses"`
	SingleflightHits uint64 `json:"singleflight_hits"`
}

// ============================================================================
// Shared result cache
// ============================================================================

// ResultCache owns the TTL caches shared by every cached recognizer.
type ResultCache struct {
	extract  *ttlcache.Cache[string, [][]Entity]
	classify *ttlcache.Cache[string, []*ClassificationResult]
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewResultCache creates a result cache and starts its expiry loops.
func NewResultCache(logger *zap.Logger) *ResultCache {
	if logger == nil {
		logger = zap.NewNop()
	}

	extract := ttlcache.New(
		ttlcache.WithTTL[string, [][]Entity](ResultCacheTTL),
	)
	classify := ttlcache.New(
		ttlcache.WithTTL[string, []*ClassificationResult](ResultCacheTTL),
	)
	go extract.Start()
	go classify.Start()

	ctx, cancel := context.WithCancel(context.Background())
	rc := &ResultCache{
		extract:  extract,
		classify: classify,
		logger:   logger,
		cancel:   cancel,
	}

	// Log cache stats periodically
	go rc.logStats(ctx)

	return rc
}

// WrapRecognizer wraps a recognizer with caching against the shared caches.
func (rc *ResultCache) WrapRecognizer(rec Recognizer, name string) *CachedRecognizer {
	return &CachedRecognizer{
		inner:    rec,
		name:     name,
		extract:  rc.extract,
		classify: rc.classify,
		sfGroup:  &singleflight.Group{},
		logger:   rc.logger.Named(name),
	}
}

// Close stops the caches.
func (rc *ResultCache) Close() {
	rc.cancel()
	rc.extract.Stop()
	rc.classify.Stop()
}

func (rc *ResultCache) logStats(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			em := rc.extract.Metrics()
			cm := rc.classify.Metrics()
			hits := em.Hits + cm.Hits
			misses := em.Misses + cm.Misses
			if hits == 0 && misses == 0 {
				continue
			}
			hitRate := float64(0)
			if total := hits + misses; total > 0 {
				hitRate = float64(hits) / float64(total) * 100
			}
			rc.logger.Info("Result cache stats",
				zap.Uint64("hits", hits),
				zap.Uint64("misses", misses),
				zap.Float64("hit_rate_pct", hitRate),
				zap.Int("items", rc.extract.Len()+rc.classify.Len()))
		}
	}
}

// Stats returns global cache statistics.
func (rc *ResultCache) Stats() map[string]any {
	em := rc.extract.Metrics()
	cm := rc.classify.Metrics()
	return map[string]any{
		"hits":   em.Hits + cm.Hits,
		"misses": em.Misses + cm.Misses,
		"items":  rc.extract.Len() + rc.classify.Len(),
	}
}
