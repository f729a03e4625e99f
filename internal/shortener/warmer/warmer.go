// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package warmer keeps the hottest records resident in the cache so their
// redirects never fall through to Postgres, even right after an expiry wave.
package warmer

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/telemetry"
)

// Store is the Postgres surface the warmer reads candidates from.
type Store interface {
	TopByClicks(ctx context.Context, n int) ([]*shortly.URL, error)
	Newest(ctx context.Context, n int) ([]*shortly.URL, error)
	GetByCodes(ctx context.Context, codes []string) ([]*shortly.URL, error)
}

// Cache is the Redis surface: the recent-traffic sorted set and the batch
// write.
type Cache interface {
	HotCodes(ctx context.Context, n int64) ([]string, error)
	WarmBatch(ctx context.Context, urls []*shortly.URL) error
}

// Warmer refreshes the cache every interval with a blend of candidates:
// half all-time top clickers, a third fresh creations, the rest whatever the
// hot_urls set says is trending right now.
type Warmer struct {
	store    Store
	cache    Cache
	interval time.Duration
	topN     int
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a warmer. logger may be nil.
func New(store Store, cache Cache, interval time.Duration, topN int, logger *zap.Logger) *Warmer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if topN <= 0 {
		topN = 5000
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Warmer{
		store:    store,
		cache:    cache,
		interval: interval,
		topN:     topN,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start runs one warm cycle immediately, then one per interval.
func (w *Warmer) Start() {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.WarmOnce(w.ctx); err != nil && w.ctx.Err() == nil {
			w.logger.Error("warm cycle failed", zap.Error(err))
		}
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				if err := w.WarmOnce(w.ctx); err != nil && w.ctx.Err() == nil {
					w.logger.Error("warm cycle failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the loop.
func (w *Warmer) Stop() {
	w.cancel()
	w.wg.Wait()
}

// WarmOnce selects candidates, dedupes them, and writes one pipelined batch.
// A failed candidate source shrinks the batch rather than aborting the cycle.
func (w *Warmer) WarmOnce(ctx context.Context) error {
	nTop := w.topN / 2
	nNew := w.topN * 3 / 10
	nHot := w.topN - nTop - nNew

	var batch []*shortly.URL
	seen := make(map[string]bool, w.topN)
	add := func(urls []*shortly.URL) {
		for _, u := range urls {
			if seen[u.ShortCode] {
				continue
			}
			seen[u.ShortCode] = true
			batch = append(batch, u)
		}
	}

	if top, err := w.store.TopByClicks(ctx, nTop); err != nil {
		w.logger.Warn("top-clicks candidates unavailable", zap.Error(err))
	} else {
		add(top)
	}
	if newest, err := w.store.Newest(ctx, nNew); err != nil {
		w.logger.Warn("newest candidates unavailable", zap.Error(err))
	} else {
		add(newest)
	}
	if codes, err := w.cache.HotCodes(ctx, int64(nHot)); err != nil {
		w.logger.Warn("hot-set candidates unavailable", zap.Error(err))
	} else if len(codes) > 0 {
		if hot, err := w.store.GetByCodes(ctx, codes); err != nil {
			w.logger.Warn("hot-set rows unavailable", zap.Error(err))
		} else {
			add(hot)
		}
	}

	if len(batch) == 0 {
		return nil
	}
	if err := w.cache.WarmBatch(ctx, batch); err != nil {
		return err
	}
	telemetry.WarmedKeys.Add(float64(len(batch)))
	w.logger.Info("warmed cache", zap.Int("keys", len(batch)))
	return nil
}
