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

// Package ingest runs the click-ingestion worker: consume click events,
// aggregate deltas per code in a Redis hash, and flush the hash to Postgres
// and ClickHouse on an interval. Aggregation means one OLTP row update per
// hot code per flush instead of one per click.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/persistence"
	"shortly/internal/shortener/telemetry"
)

// Source feeds the worker click events. Poll returns at most max events;
// Commit marks everything polled as consumed and runs only after the events
// reach the aggregation hash.
type Source interface {
	Poll(ctx context.Context, max int) ([]shortly.ClickEvent, error)
	Commit(ctx context.Context) error
}

// AggBuffer is the crash-safe staging area between consume and flush.
type AggBuffer interface {
	Apply(ctx context.Context, counts map[string]int64) error
	Drain(ctx context.Context) (map[string]int64, error)
	Size(ctx context.Context) (int64, error)
}

// ClickStore applies aggregated deltas to the authoritative rows and returns
// the post-update records.
type ClickStore interface {
	AddClicks(ctx context.Context, counts map[string]int64) (map[string]*shortly.URL, error)
}

// AnalyticsSink receives the same aggregated rows for OLAP. Optional.
type AnalyticsSink interface {
	AppendClicks(ctx context.Context, counts map[string]int64) error
}

// CacheWriter refreshes the cached record after a flush so redirects keep
// serving fresh counts without touching Postgres.
type CacheWriter interface {
	WriteBack(ctx context.Context, u *shortly.URL, flushedDelta int64) error
}

// FallbackStream is the Redis stream that caught clicks while the broker was
// down. Optional.
type FallbackStream interface {
	EnsureFallbackGroup(ctx context.Context, group string) error
	ReadFallback(ctx context.Context, group, consumer string, count int64) ([]persistence.FallbackEntry, error)
	AckFallback(ctx context.Context, group string, ids ...string) error
}

// Options tunes the worker loops. Zero values take the defaults noted on each
// field.
type Options struct {
	FlushInterval      time.Duration // default 5s
	DrainInterval      time.Duration // fallback stream cadence; default 2s
	BatchSize          int           // max events per poll; default 500
	FlushSizeThreshold int64         // early flush when the hash grows past this; default 10000
	Group              string        // fallback stream consumer group
	Consumer           string        // fallback stream consumer name
}

func (o Options) withDefaults() Options {
	if o.FlushInterval <= 0 {
		o.FlushInterval = 5 * time.Second
	}
	if o.DrainInterval <= 0 {
		o.DrainInterval = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.FlushSizeThreshold <= 0 {
		o.FlushSizeThreshold = 10000
	}
	return o
}

// Worker owns one consumer's ingestion pipeline.
type Worker struct {
	source   Source
	agg      AggBuffer
	store    ClickStore
	olap     AnalyticsSink  // may be nil
	cache    CacheWriter    // may be nil
	fallback FallbackStream // may be nil
	opts     Options
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// flushMu serializes interval flushes with threshold-triggered ones.
	flushMu sync.Mutex
}

// NewWorker wires the pipeline. olap, cache, and fallback may be nil; logger
// may be nil.
func NewWorker(source Source, agg AggBuffer, store ClickStore, olap AnalyticsSink, cache CacheWriter, fallback FallbackStream, opts Options, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		source:   source,
		agg:      agg,
		store:    store,
		olap:     olap,
		cache:    cache,
		fallback: fallback,
		opts:     opts.withDefaults(),
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the consume, flush, and drain loops.
func (w *Worker) Start() error {
	if w.fallback != nil {
		if err := w.fallback.EnsureFallbackGroup(w.ctx, w.opts.Group); err != nil {
			return err
		}
	}
	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()
	if w.fallback != nil {
		w.wg.Add(1)
		go w.drainLoop()
	}
	return nil
}

// Stop halts the loops and runs one final flush so a clean shutdown leaves
// nothing pending in the hash.
func (w *Worker) Stop() {
	w.cancel()
	w.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := w.Flush(ctx); err != nil {
		w.logger.Error("final flush failed, deltas remain in the aggregation hash", zap.Error(err))
	}
}

func (w *Worker) consumeLoop() {
	defer w.wg.Done()
	for {
		if w.ctx.Err() != nil {
			return
		}
		events, err := w.source.Poll(w.ctx, w.opts.BatchSize)
		if err != nil {
			if w.ctx.Err() != nil {
				return
			}
			w.logger.Warn("poll failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		if len(events) == 0 {
			continue
		}
		counts := aggregate(events)
		if len(counts) == 0 {
			continue
		}
		if err := w.applyWithRetry(w.ctx, counts); err != nil {
			return
		}
		telemetry.IngestEvents.Add(float64(len(events)))
		if err := w.source.Commit(w.ctx); err != nil && w.ctx.Err() == nil {
			// Deltas are staged; the replay after this is double-counted.
			// At-least-once is the contract.
			w.logger.Warn("offset commit failed", zap.Error(err))
		}
		w.maybeEarlyFlush()
	}
}

// applyWithRetry holds one polled batch's deltas in memory until the
// aggregation hash accepts them. Consumption stalls during a Redis outage
// instead of advancing: the offsets behind these events are committed only
// after the apply lands, so a dropped batch cannot slip past a later commit.
// Returns only on success or context cancellation.
func (w *Worker) applyWithRetry(ctx context.Context, counts map[string]int64) error {
	backoff := 100 * time.Millisecond
	for {
		err := w.agg.Apply(ctx, counts)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Warn("apply to aggregation hash failed, retrying",
			zap.Duration("backoff", backoff), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 5*time.Second {
			backoff *= 2
		}
	}
}

func (w *Worker) maybeEarlyFlush() {
	size, err := w.agg.Size(w.ctx)
	if err != nil || size < w.opts.FlushSizeThreshold {
		return
	}
	if err := w.Flush(w.ctx); err != nil && w.ctx.Err() == nil {
		w.logger.Error("threshold flush failed", zap.Error(err))
	}
}

func (w *Worker) flushLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.Flush(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logger.Error("flush failed", zap.Error(err))
			}
		}
	}
}

func (w *Worker) drainLoop() {
	defer w.wg.Done()
	ticker := time.NewTicker(w.opts.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.drainFallback(w.ctx); err != nil && w.ctx.Err() == nil {
				w.logger.Warn("fallback drain failed", zap.Error(err))
			}
		}
	}
}

// drainFallback moves stream entries into the aggregation hash and acks them.
// An ack failure after a successful apply double-counts on redelivery, which
// at-least-once allows.
func (w *Worker) drainFallback(ctx context.Context) error {
	entries, err := w.fallback.ReadFallback(ctx, w.opts.Group, w.opts.Consumer, int64(w.opts.BatchSize))
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	counts := make(map[string]int64, len(entries))
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		counts[e.Event.ShortCode] += e.Event.Delta
		ids = append(ids, e.ID)
	}
	if err := w.agg.Apply(ctx, counts); err != nil {
		return err
	}
	telemetry.FallbackDrained.Add(float64(len(entries)))
	return w.fallback.AckFallback(ctx, w.opts.Group, ids...)
}

// Flush drains the aggregation hash, applies the deltas to Postgres in one
// batch, writes the fresh totals back to the cache, and appends the rows to
// ClickHouse. An OLTP failure restages the deltas; an OLAP or cache failure
// is tolerated.
func (w *Worker) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	counts, err := w.agg.Drain(ctx)
	if err != nil {
		return err
	}
	if len(counts) == 0 {
		return nil
	}
	start := time.Now()

	updated, err := w.store.AddClicks(ctx, counts)
	if err != nil {
		// Put the deltas back so the next flush retries them.
		if rerr := w.agg.Apply(ctx, counts); rerr != nil {
			w.logger.Error("restage after failed flush also failed, deltas lost",
				zap.Int("codes", len(counts)), zap.Error(rerr))
		}
		return err
	}

	if w.cache != nil {
		for code, u := range updated {
			if err := w.cache.WriteBack(ctx, u, counts[code]); err != nil {
				w.logger.Warn("cache write-back failed", zap.String("short_code", code), zap.Error(err))
			}
		}
	}

	if w.olap != nil {
		applied := make(map[string]int64, len(updated))
		for code := range updated {
			applied[code] = counts[code]
		}
		if err := w.olap.AppendClicks(ctx, applied); err != nil {
			w.logger.Warn("olap append failed, analytics undercounts this flush", zap.Error(err))
		}
	}

	telemetry.FlushRows.Add(float64(len(updated)))
	telemetry.FlushDuration.Observe(time.Since(start).Seconds())
	return nil
}

func aggregate(events []shortly.ClickEvent) map[string]int64 {
	counts := make(map[string]int64, len(events))
	for _, ev := range events {
		if ev.Validate() != nil {
			telemetry.IngestInvalid.Inc()
			continue
		}
		counts[ev.ShortCode] += ev.Delta
	}
	return counts
}
