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

package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shortly"
)

// Aggregator is the ingestion worker's Redis surface: the per-consumer
// aggregation hash that makes a worker crash lose at most one flush interval,
// the fallback stream that catches clicks when the broker is down, and the
// cache write-back that keeps redirects serving fresh counts.
type Aggregator struct {
	c *redis.Client

	// aggKey is agg:<consumer>. Each worker owns its own hash so two workers
	// never drain each other's pending deltas.
	aggKey string

	fallbackStream string
	fallbackMaxLen int64
	bufferTTL      time.Duration
}

// NewAggregator wires the ingestion-side Redis surface for one consumer.
func NewAggregator(c *redis.Client, consumer, fallbackStream string, fallbackMaxLen int64, bufferTTL time.Duration) *Aggregator {
	if bufferTTL <= 0 {
		bufferTTL = 5 * time.Minute
	}
	return &Aggregator{
		c:              c,
		aggKey:         "agg:" + consumer,
		fallbackStream: fallbackStream,
		fallbackMaxLen: fallbackMaxLen,
		bufferTTL:      bufferTTL,
	}
}

// Apply merges a batch of deltas into the aggregation hash in one pipeline.
func (a *Aggregator) Apply(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	pipe := a.c.Pipeline()
	for code, delta := range counts {
		pipe.HIncrBy(ctx, a.aggKey, code, delta)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("apply %d deltas: %w", len(counts), err)
	}
	return nil
}

// Drain atomically reads and clears the aggregation hash. HGETALL and DEL run
// in one transaction so a delta is either returned to exactly one caller or
// still pending, never both.
func (a *Aggregator) Drain(ctx context.Context) (map[string]int64, error) {
	var read *redis.MapStringStringCmd
	_, err := a.c.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		read = pipe.HGetAll(ctx, a.aggKey)
		pipe.Del(ctx, a.aggKey)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("drain %s: %w", a.aggKey, err)
	}
	raw := read.Val()
	out := make(map[string]int64, len(raw))
	for code, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n == 0 {
			continue
		}
		out[code] = n
	}
	return out, nil
}

// Size reports how many codes are pending in the hash.
func (a *Aggregator) Size(ctx context.Context) (int64, error) {
	return a.c.HLen(ctx, a.aggKey).Result()
}

// WriteBack refreshes the cached record with the post-flush click total and
// retires the flushed delta from the live buffer. The cached JSON keeps its
// remaining TTL; a redirect racing this write sees either the old or the new
// snapshot, both valid.
func (a *Aggregator) WriteBack(ctx context.Context, u *shortly.URL, flushedDelta int64) error {
	raw, err := u.MarshalCache()
	if err != nil {
		return err
	}
	// XX + KEEPTTL: refresh only an entry that still exists, preserving its
	// remaining TTL. A plain SET KEEPTTL on an expired key would recreate it
	// without any TTL; skipping instead lets the next redirect repopulate
	// with a fresh jittered expiry.
	err = a.c.SetArgs(ctx, urlKey(u.ShortCode), raw, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("write back %q: %w", u.ShortCode, err)
	}
	left, err := a.c.DecrBy(ctx, clickBufferKey(u.ShortCode), flushedDelta).Result()
	if err != nil {
		return fmt.Errorf("retire buffer %q: %w", u.ShortCode, err)
	}
	if left <= 0 {
		return a.c.Del(ctx, clickBufferKey(u.ShortCode)).Err()
	}
	return a.c.Expire(ctx, clickBufferKey(u.ShortCode), a.bufferTTL).Err()
}

// PublishFallback appends a click to the capped fallback stream. Called by
// the publisher when the broker rejects or times out.
func (a *Aggregator) PublishFallback(ctx context.Context, ev shortly.ClickEvent) error {
	payload, err := shortly.EncodeClickEvent(ev)
	if err != nil {
		return err
	}
	return a.c.XAdd(ctx, &redis.XAddArgs{
		Stream: a.fallbackStream,
		MaxLen: a.fallbackMaxLen,
		Approx: true,
		Values: map[string]interface{}{"event": payload},
	}).Err()
}

// EnsureFallbackGroup creates the consumer group, tolerating a concurrent
// creator.
func (a *Aggregator) EnsureFallbackGroup(ctx context.Context, group string) error {
	err := a.c.XGroupCreateMkStream(ctx, a.fallbackStream, group, "0").Err()
	if err != nil && strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return err
}

// FallbackEntry is one stream entry pending acknowledgment.
type FallbackEntry struct {
	ID    string
	Event shortly.ClickEvent
}

// ReadFallback fetches up to count unacknowledged entries for this consumer
// without blocking. Entries whose payload fails validation are acked and
// dropped here; they would never flush.
func (a *Aggregator) ReadFallback(ctx context.Context, group, consumer string, count int64) ([]FallbackEntry, error) {
	streams, err := a.c.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{a.fallbackStream, ">"},
		Count:    count,
		Block:    -1,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fallback stream: %w", err)
	}
	var out []FallbackEntry
	var badIDs []string
	for _, s := range streams {
		for _, msg := range s.Messages {
			payload, _ := msg.Values["event"].(string)
			ev, err := shortly.DecodeClickEvent([]byte(payload))
			if err != nil {
				badIDs = append(badIDs, msg.ID)
				continue
			}
			out = append(out, FallbackEntry{ID: msg.ID, Event: ev})
		}
	}
	if len(badIDs) > 0 {
		_ = a.c.XAck(ctx, a.fallbackStream, group, badIDs...).Err()
	}
	return out, nil
}

// AckFallback acknowledges drained entries after their deltas reach the
// aggregation hash.
func (a *Aggregator) AckFallback(ctx context.Context, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return a.c.XAck(ctx, a.fallbackStream, group, ids...).Err()
}
