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

// Package persistence holds the concrete adapters behind the core and ingest
// interfaces: Redis for the cache and click plumbing, Postgres for the
// authoritative rows, Kafka for click transport, ClickHouse for analytics.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	redis "github.com/redis/go-redis/v9"

	"shortly"
	"shortly/internal/shortener/core"
)

const (
	// notFoundMarker is cached under url:<code> for codes Postgres does not
	// know, so a miss storm on a bogus code costs one OLTP read per TTL.
	notFoundMarker = "__notfound__"

	hotSetKey = "hot_urls"
)

func urlKey(code string) string         { return "url:" + code }
func lockKey(code string) string        { return "lock:" + code }
func clickBufferKey(code string) string { return "click_buffer:" + code }

// NewRedisClient builds a client from a redis URL (redis://host:port/db).
func NewRedisClient(rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("redis url: %w", err)
	}
	return redis.NewClient(opt), nil
}

// CacheOptions tunes TTLs and key lifetimes. Zero values take the defaults
// noted on each field.
type CacheOptions struct {
	TTL            time.Duration // url:<code> base TTL; default 1h
	NegativeTTL    time.Duration // not-found marker; default 30s
	LockTTL        time.Duration // lock:<code>; default 5s
	ClickBufferTTL time.Duration // click_buffer:<code>; default 5m
	HotSetTTL      time.Duration // hot_urls; default 1h
}

func (o CacheOptions) withDefaults() CacheOptions {
	if o.TTL <= 0 {
		o.TTL = time.Hour
	}
	if o.NegativeTTL <= 0 {
		o.NegativeTTL = 30 * time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Second
	}
	if o.ClickBufferTTL <= 0 {
		o.ClickBufferTTL = 5 * time.Minute
	}
	if o.HotSetTTL <= 0 {
		o.HotSetTTL = time.Hour
	}
	return o
}

// Cache implements core.UrlCache over go-redis. Reads go to the replica
// client, writes to the primary; pass the same client twice when there is no
// replica.
type Cache struct {
	primary *redis.Client
	replica *redis.Client
	opts    CacheOptions
}

// NewCache wires the cache. replica may be nil, in which case reads use the
// primary.
func NewCache(primary, replica *redis.Client, opts CacheOptions) *Cache {
	if replica == nil {
		replica = primary
	}
	return &Cache{primary: primary, replica: replica, opts: opts.withDefaults()}
}

// jitteredTTL spreads expiry by ±20% so a warm batch does not expire as one
// thundering herd.
func (c *Cache) jitteredTTL() time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(c.opts.TTL) * f)
}

func (c *Cache) Lookup(ctx context.Context, code string) (*shortly.URL, error) {
	raw, err := c.replica.Get(ctx, urlKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, core.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache lookup %q: %w", code, err)
	}
	if string(raw) == notFoundMarker {
		return nil, core.ErrNotFound
	}
	u, err := shortly.UnmarshalCache(raw)
	if err != nil {
		// A corrupt entry reads as a miss; the populate path overwrites it.
		return nil, core.ErrCacheMiss
	}
	return u, nil
}

func (c *Cache) SetURL(ctx context.Context, u *shortly.URL) error {
	raw, err := u.MarshalCache()
	if err != nil {
		return err
	}
	return c.primary.Set(ctx, urlKey(u.ShortCode), raw, c.jitteredTTL()).Err()
}

func (c *Cache) SetNotFound(ctx context.Context, code string) error {
	return c.primary.Set(ctx, urlKey(code), notFoundMarker, c.opts.NegativeTTL).Err()
}

func (c *Cache) AcquireLock(ctx context.Context, code string) (bool, error) {
	return c.primary.SetNX(ctx, lockKey(code), "1", c.opts.LockTTL).Result()
}

func (c *Cache) ReleaseLock(ctx context.Context, code string) error {
	return c.primary.Del(ctx, lockKey(code)).Err()
}

// IncrClickBuffer bumps the live counter read by the stats endpoint. The TTL
// is armed on first increment and re-armed by the flush write-back, so an
// abandoned buffer ages out on its own.
func (c *Cache) IncrClickBuffer(ctx context.Context, code string) error {
	n, err := c.primary.Incr(ctx, clickBufferKey(code)).Result()
	if err != nil {
		return err
	}
	if n == 1 {
		return c.primary.Expire(ctx, clickBufferKey(code), c.opts.ClickBufferTTL).Err()
	}
	return nil
}

func (c *Cache) ClickBufferValue(ctx context.Context, code string) (int64, error) {
	n, err := c.replica.Get(ctx, clickBufferKey(code)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (c *Cache) TouchHotScore(ctx context.Context, code string) error {
	if err := c.primary.ZIncrBy(ctx, hotSetKey, 1, code).Err(); err != nil {
		return err
	}
	return c.primary.Expire(ctx, hotSetKey, c.opts.HotSetTTL).Err()
}

// HotCodes returns the top n codes by recent click score, hottest first.
func (c *Cache) HotCodes(ctx context.Context, n int64) ([]string, error) {
	return c.replica.ZRevRange(ctx, hotSetKey, 0, n-1).Result()
}

// WarmBatch writes a batch of records in one pipeline, each with its own
// jittered TTL.
func (c *Cache) WarmBatch(ctx context.Context, urls []*shortly.URL) error {
	if len(urls) == 0 {
		return nil
	}
	pipe := c.primary.Pipeline()
	for _, u := range urls {
		raw, err := u.MarshalCache()
		if err != nil {
			return fmt.Errorf("warm %q: %w", u.ShortCode, err)
		}
		pipe.Set(ctx, urlKey(u.ShortCode), raw, c.jitteredTTL())
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Ping reports primary reachability for health endpoints.
func (c *Cache) Ping(ctx context.Context) error {
	return c.primary.Ping(ctx).Err()
}
