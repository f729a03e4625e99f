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

// Package core implements the shorten and redirect paths of the URL
// shortener. It is written against four capability interfaces (store, cache,
// click publisher, code minter) so the serving logic can be exercised with
// in-memory fakes; the concrete adapters live in the persistence package.
package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"shortly"
)

// UrlStore is the authoritative OLTP surface the edge needs.
type UrlStore interface {
	// Insert stores a new record. Returns ErrCodeTaken when the short code
	// already exists.
	Insert(ctx context.Context, u *shortly.URL) error
	// GetByCode returns ErrNotFound for unknown codes.
	GetByCode(ctx context.Context, code string) (*shortly.URL, error)
}

// UrlCache is the Redis-backed cache surface. Lookup reads the replica;
// everything else writes the primary.
type UrlCache interface {
	// Lookup returns ErrCacheMiss when the key is absent and ErrNotFound when
	// a negative marker is cached.
	Lookup(ctx context.Context, code string) (*shortly.URL, error)
	// SetURL writes a complete snapshot under url:<code> with jittered TTL.
	SetURL(ctx context.Context, u *shortly.URL) error
	// SetNotFound writes a short-lived negative marker.
	SetNotFound(ctx context.Context, code string) error
	// AcquireLock takes the singleflight lock lock:<code>. False means another
	// instance holds it.
	AcquireLock(ctx context.Context, code string) (bool, error)
	ReleaseLock(ctx context.Context, code string) error
	// IncrClickBuffer bumps click_buffer:<code>, arming its TTL on first use.
	IncrClickBuffer(ctx context.Context, code string) error
	ClickBufferValue(ctx context.Context, code string) (int64, error)
	// TouchHotScore bumps the hot_urls score for the warmer.
	TouchHotScore(ctx context.Context, code string) error
}

// ClickPublisher emits click events keyed by short code. Implementations own
// their fallback behavior; a returned error means the event is lost.
type ClickPublisher interface {
	PublishClick(ctx context.Context, code string, delta int64) error
}

// CodeMinter vends globally unique ids with their base62 codes. Safe for
// concurrent use.
type CodeMinter interface {
	NextCode(ctx context.Context) (id int64, code string, err error)
}

// Options tunes the serving paths. Zero values are replaced with the defaults
// noted on each field.
type Options struct {
	InsertRetries    int           // collision retries on the generated-code path; default 3
	LockPollAttempts int           // cache polls while another instance populates; default 5
	LockPollInterval time.Duration // default 50ms
	ClickTimeout     time.Duration // per-redirect budget for click accounting; default 2s
}

func (o Options) withDefaults() Options {
	if o.InsertRetries <= 0 {
		o.InsertRetries = 3
	}
	if o.LockPollAttempts <= 0 {
		o.LockPollAttempts = 5
	}
	if o.LockPollInterval <= 0 {
		o.LockPollInterval = 50 * time.Millisecond
	}
	if o.ClickTimeout <= 0 {
		o.ClickTimeout = 2 * time.Second
	}
	return o
}

// Service is the edge's serving logic.
type Service struct {
	store     UrlStore
	cache     UrlCache
	publisher ClickPublisher
	minter    CodeMinter
	logger    *zap.Logger
	opts      Options

	// flight coalesces concurrent misses for one code within this process;
	// the cache lock does the same across processes.
	flight singleflight.Group

	clickWG sync.WaitGroup
}

// NewService wires the serving logic. logger may be nil.
func NewService(store UrlStore, cache UrlCache, publisher ClickPublisher, minter CodeMinter, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		cache:     cache,
		publisher: publisher,
		minter:    minter,
		logger:    logger,
		opts:      opts.withDefaults(),
	}
}

// Close waits for in-flight click accounting to finish. Call during shutdown
// after the HTTP server has drained.
func (s *Service) Close() {
	s.clickWG.Wait()
}
