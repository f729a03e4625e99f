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

// Package allocator vends disjoint integer ranges from a persisted counter.
// One atomic INCRBY per allocation; the counter KV must run with append-only
// persistence so every handed-out range survives a restart. Ranges are never
// reclaimed — gaps are permitted and expected.
package allocator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"shortly/internal/shortener/telemetry"
)

// MaxBlockSize caps one allocation. Large enough for any sane edge block,
// small enough that a buggy caller cannot burn the id space.
const MaxBlockSize = 1_000_000

var (
	// ErrInvalidSize rejects size <= 0 or size > MaxBlockSize.
	ErrInvalidSize = errors.New("allocator: invalid block size")

	// ErrUnavailable means both the primary and secondary counter KVs failed.
	ErrUnavailable = errors.New("allocator: no counter kv reachable")
)

// Incrementer is the minimal counter surface. Implementations wrap
// github.com/redis/go-redis/v9 (IncrBy) or any KV with an atomic
// increment-and-get.
type Incrementer interface {
	IncrBy(ctx context.Context, key string, n int64) (int64, error)
}

// RangeAllocator allocates from a primary Incrementer and fails over to a
// secondary. The two counters are independent: the operator must seed the
// secondary's counter strictly above anything the primary can ever reach
// (e.g. primary starts at 0, secondary at 2^40), otherwise ranges could
// repeat after a failover. The allocator does not verify this.
type RangeAllocator struct {
	primary   Incrementer
	secondary Incrementer // may be nil
	key       string
	logger    *zap.Logger
}

// New returns an allocator over the given counters. secondary may be nil,
// which disables failover. key is the namespaced counter key
// (id_allocator:<ns>).
func New(primary, secondary Incrementer, key string, logger *zap.Logger) *RangeAllocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RangeAllocator{primary: primary, secondary: secondary, key: key, logger: logger}
}

// Allocate reserves size consecutive integers and returns the inclusive
// range. Ranges returned to concurrent callers never overlap: the INCRBY is
// atomic, so each caller observes a distinct post-increment value.
func (a *RangeAllocator) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	if size <= 0 || size > MaxBlockSize {
		return 0, 0, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	end, err := a.primary.IncrBy(ctx, a.key, size)
	if err != nil {
		if a.secondary == nil {
			return 0, 0, fmt.Errorf("%w: primary: %v", ErrUnavailable, err)
		}
		a.logger.Warn("primary counter kv failed, failing over", zap.Error(err))
		telemetry.AllocatorFailovers.Inc()
		end, err = a.secondary.IncrBy(ctx, a.key, size)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: secondary: %v", ErrUnavailable, err)
		}
	}
	telemetry.Allocations.Inc()
	return end - size + 1, end, nil
}
