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

// Package keygen mints short codes at the edge. Each process holds one
// allocator-vended integer block and hands out ids locally, so the common
// case is a mutex and an increment with no network round-trip.
package keygen

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/core"
)

// RangeSource vends disjoint integer blocks. Implemented by the allocator
// HTTP client and by the direct-KV allocator.
type RangeSource interface {
	Allocate(ctx context.Context, size int64) (start, end int64, err error)
}

// Minter implements core.CodeMinter over a RangeSource.
type Minter struct {
	source    RangeSource
	fallback  RangeSource // optional; tried when source fails
	blockSize int64
	logger    *zap.Logger

	mu   sync.Mutex
	next int64
	end  int64 // inclusive; next > end means the block is spent
}

// NewMinter returns a minter with an empty block; the first NextCode triggers
// a refill. fallback may be nil.
func NewMinter(source, fallback RangeSource, blockSize int64, logger *zap.Logger) *Minter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Minter{
		source:    source,
		fallback:  fallback,
		blockSize: blockSize,
		logger:    logger,
		next:      1,
		end:       0,
	}
}

// NextCode vends the next id and its base62 code. Concurrent callers during a
// refill wait on the mutex; a failed refill surfaces as
// core.ErrAllocatorUnavailable (a 5xx on the shorten path).
func (m *Minter) NextCode(ctx context.Context) (int64, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.next > m.end {
		if err := m.refillLocked(ctx); err != nil {
			return 0, "", err
		}
	}
	id := m.next
	m.next++
	code, err := shortly.EncodeID(id)
	if err != nil {
		return 0, "", fmt.Errorf("mint code for id %d: %w", id, err)
	}
	return id, code, nil
}

func (m *Minter) refillLocked(ctx context.Context) error {
	start, end, err := m.source.Allocate(ctx, m.blockSize)
	if err != nil && m.fallback != nil {
		m.logger.Warn("allocator refill failed, trying direct KV fallback", zap.Error(err))
		start, end, err = m.fallback.Allocate(ctx, m.blockSize)
	}
	if err != nil {
		return fmt.Errorf("%w: refill: %v", core.ErrAllocatorUnavailable, err)
	}
	if start <= 0 || end < start {
		return fmt.Errorf("%w: refill returned bad range [%d, %d]", core.ErrAllocatorUnavailable, start, end)
	}
	m.next, m.end = start, end
	m.logger.Info("refilled id block", zap.Int64("start", start), zap.Int64("end", end))
	return nil
}

// Remaining reports how many ids are left in the current block. Diagnostics
// only.
func (m *Minter) Remaining() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next > m.end {
		return 0
	}
	return m.end - m.next + 1
}
