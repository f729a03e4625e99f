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

package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/telemetry"
)

// Redirect resolves a short code to its original URL. Cache first; on miss
// one populator per code reads Postgres and repopulates while everyone else
// polls the cache. Click accounting runs detached and can never fail the
// redirect.
func (s *Service) Redirect(ctx context.Context, code string) (string, error) {
	if !shortly.ValidCode(code) {
		return "", ErrNotFound
	}

	u, err := s.cache.Lookup(ctx, code)
	switch {
	case err == nil:
		telemetry.CacheHits.Inc()
	case errors.Is(err, ErrNotFound):
		return "", ErrNotFound
	case errors.Is(err, ErrCacheMiss):
		telemetry.CacheMisses.Inc()
		u, err = s.populateCoalesced(ctx, code)
	default:
		// Cache degraded; Postgres can still serve.
		s.logger.Warn("cache lookup failed", zap.String("short_code", code), zap.Error(err))
		u, err = s.populateCoalesced(ctx, code)
	}
	if err != nil {
		return "", err
	}

	s.trackClick(code)
	telemetry.Redirects.Inc()
	return u.OriginalURL, nil
}

// populateCoalesced funnels concurrent misses for one code through a single
// in-process populate call.
func (s *Service) populateCoalesced(ctx context.Context, code string) (*shortly.URL, error) {
	v, err, _ := s.flight.Do(code, func() (interface{}, error) {
		return s.populate(ctx, code)
	})
	if err != nil {
		return nil, err
	}
	return v.(*shortly.URL), nil
}

// populate implements the cross-process singleflight protocol: take the
// lock:<code> key; losers poll the cache while the winner reads Postgres and
// writes the entry back. If the winner crashed, pollers fall through to
// Postgres themselves once the polling budget is spent — the lock TTL is the
// safety net against a stuck key.
func (s *Service) populate(ctx context.Context, code string) (*shortly.URL, error) {
	acquired, err := s.cache.AcquireLock(ctx, code)
	if err != nil {
		s.logger.Warn("lock acquire failed", zap.String("short_code", code), zap.Error(err))
		acquired = false
	}
	if acquired {
		defer func() {
			if err := s.cache.ReleaseLock(context.WithoutCancel(ctx), code); err != nil {
				s.logger.Debug("lock release failed", zap.String("short_code", code), zap.Error(err))
			}
		}()
	} else {
		if u, err := s.pollCache(ctx, code); err == nil {
			return u, nil
		} else if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
	}

	u, err := s.store.GetByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		if cerr := s.cache.SetNotFound(ctx, code); cerr != nil {
			s.logger.Debug("negative cache write failed", zap.String("short_code", code), zap.Error(cerr))
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: oltp read: %v", ErrUnavailable, err)
	}
	if cerr := s.cache.SetURL(ctx, u); cerr != nil {
		s.logger.Warn("cache repopulate failed", zap.String("short_code", code), zap.Error(cerr))
	}
	return u, nil
}

// pollCache waits for the lock holder to publish the entry. Returns
// ErrCacheMiss when the budget is spent without the entry appearing.
func (s *Service) pollCache(ctx context.Context, code string) (*shortly.URL, error) {
	for i := 0; i < s.opts.LockPollAttempts; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.opts.LockPollInterval):
		}
		u, err := s.cache.Lookup(ctx, code)
		if err == nil {
			return u, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
	}
	return nil, ErrCacheMiss
}

// trackClick records one click off the request path: bump the near-real-time
// buffer, publish to the broker (the publisher falls back to the Redis stream
// on its own), and feed the warmer's hot set. Runs on a background context so
// request cancellation cannot drop the event.
func (s *Service) trackClick(code string) {
	s.clickWG.Add(1)
	go func() {
		defer s.clickWG.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ClickTimeout)
		defer cancel()

		if err := s.cache.IncrClickBuffer(ctx, code); err != nil {
			s.logger.Debug("click buffer incr failed", zap.String("short_code", code), zap.Error(err))
		}
		if err := s.publisher.PublishClick(ctx, code, 1); err != nil {
			s.logger.Warn("click publish failed", zap.String("short_code", code), zap.Error(err))
		}
		if err := s.cache.TouchHotScore(ctx, code); err != nil {
			s.logger.Debug("hot score update failed", zap.String("short_code", code), zap.Error(err))
		}
	}()
}
