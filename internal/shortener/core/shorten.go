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
	"net/url"
	"time"

	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/telemetry"
)

// Shorten creates a record for originalURL. With a custom code it fails with
// ErrCustomCodeTaken on conflict; with a generated code it trusts the
// allocator for uniqueness and keeps a small collision-retry budget as
// defense in depth only.
func (s *Service) Shorten(ctx context.Context, originalURL, customCode string) (*shortly.URL, error) {
	if err := validateOriginalURL(originalURL); err != nil {
		return nil, err
	}
	if customCode != "" {
		return s.shortenCustom(ctx, originalURL, customCode)
	}
	return s.shortenGenerated(ctx, originalURL)
}

func (s *Service) shortenCustom(ctx context.Context, originalURL, customCode string) (*shortly.URL, error) {
	if !shortly.ValidCode(customCode) {
		return nil, ErrInvalidCode
	}
	// Custom codes still consume an allocated id for the primary key.
	id, _, err := s.minter.NextCode(ctx)
	if err != nil {
		return nil, err
	}
	u := newRecord(id, customCode, originalURL)
	if err := s.store.Insert(ctx, u); err != nil {
		if errors.Is(err, ErrCodeTaken) {
			return nil, ErrCustomCodeTaken
		}
		return nil, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
	}
	s.writeThrough(ctx, u)
	telemetry.Shortens.Inc()
	return u, nil
}

func (s *Service) shortenGenerated(ctx context.Context, originalURL string) (*shortly.URL, error) {
	for attempt := 0; attempt < s.opts.InsertRetries; attempt++ {
		id, code, err := s.minter.NextCode(ctx)
		if err != nil {
			return nil, err
		}
		u := newRecord(id, code, originalURL)
		err = s.store.Insert(ctx, u)
		if errors.Is(err, ErrCodeTaken) {
			// Should never happen with a healthy allocator.
			s.logger.Warn("generated code collided, retrying",
				zap.String("short_code", code), zap.Int64("id", id))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: insert: %v", ErrUnavailable, err)
		}
		s.writeThrough(ctx, u)
		telemetry.Shortens.Inc()
		return u, nil
	}
	return nil, ErrExhausted
}

// writeThrough populates the cache after a successful insert. Best effort:
// the next redirect self-heals a missing entry.
func (s *Service) writeThrough(ctx context.Context, u *shortly.URL) {
	if err := s.cache.SetURL(ctx, u); err != nil {
		s.logger.Warn("cache write-through failed",
			zap.String("short_code", u.ShortCode), zap.Error(err))
	}
}

func newRecord(id int64, code, originalURL string) *shortly.URL {
	now := time.Now().UTC()
	return &shortly.URL{
		ID:          id,
		ShortCode:   code,
		OriginalURL: originalURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func validateOriginalURL(raw string) error {
	if raw == "" {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return ErrInvalidURL
	}
	return nil
}
