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

// Package shortly holds the shared contracts of the URL shortener: the URL
// record as it travels between Postgres, the Redis cache, and the warmer, and
// the click event as it travels over Kafka and the Redis fallback stream.
//
// Everything else in the repository depends on this package; it depends on
// nothing but the standard library.
package shortly

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MaxCodeLength bounds short codes, including custom ones. Matches the
// VARCHAR(12) column in the urls table.
const MaxCodeLength = 12

// URL is the authoritative record for one shortened link. The cached form
// under url:<short_code> is the JSON serialization of this struct, so a cache
// hit is a complete snapshot and never needs the Postgres row.
type URL struct {
	ID          int64     `json:"id"`
	ShortCode   string    `json:"short_code"`
	OriginalURL string    `json:"original_url"`
	Clicks      int64     `json:"clicks"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MarshalCache serializes the record for storage under url:<short_code>.
// Timestamps are normalized to UTC so cached payloads are byte-stable across
// edges in different zones.
func (u *URL) MarshalCache() ([]byte, error) {
	c := *u
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return json.Marshal(&c)
}

// UnmarshalCache is the inverse of MarshalCache.
func UnmarshalCache(b []byte) (*URL, error) {
	var u URL
	if err := json.Unmarshal(b, &u); err != nil {
		return nil, fmt.Errorf("decode cached url: %w", err)
	}
	return &u, nil
}

// ClickEvent is one click, as published to the click_events topic (message
// key = ShortCode, so all clicks for one code land on one partition) and as
// appended to the Redis fallback stream when the broker is unreachable.
type ClickEvent struct {
	ShortCode string `json:"short_code"`
	Delta     int64  `json:"delta"`
}

// Validate enforces the wire contract. Consumers skip invalid events rather
// than crash on them.
func (e ClickEvent) Validate() error {
	if e.ShortCode == "" {
		return errors.New("click event: empty short_code")
	}
	if len(e.ShortCode) > MaxCodeLength {
		return fmt.Errorf("click event: short_code %q exceeds %d chars", e.ShortCode, MaxCodeLength)
	}
	if e.Delta < 1 {
		return fmt.Errorf("click event: delta %d < 1", e.Delta)
	}
	return nil
}

// EncodeClickEvent serializes an event for the broker or the fallback stream.
func EncodeClickEvent(e ClickEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// DecodeClickEvent parses and validates a wire payload.
func DecodeClickEvent(b []byte) (ClickEvent, error) {
	var e ClickEvent
	if err := json.Unmarshal(b, &e); err != nil {
		return ClickEvent{}, fmt.Errorf("decode click event: %w", err)
	}
	if err := e.Validate(); err != nil {
		return ClickEvent{}, err
	}
	return e, nil
}
