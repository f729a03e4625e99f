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

import "errors"

var (
	// ErrNotFound is returned for unknown short codes, including ones served
	// from the negative cache.
	ErrNotFound = errors.New("short code not found")

	// ErrCacheMiss is returned by UrlCache.Lookup when the key is absent.
	// Internal to the lookup protocol; it never reaches API callers.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCodeTaken is returned by UrlStore.Insert on a unique-constraint
	// violation for short_code.
	ErrCodeTaken = errors.New("short code already taken")

	// ErrCustomCodeTaken is the caller-facing form of ErrCodeTaken on the
	// custom-code path (409).
	ErrCustomCodeTaken = errors.New("custom code already taken")

	// ErrExhausted means the generated-code path collided past its retry
	// budget, which indicates allocator misuse.
	ErrExhausted = errors.New("short code generation exhausted")

	// ErrInvalidURL rejects shorten requests without a usable http(s) URL.
	ErrInvalidURL = errors.New("invalid original url")

	// ErrInvalidCode rejects custom codes outside base62 or the length bound.
	ErrInvalidCode = errors.New("invalid custom code")

	// ErrAllocatorUnavailable means a mint refill failed on every path.
	ErrAllocatorUnavailable = errors.New("id allocator unavailable")

	// ErrUnavailable is the degraded-mode error: the request could not be
	// served from cache or from Postgres.
	ErrUnavailable = errors.New("service unavailable")
)
