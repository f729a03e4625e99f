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

package allocator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client calls a remote allocator service over HTTP. It satisfies the edge
// minter's RangeSource.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a client against baseURL (scheme://host:port, no trailing
// slash required).
func NewClient(baseURL string) *Client {
	for len(baseURL) > 0 && baseURL[len(baseURL)-1] == '/' {
		baseURL = baseURL[:len(baseURL)-1]
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

// Allocate requests a block of size consecutive ids and returns the inclusive
// range.
func (c *Client) Allocate(ctx context.Context, size int64) (int64, int64, error) {
	body, err := json.Marshal(AllocateRequest{Size: size})
	if err != nil {
		return 0, 0, fmt.Errorf("encode allocate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/allocate", bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("build allocate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, fmt.Errorf("allocator request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, 0, fmt.Errorf("allocator returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out AllocateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, 0, fmt.Errorf("decode allocate response: %w", err)
	}
	if out.Start <= 0 || out.End < out.Start {
		return 0, 0, fmt.Errorf("allocator returned bad range [%d, %d]", out.Start, out.End)
	}
	return out.Start, out.End, nil
}
