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
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

// GoRedisIncrementer is the production Incrementer over
// github.com/redis/go-redis/v9. The target Redis must have AOF enabled
// (appendonly yes, appendfsync everysec or stricter): a lost increment is a
// reused range.
type GoRedisIncrementer struct{ c *redis.Client }

// NewGoRedisIncrementer builds an incrementer from a redis URL
// (redis://host:port/db).
func NewGoRedisIncrementer(rawURL string) (*GoRedisIncrementer, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("allocator kv url: %w", err)
	}
	return &GoRedisIncrementer{c: redis.NewClient(opt)}, nil
}

func (g *GoRedisIncrementer) IncrBy(ctx context.Context, key string, n int64) (int64, error) {
	return g.c.IncrBy(ctx, key, n).Result()
}

// Ping reports counter reachability for the health endpoint.
func (g *GoRedisIncrementer) Ping(ctx context.Context) error {
	return g.c.Ping(ctx).Err()
}

// Close releases the underlying client.
func (g *GoRedisIncrementer) Close() error { return g.c.Close() }
