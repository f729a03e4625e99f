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

// Package config loads the deployment configuration for every shortly binary
// from the environment. All processes share one Config shape; each binary
// reads the fields it needs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full environment contract.
type Config struct {
	// Stores.
	DatabaseURL     string `envconfig:"DATABASE_URL" required:"true"`
	CacheURL        string `envconfig:"CACHE_URL" default:"redis://localhost:6379/0"`
	CacheReplicaURL string `envconfig:"CACHE_REPLICA_URL"` // empty = read from primary
	OLAPURL         string `envconfig:"OLAP_URL" default:"clickhouse://localhost:9000/default"`

	// Broker.
	BrokerAddr string `envconfig:"BROKER_ADDR" default:"localhost:9092"`
	ClickTopic string `envconfig:"CLICK_TOPIC" default:"click_events"`

	// Allocator.
	AllocatorURL            string `envconfig:"ALLOCATOR_URL"` // empty = mint directly against the primary KV
	AllocatorPrimaryKVURL   string `envconfig:"ALLOCATOR_PRIMARY_KV_URL" default:"redis://localhost:6379/1"`
	AllocatorSecondaryKVURL string `envconfig:"ALLOCATOR_SECONDARY_KV_URL"`
	IDAllocatorKey          string `envconfig:"ID_ALLOCATOR_KEY" default:"id_allocator:urls"`
	IDBlockSize             int64  `envconfig:"ID_BLOCK_SIZE" default:"1000"`

	// Ingestion.
	IngestionFlushInterval time.Duration `envconfig:"INGESTION_FLUSH_INTERVAL" default:"5s"`
	IngestionBatchSize     int           `envconfig:"INGESTION_BATCH_SIZE" default:"500"`
	IngestionBlock         time.Duration `envconfig:"INGESTION_BLOCK" default:"500ms"`
	IngestionFlushSize     int64         `envconfig:"INGESTION_FLUSH_SIZE_THRESHOLD" default:"10000"`
	ConsumerGroup          string        `envconfig:"INGESTION_CONSUMER_GROUP" default:"click_ingestion"`
	ConsumerName           string        `envconfig:"INGESTION_CONSUMER_NAME"`
	DrainInterval          time.Duration `envconfig:"INGESTION_DRAIN_INTERVAL" default:"2s"`

	// Warmer.
	WarmerInterval time.Duration `envconfig:"WARMER_INTERVAL" default:"30s"`
	WarmerTopN     int           `envconfig:"WARMER_TOP_N" default:"5000"`

	// Cache policy.
	CacheTTL       time.Duration `envconfig:"CACHE_TTL" default:"1h"`
	NegativeTTL    time.Duration `envconfig:"NEGATIVE_CACHE_TTL" default:"30s"`
	LockTTL        time.Duration `envconfig:"CACHE_LOCK_TTL" default:"5s"`
	ClickBufferTTL time.Duration `envconfig:"CLICK_BUFFER_TTL" default:"5m"`
	HotSetTTL      time.Duration `envconfig:"HOT_SET_TTL" default:"1h"`

	// Fallback stream.
	FallbackStream string `envconfig:"CLICK_FALLBACK_STREAM" default:"click_fallback_stream"`
	FallbackMaxLen int64  `envconfig:"CLICK_FALLBACK_MAXLEN" default:"100000"`

	// Listen addresses.
	HTTPAddr      string `envconfig:"HTTP_ADDR" default:":8080"`
	AllocatorAddr string `envconfig:"ALLOCATOR_ADDR" default:":8090"`
	MetricsAddr   string `envconfig:"METRICS_ADDR"` // empty disables the /metrics endpoint
}

// Load reads the environment. ConsumerName defaults to the hostname so each
// worker gets a stable identity (and therefore its own agg:<name> hash)
// without per-deployment wiring.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("load config: no INGESTION_CONSUMER_NAME and no hostname: %w", err)
		}
		cfg.ConsumerName = host
	}
	if cfg.IDBlockSize <= 0 {
		return nil, fmt.Errorf("load config: ID_BLOCK_SIZE must be positive, got %d", cfg.IDBlockSize)
	}
	return &cfg, nil
}
