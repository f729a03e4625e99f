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

package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Analytics appends aggregated click rows to ClickHouse. The OLAP write is
// advisory: a failed append is logged and dropped, never retried against the
// OLTP totals, so the analytics table may slightly undercount.
type Analytics struct {
	conn driver.Conn
}

// NewAnalytics connects using a ClickHouse DSN
// (clickhouse://host:9000/db?username=...).
func NewAnalytics(ctx context.Context, dsn string) (*Analytics, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("clickhouse dsn: %w", err)
	}
	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}
	return &Analytics{conn: conn}, nil
}

// EnsureSchema creates the click_events table if missing.
func (a *Analytics) EnsureSchema(ctx context.Context) error {
	return a.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS click_events (
			short_code LowCardinality(String),
			delta      Int64,
			event_time DateTime
		) ENGINE = MergeTree()
		PARTITION BY toDate(event_time)
		ORDER BY (short_code, event_time)
	`)
}

// AppendClicks writes one row per code with the flush timestamp.
func (a *Analytics) AppendClicks(ctx context.Context, counts map[string]int64) error {
	if len(counts) == 0 {
		return nil
	}
	batch, err := a.conn.PrepareBatch(ctx, "INSERT INTO click_events (short_code, delta, event_time)")
	if err != nil {
		return fmt.Errorf("prepare click batch: %w", err)
	}
	now := time.Now().UTC()
	for code, delta := range counts {
		if err := batch.Append(code, delta, now); err != nil {
			return fmt.Errorf("append click row %q: %w", code, err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("send click batch: %w", err)
	}
	return nil
}

// Close releases the connection.
func (a *Analytics) Close() error { return a.conn.Close() }
