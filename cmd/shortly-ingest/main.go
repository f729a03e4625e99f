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

// Package main runs one click-ingestion worker. Scale by adding instances:
// the consumer group splits partitions, and each instance aggregates into its
// own agg:<consumer> hash.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shortly/internal/shortener/config"
	"shortly/internal/shortener/ingest"
	"shortly/internal/shortener/persistence"
	"shortly/internal/shortener/telemetry"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration invalid", zap.Error(err))
	}
	telemetry.ServeMetrics(cfg.MetricsAddr)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := persistence.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer store.Close()

	cacheClient, err := persistence.NewRedisClient(cfg.CacheURL)
	if err != nil {
		logger.Fatal("cache url invalid", zap.Error(err))
	}
	defer cacheClient.Close()
	agg := persistence.NewAggregator(cacheClient, cfg.ConsumerName, cfg.FallbackStream, cfg.FallbackMaxLen, cfg.ClickBufferTTL)

	source, err := persistence.NewKafkaSource(strings.Split(cfg.BrokerAddr, ","), cfg.ClickTopic, cfg.ConsumerGroup, cfg.IngestionBlock)
	if err != nil {
		logger.Fatal("broker unavailable", zap.Error(err))
	}
	defer source.Close()

	// Analytics is best effort: start without it if ClickHouse is down.
	var olap ingest.AnalyticsSink
	if cfg.OLAPURL != "" {
		analytics, err := persistence.NewAnalytics(ctx, cfg.OLAPURL)
		if err != nil {
			logger.Warn("clickhouse unavailable, analytics disabled", zap.Error(err))
		} else {
			defer analytics.Close()
			if err := analytics.EnsureSchema(ctx); err != nil {
				logger.Warn("clickhouse schema setup failed, analytics disabled", zap.Error(err))
			} else {
				olap = analytics
			}
		}
	}

	worker := ingest.NewWorker(source, agg, store, olap, agg, agg, ingest.Options{
		FlushInterval:      cfg.IngestionFlushInterval,
		DrainInterval:      cfg.DrainInterval,
		BatchSize:          cfg.IngestionBatchSize,
		FlushSizeThreshold: cfg.IngestionFlushSize,
		Group:              cfg.ConsumerGroup,
		Consumer:           cfg.ConsumerName,
	}, logger)
	if err := worker.Start(); err != nil {
		logger.Fatal("worker start failed", zap.Error(err))
	}
	logger.Info("ingestion worker running",
		zap.String("consumer", cfg.ConsumerName),
		zap.String("group", cfg.ConsumerGroup))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	// Stop runs a final flush so a clean shutdown leaves nothing staged.
	worker.Stop()
	logger.Info("stopped")
}
