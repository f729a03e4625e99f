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

// Package main runs the cache warmer. One instance is enough; warming is
// idempotent, so running two is wasteful but harmless.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shortly/internal/shortener/config"
	"shortly/internal/shortener/persistence"
	"shortly/internal/shortener/telemetry"
	"shortly/internal/shortener/warmer"
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
	cache := persistence.NewCache(cacheClient, nil, persistence.CacheOptions{
		TTL:            cfg.CacheTTL,
		NegativeTTL:    cfg.NegativeTTL,
		LockTTL:        cfg.LockTTL,
		ClickBufferTTL: cfg.ClickBufferTTL,
		HotSetTTL:      cfg.HotSetTTL,
	})

	w := warmer.New(store, cache, cfg.WarmerInterval, cfg.WarmerTopN, logger)
	w.Start()
	logger.Info("warmer running",
		zap.Duration("interval", cfg.WarmerInterval),
		zap.Int("top_n", cfg.WarmerTopN))

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	w.Stop()
	logger.Info("stopped")
}
