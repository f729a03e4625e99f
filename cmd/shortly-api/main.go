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

// Package main runs the edge: the shorten, redirect, and stats HTTP API.
// Horizontally scalable; every instance holds its own id block and shares the
// cache, the store, and the click topic with its peers.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shortly/internal/shortener/allocator"
	"shortly/internal/shortener/api"
	"shortly/internal/shortener/config"
	"shortly/internal/shortener/core"
	"shortly/internal/shortener/keygen"
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

	// Authoritative store.
	store, err := persistence.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("postgres unavailable", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}

	// Cache, replica reads when configured.
	primary, err := persistence.NewRedisClient(cfg.CacheURL)
	if err != nil {
		logger.Fatal("cache url invalid", zap.Error(err))
	}
	defer primary.Close()
	replica := primary
	if cfg.CacheReplicaURL != "" {
		replica, err = persistence.NewRedisClient(cfg.CacheReplicaURL)
		if err != nil {
			logger.Fatal("cache replica url invalid", zap.Error(err))
		}
		defer replica.Close()
	}
	cache := persistence.NewCache(primary, replica, persistence.CacheOptions{
		TTL:            cfg.CacheTTL,
		NegativeTTL:    cfg.NegativeTTL,
		LockTTL:        cfg.LockTTL,
		ClickBufferTTL: cfg.ClickBufferTTL,
		HotSetTTL:      cfg.HotSetTTL,
	})

	// Click publisher with the Redis stream catching broker outages.
	fallback := persistence.NewAggregator(primary, "edge", cfg.FallbackStream, cfg.FallbackMaxLen, cfg.ClickBufferTTL)
	publisher, err := persistence.NewPublisher(strings.Split(cfg.BrokerAddr, ","), cfg.ClickTopic, fallback, 0, logger)
	if err != nil {
		logger.Fatal("broker unavailable", zap.Error(err))
	}
	defer publisher.Close()

	// Code minter: the allocator service when configured, the counter KV
	// directly otherwise. With both, the direct path is the refill fallback.
	primaryKV, err := allocator.NewGoRedisIncrementer(cfg.AllocatorPrimaryKVURL)
	if err != nil {
		logger.Fatal("allocator kv url invalid", zap.Error(err))
	}
	defer primaryKV.Close()
	direct := allocator.New(primaryKV, nil, cfg.IDAllocatorKey, logger)

	var source, refillFallback keygen.RangeSource
	if cfg.AllocatorURL != "" {
		source = allocator.NewClient(cfg.AllocatorURL)
		refillFallback = direct
	} else {
		source = direct
	}
	minter := keygen.NewMinter(source, refillFallback, cfg.IDBlockSize, logger)

	svc := core.NewService(store, cache, publisher, minter, logger, core.Options{})

	mux := http.NewServeMux()
	api.NewServer(svc, logger).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("shortener api listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	// Detached click accounting drains before the publisher closes.
	svc.Close()
	logger.Info("stopped")
}
