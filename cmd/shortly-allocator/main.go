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

// Package main runs the range allocator service: the single place that hands
// out disjoint id blocks to edge instances, backed by a persisted counter with
// a seeded secondary for failover.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"shortly/internal/shortener/allocator"
	"shortly/internal/shortener/config"
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

	primary, err := allocator.NewGoRedisIncrementer(cfg.AllocatorPrimaryKVURL)
	if err != nil {
		logger.Fatal("primary kv url invalid", zap.Error(err))
	}
	defer primary.Close()

	var secondary *allocator.GoRedisIncrementer
	if cfg.AllocatorSecondaryKVURL != "" {
		secondary, err = allocator.NewGoRedisIncrementer(cfg.AllocatorSecondaryKVURL)
		if err != nil {
			logger.Fatal("secondary kv url invalid", zap.Error(err))
		}
		defer secondary.Close()
	}

	var secondaryInc allocator.Incrementer
	var secondaryPing allocator.Pinger
	if secondary != nil {
		secondaryInc = secondary
		secondaryPing = secondary
	}
	alloc := allocator.New(primary, secondaryInc, cfg.IDAllocatorKey, logger)

	mux := http.NewServeMux()
	allocator.NewServer(alloc, primary, secondaryPing, logger).RegisterRoutes(mux)
	httpServer := &http.Server{
		Addr:              cfg.AllocatorAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("allocator listening", zap.String("addr", cfg.AllocatorAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
	}
	logger.Info("stopped")
}
