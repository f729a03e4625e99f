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
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Pinger lets the health endpoint report counter reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the HTTP facade of the allocator service.
type Server struct {
	alloc           *RangeAllocator
	primaryHealth   Pinger // may be nil
	secondaryHealth Pinger // may be nil
	logger          *zap.Logger
}

// NewServer wires the facade. Health pingers may be nil when the underlying
// incrementer cannot report reachability.
func NewServer(alloc *RangeAllocator, primaryHealth, secondaryHealth Pinger, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{alloc: alloc, primaryHealth: primaryHealth, secondaryHealth: secondaryHealth, logger: logger}
}

// AllocateRequest is the wire request of POST /api/allocate.
type AllocateRequest struct {
	Size int64 `json:"size"`
}

// AllocateResponse is the wire response: the caller owns [Start, End].
type AllocateResponse struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/allocate", s.handleAllocate)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

func (s *Server) handleAllocate(w http.ResponseWriter, r *http.Request) {
	var req AllocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	start, end, err := s.alloc.Allocate(r.Context(), req.Size)
	switch {
	case errors.Is(err, ErrInvalidSize):
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	case errors.Is(err, ErrUnavailable):
		s.logger.Error("allocation failed on both counters", zap.Error(err))
		http.Error(w, "allocator unavailable", http.StatusServiceUnavailable)
		return
	case err != nil:
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(AllocateResponse{Start: start, End: end})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Primary   string `json:"primary"`
		Secondary string `json:"secondary"`
	}
	h := health{Primary: "unknown", Secondary: "unknown"}
	probe := func(p Pinger) string {
		if p == nil {
			return "unconfigured"
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			return "down"
		}
		return "up"
	}
	h.Primary = probe(s.primaryHealth)
	h.Secondary = probe(s.secondaryHealth)
	w.Header().Set("Content-Type", "application/json")
	if h.Primary == "down" && (h.Secondary == "down" || h.Secondary == "unconfigured") {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(h)
}
