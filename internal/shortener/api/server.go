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

// Package api is the edge's HTTP surface: shorten, redirect, stats, health.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"shortly"
	"shortly/internal/shortener/core"
)

// Shortener is the serving logic the handlers need. Implemented by
// core.Service.
type Shortener interface {
	Shorten(ctx context.Context, originalURL, customCode string) (*shortly.URL, error)
	Redirect(ctx context.Context, code string) (string, error)
	Stats(ctx context.Context, code string) (*shortly.URL, error)
}

// Server holds the HTTP handlers.
type Server struct {
	svc    Shortener
	logger *zap.Logger
}

// NewServer wires the handlers. logger may be nil.
func NewServer(svc Shortener, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{svc: svc, logger: logger}
}

// ShortenRequest is the wire request of POST /api/shorten.
type ShortenRequest struct {
	URL        string `json:"url"`
	CustomCode string `json:"custom_code,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes sets up the HTTP routes on the given ServeMux. The exact
// patterns win over the /{code} wildcard, so /health and /api/* are never
// treated as short codes.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/shorten", s.handleShorten)
	mux.HandleFunc("GET /api/stats/{code}", s.handleStats)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{code}", s.handleRedirect)
}

func (s *Server) handleShorten(w http.ResponseWriter, r *http.Request) {
	var req ShortenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	u, err := s.svc.Shorten(r.Context(), req.URL, req.CustomCode)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, u)
}

func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	target, err := s.svc.Redirect(r.Context(), code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	// 307 keeps the method and keeps browsers from caching the mapping
	// forever, so a re-pointed code takes effect.
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	u, err := s.svc.Stats(r.Context(), r.PathValue("code"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, core.ErrInvalidURL), errors.Is(err, core.ErrInvalidCode):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrCustomCodeTaken):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, core.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "short code not found"})
	case errors.Is(err, core.ErrExhausted),
		errors.Is(err, core.ErrAllocatorUnavailable),
		errors.Is(err, core.ErrUnavailable):
		s.logger.Error("request failed on a backend", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "service unavailable"})
	default:
		s.logger.Error("unhandled error", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
