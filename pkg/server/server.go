// Copyright 2025 Weavely, Inc.
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

// Package server exposes the task handler over HTTP: synchronous
// message/send, SSE message/stream, health, and Prometheus metrics. The
// ingress is a thin adapter; all turn semantics live in pkg/task.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/weavely/weave/pkg/a2a"
	"github.com/weavely/weave/pkg/logger"
	"github.com/weavely/weave/pkg/task"
)

// Options configure a Server.
type Options struct {
	Handler *task.Handler
	Addr    string
}

// Server is the HTTP ingress.
type Server struct {
	handler *task.Handler
	http    *http.Server
	logger  *slog.Logger
}

func New(opts Options) *Server {
	s := &Server{
		handler: opts.Handler,
		logger:  logger.GetLogger(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/agents/{agentID}/message/send", s.handleSend)
	r.Post("/agents/{agentID}/message/stream", s.handleStream)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router returns the HTTP handler, for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.http.Handler
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// sendRequest is the wire envelope for both message endpoints.
type sendRequest struct {
	Message *a2a.Message `json:"message"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	t, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}

	result, err := s.handler.Handle(r.Context(), agentID, t, task.TurnOptions{
		Headers: flattenHeaders(r.Header),
	})
	if err != nil {
		s.logger.Error("message/send failed", "agent_id", agentID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("encoding response failed", "error", err)
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	t, ok := s.taskFromRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// OnPart is invoked synchronously from the executing turn, so writes
	// here never interleave.
	onPart := func(p a2a.Part) {
		writeEvent(w, a2a.StreamEvent{
			Type:      a2a.StreamEventTypePart,
			TaskID:    t.ID,
			Part:      &p,
			Timestamp: time.Now(),
		})
		flusher.Flush()
	}

	result, err := s.handler.Handle(r.Context(), agentID, t, task.TurnOptions{
		Headers: flattenHeaders(r.Header),
		OnPart:  onPart,
	})
	if err != nil {
		s.logger.Error("message/stream failed", "agent_id", agentID, "error", err)
		return
	}

	writeEvent(w, a2a.StreamEvent{
		Type:      a2a.StreamEventTypeStatus,
		TaskID:    result.ID,
		Status:    &result.Status,
		Timestamp: time.Now(),
	})
	flusher.Flush()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// taskFromRequest decodes the message envelope and wraps it in a submitted
// task. The handler resolves conversation scope from the message metadata.
func (s *Server) taskFromRequest(w http.ResponseWriter, r *http.Request) (*a2a.Task, bool) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == nil {
		writeError(w, http.StatusBadRequest, "request body must contain a message")
		return nil, false
	}

	msg := req.Message
	if msg.MessageID == "" {
		msg.MessageID = "msg_" + uuid.NewString()
	}
	taskID := msg.TaskID
	if taskID == "" {
		taskID = "task_" + uuid.NewString()
	}

	return &a2a.Task{
		ID:        taskID,
		ContextID: msg.ContextID,
		Status:    a2a.TaskStatus{State: a2a.TaskStateSubmitted, Timestamp: time.Now()},
		Input:     msg,
		Metadata:  msg.Metadata,
	}, true
}

func writeEvent(w http.ResponseWriter, ev a2a.StreamEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
