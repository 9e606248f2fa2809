// Copyright 2026 The Mila Authors
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

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// webhookPayload is the channel provider's delivery format: a batch of
// messages per POST.
type webhookPayload struct {
	Messages []Message `json:"messages"`
}

// Server exposes the gateway over HTTP: the inbound webhook, a health
// probe, and prometheus metrics.
type Server struct {
	gateway *Gateway
	logger  *slog.Logger
	router  chi.Router
}

// NewServer builds the HTTP surface around a gateway.
func NewServer(g *Gateway, metricsHandler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	s := &Server{gateway: g, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Post("/webhook/messages", s.handleWebhook)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metricsHandler)
	s.router = r

	return s
}

// Handler returns the HTTP handler for mounting or serving.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleWebhook accepts a message batch and acknowledges immediately;
// each message is processed on its own goroutine so a slow model call
// never blocks the channel provider's delivery retry timer.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload webhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	for _, msg := range payload.Messages {
		go func(m Message) {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			s.gateway.Handle(ctx, m)
		}(msg)
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HTTPReply returns a ReplyFunc that POSTs outbound replies to the
// channel provider's send endpoint.
func HTTPReply(sendURL string, client *http.Client) ReplyFunc {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return func(ctx context.Context, sender, body string) error {
		payload, err := json.Marshal(map[string]string{
			"recipient": sender,
			"body":      body,
		})
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, sendURL, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("failed to deliver reply: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 300 {
			return fmt.Errorf("reply delivery returned status %d", resp.StatusCode)
		}
		return nil
	}
}
