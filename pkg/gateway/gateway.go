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

// Package gateway routes inbound chat messages to the agent and replies
// through the originating channel.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
	"github.com/mila-ai/mila/pkg/ratelimit"
	"github.com/mila-ai/mila/pkg/store"
)

const (
	// PongReply answers the !ping liveness probe.
	PongReply = "pong"

	// ThrottleNotice is sent once a sender trips the rate limit.
	ThrottleNotice = "You are sending messages too quickly. Please wait a moment and try again."

	// FallbackReply covers any processing failure; the user always hears
	// something.
	FallbackReply = "I'm sorry, something went wrong on my side. Please try again in a moment, or contact the studio directly."
)

// Message is one inbound chat message. Recipient is the tenant's channel
// address; Sender identifies the customer.
type Message struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Body      string `json:"body"`
}

// ReplyFunc delivers one outbound reply to a sender.
type ReplyFunc func(ctx context.Context, sender, body string) error

// Responder produces the agent's reply for one message.
type Responder interface {
	Respond(ctx context.Context, tenant *store.Tenant, userID, message string) (string, error)
}

// Metrics holds the gateway's prometheus counters.
type Metrics struct {
	Received  prometheus.Counter
	Replied   prometheus.Counter
	Dropped   prometheus.Counter
	Throttled prometheus.Counter
	Failed    prometheus.Counter
}

// NewMetrics registers the gateway counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Received: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mila_messages_received_total",
			Help: "Inbound messages accepted by the gateway.",
		}),
		Replied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mila_replies_sent_total",
			Help: "Replies delivered back to senders.",
		}),
		Dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mila_messages_dropped_total",
			Help: "Messages silently dropped (unknown tenant or control message).",
		}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mila_messages_throttled_total",
			Help: "Messages rejected by the per-sender rate limit.",
		}),
		Failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mila_messages_failed_total",
			Help: "Messages that fell back to the apology reply.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Received, m.Replied, m.Dropped, m.Throttled, m.Failed)
	}
	return m
}

// Gateway is the inbound message pipeline: control handling, tenant
// resolution, throttling, agent dispatch, reply delivery.
type Gateway struct {
	store     *store.Store
	responder Responder
	limiter   *ratelimit.Limiter
	reply     ReplyFunc
	metrics   *Metrics
	logger    *slog.Logger
}

// New wires up a gateway. metrics may be nil to disable counting.
func New(s *store.Store, r Responder, l *ratelimit.Limiter, reply ReplyFunc, metrics *Metrics, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Gateway{
		store:     s,
		responder: r,
		limiter:   l,
		reply:     reply,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handle processes one inbound message end to end. It never returns an
// error for business failures; those turn into replies or silent drops.
func (g *Gateway) Handle(ctx context.Context, msg Message) {
	g.metrics.Received.Inc()

	body := strings.TrimSpace(msg.Body)
	if body == "" {
		g.metrics.Dropped.Inc()
		return
	}

	// Control messages never reach the agent.
	if strings.HasPrefix(body, "!") {
		if body == "!ping" {
			g.send(ctx, msg.Sender, PongReply)
			return
		}
		g.metrics.Dropped.Inc()
		return
	}

	if err := g.limiter.Allow(msg.Sender); err != nil {
		g.metrics.Throttled.Inc()
		g.logger.Warn("sender throttled", "sender", msg.Sender)
		g.send(ctx, msg.Sender, ThrottleNotice)
		return
	}

	tenant, err := g.store.FindTenantByChannel(ctx, msg.Recipient)
	if err != nil {
		var notFound *milaerrors.NotFoundError
		if errors.As(err, &notFound) {
			// Unknown or inactive tenant: drop without replying so the
			// gateway never leaks its existence to strangers.
			g.metrics.Dropped.Inc()
			g.logger.Debug("message for unknown tenant", "recipient", msg.Recipient)
			return
		}
		g.metrics.Failed.Inc()
		g.logger.Error("tenant lookup failed", "recipient", msg.Recipient, "error", err)
		g.send(ctx, msg.Sender, FallbackReply)
		return
	}

	reply, err := g.responder.Respond(ctx, tenant, msg.Sender, body)
	if err != nil {
		g.metrics.Failed.Inc()
		g.logger.Error("agent failed",
			"tenant_id", tenant.ID, "sender", msg.Sender, "error", err)
		g.send(ctx, msg.Sender, FallbackReply)
		return
	}

	g.send(ctx, msg.Sender, reply)
}

func (g *Gateway) send(ctx context.Context, sender, body string) {
	if err := g.reply(ctx, sender, body); err != nil {
		g.logger.Error("reply delivery failed", "sender", sender, "error", err)
		return
	}
	g.metrics.Replied.Inc()
}
