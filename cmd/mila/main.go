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

// Command mila runs the multi-tenant chat receptionist.
//
// Usage:
//
//	mila serve --config config.yaml
//	mila index --config config.yaml --tenant <id>
//	mila cleanup --config config.yaml
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mila-ai/mila/pkg/agent"
	"github.com/mila-ai/mila/pkg/config"
	"github.com/mila-ai/mila/pkg/embedders"
	"github.com/mila-ai/mila/pkg/gateway"
	"github.com/mila-ai/mila/pkg/knowledge"
	"github.com/mila-ai/mila/pkg/llms"
	"github.com/mila-ai/mila/pkg/ratelimit"
	"github.com/mila-ai/mila/pkg/store"
	"github.com/mila-ai/mila/pkg/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the webhook server."`
	Index   IndexCmd   `cmd:"" help:"Rebuild the vector index for a tenant."`
	Cleanup CleanupCmd `cmd:"" help:"Delete conversations idle past the retention window."`

	Config string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("mila version %s\n", version)
	return nil
}

// components holds everything a command needs, built once from config.
type components struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	embedder  embedders.Embedder
	vectors   vector.Provider
	knowledge *knowledge.Service
}

func buildComponents(configPath string) (*components, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	s, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	embedder, err := embedders.NewOpenAIEmbedder(cfg.Embedder)
	if err != nil {
		s.Close()
		return nil, err
	}

	var vectors vector.Provider
	switch cfg.Vector.Provider {
	case "chromem":
		vectors, err = vector.NewChromemProvider(cfg.Vector)
	default:
		vectors, err = vector.NewQdrantProvider(cfg.Vector)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create vector provider: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Vector.Timeout)
	defer cancel()
	if err := vectors.EnsureCollection(ctx, cfg.Embedder.Dimension); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return &components{
		cfg:       cfg,
		logger:    logger,
		store:     s,
		embedder:  embedder,
		vectors:   vectors,
		knowledge: knowledge.NewService(s, embedder, vectors, logger),
	}, nil
}

func (c *components) Close() {
	c.vectors.Close()
	c.embedder.Close()
	c.store.Close()
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// ServeCmd runs the webhook server with periodic maintenance.
type ServeCmd struct {
	Port int `help:"Override the listen port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	comp, err := buildComponents(cli.Config)
	if err != nil {
		return err
	}
	defer comp.Close()
	cfg := comp.cfg

	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}

	provider, err := llms.NewAnthropicProvider(cfg.LLM)
	if err != nil {
		return err
	}
	defer provider.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	limiter := ratelimit.New(cfg.RateLimit.Limit, cfg.RateLimit.Window)
	responder := agent.New(provider, comp.knowledge, comp.store, cfg, comp.logger)
	reply := gateway.HTTPReply(cfg.Server.SendURL, nil)
	gw := gateway.New(comp.store, responder, limiter, reply, gateway.NewMetrics(registry), comp.logger)

	srv := gateway.NewServer(gw, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), comp.logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		comp.logger.Info("server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				limiter.Prune()
				n, err := comp.store.CleanupConversations(ctx, cfg.Conversations.MaxAge)
				if err != nil {
					comp.logger.Error("conversation cleanup failed", "error", err)
					continue
				}
				if n > 0 {
					comp.logger.Info("conversations cleaned up", "deleted", n)
				}
			}
		}
	})

	return g.Wait()
}

// IndexCmd re-embeds a tenant's active knowledge entries.
type IndexCmd struct {
	Tenant string `arg:"" optional:"" help:"Tenant id to reindex (all tenants when omitted)."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx := context.Background()

	comp, err := buildComponents(cli.Config)
	if err != nil {
		return err
	}
	defer comp.Close()

	tenantIDs := []string{c.Tenant}
	if c.Tenant == "" {
		tenants, err := comp.store.ListTenants(ctx)
		if err != nil {
			return err
		}
		tenantIDs = tenantIDs[:0]
		for _, t := range tenants {
			tenantIDs = append(tenantIDs, t.ID)
		}
	}

	for _, id := range tenantIDs {
		n, err := comp.knowledge.ReindexTenant(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to reindex tenant %s: %w", id, err)
		}
		fmt.Printf("tenant %s: %d entries reindexed\n", id, n)
	}
	return nil
}

// CleanupCmd deletes idle conversations once and exits.
type CleanupCmd struct{}

func (c *CleanupCmd) Run(cli *CLI) error {
	comp, err := buildComponents(cli.Config)
	if err != nil {
		return err
	}
	defer comp.Close()

	n, err := comp.store.CleanupConversations(context.Background(), comp.cfg.Conversations.MaxAge)
	if err != nil {
		return err
	}
	fmt.Printf("%d conversations deleted\n", n)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("mila"),
		kong.Description("Multi-tenant chat receptionist with retrieval-augmented answers."),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
