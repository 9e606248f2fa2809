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

// Package knowledge pairs the relational catalog with the vector index:
// every searchable entry lives in both, keyed by the same id, with the
// relational row as the source of truth.
package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mila-ai/mila/pkg/embedders"
	"github.com/mila-ai/mila/pkg/store"
	"github.com/mila-ai/mila/pkg/vector"
)

// DefaultSearchLimit is the number of entries returned when the caller
// does not specify one.
const DefaultSearchLimit = 7

// Service coordinates the embedder, the vector index, and the relational
// catalog for knowledge entries.
type Service struct {
	store    *store.Store
	embedder embedders.Embedder
	vectors  vector.Provider
	logger   *slog.Logger
}

// NewService wires up a knowledge service. The vector collection must
// already exist (see vector.Provider.EnsureCollection).
func NewService(s *store.Store, e embedders.Embedder, v vector.Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: s, embedder: e, vectors: v, logger: logger}
}

// Search embeds the query and runs a tenant-scoped similarity search.
// Results come back sorted by descending score; an empty result is not an
// error.
func (s *Service) Search(ctx context.Context, tenantID, query, category string, limit int) ([]vector.SearchResult, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.vectors.Search(ctx, embedding, vector.Filter{
		TenantID: tenantID,
		Category: category,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	s.logger.Debug("knowledge search",
		"tenant_id", tenantID,
		"category", category,
		"results", len(results))
	return results, nil
}

// CreateEntry embeds and indexes a new entry, then records it in the
// catalog. The relational row is written first so that a vector failure
// can be compensated by deleting the row, never leaving an indexed vector
// without a catalog entry.
func (s *Service) CreateEntry(ctx context.Context, e *store.KnowledgeEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Status == "" {
		e.Status = store.StatusActive
	}
	if err := e.Validate(); err != nil {
		return err
	}

	if err := s.store.InsertKnowledgeEntry(ctx, e); err != nil {
		return err
	}

	embedding, err := s.embedder.Embed(ctx, embeddingText(e))
	if err != nil {
		s.compensate(ctx, e.ID)
		return fmt.Errorf("failed to embed entry: %w", err)
	}

	if err := s.vectors.Upsert(ctx, e.ID, embedding, payloadFor(e)); err != nil {
		s.compensate(ctx, e.ID)
		return fmt.Errorf("failed to index entry: %w", err)
	}

	if err := s.store.SetVectorID(ctx, e.ID, e.ID); err != nil {
		return err
	}
	e.VectorID = e.ID

	s.logger.Info("knowledge entry created",
		"tenant_id", e.TenantID,
		"entry_id", e.ID,
		"category", e.Category)
	return nil
}

// UpdateEntry rewrites the catalog row and re-embeds the vector under the
// same id.
func (s *Service) UpdateEntry(ctx context.Context, e *store.KnowledgeEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateKnowledgeEntry(ctx, e); err != nil {
		return err
	}

	embedding, err := s.embedder.Embed(ctx, embeddingText(e))
	if err != nil {
		return fmt.Errorf("failed to embed entry: %w", err)
	}
	if err := s.vectors.Upsert(ctx, e.ID, embedding, payloadFor(e)); err != nil {
		return fmt.Errorf("failed to reindex entry: %w", err)
	}
	return nil
}

// DeleteEntry removes the vector first, then the catalog row. Deleting an
// absent vector is a no-op, so retries converge.
func (s *Service) DeleteEntry(ctx context.Context, id string) error {
	if err := s.vectors.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return s.store.DeleteKnowledgeEntry(ctx, id)
}

// ReindexTenant re-embeds every active entry of a tenant in batches.
// Used after an embedding model change or an index rebuild.
func (s *Service) ReindexTenant(ctx context.Context, tenantID string) (int, error) {
	entries, err := s.store.ListKnowledgeEntries(ctx, tenantID, store.StatusActive)
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}

	texts := make([]string, len(entries))
	for i, e := range entries {
		texts[i] = embeddingText(e)
	}

	embeddings, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("failed to embed entries: %w", err)
	}

	for i, e := range entries {
		if err := s.vectors.Upsert(ctx, e.ID, embeddings[i], payloadFor(e)); err != nil {
			return i, fmt.Errorf("failed to reindex entry %s: %w", e.ID, err)
		}
		if e.VectorID == "" {
			if err := s.store.SetVectorID(ctx, e.ID, e.ID); err != nil {
				return i, err
			}
		}
	}

	s.logger.Info("tenant reindexed", "tenant_id", tenantID, "entries", len(entries))
	return len(entries), nil
}

// compensate rolls back the catalog row after a failed embed or index
// step. Best effort: a failure here is logged, not returned.
func (s *Service) compensate(ctx context.Context, entryID string) {
	if err := s.store.DeleteKnowledgeEntry(ctx, entryID); err != nil {
		s.logger.Error("failed to roll back knowledge entry",
			"entry_id", entryID, "error", err)
	}
}

// embeddingText builds the text that gets embedded for an entry: title,
// content, and keywords concatenated so keyword-only queries still match.
func embeddingText(e *store.KnowledgeEntry) string {
	parts := []string{e.Title, e.Content}
	if len(e.Keywords) > 0 {
		parts = append(parts, strings.Join(e.Keywords, " "))
	}
	return strings.Join(parts, "\n")
}

func payloadFor(e *store.KnowledgeEntry) vector.Payload {
	return vector.Payload{
		EntryID:  e.ID,
		TenantID: e.TenantID,
		Title:    e.Title,
		Category: e.Category,
		Content:  e.Content,
		Keywords: e.Keywords,
		Metadata: e.Metadata,
	}
}
