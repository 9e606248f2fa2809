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

package vector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/mila-ai/mila/pkg/config"
	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

// ChromemProvider implements Provider on an embedded chromem-go database.
// It needs no external service, which makes it the default for development
// and the test suites; vectors live in memory with optional file persistence.
type ChromemProvider struct {
	db         *chromem.DB
	collection *chromem.Collection
	name       string
	mu         sync.Mutex
}

// NewChromemProvider creates an embedded provider from config.
func NewChromemProvider(cfg config.VectorConfig) (*ChromemProvider, error) {
	var db *chromem.DB
	var err error

	if cfg.PersistPath != "" {
		db, err = chromem.NewPersistentDB(cfg.PersistPath, true)
		if err != nil {
			return nil, fmt.Errorf("failed to open persistent vector db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}

	return &ChromemProvider{db: db, name: cfg.Collection}, nil
}

// EnsureCollection creates the collection if missing. chromem infers the
// dimension from the first vector, so the argument is unused here.
func (p *ChromemProvider) EnsureCollection(ctx context.Context, dimension int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureLocked()
}

func (p *ChromemProvider) ensureLocked() error {
	if p.collection != nil {
		return nil
	}
	col, err := p.db.GetOrCreateCollection(p.name, nil, func(ctx context.Context, text string) ([]float32, error) {
		return nil, fmt.Errorf("vectors are pre-computed, embedding function must not be called")
	})
	if err != nil {
		return &milaerrors.VectorStoreError{Op: "ensure_collection", Err: err}
	}
	p.collection = col
	return nil
}

func (p *ChromemProvider) get() (*chromem.Collection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureLocked(); err != nil {
		return nil, err
	}
	return p.collection, nil
}

// Upsert writes one document with a pre-computed embedding, replacing any
// prior document with the same id.
func (p *ChromemProvider) Upsert(ctx context.Context, id string, vec []float32, payload Payload) error {
	col, err := p.get()
	if err != nil {
		return err
	}

	metadata := map[string]string{
		"entry_id":  payload.EntryID,
		"tenant_id": payload.TenantID,
		"title":     payload.Title,
		"category":  payload.Category,
		"keywords":  strings.Join(payload.Keywords, ","),
	}
	if len(payload.Metadata) > 0 {
		encoded, err := json.Marshal(payload.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode payload metadata: %w", err)
		}
		metadata["metadata"] = string(encoded)
	}

	doc := chromem.Document{
		ID:        id,
		Content:   payload.Content,
		Metadata:  metadata,
		Embedding: vec,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return &milaerrors.VectorStoreError{Op: "upsert", Err: err}
	}
	return nil
}

// Search runs a filtered similarity query. The result count is clamped to
// the collection size because chromem rejects over-asking.
func (p *ChromemProvider) Search(ctx context.Context, vec []float32, filter Filter, limit int) ([]SearchResult, error) {
	col, err := p.get()
	if err != nil {
		return nil, err
	}

	if count := col.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return []SearchResult{}, nil
	}

	where := map[string]string{"tenant_id": filter.TenantID}
	if filter.Category != "" {
		where["category"] = filter.Category
	}

	hits, err := col.QueryEmbedding(ctx, vec, limit, where, nil)
	if err != nil {
		// chromem treats an empty filtered set as an error; the contract
		// wants an empty result.
		if strings.Contains(err.Error(), "nResults") {
			return []SearchResult{}, nil
		}
		return nil, &milaerrors.VectorStoreError{Op: "search", Err: err}
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		payload := Payload{
			EntryID:  hit.Metadata["entry_id"],
			TenantID: hit.Metadata["tenant_id"],
			Title:    hit.Metadata["title"],
			Category: hit.Metadata["category"],
			Content:  hit.Content,
		}
		if kw := hit.Metadata["keywords"]; kw != "" {
			payload.Keywords = strings.Split(kw, ",")
		}
		if raw := hit.Metadata["metadata"]; raw != "" {
			_ = json.Unmarshal([]byte(raw), &payload.Metadata)
		}
		results = append(results, SearchResult{
			ID:      hit.ID,
			Score:   hit.Similarity,
			Payload: payload,
		})
	}
	return results, nil
}

// Delete removes one document; absent ids are a no-op.
func (p *ChromemProvider) Delete(ctx context.Context, id string) error {
	col, err := p.get()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return &milaerrors.VectorStoreError{Op: "delete", Err: err}
	}
	return nil
}

// Close drops the in-memory state.
func (p *ChromemProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.collection = nil
	return nil
}

var _ Provider = (*ChromemProvider)(nil)
