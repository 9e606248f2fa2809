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

// Package vector provides the vector-store contract and its Qdrant and
// chromem implementations.
//
// A provider manages one named collection of fixed-dimension vectors under
// cosine distance. Points are keyed by knowledge-entry id and carry a
// denormalized payload of entry fields; search filters on tenant (always) and
// category (optionally) with AND semantics.
package vector

import "context"

// Payload is the denormalized entry data attached to a point. It exists for
// display at scoring time; only TenantID and Category participate in
// filtering.
type Payload struct {
	EntryID  string            `json:"entry_id"`
	TenantID string            `json:"tenant_id"`
	Title    string            `json:"title"`
	Category string            `json:"category"`
	Content  string            `json:"content"`
	Keywords []string          `json:"keywords,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Filter restricts search results. TenantID is mandatory; Category narrows
// further when set.
type Filter struct {
	TenantID string
	Category string
}

// SearchResult is one ranked hit.
type SearchResult struct {
	ID      string
	Score   float32
	Payload Payload
}

// Provider is a vector store holding one collection.
type Provider interface {
	// EnsureCollection creates the collection with the given dimension if it
	// does not already exist.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert writes a point, replacing any prior point with the same id.
	Upsert(ctx context.Context, id string, vec []float32, payload Payload) error

	// Search returns up to limit hits matching the filter, sorted by
	// descending similarity. No match is an empty slice, not an error.
	Search(ctx context.Context, vec []float32, filter Filter, limit int) ([]SearchResult, error)

	// Delete removes a point; deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error

	// Close releases resources.
	Close() error
}
