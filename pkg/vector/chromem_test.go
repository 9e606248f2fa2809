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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mila-ai/mila/pkg/config"
)

func newTestProvider(t *testing.T) *ChromemProvider {
	t.Helper()
	p, err := NewChromemProvider(config.VectorConfig{Collection: "test_knowledge"})
	require.NoError(t, err)
	require.NoError(t, p.EnsureCollection(context.Background(), 3))
	t.Cleanup(func() { p.Close() })
	return p
}

func seedDoc(t *testing.T, p *ChromemProvider, id, tenantID, category string, vec []float32) {
	t.Helper()
	err := p.Upsert(context.Background(), id, vec, Payload{
		EntryID:  id,
		TenantID: tenantID,
		Title:    "Title " + id,
		Category: category,
		Content:  "Content " + id,
		Keywords: []string{"yoga"},
	})
	require.NoError(t, err)
}

func TestChromem_TenantIsolation(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	seedDoc(t, p, "a1", "tenant-a", "general", []float32{1, 0, 0})
	seedDoc(t, p, "a2", "tenant-a", "schedules", []float32{0.9, 0.1, 0})
	seedDoc(t, p, "b1", "tenant-b", "general", []float32{1, 0, 0})

	results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "tenant-a"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, "tenant-a", r.Payload.TenantID)
	}
}

func TestChromem_RankingAndPayload(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	seedDoc(t, p, "near", "t1", "general", []float32{1, 0, 0})
	seedDoc(t, p, "far", "t1", "general", []float32{0, 1, 0})

	results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "t1"}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "near", results[0].ID)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.Equal(t, "Title near", results[0].Payload.Title)
	assert.Equal(t, "Content near", results[0].Payload.Content)
	assert.Equal(t, []string{"yoga"}, results[0].Payload.Keywords)
}

func TestChromem_CategoryFilter(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	seedDoc(t, p, "s1", "t1", "schedules", []float32{1, 0, 0})
	seedDoc(t, p, "g1", "t1", "general", []float32{1, 0, 0})

	results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "t1", Category: "schedules"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "s1", results[0].ID)
}

func TestChromem_EmptyResults(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	t.Run("empty collection", func(t *testing.T) {
		results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "t1"}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("no tenant match", func(t *testing.T) {
		seedDoc(t, p, "a1", "tenant-a", "general", []float32{1, 0, 0})
		results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "tenant-z"}, 5)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestChromem_UpsertReplaces(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	seedDoc(t, p, "k1", "t1", "general", []float32{1, 0, 0})
	err := p.Upsert(ctx, "k1", []float32{1, 0, 0}, Payload{
		EntryID:  "k1",
		TenantID: "t1",
		Title:    "Updated",
		Category: "general",
		Content:  "Updated content",
	})
	require.NoError(t, err)

	results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "t1"}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Updated", results[0].Payload.Title)
}

func TestChromem_DeleteIsIdempotent(t *testing.T) {
	p := newTestProvider(t)
	ctx := context.Background()

	seedDoc(t, p, "k1", "t1", "general", []float32{1, 0, 0})
	require.NoError(t, p.Delete(ctx, "k1"))
	require.NoError(t, p.Delete(ctx, "k1"))

	results, err := p.Search(ctx, []float32{1, 0, 0}, Filter{TenantID: "t1"}, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}
