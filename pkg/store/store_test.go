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

package store

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
	"github.com/mila-ai/mila/pkg/protocol"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// In-memory sqlite is per-connection; a second pooled connection
	// would see an empty database.
	db.SetMaxOpenConns(1)

	s, err := NewWithDB(db, "sqlite3")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedTenant(t *testing.T, s *Store, id, channel string) *Tenant {
	t.Helper()
	tenant := &Tenant{
		ID:             id,
		Name:           "Studio " + id,
		ChannelAddress: channel,
		Active:         true,
		Settings: TenantSettings{
			GreetingMessage: "Welcome!",
		},
	}
	require.NoError(t, s.CreateTenant(context.Background(), tenant))
	return tenant
}

func TestStore_TenantLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "t1", "+491111")

	t.Run("by id", func(t *testing.T) {
		tenant, err := s.GetTenant(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, "Studio t1", tenant.Name)
		assert.Equal(t, "Welcome!", tenant.Settings.GreetingMessage)
	})

	t.Run("by channel", func(t *testing.T) {
		tenant, err := s.FindTenantByChannel(ctx, "+491111")
		require.NoError(t, err)
		assert.Equal(t, "t1", tenant.ID)
	})

	t.Run("unknown channel", func(t *testing.T) {
		_, err := s.FindTenantByChannel(ctx, "+490000")
		var notFound *milaerrors.NotFoundError
		require.True(t, errors.As(err, &notFound))
	})

	t.Run("inactive tenant is invisible by channel", func(t *testing.T) {
		inactive := &Tenant{ID: "t2", Name: "Closed", ChannelAddress: "+492222", Active: false}
		require.NoError(t, s.CreateTenant(ctx, inactive))

		_, err := s.FindTenantByChannel(ctx, "+492222")
		var notFound *milaerrors.NotFoundError
		require.True(t, errors.As(err, &notFound))

		// Still reachable by id.
		_, err = s.GetTenant(ctx, "t2")
		require.NoError(t, err)
	})
}

func TestStore_KnowledgeEntries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "t1", "+491111")

	entry := &KnowledgeEntry{
		ID:       "k1",
		TenantID: "t1",
		Title:    "Opening hours",
		Category: CategoryGeneral,
		Content:  "We open at 8am.",
		Keywords: []string{"hours", "open"},
		Metadata: map[string]string{"source": "manual"},
		Status:   StatusActive,
	}
	require.NoError(t, s.InsertKnowledgeEntry(ctx, entry))

	t.Run("round trip", func(t *testing.T) {
		got, err := s.GetKnowledgeEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "Opening hours", got.Title)
		assert.Equal(t, []string{"hours", "open"}, got.Keywords)
		assert.Equal(t, "manual", got.Metadata["source"])
		assert.Empty(t, got.VectorID)
	})

	t.Run("set vector id", func(t *testing.T) {
		require.NoError(t, s.SetVectorID(ctx, "k1", "k1"))
		got, err := s.GetKnowledgeEntry(ctx, "k1")
		require.NoError(t, err)
		assert.Equal(t, "k1", got.VectorID)
	})

	t.Run("list filters by status", func(t *testing.T) {
		draft := &KnowledgeEntry{
			ID: "k2", TenantID: "t1", Title: "Draft", Category: CategoryGeneral,
			Content: "wip", Status: StatusDraft,
		}
		require.NoError(t, s.InsertKnowledgeEntry(ctx, draft))

		active, err := s.ListKnowledgeEntries(ctx, "t1", StatusActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "k1", active[0].ID)

		all, err := s.ListKnowledgeEntries(ctx, "t1", "")
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("update missing entry", func(t *testing.T) {
		missing := &KnowledgeEntry{
			ID: "nope", TenantID: "t1", Title: "x", Category: CategoryGeneral,
			Content: "x", Status: StatusActive,
		}
		err := s.UpdateKnowledgeEntry(ctx, missing)
		var notFound *milaerrors.NotFoundError
		require.True(t, errors.As(err, &notFound))
	})

	t.Run("invalid category rejected", func(t *testing.T) {
		bad := &KnowledgeEntry{
			ID: "k3", TenantID: "t1", Title: "x", Category: "astrology",
			Content: "x", Status: StatusActive,
		}
		err := s.InsertKnowledgeEntry(ctx, bad)
		var validation *milaerrors.ValidationError
		require.True(t, errors.As(err, &validation))
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, s.DeleteKnowledgeEntry(ctx, "k1"))
		_, err := s.GetKnowledgeEntry(ctx, "k1")
		var notFound *milaerrors.NotFoundError
		require.True(t, errors.As(err, &notFound))
	})
}

func TestStore_Conversations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "t1", "+491111")

	t.Run("history of unknown pair is empty", func(t *testing.T) {
		turns, err := s.History(ctx, "t1", "alice")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})

	t.Run("append creates then extends", func(t *testing.T) {
		err := s.AppendTurns(ctx, "t1", "alice", []protocol.Turn{
			protocol.UserTurn("hi"),
			protocol.AssistantTurn("hello!"),
		}, 20)
		require.NoError(t, err)

		err = s.AppendTurns(ctx, "t1", "alice", []protocol.Turn{
			protocol.UserTurn("when do you open?"),
		}, 20)
		require.NoError(t, err)

		turns, err := s.History(ctx, "t1", "alice")
		require.NoError(t, err)
		require.Len(t, turns, 3)
		assert.Equal(t, "hi", turns[0].Content)
		assert.Equal(t, "when do you open?", turns[2].Content)
		assert.False(t, turns[0].Timestamp.IsZero())
	})

	t.Run("window trims oldest first", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			err := s.AppendTurns(ctx, "t1", "bob", []protocol.Turn{
				protocol.UserTurn("message"),
				protocol.AssistantTurn("reply"),
			}, 6)
			require.NoError(t, err)
		}

		turns, err := s.History(ctx, "t1", "bob")
		require.NoError(t, err)
		assert.Len(t, turns, 6)
	})

	t.Run("one row per pair", func(t *testing.T) {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations WHERE tenant_id = 't1' AND user_id = 'alice'`).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("cleanup removes idle conversations", func(t *testing.T) {
		// A generous retention keeps everything.
		n, err := s.CleanupConversations(ctx, time.Hour)
		require.NoError(t, err)
		assert.Zero(t, n)

		// A negative retention puts the cutoff in the future.
		n, err = s.CleanupConversations(ctx, -time.Second)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		turns, err := s.History(ctx, "t1", "alice")
		require.NoError(t, err)
		assert.Empty(t, turns)
	})
}

func TestStore_ConcurrentAppendsLoseNoTurns(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "t1", "+491111")

	// Interleaved read-modify-write on one conversation must not drop
	// turns; the webhook handler appends from independent goroutines.
	const workers = 8
	const rounds = 25

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < rounds; i++ {
				err := s.AppendTurns(ctx, "t1", "alice", []protocol.Turn{
					protocol.UserTurn("question"),
					protocol.AssistantTurn("answer"),
				}, workers*rounds*2)
				if err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	turns, err := s.History(ctx, "t1", "alice")
	require.NoError(t, err)
	assert.Len(t, turns, workers*rounds*2)
}

func TestStore_Escalations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedTenant(t, s, "t1", "+491111")

	require.NoError(t, s.InsertEscalation(ctx, &Escalation{
		ID: "e1", TenantID: "t1", UserID: "alice", Reason: "wants a refund",
	}))
	require.NoError(t, s.InsertEscalation(ctx, &Escalation{
		ID: "e2", TenantID: "t1", UserID: "bob", Reason: "asked for a human",
	}))

	list, err := s.ListEscalations(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, list, 2)

	t.Run("empty reason rejected", func(t *testing.T) {
		err := s.InsertEscalation(ctx, &Escalation{ID: "e3", TenantID: "t1", UserID: "x"})
		var validation *milaerrors.ValidationError
		require.True(t, errors.As(err, &validation))
	})
}
