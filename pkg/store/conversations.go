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
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mila-ai/mila/pkg/protocol"
)

// DefaultWindowSize bounds the number of turns kept per conversation.
const DefaultWindowSize = 20

// History returns the stored turns for one (tenant, user) pair in
// chronological order. A missing conversation yields an empty slice.
func (s *Store) History(ctx context.Context, tenantID, userID string) ([]protocol.Turn, error) {
	var encoded string
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT messages FROM conversations
		WHERE tenant_id = ? AND user_id = ?`), tenantID, userID).Scan(&encoded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var turns []protocol.Turn
	if err := json.Unmarshal([]byte(encoded), &turns); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return turns, nil
}

// AppendTurns appends turns to the conversation for (tenant, user),
// creating the row on first contact. The window is trimmed to windowSize
// turns, dropping the oldest first. Timestamps are assigned server-side.
// Appends for one conversation are serialized: the read-modify-write on
// the messages column would otherwise lose turns under concurrent calls.
func (s *Store) AppendTurns(ctx context.Context, tenantID, userID string, turns []protocol.Turn, windowSize int) error {
	if len(turns) == 0 {
		return nil
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	mu := s.convLock(tenantID, userID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	for i := range turns {
		turns[i].Timestamp = now
	}

	existing, err := s.History(ctx, tenantID, userID)
	if err != nil {
		return err
	}
	created := existing == nil

	combined := append(existing, turns...)
	if len(combined) > windowSize {
		combined = combined[len(combined)-windowSize:]
	}

	encoded, err := json.Marshal(combined)
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}

	if created {
		_, err = s.db.ExecContext(ctx, s.rebind(`
			INSERT INTO conversations (id, tenant_id, user_id, messages, last_message_at)
			VALUES (?, ?, ?, ?, ?)`),
			uuid.NewString(), tenantID, userID, string(encoded), now)
	} else {
		_, err = s.db.ExecContext(ctx, s.rebind(`
			UPDATE conversations SET messages = ?, last_message_at = ?
			WHERE tenant_id = ? AND user_id = ?`),
			string(encoded), now, tenantID, userID)
	}
	if err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// CleanupConversations deletes conversations whose last message predates
// maxAge. Returns the number of rows removed.
func (s *Store) CleanupConversations(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	result, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM conversations WHERE last_message_at < ?`), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up conversations: %w", err)
	}
	return result.RowsAffected()
}
