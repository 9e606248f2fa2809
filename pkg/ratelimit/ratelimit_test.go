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

package ratelimit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

func newTestLimiter(limit int, window time.Duration) (*Limiter, *time.Time) {
	l := New(limit, window)
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiter_AllowsUpToLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Allow("alice"))
	}

	err := l.Allow("alice")
	require.Error(t, err)

	var rle *milaerrors.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, "alice", rle.Sender)
	assert.Greater(t, rle.RetryAfter, time.Duration(0))
}

func TestLimiter_SendersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	require.NoError(t, l.Allow("alice"))
	require.Error(t, l.Allow("alice"))

	// A different sender still has a fresh budget.
	require.NoError(t, l.Allow("bob"))
}

func TestLimiter_WindowResets(t *testing.T) {
	l, now := newTestLimiter(2, time.Minute)

	require.NoError(t, l.Allow("alice"))
	require.NoError(t, l.Allow("alice"))
	require.Error(t, l.Allow("alice"))

	*now = now.Add(time.Minute)

	// The first message after expiry starts a new window with count 1.
	require.NoError(t, l.Allow("alice"))
	require.NoError(t, l.Allow("alice"))
	require.Error(t, l.Allow("alice"))
}

func TestLimiter_RetryAfterShrinks(t *testing.T) {
	l, now := newTestLimiter(1, time.Minute)

	require.NoError(t, l.Allow("alice"))

	*now = now.Add(40 * time.Second)
	err := l.Allow("alice")
	require.Error(t, err)

	var rle *milaerrors.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 20*time.Second, rle.RetryAfter)
}

func TestLimiter_Prune(t *testing.T) {
	l, now := newTestLimiter(5, time.Minute)

	require.NoError(t, l.Allow("alice"))
	require.NoError(t, l.Allow("bob"))

	assert.Equal(t, 0, l.Prune())

	*now = now.Add(2 * time.Minute)
	assert.Equal(t, 2, l.Prune())
	assert.Empty(t, l.entries)
}
