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

// Package ratelimit provides a per-sender fixed-window message limiter.
package ratelimit

import (
	"sync"
	"time"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

// Limiter counts messages per sender within a fixed window. The first
// message after a window expires starts a fresh window with count 1.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*windowEntry
	now     func() time.Time
}

type windowEntry struct {
	start time.Time
	count int
}

// New creates a limiter allowing limit messages per window per sender.
func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		entries: make(map[string]*windowEntry),
		now:     time.Now,
	}
}

// Allow records one message from sender. It returns a *RateLimitError
// when the sender has exceeded the limit for the current window.
func (l *Limiter) Allow(sender string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[sender]
	if !ok || now.Sub(e.start) >= l.window {
		l.entries[sender] = &windowEntry{start: now, count: 1}
		return nil
	}

	e.count++
	if e.count > l.limit {
		return &milaerrors.RateLimitError{
			Sender:     sender,
			RetryAfter: e.start.Add(l.window).Sub(now),
		}
	}
	return nil
}

// Prune drops expired windows. Call periodically to bound memory.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	pruned := 0
	for sender, e := range l.entries {
		if now.Sub(e.start) >= l.window {
			delete(l.entries, sender)
			pruned++
		}
	}
	return pruned
}
