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

// Package retry implements bounded exponential backoff for calls to external
// providers.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"strings"
	"time"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

// Config controls retry behavior.
type Config struct {
	// MaxRetries is the number of retries after the first attempt (default 3).
	MaxRetries int

	// BaseDelay is the delay before the first retry (default 1s).
	BaseDelay time.Duration

	// MaxDelay caps the backoff (default 30s).
	MaxDelay time.Duration

	// JitterFactor randomizes delays to avoid thundering herds (default 0.1).
	JitterFactor float64
}

// DefaultConfig returns the defaults used at provider boundaries.
func DefaultConfig() Config {
	return Config{
		MaxRetries:   3,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.1,
	}
}

// retryableTextPatterns catches transport-level failures that arrive as plain
// errors rather than typed provider errors.
var retryableTextPatterns = []string{
	"connection refused",
	"connection reset",
	"timeout",
	"temporarily unavailable",
	"too many requests",
}

// Retryer executes operations with exponential backoff.
type Retryer struct {
	cfg Config
}

// New creates a Retryer, filling zero fields with defaults.
func New(cfg Config) *Retryer {
	def := DefaultConfig()
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.JitterFactor <= 0 {
		cfg.JitterFactor = def.JitterFactor
	}
	return &Retryer{cfg: cfg}
}

// Do runs fn until it succeeds, fails fatally, or the retry budget is spent.
func (r *Retryer) Do(ctx context.Context, operation string, fn func() error) error {
	_, err := Result(ctx, r, operation, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Result runs an operation returning a value under the retryer's policy.
func Result[T any](ctx context.Context, r *Retryer, operation string, fn func() (T, error)) (T, error) {
	var result T
	var lastErr error

	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		var err error
		result, err = fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !Retryable(err) {
			return result, err
		}
		if attempt >= r.cfg.MaxRetries {
			return result, &ExhaustedError{Operation: operation, Attempts: attempt + 1, LastError: err}
		}

		delay := r.delay(attempt)
		slog.Debug("retrying operation",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", r.cfg.MaxRetries+1,
			"delay", delay,
			"error", err)

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-time.After(delay):
		}
	}

	return result, lastErr
}

// Retryable reports whether an error is worth another attempt. Typed provider
// and store errors carry their own verdict; anything else falls back to
// transport-level text matching. Context cancellation is never retried.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		return false
	}

	var retryable interface{ IsRetryable() bool }
	if errors.As(err, &retryable) {
		return retryable.IsRetryable()
	}

	var rateLimited *milaerrors.RateLimitError
	if errors.As(err, &rateLimited) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range retryableTextPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func (r *Retryer) delay(attempt int) time.Duration {
	delay := time.Duration(math.Pow(2, float64(attempt))) * r.cfg.BaseDelay

	jitter := time.Duration(rand.Float64() * float64(delay) * r.cfg.JitterFactor)
	if rand.Float64() < 0.5 {
		delay -= jitter
	} else {
		delay += jitter
	}

	if delay > r.cfg.MaxDelay {
		delay = r.cfg.MaxDelay
	}
	return delay
}

// ExhaustedError reports that the retry budget was spent without success.
type ExhaustedError struct {
	Operation string
	Attempts  int
	LastError error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Operation, e.Attempts, e.LastError)
}

func (e *ExhaustedError) Unwrap() error { return e.LastError }
