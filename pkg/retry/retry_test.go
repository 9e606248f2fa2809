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

package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

func fastRetryer(maxRetries int) *Retryer {
	return New(Config{MaxRetries: maxRetries, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
}

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	r := fastRetryer(3)
	attempts := 0

	err := r.Do(context.Background(), "flaky", func() error {
		attempts++
		if attempts < 3 {
			return milaerrors.NewProviderError("test", 503, "unavailable")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestDo_FatalErrorStopsImmediately(t *testing.T) {
	r := fastRetryer(3)
	attempts := 0

	fatal := milaerrors.NewProviderError("test", 401, "bad key")
	err := r.Do(context.Background(), "fatal", func() error {
		attempts++
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestDo_ExhaustionWrapsLastError(t *testing.T) {
	r := fastRetryer(2)
	attempts := 0

	err := r.Do(context.Background(), "hopeless", func() error {
		attempts++
		return milaerrors.NewProviderError("test", 500, "down")
	})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	assert.Equal(t, "hopeless", exhausted.Operation)
	assert.Equal(t, 3, exhausted.Attempts)

	// The underlying provider error stays reachable.
	var provErr *milaerrors.ProviderError
	assert.True(t, errors.As(err, &provErr))
}

func TestResult_ReturnsValue(t *testing.T) {
	r := fastRetryer(1)
	got, err := Result(context.Background(), r, "value", func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestDo_ContextCancellation(t *testing.T) {
	r := New(Config{MaxRetries: 5, BaseDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.Do(ctx, "cancelled", func() error {
			attempts++
			return milaerrors.NewProviderError("test", 500, "down")
		})
	}()

	cancel()
	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable provider error", milaerrors.NewProviderError("x", 503, "down"), true},
		{"rate limited upstream", milaerrors.NewProviderError("x", 429, "slow down"), true},
		{"fatal provider error", milaerrors.NewProviderError("x", 400, "bad request"), false},
		{"local rate limit", &milaerrors.RateLimitError{Sender: "a", RetryAfter: time.Second}, false},
		{"context cancelled", context.Canceled, false},
		{"connection refused text", fmt.Errorf("dial tcp: connection refused"), true},
		{"arbitrary error", fmt.Errorf("no such tenant"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}
