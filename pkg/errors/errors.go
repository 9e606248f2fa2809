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

// Package errors defines the error taxonomy shared across the module.
//
// Provider and vector-store errors distinguish retryable failures (network,
// timeouts, 429/5xx) from fatal ones (auth, quota, schema mismatch). The
// retry package consults Retryable via errors.As before backing off.
package errors

import (
	"fmt"
	"net/http"
	"time"
)

// ProviderError reports a failure from an external model or embedding
// provider.
type ProviderError struct {
	Provider  string // "anthropic", "openai"
	Status    int    // HTTP status, 0 when the request never completed
	Message   string
	Retryable bool
	Err       error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s provider error (status %d): %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s provider error: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is worth retrying.
func (e *ProviderError) IsRetryable() bool { return e.Retryable }

// NewProviderError builds a ProviderError from an HTTP status, deriving
// retryability the way the upstream APIs document it: 408/429/5xx are
// transient, 401/403 and payment/quota failures are fatal.
func NewProviderError(provider string, status int, message string) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Status:    status,
		Message:   message,
		Retryable: RetryableStatus(status),
	}
}

// RetryableStatus reports whether an HTTP status code indicates a transient
// failure.
func RetryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// VectorStoreError reports a failure from the vector store.
type VectorStoreError struct {
	Op        string // "upsert", "search", "delete", "ensure_collection"
	Retryable bool
	Err       error
}

func (e *VectorStoreError) Error() string {
	return fmt.Sprintf("vector store %s failed: %v", e.Op, e.Err)
}

func (e *VectorStoreError) Unwrap() error { return e.Err }

// IsRetryable reports whether the failure is worth retrying.
func (e *VectorStoreError) IsRetryable() bool { return e.Retryable }

// ValidationError reports malformed caller input, rejected before any side
// effect.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a referenced tenant or entry that does not exist.
type NotFoundError struct {
	Kind string // "tenant", "knowledge entry", "conversation"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// RateLimitError reports that a sender exceeded the inbound message window.
// The gateway converts it into a user-facing throttle notice, never a failed
// delivery.
type RateLimitError struct {
	Sender     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Sender, e.RetryAfter)
}
