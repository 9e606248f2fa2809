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
	"time"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

// Knowledge entry categories.
const (
	CategorySchedules = "schedules"
	CategoryClasses   = "classes"
	CategoryPurchases = "purchases & registrations"
	CategoryPricing   = "pricing & policies"
	CategoryLocation  = "location & facilities"
	CategoryGeneral   = "general"
)

// KnowledgeCategories is the closed category enum for knowledge entries.
var KnowledgeCategories = []string{
	CategorySchedules,
	CategoryClasses,
	CategoryPurchases,
	CategoryPricing,
	CategoryLocation,
	CategoryGeneral,
}

// Entry statuses.
const (
	StatusActive   = "active"
	StatusDraft    = "draft"
	StatusArchived = "archived"
)

// ValidCategory reports whether category is part of the closed enum.
func ValidCategory(category string) bool {
	for _, c := range KnowledgeCategories {
		if c == category {
			return true
		}
	}
	return false
}

// TenantSettings is the schema-validated settings document attached to a
// tenant. Unknown fields are dropped at the admin boundary; the core never
// sees opaque JSON.
type TenantSettings struct {
	GreetingMessage string `json:"greeting_message,omitempty"`
	BasicGuidelines string `json:"basic_guidelines,omitempty"`
}

// Tenant is one isolated customer. Owned by the admin subsystem; read-only
// here.
type Tenant struct {
	ID             string
	Name           string
	ChannelAddress string
	Settings       TenantSettings
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KnowledgeEntry is one indexed fact grounding agent answers.
//
// VectorID, when set, always equals ID: points in the vector store are keyed
// by entry id. An entry without a VectorID has never been indexed.
type KnowledgeEntry struct {
	ID        string
	TenantID  string
	Title     string
	Category  string
	Content   string
	Keywords  []string
	Metadata  map[string]string
	VectorID  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects malformed entries before any side effect.
func (e *KnowledgeEntry) Validate() error {
	if e.TenantID == "" {
		return &milaerrors.ValidationError{Field: "tenant_id", Message: "required"}
	}
	if e.Title == "" {
		return &milaerrors.ValidationError{Field: "title", Message: "required"}
	}
	if e.Content == "" {
		return &milaerrors.ValidationError{Field: "content", Message: "required"}
	}
	if !ValidCategory(e.Category) {
		return &milaerrors.ValidationError{Field: "category", Message: "unknown category " + e.Category}
	}
	switch e.Status {
	case StatusActive, StatusDraft, StatusArchived:
	default:
		return &milaerrors.ValidationError{Field: "status", Message: "unknown status " + e.Status}
	}
	return nil
}

// Escalation is a recorded handoff to human staff. Append-only.
type Escalation struct {
	ID        string
	TenantID  string
	UserID    string
	Reason    string
	CreatedAt time.Time
}
