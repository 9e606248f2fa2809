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

// Package store implements relational persistence for tenants, knowledge
// entries, conversations, and escalations over database/sql.
//
// Most tables rely on database-level locking. Conversation appends are a
// read-modify-write of one JSON column, so the store serializes them with
// a per-conversation lock.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	// SQL drivers
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	milaerrors "github.com/mila-ai/mila/pkg/errors"
)

// Store is the SQL persistence layer.
type Store struct {
	db      *sql.DB
	dialect string

	convMu    sync.Mutex
	convLocks map[string]*sync.Mutex
}

// convLock returns the mutex serializing appends for one conversation key.
func (s *Store) convLock(tenantID, userID string) *sync.Mutex {
	key := tenantID + "\x00" + userID
	s.convMu.Lock()
	defer s.convMu.Unlock()
	mu, ok := s.convLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.convLocks[key] = mu
	}
	return mu
}

const createTenantsSQL = `
CREATE TABLE IF NOT EXISTS tenants (
    id VARCHAR(64) PRIMARY KEY,
    name TEXT NOT NULL,
    channel_address VARCHAR(64) UNIQUE,
    settings TEXT,
    active BOOLEAN NOT NULL DEFAULT TRUE,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createKnowledgeSQL = `
CREATE TABLE IF NOT EXISTS knowledge_entries (
    id VARCHAR(64) PRIMARY KEY,
    tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    title TEXT NOT NULL,
    category VARCHAR(64) NOT NULL,
    content TEXT NOT NULL,
    keywords TEXT,
    metadata TEXT,
    vector_id VARCHAR(64),
    status VARCHAR(16) NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
)`

const createKnowledgeIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_knowledge_tenant_category
    ON knowledge_entries(tenant_id, category)`

const createKnowledgeStatusIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_knowledge_tenant_status
    ON knowledge_entries(tenant_id, status)`

const createConversationsSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id VARCHAR(64) PRIMARY KEY,
    tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    messages TEXT NOT NULL,
    last_message_at TIMESTAMP NOT NULL,
    UNIQUE (tenant_id, user_id)
)`

const createConversationsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_conversations_tenant_user
    ON conversations(tenant_id, user_id)`

const createEscalationsSQL = `
CREATE TABLE IF NOT EXISTS escalations (
    id VARCHAR(64) PRIMARY KEY,
    tenant_id VARCHAR(64) NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
    user_id VARCHAR(64) NOT NULL,
    reason TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
)`

const createEscalationsIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_escalations_tenant
    ON escalations(tenant_id, created_at)`

// Open connects to the database and initializes the schema.
// Driver is one of sqlite3, postgres, mysql.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "sqlite3", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dialect: driver, convLocks: map[string]*sync.Mutex{}}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing connection, initializing the schema.
func NewWithDB(db *sql.DB, dialect string) (*Store, error) {
	s := &Store{db: db, dialect: dialect, convLocks: map[string]*sync.Mutex{}}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.dialect == "sqlite3" {
		if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			return fmt.Errorf("failed to enable foreign keys: %w", err)
		}
	}

	statements := []string{
		createTenantsSQL,
		createKnowledgeSQL,
		createKnowledgeIndexSQL,
		createKnowledgeStatusIndexSQL,
		createConversationsSQL,
		createConversationsIndexSQL,
		createEscalationsSQL,
		createEscalationsIndexSQL,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $N for the postgres dialect.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ============================================================================
// Tenants (read-only: owned by the admin subsystem)
// ============================================================================

// GetTenant fetches one tenant by id.
func (s *Store) GetTenant(ctx context.Context, id string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, channel_address, settings, active, created_at, updated_at
		FROM tenants WHERE id = ?`), id)
	return scanTenant(row, id)
}

// FindTenantByChannel resolves an active tenant by its inbound channel
// address. A missing tenant is a *NotFoundError.
func (s *Store) FindTenantByChannel(ctx context.Context, address string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, name, channel_address, settings, active, created_at, updated_at
		FROM tenants WHERE channel_address = ? AND active = TRUE`), address)
	return scanTenant(row, address)
}

// ListTenants returns all tenants, active first.
func (s *Store) ListTenants(ctx context.Context) ([]*Tenant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, channel_address, settings, active, created_at, updated_at
		FROM tenants ORDER BY active DESC, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenantRow(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// CreateTenant inserts a tenant row. Exposed for the admin subsystem and
// tests; the message path never writes tenants.
func (s *Store) CreateTenant(ctx context.Context, t *Tenant) error {
	if t.Name == "" {
		return &milaerrors.ValidationError{Field: "name", Message: "required"}
	}
	settings, err := json.Marshal(t.Settings)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}

	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO tenants (id, name, channel_address, settings, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.Name, t.ChannelAddress, string(settings), t.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTenant(row *sql.Row, key string) (*Tenant, error) {
	t, err := scanTenantRow(row)
	if err == sql.ErrNoRows {
		return nil, &milaerrors.NotFoundError{Kind: "tenant", ID: key}
	}
	return t, err
}

func scanTenantRow(row rowScanner) (*Tenant, error) {
	var t Tenant
	var settings sql.NullString
	var address sql.NullString
	if err := row.Scan(&t.ID, &t.Name, &address, &settings, &t.Active, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	t.ChannelAddress = address.String
	if settings.Valid && settings.String != "" {
		if err := json.Unmarshal([]byte(settings.String), &t.Settings); err != nil {
			return nil, fmt.Errorf("failed to decode tenant settings: %w", err)
		}
	}
	return &t, nil
}

// ============================================================================
// Knowledge entries
// ============================================================================

// InsertKnowledgeEntry writes one entry row. VectorID stays empty until the
// vector upsert succeeds.
func (s *Store) InsertKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now
	_, err = s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO knowledge_entries
		(id, tenant_id, title, category, content, keywords, metadata, vector_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.ID, e.TenantID, e.Title, e.Category, e.Content,
		strings.Join(e.Keywords, ","), string(metadata), e.VectorID, e.Status, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert knowledge entry: %w", err)
	}
	return nil
}

// UpdateKnowledgeEntry rewrites the mutable fields of an entry row.
func (s *Store) UpdateKnowledgeEntry(ctx context.Context, e *KnowledgeEntry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	e.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE knowledge_entries
		SET title = ?, category = ?, content = ?, keywords = ?, metadata = ?, status = ?, updated_at = ?
		WHERE id = ?`),
		e.Title, e.Category, e.Content, strings.Join(e.Keywords, ","),
		string(metadata), e.Status, e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("failed to update knowledge entry: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &milaerrors.NotFoundError{Kind: "knowledge entry", ID: e.ID}
	}
	return nil
}

// SetVectorID records the vector-store reference after a successful upsert.
func (s *Store) SetVectorID(ctx context.Context, entryID, vectorID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`UPDATE knowledge_entries SET vector_id = ? WHERE id = ?`), vectorID, entryID)
	if err != nil {
		return fmt.Errorf("failed to set vector id: %w", err)
	}
	return nil
}

// DeleteKnowledgeEntry removes one entry row.
func (s *Store) DeleteKnowledgeEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`DELETE FROM knowledge_entries WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge entry: %w", err)
	}
	return nil
}

// GetKnowledgeEntry fetches one entry by id.
func (s *Store) GetKnowledgeEntry(ctx context.Context, id string) (*KnowledgeEntry, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, tenant_id, title, category, content, keywords, metadata, vector_id, status, created_at, updated_at
		FROM knowledge_entries WHERE id = ?`), id)

	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, &milaerrors.NotFoundError{Kind: "knowledge entry", ID: id}
	}
	return e, err
}

// ListKnowledgeEntries returns a tenant's entries, optionally restricted by
// status, newest first.
func (s *Store) ListKnowledgeEntries(ctx context.Context, tenantID, status string) ([]*KnowledgeEntry, error) {
	query := `
		SELECT id, tenant_id, title, category, content, keywords, metadata, vector_id, status, created_at, updated_at
		FROM knowledge_entries WHERE tenant_id = ?`
	args := []any{tenantID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge entries: %w", err)
	}
	defer rows.Close()

	var entries []*KnowledgeEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*KnowledgeEntry, error) {
	var e KnowledgeEntry
	var keywords, metadata, vectorID sql.NullString
	err := row.Scan(&e.ID, &e.TenantID, &e.Title, &e.Category, &e.Content,
		&keywords, &metadata, &vectorID, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan knowledge entry: %w", err)
	}
	if keywords.Valid && keywords.String != "" {
		e.Keywords = strings.Split(keywords.String, ",")
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
		}
	}
	e.VectorID = vectorID.String
	return &e, nil
}

// ============================================================================
// Escalations (append-only)
// ============================================================================

// InsertEscalation records one handoff to human staff.
func (s *Store) InsertEscalation(ctx context.Context, e *Escalation) error {
	if e.Reason == "" {
		return &milaerrors.ValidationError{Field: "reason", Message: "required"}
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO escalations (id, tenant_id, user_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`),
		e.ID, e.TenantID, e.UserID, e.Reason, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert escalation: %w", err)
	}
	return nil
}

// ListEscalations returns a tenant's escalations, newest first.
func (s *Store) ListEscalations(ctx context.Context, tenantID string) ([]*Escalation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, tenant_id, user_id, reason, created_at
		FROM escalations WHERE tenant_id = ? ORDER BY created_at DESC`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalations: %w", err)
	}
	defer rows.Close()

	var escalations []*Escalation
	for rows.Next() {
		var e Escalation
		if err := rows.Scan(&e.ID, &e.TenantID, &e.UserID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan escalation: %w", err)
		}
		escalations = append(escalations, &e)
	}
	return escalations, rows.Err()
}
