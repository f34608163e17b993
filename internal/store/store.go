// Copyright 2026 The Icon Authors
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

// Package store is the agent's local persistence layer: a single SQLite
// database holding configuration, synced rules, the offline event queue,
// and the monitored-domain list (spec C11). Values stored through
// PutSecret (the machine id, the HMAC secret, the API key) are encrypted
// at rest with AES-GCM when an encryption key is configured; the CA
// keypair is not stored here. See crypto.go and DESIGN.md for why that is
// the one place this module reaches for the standard library over a
// third-party dependency.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/ouattaraab/Icon/internal/queue"
	"github.com/ouattaraab/Icon/internal/rules"
)

const schema = `
CREATE TABLE IF NOT EXISTS config (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS rules (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	version        INTEGER NOT NULL,
	category       TEXT NOT NULL,
	target         TEXT NOT NULL,
	condition_json TEXT NOT NULL,
	action_json    TEXT NOT NULL,
	priority       INTEGER NOT NULL,
	enabled        INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS event_queue (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	event_type       TEXT NOT NULL,
	platform         TEXT,
	domain           TEXT,
	content_hash     TEXT,
	prompt_excerpt   TEXT,
	response_excerpt TEXT,
	rule_id          TEXT,
	severity         TEXT,
	metadata         TEXT,
	occurred_at      INTEGER NOT NULL,
	created_at       INTEGER NOT NULL,
	synced           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_event_queue_synced_created
	ON event_queue (synced, created_at);

CREATE TABLE IF NOT EXISTS monitored_domains (
	domain     TEXT PRIMARY KEY,
	platform   TEXT NOT NULL,
	is_blocked INTEGER NOT NULL DEFAULT 0
);
`

// Store wraps a SQLite connection implementing the persistence boundary
// for rules.Engine, the event queue, and configuration secrets.
type Store struct {
	db     *sql.DB
	log    *zap.Logger
	cipher *fieldCipher // nil when no encryption key is configured
}

// Open opens (creating if absent) the SQLite database at path and applies
// the schema. encryptionKey, if non-empty, is used to decrypt/encrypt
// sensitive config fields; pass nil to disable field encryption (e.g. in
// tests).
func Open(path string, encryptionKey []byte, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers; avoid lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply schema: %w", err)
	}

	var cipher *fieldCipher
	if len(encryptionKey) > 0 {
		cipher, err = newFieldCipher(encryptionKey)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("store: init field cipher: %w", err)
		}
	}

	return &Store{db: db, log: log, cipher: cipher}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- config ---

// GetSecret returns the decrypted value stored under key (e.g. "machine_id",
// "hmac_secret", "api_key").
func (s *Store) GetSecret(ctx context.Context, key string) (string, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("store: get secret %s: %w", key, err)
	}
	if s.cipher == nil {
		return string(raw), nil
	}
	plain, err := s.cipher.decrypt(raw)
	if err != nil {
		return "", fmt.Errorf("store: decrypt secret %s: %w", key, err)
	}
	return string(plain), nil
}

// PutSecret encrypts value (if field encryption is configured) and stores
// it under key.
func (s *Store) PutSecret(ctx context.Context, key, value string) error {
	raw := []byte(value)
	if s.cipher != nil {
		enc, err := s.cipher.encrypt(raw)
		if err != nil {
			return fmt.Errorf("store: encrypt secret %s: %w", key, err)
		}
		raw = enc
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, raw)
	if err != nil {
		return fmt.Errorf("store: put secret %s: %w", key, err)
	}
	return nil
}

// --- rules.Store ---

// AllEnabledRules implements rules.Store. Despite the name, it returns
// every rule regardless of its enabled flag: the engine's snapshot
// retains disabled rules so Evaluate can skip them without a reload
// being needed to bring a toggle into effect (spec §3).
func (s *Store) AllEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version, category, target, condition_json, action_json, priority, enabled
		FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("store: query rules: %w", err)
	}
	defer rows.Close()

	var out []rules.Rule
	for rows.Next() {
		var r rules.Rule
		var condJSON, actJSON string
		var enabled int
		if err := rows.Scan(&r.ID, &r.Name, &r.Version, &r.Category, &r.Target, &condJSON, &actJSON, &r.Priority, &enabled); err != nil {
			return nil, fmt.Errorf("store: scan rule: %w", err)
		}
		cond, err := rules.UnmarshalCondition(condJSON)
		if err != nil {
			s.log.Warn("dropping rule with malformed condition", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		act, err := rules.UnmarshalAction(actJSON)
		if err != nil {
			s.log.Warn("dropping rule with malformed action", zap.String("rule_id", r.ID), zap.Error(err))
			continue
		}
		r.Cond = cond
		r.Act = act
		r.Enabled = enabled != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertRule implements rules.Store.
func (s *Store) UpsertRule(ctx context.Context, r rules.Rule) error {
	condJSON, err := rules.MarshalCondition(r.Cond)
	if err != nil {
		return fmt.Errorf("store: marshal rule %s condition: %w", r.ID, err)
	}
	actJSON, err := rules.MarshalAction(r.Act)
	if err != nil {
		return fmt.Errorf("store: marshal rule %s action: %w", r.ID, err)
	}
	enabled := 0
	if r.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, name, version, category, target, condition_json, action_json, priority, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, version = excluded.version, category = excluded.category,
			target = excluded.target, condition_json = excluded.condition_json,
			action_json = excluded.action_json, priority = excluded.priority,
			enabled = excluded.enabled, updated_at = excluded.updated_at`,
		r.ID, r.Name, r.Version, r.Category, r.Target, condJSON, actJSON, r.Priority, enabled, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store: upsert rule %s: %w", r.ID, err)
	}
	return nil
}

// DeleteRule implements rules.Store.
func (s *Store) DeleteRule(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete rule %s: %w", id, err)
	}
	return nil
}

// --- event queue ---

// Enqueue appends an event and assigns it its local autoincrement id;
// callers treat this as fire-and-forget (spec §8 invariant 1: enqueue
// never blocks the interception path on network I/O).
func (s *Store) Enqueue(ctx context.Context, ev queue.Event) (int64, error) {
	metadata, err := encodeMetadata(ev.Metadata)
	if err != nil {
		return 0, fmt.Errorf("store: encode event metadata: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO event_queue
			(event_type, platform, domain, content_hash, prompt_excerpt, response_excerpt,
			 rule_id, severity, metadata, occurred_at, created_at, synced)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		string(ev.EventType), nullableString(ev.Platform), nullableString(ev.Domain),
		nullableString(ev.ContentHash), nullableString(ev.PromptExcerpt), nullableString(ev.ResponseExcerpt),
		nullableString(ev.RuleID), nullableString(ev.Severity), metadata,
		ev.OccurredAt.Unix(), ev.CreatedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: enqueue event: %w", err)
	}
	return res.LastInsertId()
}

// PendingBatch returns up to limit unsynced events, oldest first.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]queue.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_type, platform, domain, content_hash, prompt_excerpt, response_excerpt,
		       rule_id, severity, metadata, occurred_at, created_at
		FROM event_queue WHERE synced = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query pending events: %w", err)
	}
	defer rows.Close()

	var out []queue.Event
	for rows.Next() {
		var ev queue.Event
		var eventType string
		var platform, domain, contentHash, promptExcerpt, responseExcerpt, ruleID, severity, metadata sql.NullString
		var occurredAt, createdAt int64
		if err := rows.Scan(&ev.ID, &eventType, &platform, &domain, &contentHash, &promptExcerpt,
			&responseExcerpt, &ruleID, &severity, &metadata, &occurredAt, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan pending event: %w", err)
		}
		ev.EventType = queue.Type(eventType)
		ev.Platform = platform.String
		ev.Domain = domain.String
		ev.ContentHash = contentHash.String
		ev.PromptExcerpt = promptExcerpt.String
		ev.ResponseExcerpt = responseExcerpt.String
		ev.RuleID = ruleID.String
		ev.Severity = severity.String
		if meta, err := decodeMetadata(metadata.String); err == nil {
			ev.Metadata = meta
		}
		ev.OccurredAt = time.Unix(occurredAt, 0).UTC()
		ev.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkSynced flags ids as uploaded.
func (s *Store) MarkSynced(ctx context.Context, ids []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin mark-synced tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `UPDATE event_queue SET synced = 1 WHERE id = ?`)
	if err != nil {
		return fmt.Errorf("store: prepare mark-synced: %w", err)
	}
	defer stmt.Close()

	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, id); err != nil {
			return fmt.Errorf("store: mark-synced %d: %w", id, err)
		}
	}
	return tx.Commit()
}

// GCSyncedBefore deletes synced events older than cutoff, enforcing the
// configured retention window.
func (s *Store) GCSyncedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM event_queue WHERE synced = 1 AND created_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: gc event queue: %w", err)
	}
	return res.RowsAffected()
}

// --- monitored domains ---

// DomainRecord mirrors domainfilter.Entry for persistence.
type DomainRecord struct {
	Domain    string
	Platform  string
	IsBlocked bool
}

// ReplaceMonitoredDomains atomically swaps the monitored_domains table
// contents, used after a server-driven domain list sync.
func (s *Store) ReplaceMonitoredDomains(ctx context.Context, entries []DomainRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin domain replace tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM monitored_domains`); err != nil {
		return fmt.Errorf("store: clear monitored_domains: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO monitored_domains (domain, platform, is_blocked) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare domain insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		blocked := 0
		if e.IsBlocked {
			blocked = 1
		}
		if _, err := stmt.ExecContext(ctx, e.Domain, e.Platform, blocked); err != nil {
			return fmt.Errorf("store: insert domain %s: %w", e.Domain, err)
		}
	}
	return tx.Commit()
}

// MonitoredDomains returns the persisted domain list.
func (s *Store) MonitoredDomains(ctx context.Context) ([]DomainRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT domain, platform, is_blocked FROM monitored_domains`)
	if err != nil {
		return nil, fmt.Errorf("store: query monitored_domains: %w", err)
	}
	defer rows.Close()

	var out []DomainRecord
	for rows.Next() {
		var rec DomainRecord
		var blocked int
		if err := rows.Scan(&rec.Domain, &rec.Platform, &blocked); err != nil {
			return nil, fmt.Errorf("store: scan domain: %w", err)
		}
		rec.IsBlocked = blocked != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}
