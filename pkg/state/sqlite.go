// Copyright Pigeonworks LLC
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

package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/pigeonworks-llc/go-dungeon/pkg/cooldown"
	"github.com/pigeonworks-llc/go-dungeon/pkg/instance"
	"github.com/pigeonworks-llc/go-dungeon/pkg/session"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// SQLiteOption configures a SQLiteStore.
type SQLiteOption func(*SQLiteStore)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLiteStore) { s.logger = l }
}

// SQLiteStore keeps the snapshot in a SQLite database, one row per
// instance, session and cooldown. Save replaces all rows in a single
// transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Store = (*SQLiteStore)(nil)
var _ Store = (*FileStore)(nil)

// OpenSQLite opens (and initialises) the database at dbPath.
func OpenSQLite(ctx context.Context, dbPath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	if err := s.init(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS instances (
			id TEXT PRIMARY KEY,
			state TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			actor TEXT PRIMARY KEY,
			data TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cooldowns (
			actor TEXT PRIMARY KEY,
			last_creation INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Load reads the snapshot from the database.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	snap := NewSnapshot()

	meta, err := s.readMeta(ctx)
	if err != nil {
		return nil, err
	}
	if v, ok := meta["version"]; ok && v != CurrentVersion {
		return nil, fmt.Errorf("unsupported state version %q (want %q)", v, CurrentVersion)
	}
	if v, ok := meta["id_counter"]; ok {
		if snap.IDCounter, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid id_counter %q: %w", v, err)
		}
	}
	if v, ok := meta["saved_at"]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			snap.SavedAt = time.Unix(0, ns)
		}
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM instances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan instance: %w", err)
		}
		var rec InstanceRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode instance: %w", err)
		}
		snap.Instances = append(snap.Instances, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	srows, err := s.db.QueryContext(ctx, `SELECT data FROM sessions ORDER BY actor`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer srows.Close()
	for srows.Next() {
		var data string
		if err := srows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		var sess session.Session
		if err := json.Unmarshal([]byte(data), &sess); err != nil {
			return nil, fmt.Errorf("decode session: %w", err)
		}
		snap.Sessions = append(snap.Sessions, sess)
	}
	if err := srows.Err(); err != nil {
		return nil, err
	}

	crows, err := s.db.QueryContext(ctx, `SELECT actor, last_creation FROM cooldowns ORDER BY actor`)
	if err != nil {
		return nil, fmt.Errorf("query cooldowns: %w", err)
	}
	defer crows.Close()
	for crows.Next() {
		var actor string
		var ns int64
		if err := crows.Scan(&actor, &ns); err != nil {
			return nil, fmt.Errorf("scan cooldown: %w", err)
		}
		snap.Cooldowns = append(snap.Cooldowns, cooldown.Record{
			Actor:        instance.ActorID(actor),
			LastCreation: time.Unix(0, ns),
		})
	}
	if err := crows.Err(); err != nil {
		return nil, err
	}

	s.logger.Debug("sqlite: snapshot loaded",
		"instances", len(snap.Instances),
		"sessions", len(snap.Sessions),
		"duration", time.Since(start))
	return snap, nil
}

func (s *SQLiteStore) readMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("query meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

// Save replaces the stored snapshot in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	start := time.Now()
	savedAt := snap.SavedAt
	if savedAt.IsZero() {
		savedAt = start
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, table := range []string{"meta", "instances", "sessions", "cooldowns"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	meta := map[string]string{
		"version":    CurrentVersion,
		"id_counter": strconv.FormatUint(snap.IDCounter, 10),
		"saved_at":   strconv.FormatInt(savedAt.UnixNano(), 10),
	}
	for k, v := range meta {
		if _, err := tx.ExecContext(ctx, `INSERT INTO meta (key, value) VALUES (?, ?)`, k, v); err != nil {
			return fmt.Errorf("insert meta: %w", err)
		}
	}

	for _, rec := range snap.Instances {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode instance %s: %w", rec.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO instances (id, state, data) VALUES (?, ?, ?)`,
			rec.ID, rec.State.String(), string(data)); err != nil {
			return fmt.Errorf("insert instance %s: %w", rec.ID, err)
		}
	}

	for _, sess := range snap.Sessions {
		data, err := json.Marshal(sess)
		if err != nil {
			return fmt.Errorf("encode session %s: %w", sess.Actor, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (actor, data) VALUES (?, ?)`,
			string(sess.Actor), string(data)); err != nil {
			return fmt.Errorf("insert session %s: %w", sess.Actor, err)
		}
	}

	for _, rec := range snap.Cooldowns {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO cooldowns (actor, last_creation) VALUES (?, ?)`,
			string(rec.Actor), rec.LastCreation.UnixNano()); err != nil {
			return fmt.Errorf("insert cooldown %s: %w", rec.Actor, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("sqlite: snapshot saved",
		"instances", len(snap.Instances),
		"sessions", len(snap.Sessions),
		"cooldowns", len(snap.Cooldowns),
		"duration", time.Since(start))
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
