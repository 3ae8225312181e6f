// Package sqltable is the durable storage backend.
//
// Each cached sequence is stored as one row per position in <prefix>_positions
// plus one metadata row in <prefix>_entries. The fingerprint column holds the
// full cache key. A write replaces every row of a key inside one transaction,
// and the unique indexes on (fingerprint, position) and
// (item_type, item_id, fingerprint) reject conflicting concurrent writers.
package sqltable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unkn0wn-root/poscache/storage"
)

const (
	backendName     = "sqltable"
	defaultPrefix   = "balanced"
	insertBatchRows = 200
)

type Options struct {
	Dialect Dialect
	// Table is the table name prefix. Default "balanced".
	Table string
	Now   func() time.Time
	// AutoMigrate creates tables and indexes when missing.
	AutoMigrate bool
}

type Store struct {
	db  *sql.DB
	t   tables
	now func() time.Time
}

var _ storage.Backend = (*Store)(nil)

func New(ctx context.Context, db *sql.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqltable: nil db")
	}
	prefix := opts.Table
	if prefix == "" {
		prefix = defaultPrefix
	}
	t, err := newTables(prefix, opts.Dialect)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, t: t, now: opts.Now}
	if s.now == nil {
		s.now = time.Now
	}
	if opts.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.t.ddl() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storage.Unavailable(backendName, "migrate", err)
		}
	}
	return nil
}

type meta struct {
	itemType  string
	typeField string
	count     int
	scopeGen  int64
	keyGen    int64
	createdAt int64
	ttl       int64
	expiresAt int64
}

func (s *Store) Get(ctx context.Context, key string) (storage.Entry, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Entry{}, false, storage.Unavailable(backendName, "get", err)
	}
	defer func() { _ = tx.Rollback() }()

	var m meta
	err = tx.QueryRowContext(ctx, s.t.bind(`SELECT item_type, type_field, item_count, scope_gen, key_gen, created_at, ttl_ns, expires_at
FROM `+s.t.entries+` WHERE fingerprint = ?`), key).
		Scan(&m.itemType, &m.typeField, &m.count, &m.scopeGen, &m.keyGen, &m.createdAt, &m.ttl, &m.expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Entry{}, false, nil
	}
	if err != nil {
		return storage.Entry{}, false, storage.Unavailable(backendName, "get", err)
	}

	if m.expiresAt > 0 && s.now().UnixNano() >= m.expiresAt {
		if err := s.deleteKey(ctx, tx, key); err != nil {
			return storage.Entry{}, false, err
		}
		if err := tx.Commit(); err != nil {
			return storage.Entry{}, false, storage.Unavailable(backendName, "get", err)
		}
		return storage.Entry{}, false, nil
	}

	rows, err := tx.QueryContext(ctx, s.t.bind(`SELECT item_id, position FROM `+s.t.positions+`
WHERE fingerprint = ? ORDER BY position`), key)
	if err != nil {
		return storage.Entry{}, false, storage.Unavailable(backendName, "get", err)
	}
	defer rows.Close()

	seq := make([]string, 0, m.count)
	for rows.Next() {
		var id string
		var pos int
		if err := rows.Scan(&id, &pos); err != nil {
			return storage.Entry{}, false, storage.Unavailable(backendName, "get", err)
		}
		if pos != len(seq) {
			return storage.Entry{}, false, &storage.CorruptionError{Key: key, Err: fmt.Errorf("gap at position %d", len(seq))}
		}
		seq = append(seq, id)
	}
	if err := rows.Err(); err != nil {
		return storage.Entry{}, false, storage.Unavailable(backendName, "get", err)
	}
	if len(seq) != m.count {
		return storage.Entry{}, false, &storage.CorruptionError{Key: key, Err: fmt.Errorf("have %d positions, want %d", len(seq), m.count)}
	}

	return storage.Entry{
		Key:         key,
		Fingerprint: fingerprintOf(key),
		ItemType:    m.itemType,
		TypeField:   m.typeField,
		Sequence:    seq,
		Gen:         storage.Generation{Scope: uint64(m.scopeGen), Key: uint64(m.keyGen)},
		CreatedAt:   time.Unix(0, m.createdAt),
		TTL:         time.Duration(m.ttl),
	}, true, nil
}

// Set replaces every row stored for e.Key in a single transaction.
func (s *Store) Set(ctx context.Context, e storage.Entry) error {
	now := s.now().UnixNano()
	created := e.CreatedAt.UnixNano()
	if e.CreatedAt.IsZero() {
		created = now
	}
	var expires int64
	if e.TTL > 0 {
		expires = created + int64(e.TTL)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable(backendName, "set", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteKey(ctx, tx, e.Key); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, s.t.bind(`INSERT INTO `+s.t.entries+`
(fingerprint, item_type, type_field, item_count, scope_gen, key_gen, created_at, ttl_ns, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		e.Key, e.ItemType, e.TypeField, len(e.Sequence), int64(e.Gen.Scope), int64(e.Gen.Key), created, int64(e.TTL), expires)
	if err != nil {
		return storage.Unavailable(backendName, "set", err)
	}

	for start := 0; start < len(e.Sequence); start += insertBatchRows {
		end := start + insertBatchRows
		if end > len(e.Sequence) {
			end = len(e.Sequence)
		}
		var q strings.Builder
		q.WriteString(`INSERT INTO ` + s.t.positions +
			` (item_id, item_type, position, fingerprint, type_field, created_at, updated_at) VALUES `)
		args := make([]any, 0, (end-start)*7)
		for i := start; i < end; i++ {
			if i > start {
				q.WriteString(", ")
			}
			q.WriteString("(?, ?, ?, ?, ?, ?, ?)")
			args = append(args, e.Sequence[i], e.ItemType, i, e.Key, e.TypeField, created, now)
		}
		if _, err := tx.ExecContext(ctx, s.t.bind(q.String()), args...); err != nil {
			return storage.Unavailable(backendName, "set", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storage.Unavailable(backendName, "set", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable(backendName, "delete", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := s.deleteKey(ctx, tx, key); err != nil {
		return err
	}
	return storage.Unavailable(backendName, "delete", tx.Commit())
}

func (s *Store) Clear(ctx context.Context, prefix string) error {
	pattern := likePrefix(prefix)
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Unavailable(backendName, "clear", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range [...]string{s.t.positions, s.t.entries} {
		q := s.t.bind(`DELETE FROM ` + table + ` WHERE fingerprint LIKE ? ESCAPE '!'`)
		if _, err := tx.ExecContext(ctx, q, pattern); err != nil {
			return storage.Unavailable(backendName, "clear", err)
		}
	}
	return storage.Unavailable(backendName, "clear", tx.Commit())
}

// Sweep deletes expired entries and their positions. It returns the number of
// entries removed.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now().UnixNano()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storage.Unavailable(backendName, "sweep", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, s.t.bind(`DELETE FROM `+s.t.positions+` WHERE fingerprint IN
(SELECT fingerprint FROM `+s.t.entries+` WHERE expires_at > 0 AND expires_at <= ?)`), now)
	if err != nil {
		return 0, storage.Unavailable(backendName, "sweep", err)
	}
	res, err := tx.ExecContext(ctx, s.t.bind(`DELETE FROM `+s.t.entries+` WHERE expires_at > 0 AND expires_at <= ?`), now)
	if err != nil {
		return 0, storage.Unavailable(backendName, "sweep", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, storage.Unavailable(backendName, "sweep", err)
	}
	return int(n), nil
}

// Close is a no-op; the caller owns the *sql.DB.
func (s *Store) Close(context.Context) error { return nil }

func (s *Store) deleteKey(ctx context.Context, tx *sql.Tx, key string) error {
	for _, table := range [...]string{s.t.positions, s.t.entries} {
		if _, err := tx.ExecContext(ctx, s.t.bind(`DELETE FROM `+table+` WHERE fingerprint = ?`), key); err != nil {
			return storage.Unavailable(backendName, "delete", err)
		}
	}
	return nil
}

func fingerprintOf(key string) string {
	if i := strings.LastIndexByte(key, '/'); i >= 0 {
		return key[i+1:]
	}
	return key
}
