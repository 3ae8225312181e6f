package sqltable

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/poscache/storage"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openStore(t *testing.T) (*Store, *sql.DB, *fakeClock) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "pos.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	s, err := New(context.Background(), db, Options{AutoMigrate: true, Now: clk.Now})
	require.NoError(t, err)
	return s, db, clk
}

func entry(clk *fakeClock, key string, ttl time.Duration, ids ...string) storage.Entry {
	return storage.Entry{
		Key:       key,
		ItemType:  "playlist",
		TypeField: "type",
		Sequence:  ids,
		Gen:       storage.Generation{Scope: 1, Key: 4},
		CreatedAt: clk.Now(),
		TTL:       ttl,
	}
}

func TestSetGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _, clk := openStore(t)

	_, ok, err := s.Get(ctx, "ns/c/fp")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/fp", time.Minute, "1", "2", "5", "3", "4")))
	got, ok, err := s.Get(ctx, "ns/c/fp")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"1", "2", "5", "3", "4"}, got.Sequence)
	require.Equal(t, "fp", got.Fingerprint)
	require.Equal(t, "playlist", got.ItemType)
	require.Equal(t, "type", got.TypeField)
	require.Equal(t, storage.Generation{Scope: 1, Key: 4}, got.Gen)
	require.Equal(t, time.Minute, got.TTL)
	require.True(t, clk.Now().Equal(got.CreatedAt))
}

func TestTTLRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, db, clk := openStore(t)
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/a", 10*time.Second, "x", "y")))

	clk.Advance(9 * time.Second)
	_, ok, _ := s.Get(ctx, "ns/c/a")
	require.True(t, ok)

	clk.Advance(time.Second)
	_, ok, err := s.Get(ctx, "ns/c/a")
	require.NoError(t, err)
	require.False(t, ok)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM balanced_positions`).Scan(&n))
	require.Zero(t, n, "expired rows not removed on read")
}

func TestOverwriteReplacesRows(t *testing.T) {
	ctx := context.Background()
	s, db, clk := openStore(t)
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/a", 0, "1", "2", "3", "4")))
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/a", 0, "4", "3")))

	got, ok, err := s.Get(ctx, "ns/c/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"4", "3"}, got.Sequence)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM balanced_positions WHERE fingerprint = ?`, "ns/c/a").Scan(&n))
	require.Equal(t, 2, n)
}

func TestLargeSequenceBatches(t *testing.T) {
	ctx := context.Background()
	s, _, clk := openStore(t)
	ids := make([]string, 3*insertBatchRows+7)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/big", 0, ids...)))
	got, ok, err := s.Get(ctx, "ns/c/big")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ids, got.Sequence)
}

func TestDuplicateItemRejectedAtomically(t *testing.T) {
	ctx := context.Background()
	s, _, clk := openStore(t)
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/a", 0, "1", "2")))

	err := s.Set(ctx, entry(clk, "ns/c/a", 0, "7", "7"))
	require.ErrorIs(t, err, storage.ErrUnavailable)

	got, ok, err := s.Get(ctx, "ns/c/a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []string{"1", "2"}, got.Sequence, "failed write left partial rows")
}

func TestEmptySequence(t *testing.T) {
	ctx := context.Background()
	s, _, clk := openStore(t)
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/empty", 0)))
	got, ok, err := s.Get(ctx, "ns/c/empty")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, got.Sequence)
}

func TestMissingPositionsIsCorruption(t *testing.T) {
	ctx := context.Background()
	s, db, clk := openStore(t)
	require.NoError(t, s.Set(ctx, entry(clk, "ns/c/a", 0, "1", "2", "3")))
	_, err := db.Exec(`DELETE FROM balanced_positions WHERE position = 1`)
	require.NoError(t, err)

	_, ok, err := s.Get(ctx, "ns/c/a")
	require.False(t, ok)
	require.ErrorIs(t, err, storage.ErrCorrupt)
}

func TestDeleteClearSweep(t *testing.T) {
	ctx := context.Background()
	s, _, clk := openStore(t)
	require.NoError(t, s.Set(ctx, entry(clk, "ns/videos/1", 0, "a")))
	require.NoError(t, s.Set(ctx, entry(clk, "ns/videos/2", 0, "a")))
	require.NoError(t, s.Set(ctx, entry(clk, "ns/videos_x/1", 0, "a")))
	require.NoError(t, s.Set(ctx, entry(clk, "ns/images/1", time.Second, "a")))

	require.NoError(t, s.Delete(ctx, "ns/videos/1"))
	_, ok, _ := s.Get(ctx, "ns/videos/1")
	require.False(t, ok)

	require.NoError(t, s.Clear(ctx, "ns/videos/"))
	_, ok, _ = s.Get(ctx, "ns/videos/2")
	require.False(t, ok)
	_, ok, _ = s.Get(ctx, "ns/videos_x/1")
	require.True(t, ok, "underscore in prefix matched as wildcard")

	clk.Advance(2 * time.Second)
	n, err := s.Sweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestInvalidPrefix(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	defer db.Close()
	_, err = New(context.Background(), db, Options{Table: "bad; DROP"})
	require.Error(t, err)
}

func TestDollarBinding(t *testing.T) {
	tb := tables{dialect: Dollar}
	require.Equal(t, "a = $1 AND b IN ($2, $3)", tb.bind("a = ? AND b IN (?, ?)"))
	require.Equal(t, "a = ?", tables{}.bind("a = ?"))
	require.Equal(t, Dollar, ParseDialect("pgx"))
	require.Equal(t, Question, ParseDialect("sqlite"))
}

func TestLikePrefixEscapes(t *testing.T) {
	require.Equal(t, "ns/a!_b!%c!!/%", likePrefix("ns/a_b%c!/"))
}
