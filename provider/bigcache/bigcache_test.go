package bigcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newProvider(t *testing.T) *Provider {
	t.Helper()
	p, err := New(context.Background(), Config{LifeWindow: time.Minute, MaxEntriesInWindow: 1000, MaxEntrySize: 512})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })
	return p
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	_, hit, err := p.Get(ctx, "missing")
	require.NoError(t, err)
	require.False(t, hit)

	ok, err := p.Set(ctx, "ns/c/1", []byte("abc"), 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	b, hit, err := p.Get(ctx, "ns/c/1")
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, []byte("abc"), b)

	require.NoError(t, p.Del(ctx, "ns/c/1"))
	require.NoError(t, p.Del(ctx, "ns/c/1"))
}

func TestDeletePrefix(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	for i := 0; i < 10; i++ {
		_, _ = p.Set(ctx, fmt.Sprintf("ns/a/%d", i), []byte("x"), 0, 0)
	}
	_, _ = p.Set(ctx, "ns/b/0", []byte("x"), 0, 0)

	n, err := p.DeletePrefix(ctx, "ns/a/")
	require.NoError(t, err)
	require.Equal(t, 10, n)
	_, hit, _ := p.Get(ctx, "ns/b/0")
	require.True(t, hit)
}
