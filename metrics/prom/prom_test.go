package prom

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/poscache"
	"github.com/unkn0wn-root/poscache/balance"
)

func TestAdapterCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := New(reg, "poscache", "", prometheus.Labels{"app": "test"})

	a.Hit("feed")
	a.Hit("feed")
	a.Miss("feed")
	a.Computed("feed", 3*time.Millisecond, 120)
	a.Degraded("get")
	a.Evicted("corrupt")

	require.Equal(t, 2.0, testutil.ToFloat64(a.hits.WithLabelValues("feed")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.misses.WithLabelValues("feed")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.computed.WithLabelValues("feed")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.degraded.WithLabelValues("get")))
	require.Equal(t, 1.0, testutil.ToFloat64(a.evicts.WithLabelValues("corrupt")))
	require.Equal(t, 2, testutil.CollectAndCount(a.computeDur)+testutil.CollectAndCount(a.seqLen))
}

func TestAdapterWithCache(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	a := New(reg, "poscache", "", nil)

	c, err := poscache.New(poscache.Options{Config: poscache.DefaultConfig("m"), Metrics: a})
	require.NoError(t, err)
	defer c.Close(ctx)

	q := poscache.Query{
		CollectionID: "feed",
		Policy:       balance.FirstSeenPolicy(),
		Items: func(context.Context) ([]balance.Item, error) {
			return []balance.Item{{ID: "1", Type: "a"}, {ID: "2", Type: "b"}}, nil
		},
	}
	for i := 0; i < 3; i++ {
		_, err := c.GetOrCompute(ctx, q)
		require.NoError(t, err)
	}
	require.Equal(t, 1.0, testutil.ToFloat64(a.misses.WithLabelValues("feed")))
	require.Equal(t, 2.0, testutil.ToFloat64(a.hits.WithLabelValues("feed")))
}
