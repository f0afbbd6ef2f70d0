package observer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
)

type fakeSink struct {
	batches [][]httpproxy.Record
}

func (f *fakeSink) Flush(batch []httpproxy.Record) {
	f.batches = append(f.batches, batch)
}

func TestObserveAccumulatesStatusCounts(t *testing.T) {
	o := New(nil, nil)
	defer o.Close()

	o.Observe(httpproxy.Record{Listener: "l1", Status: 200, Duration: 10 * time.Millisecond})
	o.Observe(httpproxy.Record{Listener: "l1", Status: 500, Duration: 20 * time.Millisecond})
	o.Observe(httpproxy.Record{Listener: "l1", Status: 200, Duration: 5 * time.Millisecond})

	snap := o.Snapshot("l1")
	require.EqualValues(t, 3, snap.Total)
	require.EqualValues(t, 2, snap.ByStatus["2xx"])
	require.EqualValues(t, 1, snap.ByStatus["5xx"])
	require.Equal(t, 20*time.Millisecond, snap.MaxLatency)
}

func TestObserveTracksTopRouteErrors(t *testing.T) {
	o := New(nil, nil)
	defer o.Close()

	o.Observe(httpproxy.Record{Listener: "l1", RouteID: "r1", Stage: httpproxy.Failed, Reason: httpproxy.ReasonDenied})
	o.Observe(httpproxy.Record{Listener: "l1", RouteID: "r1", Stage: httpproxy.Failed, Reason: httpproxy.ReasonDenied})
	o.Observe(httpproxy.Record{Listener: "l1", RouteID: "r2", Stage: httpproxy.Failed, Reason: httpproxy.ReasonRouteMiss})

	snap := o.Snapshot("l1")
	require.Len(t, snap.TopRouteErr, 2)
	require.Equal(t, "r1", snap.TopRouteErr[0].Key)
	require.EqualValues(t, 2, snap.TopRouteErr[0].Count)
}

func TestSnapshotOfUnknownListenerIsEmpty(t *testing.T) {
	o := New(nil, nil)
	defer o.Close()
	snap := o.Snapshot("nope")
	require.Zero(t, snap.Total)
}

func TestFlushBatchesToSink(t *testing.T) {
	sink := &fakeSink{}
	o := New(nil, sink)
	defer o.Close()

	for i := 0; i < flushBatchSize+1; i++ {
		o.Observe(httpproxy.Record{Listener: "l1", Status: 200})
	}
	require.GreaterOrEqual(t, len(sink.batches), 1)
}

func TestPercentileOnSortedSlice(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	require.Equal(t, time.Duration(10), percentile(sorted, 0.95))
	require.Equal(t, time.Duration(1), percentile(sorted, 0))
}
