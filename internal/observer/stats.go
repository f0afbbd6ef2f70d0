package observer

import (
	"sort"
	"time"

	"github.com/userfhy/SSLProxyManager-Tauri/internal/httpproxy"
)

// listenerStats accumulates one listener's totals since its first Record:
// per-statusclass counts, a fixed-size latency reservoir for percentile
// estimation, and bounded top-K counters for route and upstream failures.
// The counts are cumulative; they are not bucketed by time.
type listenerStats struct {
	total      int64
	statusCls  map[string]int64
	latencies  []time.Duration // fixed-size reservoir, oldest overwritten
	latencyPos int
	maxLatency time.Duration
	routeErr   map[string]int64
	upErr      map[string]int64
}

func newListenerStats() *listenerStats {
	return &listenerStats{
		statusCls: make(map[string]int64, 5),
		latencies: make([]time.Duration, 0, reservoirSize),
		routeErr:  make(map[string]int64),
		upErr:     make(map[string]int64),
	}
}

func (ls *listenerStats) record(rec httpproxy.Record) {
	ls.total++
	ls.statusCls[statusClass(rec.Status)]++

	if rec.Duration > ls.maxLatency {
		ls.maxLatency = rec.Duration
	}
	if len(ls.latencies) < reservoirSize {
		ls.latencies = append(ls.latencies, rec.Duration)
	} else {
		ls.latencies[ls.latencyPos] = rec.Duration
		ls.latencyPos = (ls.latencyPos + 1) % reservoirSize
	}

	if rec.Stage == httpproxy.Failed {
		if rec.RouteID != "" {
			ls.routeErr[rec.RouteID]++
		}
		if rec.Upstream != "" {
			ls.upErr[rec.Upstream]++
		}
	}
}

// Snapshot is the read-only view handed out by Observer.Snapshot.
type Snapshot struct {
	Listener    string
	Total       int64
	ByStatus    map[string]int64
	AvgLatency  time.Duration
	MaxLatency  time.Duration
	P95Latency  time.Duration
	P99Latency  time.Duration
	TopRouteErr []Counted
	TopUpErr    []Counted
}

// Counted is one (key, count) pair in a top-K ranking.
type Counted struct {
	Key   string
	Count int64
}

func (ls *listenerStats) snapshot(listener string) Snapshot {
	s := Snapshot{
		Listener:   listener,
		Total:      ls.total,
		ByStatus:   copyCounts(ls.statusCls),
		MaxLatency: ls.maxLatency,
	}

	if len(ls.latencies) > 0 {
		sorted := append([]time.Duration(nil), ls.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum time.Duration
		for _, d := range sorted {
			sum += d
		}
		s.AvgLatency = sum / time.Duration(len(sorted))
		s.P95Latency = percentile(sorted, 0.95)
		s.P99Latency = percentile(sorted, 0.99)
	}

	s.TopRouteErr = topK(ls.routeErr, topKSize)
	s.TopUpErr = topK(ls.upErr, topKSize)
	return s
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func topK(m map[string]int64, k int) []Counted {
	out := make([]Counted, 0, len(m))
	for key, count := range m {
		out = append(out, Counted{Key: key, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > k {
		out = out[:k]
	}
	return out
}
