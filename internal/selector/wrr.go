package selector

import (
	"sync"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// WeightedRoundRobin picks among a route's upstreams using the smooth
// weighted round-robin algorithm (current-weight accumulator, decremented
// by total weight on selection), the same scheme nginx uses and the one
// caddyhttp/proxy/policy.go's RoundRobin generalizes for uniform weights.
// State is kept per route id, as required by §4.D ("state is per-route").
type WeightedRoundRobin struct {
	mu    sync.Mutex
	state map[string][]*wrrEntry
}

type wrrEntry struct {
	upstream config.WeightedUpstream
	current  int
}

// NewWeightedRoundRobin constructs an empty selector.
func NewWeightedRoundRobin() *WeightedRoundRobin {
	return &WeightedRoundRobin{state: make(map[string][]*wrrEntry)}
}

// Select returns the next upstream for routeID among ups, skipping any
// whose URL is excluded (banned) by tracker. Returns ("", false) if every
// candidate is excluded (should not happen once FailureTracker.Filter has
// been applied upstream, but Select defends against an empty ups slice).
func (w *WeightedRoundRobin) Select(routeID string, ups []config.WeightedUpstream, tracker *FailureTracker) (config.WeightedUpstream, bool) {
	if len(ups) == 0 {
		return config.WeightedUpstream{}, false
	}

	eligible := make([]string, 0, len(ups))
	byURL := make(map[string]config.WeightedUpstream, len(ups))
	for _, u := range ups {
		eligible = append(eligible, u.URL)
		byURL[u.URL] = u
	}
	if tracker != nil {
		eligible = tracker.Filter(eligible)
	}
	if len(eligible) == 0 {
		return config.WeightedUpstream{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	entries := w.entriesFor(routeID, eligible, byURL)

	total := 0
	var best *wrrEntry
	for _, e := range entries {
		e.current += e.upstream.Weight
		total += e.upstream.Weight
		if best == nil || e.current > best.current {
			best = e
		}
	}
	best.current -= total
	return best.upstream, true
}

// entriesFor rebuilds the per-route state slice whenever the eligible set
// changes shape (membership churn from bans coming and going), preserving
// accumulated weight for members that persist across calls so fairness
// isn't reset every time a single member is temporarily excluded.
func (w *WeightedRoundRobin) entriesFor(routeID string, eligible []string, byURL map[string]config.WeightedUpstream) []*wrrEntry {
	existing := w.state[routeID]
	existingByURL := make(map[string]*wrrEntry, len(existing))
	for _, e := range existing {
		existingByURL[e.upstream.URL] = e
	}

	out := make([]*wrrEntry, 0, len(eligible))
	for _, url := range eligible {
		if e, ok := existingByURL[url]; ok {
			e.upstream = byURL[url] // keep weight fresh if config republished
			out = append(out, e)
			continue
		}
		out = append(out, &wrrEntry{upstream: byURL[url]})
	}
	w.state[routeID] = out
	return out
}
