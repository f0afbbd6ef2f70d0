package selector

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/userfhy/SSLProxyManager-Tauri/config"
)

// replicasPerWeight controls ring resolution: each weight-1 member gets
// this many virtual nodes, so a weight-3 member gets 3x the ring coverage
// of a weight-1 member.
const replicasPerWeight = 100

// Ring is a consistent-hash ring over a Stream upstream group's members,
// used to pick a backend from the client's remote address so repeat
// connections from the same client land on the same member (§4.D, §9).
// Removing one member perturbs only the O(K/N) keys that hashed into its
// arc, per the Testable Properties bound in §8.
type Ring struct {
	points  []ringPoint
	members []string
}

type ringPoint struct {
	hash   uint64
	member string
}

// BuildRing constructs a ring from a StreamUpstream's weighted members.
func BuildRing(up config.StreamUpstream) *Ring {
	r := &Ring{}
	for _, m := range up.Members {
		r.members = append(r.members, m.Addr)
		replicas := replicasPerWeight * m.Weight
		for i := 0; i < replicas; i++ {
			h := xxhash.Sum64String(m.Addr + "#" + strconv.Itoa(i))
			r.points = append(r.points, ringPoint{hash: h, member: m.Addr})
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i].hash < r.points[j].hash })
	return r
}

// Pick returns the member owning key's ring position, skipping members
// excluded by tracker; if every member is banned, tracker.Filter's
// liveness guarantee applies (the soonest-to-expire member is used).
func (r *Ring) Pick(key string, tracker *FailureTracker) (string, bool) {
	if len(r.points) == 0 {
		return "", false
	}
	eligible := r.members
	if tracker != nil {
		eligible = tracker.Filter(r.members)
	}
	if len(eligible) == 0 {
		return "", false
	}
	allow := make(map[string]bool, len(eligible))
	for _, m := range eligible {
		allow[m] = true
	}

	h := xxhash.Sum64String(key)
	idx := sort.Search(len(r.points), func(i int) bool { return r.points[i].hash >= h })
	n := len(r.points)
	for i := 0; i < n; i++ {
		p := r.points[(idx+i)%n]
		if allow[p.member] {
			return p.member, true
		}
	}
	return "", false
}

// Members returns the member list backing this ring, in declared order.
func (r *Ring) Members() []string { return r.members }
