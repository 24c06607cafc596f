package cluster

import (
	"sort"

	"github.com/skylinedb/flightdeck/pkg/types"
)

// Policy selects which alive executors absorb a batch of slot reservations.
type Policy int

const (
	// Bias exhausts one executor's free slots before moving to the next.
	Bias Policy = iota
	// RoundRobin hands out at most one slot per executor per pass.
	RoundRobin
	// RoundRobinLocal is RoundRobin with one executor id ordered first.
	RoundRobinLocal
)

// selectSlots picks up to n reservations out of ledgers, decrementing
// Available in place as it goes. Iteration order is by executor id, stable
// tie-breaking per spec: equal availability always yields the same pick.
func selectSlots(ledgers map[string]*types.ExecutorData, n int, policy Policy, preferred string) []types.Reservation {
	ids := make([]string, 0, len(ledgers))
	for id := range ledgers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	if policy == RoundRobinLocal && preferred != "" {
		ids = withFront(ids, preferred)
	}

	var out []types.Reservation
	switch policy {
	case Bias:
		for _, id := range ids {
			for ledgers[id].Available > 0 && len(out) < n {
				ledgers[id].Available--
				out = append(out, types.Reservation{ExecutorID: id})
			}
			if len(out) >= n {
				break
			}
		}
	default: // RoundRobin, RoundRobinLocal
		for len(out) < n {
			progressed := false
			for _, id := range ids {
				if len(out) >= n {
					break
				}
				if ledgers[id].Available > 0 {
					ledgers[id].Available--
					out = append(out, types.Reservation{ExecutorID: id})
					progressed = true
				}
			}
			if !progressed {
				break
			}
		}
	}
	return out
}

// withFront reorders ids so preferred comes first, if present.
func withFront(ids []string, preferred string) []string {
	out := make([]string, 0, len(ids))
	found := false
	for _, id := range ids {
		if id == preferred {
			found = true
		}
	}
	if found {
		out = append(out, preferred)
	}
	for _, id := range ids {
		if id != preferred {
			out = append(out, id)
		}
	}
	return out
}
