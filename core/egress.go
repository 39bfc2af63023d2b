package core

import "time"

// EgressNode is an alternate network path the controller can route through
type EgressNode struct {
	Name       string
	Latency    time.Duration // Most recent positive delay sample
	HasLatency bool          // False when the node was never measured
}

// BestNode picks the node with the lowest measured latency. When no node was
// measured the first one wins. nodes must not be empty.
func BestNode(nodes []EgressNode) EgressNode {
	best := -1
	for i, n := range nodes {
		if !n.HasLatency {
			continue
		}
		if best < 0 || n.Latency < nodes[best].Latency {
			best = i
		}
	}
	if best < 0 {
		return nodes[0]
	}
	return nodes[best]
}

// GroupStatus is the egress controller's view of the selector group
type GroupStatus struct {
	Active     string   // Node currently carrying traffic
	Candidates []string // Selectable nodes in controller order
}

// SameMembership reports whether two candidate lists hold the same node names,
// ignoring order.
func SameMembership(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, n := range a {
		seen[n]++
	}
	for _, n := range b {
		if seen[n] == 0 {
			return false
		}
		seen[n]--
	}
	return true
}
