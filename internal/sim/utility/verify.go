package utility

import (
	"fmt"
	"sort"
)

// recompute derives every connected set from scratch with a multi-source
// flood per type.
func (n *Network) recompute() [numTypes]map[NodeID]struct{} {
	var out [numTypes]map[NodeID]struct{}
	ids := n.nodeIDs()
	for _, t := range AllTypes {
		set := map[NodeID]struct{}{}
		var queue []NodeID
		for _, id := range ids {
			if n.nodes[id].sources.Has(t) {
				set[id] = struct{}{}
				queue = append(queue, id)
			}
		}
		for head := 0; head < len(queue); head++ {
			nd := n.nodes[queue[head]]
			for _, other := range sortedNeighbors(nd) {
				if !nd.adj[other].Has(t) {
					continue
				}
				if _, ok := set[other]; ok {
					continue
				}
				set[other] = struct{}{}
				queue = append(queue, other)
			}
		}
		out[t] = set
	}
	return out
}

// Verify compares the incrementally maintained state with a full recompute
// and checks edge symmetry.
func (n *Network) Verify() error {
	for _, id := range n.nodeIDs() {
		nd := n.nodes[id]
		for other, types := range nd.adj {
			if other == id {
				return fmt.Errorf("node %q: %w", id, ErrSelfLoop)
			}
			back := n.nodes[other]
			if back == nil {
				return fmt.Errorf("node %q links to %q: %w", id, other, ErrUnknownNode)
			}
			if back.adj[id] != types {
				return fmt.Errorf("edge %q-%q is asymmetric (%s vs %s)", id, other, types, back.adj[id])
			}
			if types.Empty() {
				return fmt.Errorf("edge %q-%q conducts nothing", id, other)
			}
		}
	}
	want := n.recompute()
	for _, t := range AllTypes {
		got := n.connected[t]
		if len(got) != len(want[t]) {
			return fmt.Errorf("%s: %d nodes connected, recompute gives %d", t, len(got), len(want[t]))
		}
		for id := range want[t] {
			if _, ok := got[id]; !ok {
				return fmt.Errorf("%s: node %q should be connected", t, id)
			}
		}
	}
	return nil
}

// Repair replaces the connected sets with a full recompute when Verify fails
// and returns the resulting flips.
func (n *Network) Repair() ([]Change, error) {
	err := n.Verify()
	if err == nil {
		return nil, nil
	}
	n.repairs++
	n.logf("utility: inconsistent state, recomputing: %v", err)
	want := n.recompute()
	var changes []Change
	for _, t := range AllTypes {
		for id := range n.connected[t] {
			if _, ok := want[t][id]; !ok {
				changes = append(changes, Change{Node: id, Type: t, Connected: false})
			}
		}
		for id := range want[t] {
			if _, ok := n.connected[t][id]; !ok {
				changes = append(changes, Change{Node: id, Type: t, Connected: true})
			}
		}
	}
	n.connected = want
	return sortChanges(changes), err
}

// Repairs counts how many times Repair had to recompute.
func (n *Network) Repairs() uint64 { return n.repairs }

func (n *Network) nodeIDs() []NodeID {
	ids := make([]NodeID, 0, len(n.nodes))
	for id := range n.nodes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
