package utility

import (
	"fmt"
	"log"
	"sort"
)

type node struct {
	id       NodeID
	sources  Set
	requires Set
	adj      map[NodeID]Set
}

// Network is the utility connection graph. Edges carry the set of types they
// conduct; connectivity is tracked per type as the set of nodes reachable
// from any source of that type.
//
// Adding conduction only ever grows a connected set and is handled by
// flooding outward from the newly joined side. Removing conduction re-checks
// whether each affected side can still reach a source, so redundant loops
// keep nodes connected.
type Network struct {
	nodes     map[NodeID]*node
	connected [numTypes]map[NodeID]struct{}
	repairs   uint64
	log       *log.Logger
}

func New(logger *log.Logger) *Network {
	n := &Network{nodes: map[NodeID]*node{}, log: logger}
	for i := range n.connected {
		n.connected[i] = map[NodeID]struct{}{}
	}
	return n
}

func (n *Network) logf(format string, args ...any) {
	if n.log != nil {
		n.log.Printf(format, args...)
	}
}

func (n *Network) get(id NodeID) (*node, error) {
	nd := n.nodes[id]
	if nd == nil {
		return nil, fmt.Errorf("%q: %w", id, ErrUnknownNode)
	}
	return nd, nil
}

func (n *Network) Has(id NodeID) bool { return n.nodes[id] != nil }

// AddNode registers an isolated node that needs the given types.
func (n *Network) AddNode(id NodeID, requires Set) error {
	if n.nodes[id] != nil {
		return fmt.Errorf("%q: %w", id, ErrNodeExists)
	}
	n.nodes[id] = &node{id: id, requires: requires, adj: map[NodeID]Set{}}
	return nil
}

// RemoveNode detaches every edge of id and deletes it.
func (n *Network) RemoveNode(id NodeID) ([]Change, error) {
	nd, err := n.get(id)
	if err != nil {
		return nil, err
	}
	var changes []Change
	c, _ := n.SetSource(id, 0)
	changes = append(changes, c...)
	for _, other := range sortedNeighbors(nd) {
		c, _ := n.Disconnect(id, other, nd.adj[other])
		changes = append(changes, c...)
	}
	for t := range n.connected {
		delete(n.connected[t], id)
	}
	delete(n.nodes, id)
	return sortChanges(changes), nil
}

// SetSource replaces the set of types id supplies.
func (n *Network) SetSource(id NodeID, types Set) ([]Change, error) {
	nd, err := n.get(id)
	if err != nil {
		return nil, err
	}
	added := types.Minus(nd.sources)
	removed := nd.sources.Minus(types)
	nd.sources = types

	var changes []Change
	for _, t := range added.Types() {
		changes = append(changes, n.grow(t, id)...)
	}
	for _, t := range removed.Types() {
		changes = append(changes, n.shrink(t, id)...)
	}
	return sortChanges(changes), nil
}

func (n *Network) SetRequires(id NodeID, types Set) error {
	nd, err := n.get(id)
	if err != nil {
		return err
	}
	nd.requires = types
	return nil
}

// Connect makes the a-b edge conduct types in addition to whatever it
// already conducts.
func (n *Network) Connect(a, b NodeID, types Set) ([]Change, error) {
	if a == b {
		return nil, fmt.Errorf("%q: %w", a, ErrSelfLoop)
	}
	na, err := n.get(a)
	if err != nil {
		return nil, err
	}
	nb, err := n.get(b)
	if err != nil {
		return nil, err
	}
	added := types.Minus(na.adj[b])
	if added.Empty() {
		return nil, nil
	}
	na.adj[b] = na.adj[b].Union(added)
	nb.adj[a] = nb.adj[a].Union(added)

	var changes []Change
	for _, t := range added.Types() {
		_, ca := n.connected[t][a]
		_, cb := n.connected[t][b]
		switch {
		case ca && !cb:
			changes = append(changes, n.grow(t, b)...)
		case cb && !ca:
			changes = append(changes, n.grow(t, a)...)
		}
	}
	return sortChanges(changes), nil
}

// Disconnect stops the a-b edge conducting types; the edge disappears once
// it conducts nothing.
func (n *Network) Disconnect(a, b NodeID, types Set) ([]Change, error) {
	na, err := n.get(a)
	if err != nil {
		return nil, err
	}
	nb, err := n.get(b)
	if err != nil {
		return nil, err
	}
	removed := types.Intersect(na.adj[b])
	if removed.Empty() {
		return nil, nil
	}
	if rest := na.adj[b].Minus(removed); rest.Empty() {
		delete(na.adj, b)
		delete(nb.adj, a)
	} else {
		na.adj[b] = rest
		nb.adj[a] = rest
	}

	var changes []Change
	for _, t := range removed.Types() {
		changes = append(changes, n.shrink(t, a, b)...)
	}
	return sortChanges(changes), nil
}

// grow floods type t outward from start, which must now be connected (it is
// a source or was just joined to a connected node).
func (n *Network) grow(t Type, start NodeID) []Change {
	set := n.connected[t]
	if _, ok := set[start]; ok {
		return nil
	}
	set[start] = struct{}{}
	changes := []Change{{Node: start, Type: t, Connected: true}}
	queue := []NodeID{start}
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
			changes = append(changes, Change{Node: other, Type: t, Connected: true})
			queue = append(queue, other)
		}
	}
	return changes
}

// shrink re-verifies each endpoint after type t lost a conduction path. An
// endpoint that can still reach a source keeps its whole component connected;
// otherwise every node it reaches is disconnected.
func (n *Network) shrink(t Type, endpoints ...NodeID) []Change {
	var changes []Change
	set := n.connected[t]
	for _, x := range endpoints {
		if _, ok := set[x]; !ok {
			continue
		}
		comp, reaches := n.explore(t, x)
		if reaches {
			continue
		}
		for _, id := range comp {
			delete(set, id)
			changes = append(changes, Change{Node: id, Type: t, Connected: false})
		}
	}
	return changes
}

// explore walks the t-conducting component of start. It stops as soon as it
// meets a source of t.
func (n *Network) explore(t Type, start NodeID) ([]NodeID, bool) {
	seen := map[NodeID]struct{}{start: {}}
	queue := []NodeID{start}
	for head := 0; head < len(queue); head++ {
		nd := n.nodes[queue[head]]
		if nd.sources.Has(t) {
			return queue, true
		}
		for _, other := range sortedNeighbors(nd) {
			if !nd.adj[other].Has(t) {
				continue
			}
			if _, ok := seen[other]; ok {
				continue
			}
			seen[other] = struct{}{}
			queue = append(queue, other)
		}
	}
	return queue, false
}

func (n *Network) IsConnected(id NodeID, t Type) bool {
	if t >= numTypes {
		return false
	}
	_, ok := n.connected[t][id]
	return ok
}

// ConnectedTypes is the set of types id currently receives.
func (n *Network) ConnectedTypes(id NodeID) Set {
	var s Set
	for _, t := range AllTypes {
		if n.IsConnected(id, t) {
			s = s.Add(t)
		}
	}
	return s
}

// Connected lists the nodes connected for t in ID order.
func (n *Network) Connected(t Type) []NodeID {
	if t >= numTypes {
		return nil
	}
	out := make([]NodeID, 0, len(n.connected[t]))
	for id := range n.connected[t] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Missing is the subset of required types id is not connected for.
func (n *Network) Missing(id NodeID) Set {
	nd := n.nodes[id]
	if nd == nil {
		return 0
	}
	return nd.requires.Minus(n.ConnectedTypes(id))
}

// Supplied reports whether id receives every type it requires.
func (n *Network) Supplied(id NodeID) bool {
	return n.nodes[id] != nil && n.Missing(id).Empty()
}

func sortedNeighbors(nd *node) []NodeID {
	out := make([]NodeID, 0, len(nd.adj))
	for id := range nd.adj {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func sortChanges(cs []Change) []Change {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Type != cs[j].Type {
			return cs[i].Type < cs[j].Type
		}
		return cs[i].Node < cs[j].Node
	})
	return cs
}
