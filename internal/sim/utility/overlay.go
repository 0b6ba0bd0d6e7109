package utility

import (
	"fmt"
	"log"
)

type NodeInfo struct {
	ID        NodeID   `json:"id"`
	Sources   []string `json:"sources,omitempty"`
	Requires  []string `json:"requires,omitempty"`
	Connected []string `json:"connected,omitempty"`
	Supplied  bool     `json:"supplied"`
}

type EdgeInfo struct {
	A     NodeID   `json:"a"`
	B     NodeID   `json:"b"`
	Types []string `json:"types"`
}

type Overlay struct {
	Nodes []NodeInfo `json:"nodes"`
	Edges []EdgeInfo `json:"edges"`
}

func (n *Network) Nodes() []NodeInfo {
	ids := n.nodeIDs()
	out := make([]NodeInfo, 0, len(ids))
	for _, id := range ids {
		nd := n.nodes[id]
		out = append(out, NodeInfo{
			ID:        id,
			Sources:   nd.sources.Names(),
			Requires:  nd.requires.Names(),
			Connected: n.ConnectedTypes(id).Names(),
			Supplied:  n.Supplied(id),
		})
	}
	return out
}

// Edges lists each undirected edge once with A < B.
func (n *Network) Edges() []EdgeInfo {
	var out []EdgeInfo
	for _, id := range n.nodeIDs() {
		nd := n.nodes[id]
		for _, other := range sortedNeighbors(nd) {
			if id < other {
				out = append(out, EdgeInfo{A: id, B: other, Types: nd.adj[other].Names()})
			}
		}
	}
	return out
}

func (n *Network) Overlay() Overlay {
	return Overlay{Nodes: n.Nodes(), Edges: n.Edges()}
}

// NodeState is the persisted form of a node.
type NodeState struct {
	ID       NodeID
	Sources  Set
	Requires Set
}

type EdgeState struct {
	A, B  NodeID
	Types Set
}

func (n *Network) Export() ([]NodeState, []EdgeState) {
	var nodes []NodeState
	var edges []EdgeState
	for _, id := range n.nodeIDs() {
		nd := n.nodes[id]
		nodes = append(nodes, NodeState{ID: id, Sources: nd.sources, Requires: nd.requires})
		for _, other := range sortedNeighbors(nd) {
			if id < other {
				edges = append(edges, EdgeState{A: id, B: other, Types: nd.adj[other]})
			}
		}
	}
	return nodes, edges
}

// Import rebuilds a network from persisted nodes and edges. Connectivity is
// derived, never stored.
func Import(nodes []NodeState, edges []EdgeState, logger *log.Logger) (*Network, error) {
	n := New(logger)
	for _, ns := range nodes {
		if err := n.AddNode(ns.ID, ns.Requires); err != nil {
			return nil, err
		}
		n.nodes[ns.ID].sources = ns.Sources
	}
	for _, e := range edges {
		if e.A == e.B {
			return nil, fmt.Errorf("%q: %w", e.A, ErrSelfLoop)
		}
		a, err := n.get(e.A)
		if err != nil {
			return nil, err
		}
		b, err := n.get(e.B)
		if err != nil {
			return nil, err
		}
		a.adj[e.B] = a.adj[e.B].Union(e.Types)
		b.adj[e.A] = b.adj[e.A].Union(e.Types)
	}
	n.connected = n.recompute()
	return n, nil
}
