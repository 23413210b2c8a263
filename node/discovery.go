package node

import (
	"context"
	"log/slog"

	"shardnode/topology"
	"shardnode/wire"
)

// CollectTopology is the bounded-depth, cycle-avoiding discovery walk.
// The visited set travels by value with the request, so concurrent walks
// started from different origins never interfere. Within one walk each
// reachable node is called at most once: sibling fan-out calls run
// serially, and every node id seen in a returned snapshot joins the
// visited set before the next sibling is called.
func (n *Node) CollectTopology(ctx context.Context, from string, req wire.TopologyRequest) (topology.Topology, error) {
	local := n.localView()

	if req.MaxDepth <= 0 || contains(req.Visited, n.id) {
		return local, nil
	}

	visited := make([]string, 0, len(req.Visited)+1)
	visited = append(visited, req.Visited...)
	visited = append(visited, n.id)

	var fanout []Peer
	n.peers.Range(func(id string, p Peer) bool {
		fanout = append(fanout, p)
		return true
	})

	merged := local
	for _, p := range fanout {
		if contains(visited, p.ID()) {
			continue
		}
		remote, err := p.CollectTopology(ctx, wire.TopologyRequest{
			Visited:  visited,
			MaxDepth: req.MaxDepth - 1,
		})
		if err != nil {
			// A peer missing mid-walk is expected churn; the snapshot
			// stays consistent without it.
			slog.Warn("peer unreachable during discovery", "id", n.id, "peer", p.ID(), "error", err)
			continue
		}
		merged.Merge(remote)
		visited = append(visited, p.ID())
		for id := range remote.Nodes {
			if !contains(visited, id) {
				visited = append(visited, id)
			}
		}
	}

	if n.store.MergeRemote(merged) {
		slog.Debug("topology updated", "id", n.id, "nodes", len(merged.Nodes))
	}
	return merged, nil
}

// Discover runs a walk starting at this node with an empty visited set.
func (n *Node) Discover(ctx context.Context, maxDepth int) (topology.Topology, error) {
	return n.CollectTopology(ctx, "", wire.TopologyRequest{MaxDepth: maxDepth})
}

// localView is this node's own capabilities entry plus its live outgoing
// edges, the terminal answer of the walk.
func (n *Node) localView() topology.Topology {
	t := topology.New()
	t.Nodes[n.id] = n.caps
	t.PeerGraph[n.id] = n.edges()
	return t
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
