package node_test

import (
	"context"
	"reflect"
	"testing"

	"shardnode/node"
	"shardnode/shard"
)

func chainShard(start, end int) shard.Shard {
	return shard.Shard{ModelID: "m", StartLayer: start, EndLayer: end, NLayers: 12}
}

func TestDiscoverTriangle(t *testing.T) {
	n1 := newTestNode(t, "n1", chainShard(0, 3), node.DummyEngine{})
	n2 := newTestNode(t, "n2", chainShard(4, 7), node.DummyEngine{})
	n3 := newTestNode(t, "n3", chainShard(8, 11), node.DummyEngine{})

	// Fully connected triangle.
	p12 := connect(n1, n2)
	p13 := connect(n1, n3)
	p21 := connect(n2, n1)
	p23 := connect(n2, n3)
	p31 := connect(n3, n1)
	p32 := connect(n3, n2)

	topo, err := n1.Discover(context.Background(), 4)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	for _, id := range []string{"n1", "n2", "n3"} {
		if _, ok := topo.Nodes[id]; !ok {
			t.Errorf("Expected node %q in the merged topology", id)
		}
	}
	if len(topo.Nodes) != 3 {
		t.Errorf("Expected 3 nodes, got %d", len(topo.Nodes))
	}
	if len(topo.PeerGraph["n2"]) != 2 {
		t.Errorf("Expected n2 to report 2 edges, got %d", len(topo.PeerGraph["n2"]))
	}

	// Each node is asked at most once per walk, cycles included.
	for name, calls := range map[string]int{
		"n1->n2": p12.TopologyCalls(), "n1->n3": p13.TopologyCalls(),
		"n2->n1": p21.TopologyCalls(), "n2->n3": p23.TopologyCalls(),
		"n3->n1": p31.TopologyCalls(), "n3->n2": p32.TopologyCalls(),
	} {
		if calls > 1 {
			t.Errorf("Link %s was called %d times in one walk", name, calls)
		}
	}
	if total := p12.TopologyCalls() + p32.TopologyCalls(); total > 1 {
		t.Errorf("n2 was queried %d times in one walk", total)
	}
	if total := p13.TopologyCalls() + p23.TopologyCalls(); total > 1 {
		t.Errorf("n3 was queried %d times in one walk", total)
	}
	if total := p21.TopologyCalls() + p31.TopologyCalls(); total != 0 {
		t.Errorf("The origin was queried %d times by its own walk", total)
	}
}

func TestDiscoverRingTerminates(t *testing.T) {
	n1 := newTestNode(t, "n1", chainShard(0, 3), node.DummyEngine{})
	n2 := newTestNode(t, "n2", chainShard(4, 7), node.DummyEngine{})
	n3 := newTestNode(t, "n3", chainShard(8, 11), node.DummyEngine{})

	// Directed ring n1 -> n2 -> n3 -> n1.
	connect(n1, n2)
	connect(n2, n3)
	p31 := connect(n3, n1)

	topo, err := n1.Discover(context.Background(), 10)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(topo.Nodes) != 3 {
		t.Errorf("Expected 3 nodes, got %d: %v", len(topo.Nodes), topo.Nodes)
	}
	if p31.TopologyCalls() != 0 {
		t.Errorf("The walk looped back to its origin %d times", p31.TopologyCalls())
	}
}

func TestDiscoverDepthZeroReturnsLocalView(t *testing.T) {
	n1 := newTestNode(t, "n1", chainShard(0, 3), node.DummyEngine{})
	n2 := newTestNode(t, "n2", chainShard(4, 7), node.DummyEngine{})
	p := connect(n1, n2)

	topo, err := n1.Discover(context.Background(), 0)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(topo.Nodes) != 1 {
		t.Errorf("Expected only the local node at depth 0, got %v", topo.Nodes)
	}
	if p.TopologyCalls() != 0 {
		t.Errorf("Depth 0 must not reach out to peers, got %d calls", p.TopologyCalls())
	}
	if len(topo.PeerGraph["n1"]) != 1 {
		t.Errorf("Local view should still list outgoing edges, got %v", topo.PeerGraph["n1"])
	}
}

func TestDiscoverIdempotentWithoutChurn(t *testing.T) {
	n1 := newTestNode(t, "n1", chainShard(0, 3), node.DummyEngine{})
	n2 := newTestNode(t, "n2", chainShard(4, 7), node.DummyEngine{})
	n3 := newTestNode(t, "n3", chainShard(8, 11), node.DummyEngine{})
	connect(n1, n2)
	connect(n2, n3)
	connect(n2, n1)
	connect(n3, n2)

	first, err := n1.Discover(context.Background(), 5)
	if err != nil {
		t.Fatalf("First walk failed: %v", err)
	}
	second, err := n1.Discover(context.Background(), 5)
	if err != nil {
		t.Fatalf("Second walk failed: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Errorf("Back-to-back walks on a static cluster disagree: %#x vs %#x",
			first.Fingerprint(), second.Fingerprint())
	}
	if !reflect.DeepEqual(first.Nodes, second.Nodes) {
		t.Errorf("Node sets differ between walks: %v vs %v", first.Nodes, second.Nodes)
	}
}

func TestDiscoverSkipsUnreachablePeer(t *testing.T) {
	n1 := newTestNode(t, "n1", chainShard(0, 3), node.DummyEngine{})
	n2 := newTestNode(t, "n2", chainShard(4, 7), node.DummyEngine{})
	n3 := newTestNode(t, "n3", chainShard(8, 11), node.DummyEngine{})
	down := connect(n1, n2)
	down.mu.Lock()
	down.unreachable = true
	down.mu.Unlock()
	connect(n1, n3)

	topo, err := n1.Discover(context.Background(), 3)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if _, ok := topo.Nodes["n2"]; ok {
		t.Errorf("Unreachable peer should be absent from the snapshot")
	}
	if _, ok := topo.Nodes["n3"]; !ok {
		t.Errorf("Reachable peer n3 missing from the snapshot")
	}
}
