package topology_test

import (
	"testing"

	"shardnode/topology"
)

func caps(chip string) topology.DeviceCapabilities {
	return topology.DeviceCapabilities{
		Model:  "test-device",
		Chip:   chip,
		Memory: 16 << 30,
		Flops:  topology.DeviceFlops{FP32: 1, FP16: 2, Int8: 4},
	}
}

func TestMergeUnion(t *testing.T) {
	a := topology.New()
	a.Nodes["n1"] = caps("a1")
	a.PeerGraph["n1"] = []topology.PeerConnection{{ToID: "n2", Description: "lan"}}

	b := topology.New()
	b.Nodes["n2"] = caps("b1")
	b.PeerGraph["n2"] = []topology.PeerConnection{{ToID: "n1", Description: "lan"}}

	a.Merge(b)

	if len(a.Nodes) != 2 {
		t.Fatalf("Expected 2 nodes after merge, got %d", len(a.Nodes))
	}
	if len(a.PeerGraph["n2"]) != 1 {
		t.Errorf("Expected n2's edges after merge, got %v", a.PeerGraph["n2"])
	}
}

func TestMergeLastWriterWins(t *testing.T) {
	a := topology.New()
	a.Nodes["n1"] = caps("old")

	b := topology.New()
	b.Nodes["n1"] = caps("new")

	a.Merge(b)

	if a.Nodes["n1"].Chip != "new" {
		t.Errorf("Expected last writer to win, got %q", a.Nodes["n1"].Chip)
	}
}

func TestMergeBounded(t *testing.T) {
	a := topology.New()
	a.Nodes["n1"] = caps("a1")
	a.PeerGraph["n1"] = []topology.PeerConnection{{ToID: "n2", Description: "lan"}}

	snapshot := a.Clone()
	for i := 0; i < 10; i++ {
		a.Merge(snapshot)
	}

	if len(a.PeerGraph["n1"]) != 1 {
		t.Errorf("Repeated merges grew the edge list to %d entries", len(a.PeerGraph["n1"]))
	}
}

func TestFingerprintStable(t *testing.T) {
	build := func() topology.Topology {
		tp := topology.New()
		tp.Nodes["n1"] = caps("a1")
		tp.Nodes["n2"] = caps("b1")
		tp.PeerGraph["n1"] = []topology.PeerConnection{{ToID: "n2", Description: "lan"}}
		tp.PeerGraph["n2"] = []topology.PeerConnection{{ToID: "n1", Description: "lan"}}
		return tp
	}

	if build().Fingerprint() != build().Fingerprint() {
		t.Errorf("Equal topologies produced different fingerprints")
	}

	changed := build()
	changed.Nodes["n3"] = caps("c1")
	if changed.Fingerprint() == build().Fingerprint() {
		t.Errorf("Different topologies produced the same fingerprint")
	}
}

func TestFingerprintEdgeOrderIndependent(t *testing.T) {
	a := topology.New()
	a.Nodes["n1"] = caps("a1")
	a.PeerGraph["n1"] = []topology.PeerConnection{
		{ToID: "n2", Description: "lan"},
		{ToID: "n3", Description: "wifi"},
	}

	b := topology.New()
	b.Nodes["n1"] = caps("a1")
	b.PeerGraph["n1"] = []topology.PeerConnection{
		{ToID: "n3", Description: "wifi"},
		{ToID: "n2", Description: "lan"},
	}

	if a.Fingerprint() != b.Fingerprint() {
		t.Errorf("Edge order changed the fingerprint")
	}
}

func TestCloneIndependence(t *testing.T) {
	a := topology.New()
	a.Nodes["n1"] = caps("a1")
	a.PeerGraph["n1"] = []topology.PeerConnection{{ToID: "n2", Description: "lan"}}

	cl := a.Clone()
	cl.Nodes["n2"] = caps("b1")
	cl.PeerGraph["n1"][0].Description = "changed"

	if _, ok := a.Nodes["n2"]; ok {
		t.Errorf("Clone write leaked into original node map")
	}
	if a.PeerGraph["n1"][0].Description != "lan" {
		t.Errorf("Clone write leaked into original edge list")
	}
}
