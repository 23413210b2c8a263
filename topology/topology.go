// Package topology holds the node-local, eventually-consistent view of
// cluster membership and connectivity.
package topology

import (
	"encoding/binary"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// Topology is the directed graph of node capabilities and peer edges.
// A to_id referenced in PeerGraph may be missing from Nodes while
// discovery is still converging; that inconsistency is tolerated.
type Topology struct {
	Nodes     map[string]DeviceCapabilities `msgpack:"nodes" json:"nodes"`
	PeerGraph map[string][]PeerConnection   `msgpack:"peer_graph" json:"peer_graph"`
}

func New() Topology {
	return Topology{
		Nodes:     make(map[string]DeviceCapabilities),
		PeerGraph: make(map[string][]PeerConnection),
	}
}

// Merge folds other into t. Node entries are a union with last-writer-wins
// on conflict (capabilities for a given id are expected stable). Peer
// edges are replaced per source node: each node's edge list arrives
// authoritatively from that node's own walk, and replacement keeps
// repeated merges from growing the graph without bound.
func (t *Topology) Merge(other Topology) {
	if t.Nodes == nil {
		t.Nodes = make(map[string]DeviceCapabilities)
	}
	if t.PeerGraph == nil {
		t.PeerGraph = make(map[string][]PeerConnection)
	}
	for id, caps := range other.Nodes {
		t.Nodes[id] = caps
	}
	for id, conns := range other.PeerGraph {
		t.PeerGraph[id] = append([]PeerConnection(nil), conns...)
	}
}

func (t Topology) Clone() Topology {
	out := New()
	out.Merge(t)
	return out
}

// Fingerprint is a stable digest over the node set and edge set, used to
// detect no-op merges and to compare snapshots. Equal topologies hash
// equal regardless of map iteration order.
func (t Topology) Fingerprint() uint64 {
	h := xxhash.New()
	var buf [8]byte

	writeInt := func(v uint64) {
		binary.BigEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	writeStr := func(s string) {
		writeInt(uint64(len(s)))
		h.WriteString(s)
	}

	ids := make([]string, 0, len(t.Nodes))
	for id := range t.Nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		caps := t.Nodes[id]
		writeStr(id)
		writeStr(caps.Model)
		writeStr(caps.Chip)
		writeInt(uint64(caps.Memory))
		writeInt(math.Float64bits(caps.Flops.FP32))
		writeInt(math.Float64bits(caps.Flops.FP16))
		writeInt(math.Float64bits(caps.Flops.Int8))
	}

	froms := make([]string, 0, len(t.PeerGraph))
	for id := range t.PeerGraph {
		froms = append(froms, id)
	}
	sort.Strings(froms)
	for _, from := range froms {
		conns := append([]PeerConnection(nil), t.PeerGraph[from]...)
		sort.Slice(conns, func(i, j int) bool {
			if conns[i].ToID != conns[j].ToID {
				return conns[i].ToID < conns[j].ToID
			}
			return conns[i].Description < conns[j].Description
		})
		writeStr(from)
		for _, c := range conns {
			writeStr(c.ToID)
			writeStr(c.Description)
		}
	}
	return h.Sum64()
}
