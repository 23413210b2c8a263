package topology

import (
	"sync"

	"shardnode/shard"
)

// Store is the node-local mutable topology view plus the shard-assignment
// table seeded by the external registry. Routing reads take the read lock
// and never stall behind a discovery merge; Snapshot hands out deep
// copies so readers cannot observe torn state.
type Store struct {
	mu          sync.RWMutex
	topo        Topology
	assignments map[string]map[string]shard.Shard // model id -> node id -> shard
}

func NewStore() *Store {
	return &Store{
		topo:        New(),
		assignments: make(map[string]map[string]shard.Shard),
	}
}

func (s *Store) SetNode(id string, caps DeviceCapabilities) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topo.Nodes[id] = caps
}

func (s *Store) SetEdges(id string, conns []PeerConnection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.topo.PeerGraph[id] = append([]PeerConnection(nil), conns...)
}

// MergeRemote folds a discovered snapshot into the store. Returns true if
// the view changed.
func (s *Store) MergeRemote(t Topology) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	before := s.topo.Fingerprint()
	s.topo.Merge(t)
	return s.topo.Fingerprint() != before
}

func (s *Store) Snapshot() Topology {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topo.Clone()
}

func (s *Store) Fingerprint() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.topo.Fingerprint()
}

func (s *Store) Capabilities(id string) (DeviceCapabilities, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	caps, ok := s.topo.Nodes[id]
	return caps, ok
}

func (s *Store) SetAssignment(nodeID string, sh shard.Shard) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byNode, ok := s.assignments[sh.ModelID]
	if !ok {
		byNode = make(map[string]shard.Shard)
		s.assignments[sh.ModelID] = byNode
	}
	byNode[nodeID] = sh
}

func (s *Store) Assignment(modelID, nodeID string) (shard.Shard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sh, ok := s.assignments[modelID][nodeID]
	return sh, ok
}

// NextOwner resolves the node assigned the shard starting right after
// afterLayer for the given model. This is the routing decision for every
// inter-shard hop.
func (s *Store) NextOwner(modelID string, afterLayer int) (string, shard.Shard, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for nodeID, sh := range s.assignments[modelID] {
		if sh.StartLayer == afterLayer+1 {
			return nodeID, sh, true
		}
	}
	return "", shard.Shard{}, false
}
