// Package node ties the cluster node service together: it owns this
// node's shard, peer links, topology store and execution engine, and
// implements the request routing and discovery logic on top of them.
package node

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"shardnode/common"
	"shardnode/shard"
	"shardnode/topology"
	"shardnode/wire"
)

// Peer is one remote node reachable over a live link. Satisfied by
// *peer.Link; tests substitute in-memory fakes.
type Peer interface {
	ID() string
	Connection() topology.PeerConnection
	SendPrompt(ctx context.Context, req wire.PromptRequest) error
	SendTensor(ctx context.Context, req wire.TensorRequest) error
	SendExample(ctx context.Context, req wire.ExampleRequest) (wire.Loss, error)
	CollectTopology(ctx context.Context, req wire.TopologyRequest) (topology.Topology, error)
	SendResult(ctx context.Context, msg wire.ResultMessage) error
	SendOpaqueStatus(ctx context.Context, msg wire.OpaqueStatus) error
	HealthCheck(ctx context.Context) (bool, error)
}

// ResultSink receives result and status callbacks for a request that
// entered the cluster at this node. The HTTP-facing API registers one per
// dispatched request.
type ResultSink interface {
	OnResult(msg wire.ResultMessage)
	OnStatus(msg wire.OpaqueStatus)
}

type Config struct {
	ID           string
	Capabilities topology.DeviceCapabilities
	Shard        shard.Shard
	Engine       Engine
	Store        *topology.Store

	// RequestTTL bounds how long per-request routing state is retained
	// for requests that were abandoned mid-flight.
	RequestTTL time.Duration
}

const DefaultRequestTTL = 10 * time.Minute

// Node implements peer.Handler. Per-request inference state travels
// in-band; the only node-global mutable state is the topology store and
// the routing tables below, all of which are keyed by request id and
// safe for interleaved requests.
type Node struct {
	id      string
	caps    topology.DeviceCapabilities
	shard   shard.Shard
	engine  Engine
	store   *topology.Store
	ttl     time.Duration
	healthy atomic.Bool

	peers common.SyncMap[string, Peer]

	// sinks holds the local callback target per request originated here;
	// sources holds the upstream node id per request that arrived from a
	// peer, forming the hop-by-hop reply path.
	sinks    common.SyncMap[string, ResultSink]
	sources  common.SyncMap[string, string]
	expiries common.SyncMap[string, time.Time]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// stopMu orders handler goroutine registration against Stop's
	// wg.Wait: once stopped is set no new work may grow the WaitGroup.
	stopMu  sync.RWMutex
	stopped bool
}

// beginWork registers one in-flight handler goroutine, refusing once
// shutdown has begun. Every successful call is paired with wg.Done.
func (n *Node) beginWork() bool {
	n.stopMu.RLock()
	defer n.stopMu.RUnlock()
	if n.stopped {
		return false
	}
	n.wg.Add(1)
	return true
}

func New(config Config) *Node {
	if config.RequestTTL <= 0 {
		config.RequestTTL = DefaultRequestTTL
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		id:     config.ID,
		caps:   config.Capabilities,
		shard:  config.Shard,
		engine: config.Engine,
		store:  config.Store,
		ttl:    config.RequestTTL,
		ctx:    ctx,
		cancel: cancel,
	}
	n.healthy.Store(true)
	return n
}

func (n *Node) ID() string         { return n.id }
func (n *Node) Shard() shard.Shard { return n.shard }

// Start seeds the store with this node's own entry and launches the
// routing-state reaper.
func (n *Node) Start() {
	n.store.SetNode(n.id, n.caps)
	n.store.SetAssignment(n.id, n.shard)
	n.store.SetEdges(n.id, n.edges())

	n.wg.Add(1)
	go n.reapLoop()

	slog.Info("node started", "id", n.id, "shard", n.shard.String())
}

func (n *Node) Stop() {
	n.stopMu.Lock()
	n.stopped = true
	n.stopMu.Unlock()
	n.cancel()
	n.wg.Wait()
	n.peers.Range(func(id string, p Peer) bool {
		if closer, ok := p.(interface{ Close() }); ok {
			closer.Close()
		}
		return true
	})
	slog.Info("node stopped", "id", n.id)
}

// AddPeer registers a live link and refreshes this node's outgoing edges.
func (n *Node) AddPeer(p Peer) {
	n.peers.Store(p.ID(), p)
	n.store.SetEdges(n.id, n.edges())
	slog.Info("peer added", "id", n.id, "peer", p.ID())
}

func (n *Node) RemovePeer(id string) {
	if p, loaded := n.peers.LoadAndDelete(id); loaded {
		if closer, ok := p.(interface{ Close() }); ok {
			closer.Close()
		}
		n.store.SetEdges(n.id, n.edges())
		slog.Info("peer removed", "id", n.id, "peer", id)
	}
}

func (n *Node) edges() []topology.PeerConnection {
	conns := make([]topology.PeerConnection, 0, n.peers.Len())
	n.peers.Range(func(id string, p Peer) bool {
		conns = append(conns, p.Connection())
		return true
	})
	return conns
}

// SetHealthy flips the liveness answer, e.g. while the engine warms up.
func (n *Node) SetHealthy(ok bool) {
	n.healthy.Store(ok)
}

func (n *Node) HealthCheck(ctx context.Context) bool {
	return n.healthy.Load()
}

// SubmitPrompt is the ingress path used by the local HTTP-facing API:
// it registers the result sink for the request id and dispatches the
// prompt against this node's shard.
func (n *Node) SubmitPrompt(ctx context.Context, req wire.PromptRequest, sink ResultSink) error {
	if sink != nil {
		n.sinks.Store(req.RequestID, sink)
		n.touch(req.RequestID)
	}
	if err := n.SendPrompt(ctx, "", req); err != nil {
		n.sinks.Delete(req.RequestID)
		return err
	}
	return nil
}

// SendResult delivers a streamed result locally when this node originated
// the request, otherwise relays it one hop toward the recorded upstream.
func (n *Node) SendResult(ctx context.Context, from string, msg wire.ResultMessage) {
	n.deliverResult(msg)
}

func (n *Node) SendOpaqueStatus(ctx context.Context, from string, msg wire.OpaqueStatus) {
	n.deliverStatus(msg)
}

func (n *Node) deliverResult(msg wire.ResultMessage) {
	if sink, ok := n.sinks.Load(msg.RequestID); ok {
		sink.OnResult(msg)
		if msg.IsFinished {
			n.clearRequest(msg.RequestID)
		}
		return
	}
	if upstream, ok := n.sources.Load(msg.RequestID); ok {
		if p, ok := n.peers.Load(upstream); ok {
			if err := p.SendResult(n.ctx, msg); err != nil {
				slog.Warn("failed to relay result", "id", n.id, "request_id", msg.RequestID, "peer", upstream, "error", err)
			}
			if msg.IsFinished {
				n.clearRequest(msg.RequestID)
			}
			return
		}
	}
	slog.Warn("result with no known callback path, dropping", "id", n.id, "request_id", msg.RequestID)
}

func (n *Node) deliverStatus(msg wire.OpaqueStatus) {
	if sink, ok := n.sinks.Load(msg.RequestID); ok {
		sink.OnStatus(msg)
		return
	}
	if upstream, ok := n.sources.Load(msg.RequestID); ok {
		if p, ok := n.peers.Load(upstream); ok {
			if err := p.SendOpaqueStatus(n.ctx, msg); err != nil {
				slog.Warn("failed to relay status", "id", n.id, "request_id", msg.RequestID, "peer", upstream, "error", err)
			}
			return
		}
	}
	slog.Warn("status with no known callback path, dropping", "id", n.id, "request_id", msg.RequestID, "status", msg.Status)
}

func (n *Node) touch(requestID string) {
	n.expiries.Store(requestID, time.Now().Add(n.ttl))
}

func (n *Node) clearRequest(requestID string) {
	n.sinks.Delete(requestID)
	n.sources.Delete(requestID)
	n.expiries.Delete(requestID)
}

// reapLoop evicts routing state for abandoned requests. There is no
// cancellation message in the protocol, so a TTL keeps the tables
// bounded.
func (n *Node) reapLoop() {
	defer n.wg.Done()

	interval := n.ttl / 4
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case now := <-ticker.C:
			var expired []string
			n.expiries.Range(func(id string, deadline time.Time) bool {
				if now.After(deadline) {
					expired = append(expired, id)
				}
				return true
			})
			for _, id := range expired {
				n.clearRequest(id)
				slog.Debug("reaped abandoned request", "id", n.id, "request_id", id)
			}
		}
	}
}
