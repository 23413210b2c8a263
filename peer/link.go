// Package peer implements the bidirectional remote-call channel between
// two nodes: a DEALER client per remote peer and a ROUTER server per node.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	zmq "github.com/pebbe/zmq4"

	"shardnode/topology"
	"shardnode/wire"
)

// LinkConfig configures the channel to exactly one remote peer.
type LinkConfig struct {
	// LocalID becomes the DEALER identity, so the remote ROUTER sees the
	// sender's node id on every message.
	LocalID     string
	PeerID      string
	Endpoint    string
	Description string

	CallTimeout    time.Duration
	ReconnectDelay time.Duration
}

const (
	DefaultCallTimeout    = 10 * time.Second
	DefaultReconnectDelay = 1 * time.Second
)

// Link owns the connection lifecycle and health of the channel to one
// peer. All socket access is serialized behind the mutex; synchronous
// calls correlate replies by sequence number and discard stale frames
// left over from fire-and-forget acknowledgements.
type Link struct {
	config LinkConfig

	mu        sync.Mutex
	socket    *zmq.Socket
	connected bool
	lastSeq   uint64
}

func NewLink(config LinkConfig) *Link {
	if config.CallTimeout <= 0 {
		config.CallTimeout = DefaultCallTimeout
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	return &Link{config: config}
}

func (l *Link) ID() string          { return l.config.PeerID }
func (l *Link) Description() string { return l.config.Description }
func (l *Link) Endpoint() string    { return l.config.Endpoint }

// Connection returns the outgoing topology edge this link represents.
func (l *Link) Connection() topology.PeerConnection {
	return topology.PeerConnection{ToID: l.config.PeerID, Description: l.config.Description}
}

// Connect establishes the DEALER socket. Safe to call repeatedly.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connectLocked()
}

func (l *Link) connectLocked() error {
	if l.connected {
		return nil
	}
	l.cleanupLocked()

	sock, err := zmq.NewSocket(zmq.DEALER)
	if err != nil {
		return fmt.Errorf("create socket failed: %w", err)
	}
	if l.config.LocalID != "" {
		if err := sock.SetIdentity(l.config.LocalID); err != nil {
			_ = sock.Close()
			return fmt.Errorf("failed to set identity: %w", err)
		}
	}
	if err := sock.SetIpv6(true); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to enable IPv6 on socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err := sock.Connect(l.config.Endpoint); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to connect to %s: %w", l.config.Endpoint, err)
	}

	l.socket = sock
	l.connected = true
	slog.Info("peer link connected", "peer", l.config.PeerID, "endpoint", l.config.Endpoint)
	return nil
}

func (l *Link) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanupLocked()
	slog.Info("peer link closed", "peer", l.config.PeerID)
}

func (l *Link) cleanupLocked() {
	if l.socket != nil {
		_ = l.socket.Close()
		l.socket = nil
	}
	l.connected = false
}

func (l *Link) markDisconnectedLocked() {
	l.cleanupLocked()
}

// Cast sends a dispatch-and-continue message: no reply is awaited.
// Any acknowledgement the peer sends back is drained later.
func (l *Link) Cast(op string, body any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.connectLocked(); err != nil {
		return fmt.Errorf("%w: %s: %v", wire.ErrPeerUnreachable, l.config.PeerID, err)
	}
	l.drainLocked()

	l.lastSeq++
	frames, err := wire.Frames(op, l.lastSeq, body)
	if err != nil {
		return err
	}
	if _, err := l.socket.SendMessage(frames); err != nil {
		l.markDisconnectedLocked()
		return fmt.Errorf("%w: %s: %v", wire.ErrPeerUnreachable, l.config.PeerID, err)
	}
	return nil
}

// Call sends a request and blocks for its reply, decoding the payload
// into out when out is non-nil. The context deadline, when set, bounds
// the wait; otherwise CallTimeout applies.
func (l *Link) Call(ctx context.Context, op string, body any, out any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.connectLocked(); err != nil {
		return fmt.Errorf("%w: %s: %v", wire.ErrPeerUnreachable, l.config.PeerID, err)
	}

	timeout := l.config.CallTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}
	if timeout <= 0 {
		return ctx.Err()
	}

	l.lastSeq++
	seq := l.lastSeq
	frames, err := wire.Frames(op, seq, body)
	if err != nil {
		return err
	}
	if _, err := l.socket.SendMessage(frames); err != nil {
		l.markDisconnectedLocked()
		return fmt.Errorf("%w: %s: %v", wire.ErrPeerUnreachable, l.config.PeerID, err)
	}

	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			l.markDisconnectedLocked()
			return fmt.Errorf("%w: %s: reply timeout for %s", wire.ErrPeerUnreachable, l.config.PeerID, op)
		}
		if err := l.socket.SetRcvtimeo(remaining); err != nil {
			l.markDisconnectedLocked()
			return fmt.Errorf("%w: %s: %v", wire.ErrPeerUnreachable, l.config.PeerID, err)
		}
		parts, err := l.socket.RecvMessageBytes(0)
		if err != nil {
			l.markDisconnectedLocked()
			return fmt.Errorf("%w: %s: %v", wire.ErrPeerUnreachable, l.config.PeerID, err)
		}
		replyOp, replySeq, payload, err := splitReply(parts)
		if err != nil {
			slog.Warn("malformed reply frame, discarding", "peer", l.config.PeerID, "error", err)
			continue
		}
		if replySeq != seq {
			// Stale acknowledgement from an earlier Cast or Call.
			continue
		}
		if replyOp == wire.OpError {
			var er wire.ErrorReply
			if err := wire.DecodeBody(payload, &er); err != nil {
				return err
			}
			return er.Err()
		}
		if out == nil {
			return nil
		}
		return wire.DecodeBody(payload, out)
	}
}

// drainLocked discards any unread replies queued on the socket so they
// never get matched against a later Call.
func (l *Link) drainLocked() {
	if l.socket == nil {
		return
	}
	if err := l.socket.SetRcvtimeo(0); err != nil {
		return
	}
	for {
		if _, err := l.socket.RecvMessageBytes(0); err != nil {
			return
		}
	}
}

func splitReply(parts [][]byte) (string, uint64, []byte, error) {
	if len(parts) != 3 {
		return "", 0, nil, fmt.Errorf("expected 3 frames, got %d", len(parts))
	}
	seq, err := wire.DecodeSeq(parts[1])
	if err != nil {
		return "", 0, nil, err
	}
	return string(parts[0]), seq, parts[2], nil
}

// Node service surface.

func (l *Link) SendPrompt(ctx context.Context, req wire.PromptRequest) error {
	return l.Cast(wire.OpSendPrompt, req)
}

func (l *Link) SendTensor(ctx context.Context, req wire.TensorRequest) error {
	return l.Cast(wire.OpSendTensor, req)
}

func (l *Link) SendExample(ctx context.Context, req wire.ExampleRequest) (wire.Loss, error) {
	var loss wire.Loss
	err := l.Call(ctx, wire.OpSendExample, req, &loss)
	return loss, err
}

func (l *Link) CollectTopology(ctx context.Context, req wire.TopologyRequest) (topology.Topology, error) {
	var topo topology.Topology
	err := l.Call(ctx, wire.OpCollectTopology, req, &topo)
	return topo, err
}

func (l *Link) SendResult(ctx context.Context, msg wire.ResultMessage) error {
	return l.Cast(wire.OpSendResult, msg)
}

func (l *Link) SendOpaqueStatus(ctx context.Context, msg wire.OpaqueStatus) error {
	return l.Cast(wire.OpSendOpaqueStatus, msg)
}

func (l *Link) HealthCheck(ctx context.Context) (bool, error) {
	var hs wire.HealthStatus
	if err := l.Call(ctx, wire.OpHealthCheck, struct{}{}, &hs); err != nil {
		return false, err
	}
	return hs.IsHealthy, nil
}
