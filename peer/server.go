package peer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	zmq "github.com/pebbe/zmq4"

	"shardnode/topology"
	"shardnode/wire"
)

// Handler is the node service surface exposed to every remote peer. The
// from argument is the sender's node id as carried by its link identity,
// empty for anonymous callers such as CLI probes.
type Handler interface {
	SendPrompt(ctx context.Context, from string, req wire.PromptRequest) error
	SendTensor(ctx context.Context, from string, req wire.TensorRequest) error
	SendExample(ctx context.Context, from string, req wire.ExampleRequest) (wire.Loss, error)
	CollectTopology(ctx context.Context, from string, req wire.TopologyRequest) (topology.Topology, error)
	SendResult(ctx context.Context, from string, msg wire.ResultMessage)
	SendOpaqueStatus(ctx context.Context, from string, msg wire.OpaqueStatus)
	HealthCheck(ctx context.Context) bool
}

type ServerConfig struct {
	Endpoint    string
	PollTimeout time.Duration
}

const DefaultPollTimeout = 100 * time.Millisecond

type reply struct {
	identity []byte
	frames   [][]byte
}

// Server accepts concurrent remote calls on a ROUTER socket. The socket
// loop never blocks on a handler: each inbound message is dispatched to
// its own goroutine and replies funnel back through a channel, so a
// long-running shard execution cannot delay a health probe.
type Server struct {
	config  ServerConfig
	handler Handler

	socket   *zmq.Socket
	endpoint string
	replies  chan reply

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewServer(config ServerConfig, handler Handler) *Server {
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		handler: handler,
		replies: make(chan reply, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start binds the ROUTER socket and launches the accept loop.
func (s *Server) Start() error {
	sock, err := zmq.NewSocket(zmq.ROUTER)
	if err != nil {
		return fmt.Errorf("create socket failed: %w", err)
	}
	if err := sock.SetIpv6(true); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to enable IPv6 on socket: %w", err)
	}
	if err := sock.SetLinger(0); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to set linger: %w", err)
	}
	if err := sock.Bind(s.config.Endpoint); err != nil {
		_ = sock.Close()
		return fmt.Errorf("failed to bind %s: %w", s.config.Endpoint, err)
	}
	endpoint, err := sock.GetLastEndpoint()
	if err != nil {
		endpoint = s.config.Endpoint
	}
	s.socket = sock
	s.endpoint = endpoint

	go s.loop()

	slog.Info("node service listening", "endpoint", s.endpoint)
	return nil
}

// Endpoint reports the bound address, resolved after a wildcard bind.
func (s *Server) Endpoint() string {
	return s.endpoint
}

func (s *Server) Stop() {
	s.cancel()
	<-s.done
	slog.Info("node service stopped", "endpoint", s.endpoint)
}

// loop owns the socket: it alternates between flushing queued replies
// and polling for inbound messages.
func (s *Server) loop() {
	defer close(s.done)
	defer s.socket.Close()

	poller := zmq.NewPoller()
	poller.Add(s.socket, zmq.POLLIN)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		s.flushReplies()

		polled, err := poller.Poll(s.config.PollTimeout)
		if err != nil {
			slog.Error("poll error", "endpoint", s.endpoint, "error", err)
			return
		}
		if len(polled) == 0 {
			continue
		}

		parts, err := s.socket.RecvMessageBytes(0)
		if err != nil {
			slog.Error("recv error", "endpoint", s.endpoint, "error", err)
			continue
		}
		// ROUTER frames: [identity, op, seq, payload]
		if len(parts) != 4 {
			slog.Warn("malformed message, dropping", "frames", len(parts))
			continue
		}
		identity := parts[0]
		op := string(parts[1])
		seq, err := wire.DecodeSeq(parts[2])
		if err != nil {
			slog.Warn("malformed sequence frame, dropping", "op", op, "error", err)
			continue
		}
		go s.dispatch(identity, op, seq, parts[3])
	}
}

func (s *Server) flushReplies() {
	for {
		select {
		case r := <-s.replies:
			if _, err := s.socket.SendMessage(r.identity, r.frames); err != nil {
				slog.Warn("failed to send reply", "error", err)
			}
		default:
			return
		}
	}
}

func (s *Server) queueReply(identity []byte, op string, seq uint64, body any) {
	frames, err := wire.Frames(op, seq, body)
	if err != nil {
		slog.Error("failed to encode reply", "op", op, "error", err)
		return
	}
	select {
	case s.replies <- reply{identity: identity, frames: frames}:
	case <-s.ctx.Done():
	}
}

func (s *Server) queueError(identity []byte, seq uint64, err error) {
	s.queueReply(identity, wire.OpError, seq, wire.ReplyFor(err))
}

// dispatch runs one remote call. from is the DEALER identity, which peer
// links set to their node id.
func (s *Server) dispatch(identity []byte, op string, seq uint64, payload []byte) {
	from := string(identity)
	ctx := s.ctx

	switch op {
	case wire.OpSendPrompt:
		var req wire.PromptRequest
		if err := wire.DecodeBody(payload, &req); err != nil {
			s.queueError(identity, seq, fmt.Errorf("%w: %v", wire.ErrInvalidRequest, err))
			return
		}
		if err := s.handler.SendPrompt(ctx, from, req); err != nil {
			s.queueError(identity, seq, err)
			return
		}
		s.queueReply(identity, wire.OpAck, seq, wire.Ack{RequestID: req.RequestID})

	case wire.OpSendTensor:
		var req wire.TensorRequest
		if err := wire.DecodeBody(payload, &req); err != nil {
			s.queueError(identity, seq, fmt.Errorf("%w: %v", wire.ErrInvalidRequest, err))
			return
		}
		if err := s.handler.SendTensor(ctx, from, req); err != nil {
			s.queueError(identity, seq, err)
			return
		}
		s.queueReply(identity, wire.OpAck, seq, wire.Ack{RequestID: req.RequestID})

	case wire.OpSendExample:
		var req wire.ExampleRequest
		if err := wire.DecodeBody(payload, &req); err != nil {
			s.queueError(identity, seq, fmt.Errorf("%w: %v", wire.ErrInvalidRequest, err))
			return
		}
		loss, err := s.handler.SendExample(ctx, from, req)
		if err != nil {
			s.queueError(identity, seq, err)
			return
		}
		s.queueReply(identity, wire.OpSendExample, seq, loss)

	case wire.OpCollectTopology:
		var req wire.TopologyRequest
		if err := wire.DecodeBody(payload, &req); err != nil {
			s.queueError(identity, seq, fmt.Errorf("%w: %v", wire.ErrInvalidRequest, err))
			return
		}
		topo, err := s.handler.CollectTopology(ctx, from, req)
		if err != nil {
			s.queueError(identity, seq, err)
			return
		}
		s.queueReply(identity, wire.OpCollectTopology, seq, topo)

	case wire.OpSendResult:
		var msg wire.ResultMessage
		if err := wire.DecodeBody(payload, &msg); err != nil {
			slog.Warn("malformed result message, dropping", "from", from, "error", err)
			return
		}
		s.handler.SendResult(ctx, from, msg)

	case wire.OpSendOpaqueStatus:
		var msg wire.OpaqueStatus
		if err := wire.DecodeBody(payload, &msg); err != nil {
			slog.Warn("malformed status message, dropping", "from", from, "error", err)
			return
		}
		s.handler.SendOpaqueStatus(ctx, from, msg)

	case wire.OpHealthCheck:
		s.queueReply(identity, wire.OpHealthCheck, seq, wire.HealthStatus{IsHealthy: s.handler.HealthCheck(ctx)})

	default:
		s.queueError(identity, seq, fmt.Errorf("%w: unknown operation %q", wire.ErrInvalidRequest, op))
	}
}
