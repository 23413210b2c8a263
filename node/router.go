package node

import (
	"context"
	"fmt"
	"log/slog"

	"shardnode/shard"
	"shardnode/tensor"
	"shardnode/wire"
)

// admit validates an inbound request against this node's assigned shard
// and records the reply path. A mismatched or malformed request fails
// fast at this hop and is never forwarded.
func (n *Node) admit(from, requestID string, sh shard.Shard, tensors ...tensor.Tensor) error {
	if requestID == "" {
		return fmt.Errorf("%w: missing request_id", wire.ErrInvalidRequest)
	}
	// The reply path is recorded before any validation: the upstream
	// hop sends fire-and-forget, so a rejection here must still reach
	// the originator through the status relay.
	if from != "" {
		n.sources.Store(requestID, from)
	}
	n.touch(requestID)
	if err := sh.Validate(); err != nil {
		return fmt.Errorf("%w: %v", wire.ErrInvalidRequest, err)
	}
	if sh != n.shard {
		return fmt.Errorf("%w: shard %s does not match local shard %s", wire.ErrInvalidRequest, sh.String(), n.shard.String())
	}
	for _, t := range tensors {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %v", wire.ErrInvalidRequest, err)
		}
	}
	return nil
}

// SendPrompt accepts a prompt request for this node's shard. Validation
// happens before the acknowledgement; execution runs off the call path so
// a slow shard never blocks the server loop or other requests.
func (n *Node) SendPrompt(ctx context.Context, from string, req wire.PromptRequest) error {
	if !n.beginWork() {
		return fmt.Errorf("node %s is shutting down", n.id)
	}
	if err := n.admit(from, req.RequestID, req.Shard); err != nil {
		n.wg.Done()
		n.fail(req.RequestID, err)
		return err
	}
	go func() {
		defer n.wg.Done()
		n.runPrompt(n.ctx, req)
	}()
	return nil
}

func (n *Node) SendTensor(ctx context.Context, from string, req wire.TensorRequest) error {
	if !n.beginWork() {
		return fmt.Errorf("node %s is shutting down", n.id)
	}
	if err := n.admit(from, req.RequestID, req.Shard, req.Tensor); err != nil {
		n.wg.Done()
		n.fail(req.RequestID, err)
		return err
	}
	go func() {
		defer n.wg.Done()
		n.runTensor(n.ctx, req)
	}()
	return nil
}

func (n *Node) runPrompt(ctx context.Context, req wire.PromptRequest) {
	state := req.State
	if state == nil {
		state = tensor.NewState()
	}
	act, err := n.engine.InferPrompt(ctx, n.shard, req.Prompt, state)
	if err != nil {
		n.fail(req.RequestID, fmt.Errorf("%w: %v", wire.ErrExecution, err))
		return
	}
	n.finishHop(ctx, req.RequestID, act, state)
}

func (n *Node) runTensor(ctx context.Context, req wire.TensorRequest) {
	state := req.State
	if state == nil {
		state = tensor.NewState()
	}
	act, err := n.engine.InferTensor(ctx, n.shard, req.Tensor, state)
	if err != nil {
		n.fail(req.RequestID, fmt.Errorf("%w: %v", wire.ErrExecution, err))
		return
	}
	n.finishHop(ctx, req.RequestID, act, state)
}

// finishHop completes one shard's step: the terminal shard reports the
// result toward the originator, every other shard forwards the activation
// to the next shard's owner.
func (n *Node) finishHop(ctx context.Context, requestID string, act Activation, state *tensor.State) {
	if n.shard.IsLast() {
		n.deliverResult(wire.ResultMessage{
			RequestID:  requestID,
			Result:     act.Tokens,
			Tensor:     act.Output,
			IsFinished: act.Finished,
		})
		return
	}
	n.forward(ctx, requestID, act.Output, state)
}

// forward hands the activation to the node owning the next shard.
// Fire-and-forget: completion is only observed through SendResult and
// SendOpaqueStatus callbacks correlated by request id. Failures are
// reported, never retried here; retry policy belongs to the originator.
func (n *Node) forward(ctx context.Context, requestID string, out tensor.Tensor, state *tensor.State) {
	ownerID, next, ok := n.store.NextOwner(n.shard.ModelID, n.shard.EndLayer)
	if !ok {
		n.fail(requestID, fmt.Errorf("%w: no owner for %s layer %d", wire.ErrPeerUnreachable, n.shard.ModelID, n.shard.EndLayer+1))
		return
	}
	p, ok := n.peers.Load(ownerID)
	if !ok {
		n.fail(requestID, fmt.Errorf("%w: no link to %s", wire.ErrPeerUnreachable, ownerID))
		return
	}
	req := wire.TensorRequest{
		Shard:     next,
		Tensor:    out,
		RequestID: requestID,
		State:     state,
	}
	if err := p.SendTensor(ctx, req); err != nil {
		n.fail(requestID, err)
		return
	}
	slog.Debug("forwarded hop", "id", n.id, "request_id", requestID, "next", ownerID, "shard", next.String())
}

// SendExample is the synchronous training step. The terminal shard
// computes the loss; intermediate shards run their forward pass, block
// on the downstream shard's loss, then backpropagate through their own
// layers when training.
func (n *Node) SendExample(ctx context.Context, from string, req wire.ExampleRequest) (wire.Loss, error) {
	if err := n.admit(from, req.RequestID, req.Shard, req.Example, req.Target, req.Length); err != nil {
		n.fail(req.RequestID, err)
		return wire.Loss{}, err
	}

	state := req.State
	if state == nil {
		state = tensor.NewState()
	}

	if n.shard.IsLast() {
		loss, grads, err := n.engine.Evaluate(ctx, n.shard, req.Example, req.Target, req.Length, state)
		if err != nil {
			err = fmt.Errorf("%w: %v", wire.ErrExecution, err)
			n.fail(req.RequestID, err)
			return wire.Loss{}, err
		}
		return wire.Loss{Loss: loss, Grads: grads}, nil
	}

	act, err := n.engine.InferTensor(ctx, n.shard, req.Example, state)
	if err != nil {
		err = fmt.Errorf("%w: %v", wire.ErrExecution, err)
		n.fail(req.RequestID, err)
		return wire.Loss{}, err
	}

	ownerID, next, ok := n.store.NextOwner(n.shard.ModelID, n.shard.EndLayer)
	if !ok {
		err := fmt.Errorf("%w: no owner for %s layer %d", wire.ErrPeerUnreachable, n.shard.ModelID, n.shard.EndLayer+1)
		n.fail(req.RequestID, err)
		return wire.Loss{}, err
	}
	p, ok := n.peers.Load(ownerID)
	if !ok {
		err := fmt.Errorf("%w: no link to %s", wire.ErrPeerUnreachable, ownerID)
		n.fail(req.RequestID, err)
		return wire.Loss{}, err
	}

	downstream, err := p.SendExample(ctx, wire.ExampleRequest{
		Shard:     next,
		Example:   act.Output,
		Target:    req.Target,
		Length:    req.Length,
		Train:     req.Train,
		RequestID: req.RequestID,
		State:     state,
	})
	if err != nil {
		n.fail(req.RequestID, err)
		return wire.Loss{}, err
	}

	if !req.Train {
		return downstream, nil
	}
	grads, err := n.engine.Backward(ctx, n.shard, downstream.Grads, state)
	if err != nil {
		err = fmt.Errorf("%w: %v", wire.ErrExecution, err)
		n.fail(req.RequestID, err)
		return wire.Loss{}, err
	}
	return wire.Loss{Loss: downstream.Loss, Grads: grads}, nil
}

// fail ends the request at this hop: the error is reported toward the
// best-known callback for the request id and nothing is forwarded.
func (n *Node) fail(requestID string, err error) {
	slog.Error("request failed", "id", n.id, "request_id", requestID, "error", err)
	if requestID == "" {
		return
	}
	n.deliverStatus(wire.OpaqueStatus{RequestID: requestID, Status: err.Error()})
}
