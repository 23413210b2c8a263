package node

import (
	"context"

	"shardnode/shard"
	"shardnode/tensor"
)

// Activation is what one shard's forward pass produces: the activation
// tensor fed to the next shard, plus sampled tokens and the end-of-stream
// flag when the shard is terminal.
type Activation struct {
	Output   tensor.Tensor
	Tokens   []int
	Finished bool
}

// Engine is the node's local execution capability. The numerical work is
// opaque to this layer: the router hands it a shard, a payload and the
// threaded inference state, and treats any failure as an execution error.
// Implementations may read and update state in place; the state is owned
// by the single request being executed.
type Engine interface {
	// InferPrompt runs the shard's layers over a prompt, used at the
	// ingress shard.
	InferPrompt(ctx context.Context, s shard.Shard, prompt string, state *tensor.State) (Activation, error)

	// InferTensor runs the shard's layers over an activation arriving
	// from the previous shard.
	InferTensor(ctx context.Context, s shard.Shard, t tensor.Tensor, state *tensor.State) (Activation, error)

	// Evaluate computes loss and gradients for a training example at the
	// terminal shard.
	Evaluate(ctx context.Context, s shard.Shard, example, target, length tensor.Tensor, state *tensor.State) (float64, tensor.Tensor, error)

	// Backward propagates gradients arriving from the next shard through
	// this shard's layers, returning the gradients for the previous one.
	Backward(ctx context.Context, s shard.Shard, grads tensor.Tensor, state *tensor.State) (tensor.Tensor, error)
}
