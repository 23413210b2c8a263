package node

import (
	"context"

	"shardnode/shard"
	"shardnode/tensor"
)

// DummyEngine is a stand-in execution engine for cluster bring-up and
// tests: it passes activations through unchanged and fabricates a single
// deterministic token at the terminal shard. It exercises the full
// routing and state carry-through path without doing any numerical work.
type DummyEngine struct{}

func (DummyEngine) InferPrompt(ctx context.Context, s shard.Shard, prompt string, state *tensor.State) (Activation, error) {
	out, err := tensor.New([]byte(prompt), []int{len(prompt)}, "uint8")
	if err != nil {
		return Activation{}, err
	}
	state.AppendTensor("dummy_trace", out)
	return finishDummy(s, out), nil
}

func (DummyEngine) InferTensor(ctx context.Context, s shard.Shard, t tensor.Tensor, state *tensor.State) (Activation, error) {
	state.AppendTensor("dummy_trace", t)
	return finishDummy(s, t), nil
}

func (DummyEngine) Evaluate(ctx context.Context, s shard.Shard, example, target, length tensor.Tensor, state *tensor.State) (float64, tensor.Tensor, error) {
	grads, err := tensor.New(make([]byte, len(example.Data)), example.Shape, example.DType)
	if err != nil {
		return 0, tensor.Tensor{}, err
	}
	return 0, grads, nil
}

func (DummyEngine) Backward(ctx context.Context, s shard.Shard, grads tensor.Tensor, state *tensor.State) (tensor.Tensor, error) {
	return grads, nil
}

func finishDummy(s shard.Shard, out tensor.Tensor) Activation {
	act := Activation{Output: out}
	if s.IsLast() {
		sum := 0
		for _, b := range out.Data {
			sum += int(b)
		}
		act.Tokens = []int{sum}
		act.Finished = true
	}
	return act
}
