// Package wire defines the node service message surface and its framing.
// Field names are the compatibility contract between nodes.
package wire

import (
	"shardnode/shard"
	"shardnode/tensor"
)

// Operation tags, carried as the first frame of every message.
const (
	OpSendPrompt       = "send_prompt"
	OpSendTensor       = "send_tensor"
	OpSendExample      = "send_example"
	OpCollectTopology  = "collect_topology"
	OpSendResult       = "send_result"
	OpSendOpaqueStatus = "send_opaque_status"
	OpHealthCheck      = "health_check"

	// OpAck acknowledges accepted dispatch-and-continue requests.
	OpAck = "ack"
	// OpError is the server-side failure reply.
	OpError = "error"
)

// Error codes carried in ErrorReply so callers can map remote failures
// back onto the local error taxonomy.
const (
	CodeInvalidRequest = "invalid_request"
	CodeExecutionError = "execution_error"
	CodeInternal       = "internal"
)

// PromptRequest initiates prompt inference at the addressed shard.
// RequestID is assigned once at ingress and never changes across hops.
type PromptRequest struct {
	Shard     shard.Shard   `msgpack:"shard" json:"shard"`
	Prompt    string        `msgpack:"prompt" json:"prompt"`
	RequestID string        `msgpack:"request_id" json:"request_id"`
	State     *tensor.State `msgpack:"inference_state" json:"inference_state"`
}

// TensorRequest injects an intermediate activation tensor, the inter-shard
// hop payload.
type TensorRequest struct {
	Shard     shard.Shard   `msgpack:"shard" json:"shard"`
	Tensor    tensor.Tensor `msgpack:"tensor" json:"tensor"`
	RequestID string        `msgpack:"request_id" json:"request_id"`
	State     *tensor.State `msgpack:"inference_state" json:"inference_state"`
}

// ExampleRequest carries one training example. Synchronous: the caller
// blocks for the Loss reply.
type ExampleRequest struct {
	Shard     shard.Shard   `msgpack:"shard" json:"shard"`
	Example   tensor.Tensor `msgpack:"example" json:"example"`
	Target    tensor.Tensor `msgpack:"target" json:"target"`
	Length    tensor.Tensor `msgpack:"length" json:"length"`
	Train     bool          `msgpack:"train" json:"train"`
	RequestID string        `msgpack:"request_id" json:"request_id"`
	State     *tensor.State `msgpack:"inference_state" json:"inference_state"`
}

// Loss is the synchronous reply to an ExampleRequest.
type Loss struct {
	Loss  float64       `msgpack:"loss" json:"loss"`
	Grads tensor.Tensor `msgpack:"grads" json:"grads"`
}

// TopologyRequest drives the recursive cluster-shape discovery walk.
type TopologyRequest struct {
	Visited  []string `msgpack:"visited" json:"visited"`
	MaxDepth int      `msgpack:"max_depth" json:"max_depth"`
}

// ResultMessage streams partial or complete output back toward the
// request originator. Fire-and-forget.
type ResultMessage struct {
	RequestID  string        `msgpack:"request_id" json:"request_id"`
	Result     []int         `msgpack:"result" json:"result"`
	Tensor     tensor.Tensor `msgpack:"tensor" json:"tensor"`
	IsFinished bool          `msgpack:"is_finished" json:"is_finished"`
}

// OpaqueStatus is the out-of-band progress/error signal. The payload is
// free-form.
type OpaqueStatus struct {
	RequestID string `msgpack:"request_id" json:"request_id"`
	Status    string `msgpack:"status" json:"status"`
}

type Ack struct {
	RequestID string `msgpack:"request_id" json:"request_id"`
}

type HealthStatus struct {
	IsHealthy bool `msgpack:"is_healthy" json:"is_healthy"`
}

type ErrorReply struct {
	Code    string `msgpack:"code" json:"code"`
	Message string `msgpack:"message" json:"message"`
}
