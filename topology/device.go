package topology

// DeviceFlops describes a node's throughput per element type, supplied by
// the node itself for placement decisions made outside this core.
type DeviceFlops struct {
	FP32 float64 `msgpack:"fp32" json:"fp32"`
	FP16 float64 `msgpack:"fp16" json:"fp16"`
	Int8 float64 `msgpack:"int8" json:"int8"`
}

// DeviceCapabilities describes one node's hardware. Memory is in bytes.
type DeviceCapabilities struct {
	Model  string      `msgpack:"model" json:"model"`
	Chip   string      `msgpack:"chip" json:"chip"`
	Memory int64       `msgpack:"memory" json:"memory"`
	Flops  DeviceFlops `msgpack:"flops" json:"flops"`
}

// PeerConnection is one outgoing edge in the peer graph. Description is a
// free-text transport hint, never used for routing.
type PeerConnection struct {
	ToID        string `msgpack:"to_id" json:"to_id"`
	Description string `msgpack:"description" json:"description"`
}
