// Package tensor carries multidimensional numeric buffers and the opaque
// per-request inference state across shard hops.
package tensor

import (
	"errors"
	"fmt"
)

// Errors
var ErrShapeMismatch = errors.New("error: byte length does not match shape and dtype")
var ErrUnknownDType = errors.New("error: unknown dtype")

// dtypeSizes is the closed set of recognized element-type tags and their
// byte widths. float16/bfloat16 payloads stay raw bytes at this layer.
var dtypeSizes = map[string]int{
	"bool":     1,
	"int8":     1,
	"uint8":    1,
	"int16":    2,
	"uint16":   2,
	"float16":  2,
	"bfloat16": 2,
	"int32":    4,
	"uint32":   4,
	"float32":  4,
	"int64":    8,
	"uint64":   8,
	"float64":  8,
}

// Tensor is an immutable value type: raw bytes plus shape and element type.
// Whatever message embeds it owns it.
type Tensor struct {
	Data  []byte `msgpack:"data" json:"data"`
	Shape []int  `msgpack:"shape" json:"shape"`
	DType string `msgpack:"dtype" json:"dtype"`
}

// DTypeSize returns the byte width of a dtype tag.
func DTypeSize(dtype string) (int, error) {
	size, ok := dtypeSizes[dtype]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDType, dtype)
	}
	return size, nil
}

// New builds a Tensor after checking that the buffer length agrees with
// shape and dtype. Pure and deterministic, safe for concurrent use.
func New(data []byte, shape []int, dtype string) (Tensor, error) {
	t := Tensor{Data: data, Shape: shape, DType: dtype}
	if err := t.Validate(); err != nil {
		return Tensor{}, err
	}
	return t, nil
}

// NumElements is the product of the shape dimensions. An empty shape is a
// scalar (one element). Returns -1 on a negative dimension.
func (t Tensor) NumElements() int {
	n := 1
	for _, dim := range t.Shape {
		if dim < 0 {
			return -1
		}
		n *= dim
	}
	return n
}

// Validate re-checks the shape invariant, for use on receipt as well as
// at construction.
func (t Tensor) Validate() error {
	size, err := DTypeSize(t.DType)
	if err != nil {
		return err
	}
	n := t.NumElements()
	if n < 0 {
		return fmt.Errorf("%w: negative dimension in shape %v", ErrShapeMismatch, t.Shape)
	}
	if len(t.Data) != n*size {
		return fmt.Errorf("%w: %d bytes for shape %v of %s (want %d)",
			ErrShapeMismatch, len(t.Data), t.Shape, t.DType, n*size)
	}
	return nil
}

// Decode returns the buffer, shape and dtype after validation, failing
// with ErrUnknownDType or ErrShapeMismatch on a malformed tensor.
func (t Tensor) Decode() ([]byte, []int, string, error) {
	if err := t.Validate(); err != nil {
		return nil, nil, "", err
	}
	return t.Data, t.Shape, t.DType, nil
}

// Clone deep-copies the tensor so the copy never aliases the original
// buffer.
func (t Tensor) Clone() Tensor {
	out := Tensor{
		Data:  make([]byte, len(t.Data)),
		Shape: make([]int, len(t.Shape)),
		DType: t.DType,
	}
	copy(out.Data, t.Data)
	copy(out.Shape, t.Shape)
	return out
}

// IsZero reports whether the tensor is the empty value (no payload at all,
// as opposed to a valid zero-element tensor).
func (t Tensor) IsZero() bool {
	return t.Data == nil && t.Shape == nil && t.DType == ""
}
