// Package shard identifies contiguous slices of a model's layers.
package shard

import (
	"errors"
	"fmt"
)

var ErrInvalidShard = errors.New("error: invalid shard layer range")

// Shard names a contiguous slice [StartLayer, EndLayer] of a model's
// NLayers total layers. It identifies what a node computes, not who
// computes it; ownership is resolved through the topology store.
// Immutable once constructed.
type Shard struct {
	ModelID    string `msgpack:"model_id" json:"model_id"`
	StartLayer int    `msgpack:"start_layer" json:"start_layer"`
	EndLayer   int    `msgpack:"end_layer" json:"end_layer"`
	NLayers    int    `msgpack:"n_layers" json:"n_layers"`
}

func (s Shard) Validate() error {
	if s.StartLayer < 0 || s.StartLayer > s.EndLayer || s.EndLayer >= s.NLayers {
		return fmt.Errorf("%w: [%d, %d] of %d", ErrInvalidShard, s.StartLayer, s.EndLayer, s.NLayers)
	}
	return nil
}

// IsFirst reports whether this shard holds the model's first layer.
func (s Shard) IsFirst() bool {
	return s.StartLayer == 0
}

// IsLast reports whether this shard is the terminal shard of the chain.
func (s Shard) IsLast() bool {
	return s.EndLayer == s.NLayers-1
}

func (s Shard) NumLayers() int {
	return s.EndLayer - s.StartLayer + 1
}

// Overlaps reports whether two shards of the same model share any layer.
func (s Shard) Overlaps(o Shard) bool {
	return s.ModelID == o.ModelID && s.StartLayer <= o.EndLayer && o.StartLayer <= s.EndLayer
}

func (s Shard) String() string {
	return fmt.Sprintf("%s[%d:%d]/%d", s.ModelID, s.StartLayer, s.EndLayer, s.NLayers)
}
