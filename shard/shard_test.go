package shard_test

import (
	"errors"
	"testing"

	"shardnode/shard"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		s       shard.Shard
		wantErr bool
	}{
		{"full model", shard.Shard{ModelID: "m", StartLayer: 0, EndLayer: 11, NLayers: 12}, false},
		{"middle slice", shard.Shard{ModelID: "m", StartLayer: 4, EndLayer: 7, NLayers: 12}, false},
		{"single layer", shard.Shard{ModelID: "m", StartLayer: 3, EndLayer: 3, NLayers: 12}, false},
		{"negative start", shard.Shard{ModelID: "m", StartLayer: -1, EndLayer: 3, NLayers: 12}, true},
		{"start after end", shard.Shard{ModelID: "m", StartLayer: 5, EndLayer: 3, NLayers: 12}, true},
		{"end out of range", shard.Shard{ModelID: "m", StartLayer: 0, EndLayer: 12, NLayers: 12}, true},
		{"zero layers", shard.Shard{ModelID: "m"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.s.Validate()
			if tc.wantErr && !errors.Is(err, shard.ErrInvalidShard) {
				t.Errorf("Expected ErrInvalidShard, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Errorf("Expected valid shard, got %v", err)
			}
		})
	}
}

func TestChainPosition(t *testing.T) {
	first := shard.Shard{ModelID: "m", StartLayer: 0, EndLayer: 3, NLayers: 12}
	last := shard.Shard{ModelID: "m", StartLayer: 8, EndLayer: 11, NLayers: 12}

	if !first.IsFirst() || first.IsLast() {
		t.Errorf("shard %s misreports chain position", first.String())
	}
	if last.IsFirst() || !last.IsLast() {
		t.Errorf("shard %s misreports chain position", last.String())
	}
	if first.NumLayers() != 4 {
		t.Errorf("Expected 4 layers, got %d", first.NumLayers())
	}
}

func TestOverlaps(t *testing.T) {
	a := shard.Shard{ModelID: "m", StartLayer: 0, EndLayer: 5, NLayers: 12}
	b := shard.Shard{ModelID: "m", StartLayer: 5, EndLayer: 11, NLayers: 12}
	c := shard.Shard{ModelID: "m", StartLayer: 6, EndLayer: 11, NLayers: 12}
	other := shard.Shard{ModelID: "other", StartLayer: 0, EndLayer: 5, NLayers: 12}

	if !a.Overlaps(b) {
		t.Errorf("Expected %s to overlap %s", a.String(), b.String())
	}
	if a.Overlaps(c) {
		t.Errorf("Expected %s not to overlap %s", a.String(), c.String())
	}
	if a.Overlaps(other) {
		t.Errorf("Shards of different models must not overlap")
	}
}
