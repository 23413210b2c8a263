package wire_test

import (
	"errors"
	"testing"

	"shardnode/shard"
	"shardnode/tensor"
	"shardnode/wire"
)

func TestFramesRoundTrip(t *testing.T) {
	state := tensor.NewState()
	state.OtherData["step"] = int64(3)
	req := wire.PromptRequest{
		Shard:     shard.Shard{ModelID: "m", StartLayer: 0, EndLayer: 3, NLayers: 12},
		Prompt:    "hello",
		RequestID: "r1",
		State:     state,
	}

	frames, err := wire.Frames(wire.OpSendPrompt, 42, req)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("Expected 3 frames, got %d", len(frames))
	}
	if string(frames[0]) != wire.OpSendPrompt {
		t.Errorf("Expected op frame %q, got %q", wire.OpSendPrompt, frames[0])
	}

	seq, err := wire.DecodeSeq(frames[1])
	if err != nil {
		t.Fatalf("DecodeSeq failed: %v", err)
	}
	if seq != 42 {
		t.Errorf("Expected seq 42, got %d", seq)
	}

	var got wire.PromptRequest
	if err := wire.DecodeBody(frames[2], &got); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if got.Prompt != "hello" || got.RequestID != "r1" {
		t.Errorf("Payload did not survive: %+v", got)
	}
	if got.Shard != req.Shard {
		t.Errorf("Expected shard %v, got %v", req.Shard, got.Shard)
	}
	if got.State == nil {
		t.Fatalf("Inference state dropped in transit")
	}
	if _, ok := got.State.OtherData["step"]; !ok {
		t.Errorf("Opaque state key dropped in transit")
	}
}

func TestTensorRequestRoundTrip(t *testing.T) {
	tn, err := tensor.New([]byte{1, 2, 3, 4}, []int{1, 4}, "uint8")
	if err != nil {
		t.Fatalf("tensor.New failed: %v", err)
	}
	req := wire.TensorRequest{
		Shard:     shard.Shard{ModelID: "m", StartLayer: 4, EndLayer: 7, NLayers: 12},
		Tensor:    tn,
		RequestID: "r2",
	}
	payload, err := wire.EncodeBody(req)
	if err != nil {
		t.Fatalf("EncodeBody failed: %v", err)
	}
	var got wire.TensorRequest
	if err := wire.DecodeBody(payload, &got); err != nil {
		t.Fatalf("DecodeBody failed: %v", err)
	}
	if err := got.Tensor.Validate(); err != nil {
		t.Errorf("Tensor invalid after round trip: %v", err)
	}
	if string(got.Tensor.Data) != string(tn.Data) {
		t.Errorf("Tensor bytes did not survive: %v", got.Tensor.Data)
	}
}

func TestDecodeSeqLength(t *testing.T) {
	if _, err := wire.DecodeSeq([]byte{1, 2, 3}); err == nil {
		t.Errorf("Expected error for short sequence frame")
	}
}

func TestErrorReplyMapping(t *testing.T) {
	invalid := wire.ReplyFor(wire.ErrInvalidRequest)
	if invalid.Code != wire.CodeInvalidRequest {
		t.Errorf("Expected code %q, got %q", wire.CodeInvalidRequest, invalid.Code)
	}
	if !errors.Is(invalid.Err(), wire.ErrInvalidRequest) {
		t.Errorf("Round-tripped error lost its identity: %v", invalid.Err())
	}

	exec := wire.ReplyFor(wire.ErrExecution)
	if !errors.Is(exec.Err(), wire.ErrExecution) {
		t.Errorf("Round-tripped execution error lost its identity: %v", exec.Err())
	}

	other := wire.ReplyFor(errors.New("boom"))
	if other.Code != wire.CodeInternal {
		t.Errorf("Expected internal code, got %q", other.Code)
	}
}

func TestDecodeBodyMalformed(t *testing.T) {
	var req wire.PromptRequest
	if err := wire.DecodeBody([]byte{0xc1}, &req); err == nil {
		t.Errorf("Expected error for malformed payload")
	}
}
