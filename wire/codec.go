package wire

import (
	"encoding/binary"
	"fmt"

	msgpack "github.com/shamaton/msgpack/v2"
)

// Messages travel as three frames: [op, seq, payload]. The op frame is
// the operation tag, seq is an 8-byte big-endian sequence number used to
// correlate synchronous replies, and the payload is msgpack.

const seqFrameLen = 8

func EncodeSeq(seq uint64) []byte {
	buf := make([]byte, seqFrameLen)
	binary.BigEndian.PutUint64(buf, seq)
	return buf
}

func DecodeSeq(frame []byte) (uint64, error) {
	if len(frame) != seqFrameLen {
		return 0, fmt.Errorf("invalid sequence frame length %d", len(frame))
	}
	return binary.BigEndian.Uint64(frame), nil
}

func EncodeBody(body any) ([]byte, error) {
	payload, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return payload, nil
}

func DecodeBody(payload []byte, out any) error {
	if err := msgpack.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Frames assembles the full message for one operation.
func Frames(op string, seq uint64, body any) ([][]byte, error) {
	payload, err := EncodeBody(body)
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(op), EncodeSeq(seq), payload}, nil
}
