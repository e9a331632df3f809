// Tests for [EncodeFrame] and [DecodeFrame] covering round-trip encoding,
// partial reads, multiple sequential frames, and error cases.
package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"testing"
)

// ///////////////////////////////////////////////
// EncodeFrame
// ///////////////////////////////////////////////

func TestEncodeFrame(t *testing.T) {
	payload := []byte(`{"version":1,"name":"matchscope"}`)
	frame, err := EncodeFrame(OpHello, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(frame) != 8+len(payload) {
		t.Fatalf("expected frame length %d, got %d", 8+len(payload), len(frame))
	}

	opcode := Opcode(binary.LittleEndian.Uint32(frame[0:4]))
	if opcode != OpHello {
		t.Fatalf("expected opcode %d, got %d", OpHello, opcode)
	}

	length := binary.LittleEndian.Uint32(frame[4:8])
	if length != uint32(len(payload)) {
		t.Fatalf("expected length %d, got %d", len(payload), length)
	}

	if !bytes.Equal(frame[8:], payload) {
		t.Fatalf("payload mismatch: expected %q, got %q", payload, frame[8:])
	}
}

func TestEncodeFrame_Empty(t *testing.T) {
	frame, err := EncodeFrame(OpGoodbye, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frame) != 8 {
		t.Fatalf("expected bare header, got %d bytes", len(frame))
	}
}

func TestEncodeFrame_Oversized(t *testing.T) {
	oversized := make([]byte, MaxPayloadSize+1)
	_, err := EncodeFrame(OpSnapshot, oversized)
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got: %v", err)
	}
}

// ///////////////////////////////////////////////
// DecodeFrame
// ///////////////////////////////////////////////

func mustEncodeFrame(t *testing.T, opcode Opcode, payload []byte) []byte {
	t.Helper()
	frame, err := EncodeFrame(opcode, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	return frame
}

func TestDecodeFrame(t *testing.T) {
	original := []byte(`{"state":"MENUS","players":[]}`)
	encoded := mustEncodeFrame(t, OpSnapshot, original)

	opcode, payload, err := DecodeFrame(bytes.NewReader(encoded))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opcode != OpSnapshot {
		t.Fatalf("expected opcode %d, got %d", OpSnapshot, opcode)
	}
	if !bytes.Equal(payload, original) {
		t.Fatalf("payload mismatch: expected %q, got %q", original, payload)
	}
}

func TestDecodeFrame_Partial(t *testing.T) {
	// Use a reader that returns one byte at a time to test partial read handling.
	original := []byte(`{"state":"INGAME"}`)
	encoded := mustEncodeFrame(t, OpSnapshot, original)

	reader := &slowReader{data: encoded}
	opcode, payload, err := DecodeFrame(reader)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opcode != OpSnapshot {
		t.Fatalf("expected opcode %d, got %d", OpSnapshot, opcode)
	}
	if !bytes.Equal(payload, original) {
		t.Fatalf("payload mismatch: expected %q, got %q", original, payload)
	}
}

// slowReader returns data one byte at a time, simulating partial reads.
type slowReader struct {
	data []byte
	pos  int
}

func (r *slowReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	p[0] = r.data[r.pos]
	r.pos++
	return 1, nil
}

func TestDecodeFrame_Multiple(t *testing.T) {
	var buf bytes.Buffer

	payloads := []struct {
		name    string
		opcode  Opcode
		payload []byte
	}{
		{"hello", OpHello, []byte(`{"version":1}`)},
		{"snapshot", OpSnapshot, []byte(`{"state":"PREGAME"}`)},
		{"goodbye", OpGoodbye, nil},
	}

	for _, p := range payloads {
		buf.Write(mustEncodeFrame(t, p.opcode, p.payload))
	}

	reader := &buf
	for i, expected := range payloads {
		t.Run(fmt.Sprintf("frame_%d_%s", i, expected.name), func(t *testing.T) {
			opcode, payload, err := DecodeFrame(reader)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if opcode != expected.opcode {
				t.Fatalf("expected opcode %d, got %d", expected.opcode, opcode)
			}
			if !bytes.Equal(payload, expected.payload) {
				t.Fatalf("payload mismatch: expected %q, got %q", expected.payload, payload)
			}
		})
	}
}

// ///////////////////////////////////////////////
// DecodeFrame Error Cases
// ///////////////////////////////////////////////

func TestDecodeFrame_Oversized(t *testing.T) {
	// Craft a header claiming a payload larger than MaxPayloadSize.
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], uint32(OpSnapshot))
	binary.LittleEndian.PutUint32(header[4:8], MaxPayloadSize+1)

	_, _, err := DecodeFrame(bytes.NewReader(header))
	if err == nil {
		t.Fatal("expected error for oversized payload")
	}
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got: %v", err)
	}
}

func TestDecodeFrame_TruncatedHeader(t *testing.T) {
	_, _, err := DecodeFrame(bytes.NewReader([]byte{1, 0, 0}))
	if err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecodeFrame_TruncatedPayload(t *testing.T) {
	encoded := mustEncodeFrame(t, OpSnapshot, []byte(`{"state":"MENUS"}`))
	_, _, err := DecodeFrame(bytes.NewReader(encoded[:len(encoded)-4]))
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}
