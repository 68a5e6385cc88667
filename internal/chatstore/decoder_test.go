package chatstore_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/namarks/chatmix/internal/apperr"
	"github.com/namarks/chatmix/internal/chatstore"
)

var payloadHeader = []byte{0x04, 0x0b, 's', 't', 'r', 'e', 'a', 'm', 't', 'y', 'p', 'e', 'd'}

// record builds one tag + length + body sequence, choosing the extended
// length form automatically for large bodies.
func record(tag byte, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(tag)
	if len(body) >= 0xff {
		buf.WriteByte(0xff)
		var ext [4]byte
		binary.LittleEndian.PutUint32(ext[:], uint32(len(body)))
		buf.Write(ext[:])
	} else {
		buf.WriteByte(byte(len(body)))
	}
	buf.Write(body)
	return buf.Bytes()
}

func TestExtractText(t *testing.T) {
	t.Parallel()

	longText := bytes.Repeat([]byte("spotify "), 64) // forces the extended length form

	tests := []struct {
		name    string
		payload []byte
		want    string
	}{
		{
			name:    "Single string",
			payload: record(0x01, []byte("hello")),
			want:    "hello",
		},
		{
			name:    "Header is recognized and skipped",
			payload: append(append([]byte{}, payloadHeader...), record(0x01, []byte("hello"))...),
			want:    "hello",
		},
		{
			name: "Unknown tag skipped by declared length",
			payload: bytes.Join([][]byte{
				record(0x7f, []byte{0xde, 0xad, 0xbe}),
				record(0x01, []byte("after unknown")),
			}, nil),
			want: "after unknown",
		},
		{
			name: "Attribute data before the string",
			payload: bytes.Join([][]byte{
				record(0x02, []byte{0x00, 0x01, 0x02}),
				record(0x03, []byte{1, 0, 0, 0, 0, 0, 0, 0}),
				record(0x01, []byte("styled text")),
			}, nil),
			want: "styled text",
		},
		{
			name: "First string wins",
			payload: bytes.Join([][]byte{
				record(0x01, []byte("primary")),
				record(0x01, []byte("secondary")),
			}, nil),
			want: "primary",
		},
		{
			name:    "String inside a nested group",
			payload: record(0x04, record(0x01, []byte("nested"))),
			want:    "nested",
		},
		{
			name:    "Extended length body",
			payload: record(0x01, longText),
			want:    string(longText),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := chatstore.ExtractText(tt.payload)
			if err != nil {
				t.Fatalf("ExtractText() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractText_Failures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload []byte
	}{
		{
			name:    "Empty payload",
			payload: nil,
		},
		{
			name:    "Tag with missing length",
			payload: []byte{0x01},
		},
		{
			name:    "Body shorter than declared",
			payload: []byte{0x01, 0x05, 'h', 'i'},
		},
		{
			name:    "Short extended length",
			payload: []byte{0x01, 0xff, 0x01, 0x00},
		},
		{
			name:    "No text object",
			payload: record(0x02, []byte{0x00, 0x01}),
		},
		{
			name:    "Invalid UTF-8 under string tag",
			payload: record(0x01, []byte{0xff, 0xfe, 0xfd}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := chatstore.ExtractText(tt.payload)
			if err == nil {
				t.Fatal("ExtractText() expected error, got nil")
			}
			if code := apperr.Code(err); code != "DECODE" {
				t.Errorf("error code = %q, want %q", code, "DECODE")
			}
		})
	}
}

func TestDecodePayload_UnknownTagPreserved(t *testing.T) {
	t.Parallel()

	body := []byte{0xca, 0xfe}
	elems, err := chatstore.DecodePayload(record(0x7f, body))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(elems) != 1 {
		t.Fatalf("len(elems) = %d, want 1", len(elems))
	}
	if elems[0].Tag != 0x7f {
		t.Errorf("Tag = %#x, want 0x7f", elems[0].Tag)
	}
	if !bytes.Equal(elems[0].Raw, body) {
		t.Errorf("Raw = %v, want %v", elems[0].Raw, body)
	}
}

func TestDecodePayload_IntElement(t *testing.T) {
	t.Parallel()

	elems, err := chatstore.DecodePayload(record(0x03, []byte{0x2a, 0, 0, 0, 0, 0, 0, 0}))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if len(elems) != 1 || elems[0].Int != 42 {
		t.Errorf("elems = %+v, want one element with Int=42", elems)
	}
}
