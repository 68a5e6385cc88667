package chatstore

import (
	"bytes"
	"encoding/binary"
	"unicode/utf8"

	"github.com/namarks/chatmix/internal/apperr"
)

// The binary message payload is a length/type-tagged sequential encoding of
// heterogeneous typed objects. The format has private, undocumented variants,
// so the decoder is tolerant rather than strict: unknown type tags are
// skipped using their declared length and surfaced as data, never as
// failures. Only a payload that cannot be framed at all is a decode failure,
// and callers degrade that to empty message text.

// payloadMagic is the optional header some payload variants carry. It is
// recognized and skipped; its absence is not an error.
var payloadMagic = []byte{0x04, 0x0b, 's', 't', 'r', 'e', 'a', 'm', 't', 'y', 'p', 'e', 'd'}

// Known element type tags. Anything else is preserved raw.
const (
	tagString    byte = 0x01 // UTF-8 text content
	tagAttribute byte = 0x02 // styled-run attribute data, opaque here
	tagInt       byte = 0x03 // 8-byte little-endian integer
	tagGroup     byte = 0x04 // nested record sequence
)

// longLenMarker escapes to a 4-byte little-endian length for bodies larger
// than 254 bytes.
const longLenMarker byte = 0xff

// maxGroupDepth bounds recursion into nested groups so a malformed payload
// cannot recurse unboundedly.
const maxGroupDepth = 8

// Element is one decoded payload object: its type tag, the raw body bytes,
// and the parsed value when the tag is known. Unknown tags keep Raw and
// nothing else, so they are data rather than failures.
type Element struct {
	Tag      byte
	Raw      []byte
	Str      string    // set for tagString elements
	Int      int64     // set for tagInt elements
	Children []Element // set for tagGroup elements
}

// DecodePayload parses a binary message payload into its elements.
// It fails only when the payload cannot be framed (empty, truncated length,
// or a declared body running past the end of the payload).
func DecodePayload(payload []byte) ([]Element, error) {
	if len(payload) == 0 {
		return nil, apperr.NewDecodeError("empty payload", nil)
	}
	if bytes.HasPrefix(payload, payloadMagic) {
		payload = payload[len(payloadMagic):]
	}
	return decodeElements(payload, 0)
}

func decodeElements(data []byte, depth int) ([]Element, error) {
	var elems []Element
	pos := 0
	for pos < len(data) {
		tag := data[pos]
		pos++

		body, next, err := readBody(data, pos)
		if err != nil {
			return nil, err
		}
		pos = next

		elem := Element{Tag: tag, Raw: body}
		switch tag {
		case tagString:
			if utf8.Valid(body) {
				elem.Str = string(body)
			} else {
				// Not valid text despite the tag: keep the raw bytes and
				// treat the element as unparsed.
				elem.Tag = tagAttribute
			}
		case tagInt:
			if len(body) == 8 {
				elem.Int = int64(binary.LittleEndian.Uint64(body))
			}
		case tagGroup:
			if depth < maxGroupDepth {
				children, err := decodeElements(body, depth+1)
				if err == nil {
					elem.Children = children
				}
				// A malformed group body is kept raw; the outer sequence
				// is still intact.
			}
		}
		elems = append(elems, elem)
	}
	return elems, nil
}

// readBody reads one length-prefixed body starting at pos and returns the
// body plus the position after it.
func readBody(data []byte, pos int) ([]byte, int, error) {
	if pos >= len(data) {
		return nil, 0, apperr.NewDecodeError("truncated payload: missing length", nil)
	}

	var bodyLen int
	if data[pos] == longLenMarker {
		if pos+5 > len(data) {
			return nil, 0, apperr.NewDecodeError("truncated payload: short extended length", nil)
		}
		bodyLen = int(binary.LittleEndian.Uint32(data[pos+1 : pos+5]))
		pos += 5
	} else {
		bodyLen = int(data[pos])
		pos++
	}

	if pos+bodyLen > len(data) {
		return nil, 0, apperr.NewDecodeError("truncated payload: body exceeds payload", nil)
	}
	return data[pos : pos+bodyLen], pos + bodyLen, nil
}

// ExtractText returns the first (primary) string object in the payload,
// searching nested groups depth-first. Payloads with no string object at all
// yield a decode failure, which callers treat as empty text.
func ExtractText(payload []byte) (string, error) {
	elems, err := DecodePayload(payload)
	if err != nil {
		return "", err
	}
	if s, ok := firstString(elems); ok {
		return s, nil
	}
	return "", apperr.NewDecodeError("payload contains no text object", nil)
}

func firstString(elems []Element) (string, bool) {
	for _, e := range elems {
		if e.Tag == tagString {
			return e.Str, true
		}
		if len(e.Children) > 0 {
			if s, ok := firstString(e.Children); ok {
				return s, true
			}
		}
	}
	return "", false
}
