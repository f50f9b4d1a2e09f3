package wire

import (
	"encoding/binary"
	"fmt"
)

// Frame constants.
const (
	// HeaderSize is the encoded size of a MessageHeader in bytes.
	HeaderSize = 8

	// DefaultMaxBodySize bounds the body a decoder will accept (1 MiB).
	DefaultMaxBodySize uint32 = 1 << 20

	sizeOffset     = 1
	reservedOffset = 5
)

// MessageHeader describes the frame that follows it on the wire.
type MessageHeader struct {
	Type MessageType
	Size uint32 // Body length in bytes
}

// Message is one decoded frame.
// len(Body) always equals Header.Size for messages produced by this package.
type Message struct {
	Header MessageHeader
	Body   []byte
}

// NewMessage builds a message whose header matches the body.
func NewMessage(t MessageType, body []byte) *Message {
	return &Message{
		Header: MessageHeader{Type: t, Size: uint32(len(body))},
		Body:   body,
	}
}

// Type is shorthand for m.Header.Type.
func (m *Message) Type() MessageType {
	return m.Header.Type
}

// Validate checks that the message can be put on the wire.
func (m *Message) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrSizeMismatch)
	}
	if !m.Header.Type.Valid() {
		return fmt.Errorf("%w: unknown message type %d", ErrMalformedHeader, uint8(m.Header.Type))
	}
	if uint64(len(m.Body)) != uint64(m.Header.Size) {
		return fmt.Errorf("%w: header says %d, body has %d", ErrSizeMismatch, m.Header.Size, len(m.Body))
	}
	return nil
}

// FrameSize returns the number of bytes Encode produces for m.
func (m *Message) FrameSize() int {
	return HeaderSize + len(m.Body)
}

// EncodeHeader returns the fixed-size wire form of h.
func EncodeHeader(h MessageHeader) [HeaderSize]byte {
	var buf [HeaderSize]byte
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint32(buf[sizeOffset:reservedOffset], h.Size)
	// buf[5:8] reserved, left zero
	return buf
}

// Encode returns header ++ body with no further envelope.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return AppendEncode(make([]byte, 0, m.FrameSize()), m)
}

// AppendEncode appends the encoded frame for m to dst.
func AppendEncode(dst []byte, m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return dst, err
	}
	hdr := EncodeHeader(m.Header)
	dst = append(dst, hdr[:]...)
	return append(dst, m.Body...), nil
}

// DecodeHeader decodes the first HeaderSize bytes of b.
func DecodeHeader(b []byte) (MessageHeader, error) {
	if len(b) < HeaderSize {
		return MessageHeader{}, fmt.Errorf("%w: need %d bytes, have %d", ErrMalformedHeader, HeaderSize, len(b))
	}

	h := MessageHeader{
		Type: MessageType(b[0]),
		Size: binary.BigEndian.Uint32(b[sizeOffset:reservedOffset]),
	}

	if !h.Type.Valid() {
		return h, fmt.Errorf("%w: unknown message type %d", ErrMalformedHeader, b[0])
	}
	for _, r := range b[reservedOffset:HeaderSize] {
		if r != 0 {
			return h, fmt.Errorf("%w: reserved bytes must be zero", ErrMalformedHeader)
		}
	}

	return h, nil
}

// DecodeBody builds a Message from h and the first h.Size bytes of b.
// The body is copied; b may be reused by the caller.
func DecodeBody(b []byte, h MessageHeader, maxBody uint32) (*Message, error) {
	// Size limit is checked before anything is allocated.
	if h.Size > maxBody {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrOversizedBody, h.Size, maxBody)
	}
	if uint64(len(b)) < uint64(h.Size) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedBody, h.Size, len(b))
	}

	body := make([]byte, h.Size)
	copy(body, b[:h.Size])

	return &Message{Header: h, Body: body}, nil
}

// Decode decodes one frame from the front of b.
// It returns the message and the number of bytes consumed.
func Decode(b []byte, maxBody uint32) (*Message, int, error) {
	h, err := DecodeHeader(b)
	if err != nil {
		return nil, 0, err
	}
	m, err := DecodeBody(b[HeaderSize:], h, maxBody)
	if err != nil {
		return nil, 0, err
	}
	return m, HeaderSize + int(h.Size), nil
}
