// Package protocol defines the roomchat frame format.
//
// Every frame is a 4-byte big-endian length followed by a payload of that many
// bytes:
//
//	payload = kind(1) | senderLen(2) sender | targetLen(2) target | contentLen(4) content
//
// All integers are big-endian. Content is opaque bytes; sender and target are
// UTF-8 strings.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MaxFrameSize is the maximum payload size of one frame (64KB).
	MaxFrameSize = 65536

	// LengthSize is the byte size of the frame length prefix.
	LengthSize = 4

	// headerSize is the fixed part of a payload: kind, senderLen, targetLen, contentLen.
	headerSize = 1 + 2 + 2 + 4

	maxFieldString = 0xFFFF
)

// Kind tags the meaning of a frame.
type Kind uint8

const (
	KindHello            Kind = 0x01 // c->s username; s->c welcome
	KindCommand          Kind = 0x02 // c->s one line of input
	KindGroup            Kind = 0x03 // room message
	KindReply            Kind = 0x04 // command result for the issuer
	KindNotice           Kind = 0x05 // join/leave notice to room members
	KindDisconnect       Kind = 0x20 // client quits
	KindServerDisconnect Kind = 0x21 // server closes the session
	KindMulti            Kind = 0x30 // message to several rooms
	KindPrivate          Kind = 0x31 // user to user
	KindSecure           Kind = 0x32 // opaque ciphertext to a room
	KindFile             Kind = 0x33 // file transfer acknowledgment
	KindError            Kind = 0xFF
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindCommand:
		return "command"
	case KindGroup:
		return "group"
	case KindReply:
		return "reply"
	case KindNotice:
		return "notice"
	case KindDisconnect:
		return "disconnect"
	case KindServerDisconnect:
		return "server_disconnect"
	case KindMulti:
		return "multi"
	case KindPrivate:
		return "private"
	case KindSecure:
		return "secure"
	case KindFile:
		return "file"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(0x%02x)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindHello, KindCommand, KindGroup, KindReply, KindNotice, KindDisconnect,
		KindServerDisconnect, KindMulti, KindPrivate, KindSecure, KindFile, KindError:
		return true
	}
	return false
}

var (
	ErrFrameTooLarge = errors.New("protocol: frame too large")
	ErrShortFrame    = errors.New("protocol: frame truncated")
	ErrTrailingBytes = errors.New("protocol: trailing bytes after content")
	ErrUnknownKind   = errors.New("protocol: unknown kind")
	ErrFieldTooLong  = errors.New("protocol: field too long")
)

// IsMalformed reports whether err means the peer sent bytes that are not a
// valid frame, as opposed to the stream ending or the transport failing.
func IsMalformed(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) ||
		errors.Is(err, ErrShortFrame) ||
		errors.Is(err, ErrTrailingBytes) ||
		errors.Is(err, ErrUnknownKind)
}

// Frame is one addressed unit on the wire.
type Frame struct {
	Kind    Kind
	Sender  string
	Target  string
	Content []byte
}

// Text returns the content as a string.
func (f *Frame) Text() string {
	return string(f.Content)
}

// Size returns the payload size of f, excluding the length prefix.
func (f *Frame) Size() int {
	return headerSize + len(f.Sender) + len(f.Target) + len(f.Content)
}

// Encode serializes f including its length prefix.
func Encode(f *Frame) ([]byte, error) {
	if !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, uint8(f.Kind))
	}
	if len(f.Sender) > maxFieldString || len(f.Target) > maxFieldString {
		return nil, ErrFieldTooLong
	}
	size := f.Size()
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}

	buf := make([]byte, LengthSize+size)
	binary.BigEndian.PutUint32(buf[0:4], uint32(size)) //nolint:gosec // size bounded by MaxFrameSize
	p := buf[LengthSize:]
	p[0] = byte(f.Kind)
	off := 1
	binary.BigEndian.PutUint16(p[off:], uint16(len(f.Sender))) //nolint:gosec // checked above
	off += 2
	off += copy(p[off:], f.Sender)
	binary.BigEndian.PutUint16(p[off:], uint16(len(f.Target))) //nolint:gosec // checked above
	off += 2
	off += copy(p[off:], f.Target)
	binary.BigEndian.PutUint32(p[off:], uint32(len(f.Content))) //nolint:gosec // bounded by MaxFrameSize
	off += 4
	copy(p[off:], f.Content)
	return buf, nil
}

// MustEncode is Encode for frames built from validated fields.
func MustEncode(f *Frame) []byte {
	b, err := Encode(f)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode parses data as exactly one frame, length prefix included. Bytes past
// the announced length are ErrTrailingBytes.
func Decode(data []byte) (*Frame, error) {
	if len(data) < LengthSize {
		return nil, ErrShortFrame
	}
	length := binary.BigEndian.Uint32(data)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	switch total := uint64(LengthSize) + uint64(length); {
	case total > uint64(len(data)):
		return nil, ErrShortFrame
	case total < uint64(len(data)):
		return nil, fmt.Errorf("%w: %d bytes after frame", ErrTrailingBytes, uint64(len(data))-total)
	}
	return decodePayload(data[LengthSize:])
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, f *Frame) error {
	buf, err := Encode(f)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("protocol: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed frame from r. A clean EOF before the
// length prefix is returned as io.EOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	lenBuf := make([]byte, LengthSize)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("protocol: read length: %w", err)
	}
	length := binary.BigEndian.Uint32(lenBuf)
	if length > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("protocol: read payload: %w", err)
	}
	return decodePayload(payload)
}

func decodePayload(p []byte) (*Frame, error) {
	if len(p) < headerSize {
		return nil, ErrShortFrame
	}
	f := &Frame{Kind: Kind(p[0])}
	if !f.Kind.Valid() {
		return nil, fmt.Errorf("%w: 0x%02x", ErrUnknownKind, p[0])
	}
	rest := p[1:]

	var err error
	if f.Sender, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if f.Target, rest, err = readString(rest); err != nil {
		return nil, err
	}
	if len(rest) < 4 {
		return nil, ErrShortFrame
	}
	n := binary.BigEndian.Uint32(rest)
	rest = rest[4:]
	if uint64(n) > uint64(len(rest)) {
		return nil, ErrShortFrame
	}
	if uint64(n) < uint64(len(rest)) {
		return nil, ErrTrailingBytes
	}
	if n > 0 {
		f.Content = make([]byte, n)
		copy(f.Content, rest)
	}
	return f, nil
}

func readString(p []byte) (string, []byte, error) {
	if len(p) < 2 {
		return "", nil, ErrShortFrame
	}
	n := int(binary.BigEndian.Uint16(p))
	p = p[2:]
	if n > len(p) {
		return "", nil, ErrShortFrame
	}
	return string(p[:n]), p[n:], nil
}
