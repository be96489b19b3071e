package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var allKinds = []Kind{
	KindHello, KindCommand, KindGroup, KindReply, KindNotice, KindDisconnect,
	KindServerDisconnect, KindMulti, KindPrivate, KindSecure, KindFile, KindError,
}

func TestRoundTripAllKinds(t *testing.T) {
	for _, k := range allKinds {
		t.Run(k.String(), func(t *testing.T) {
			want := &Frame{Kind: k, Sender: "alice", Target: "lobby,ops", Content: []byte("hello there")}
			data, err := Encode(want)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			got, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripArbitraryBytes(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		content := make([]byte, rng.Intn(2048))
		rng.Read(content)
		want := &Frame{
			Kind:    allKinds[rng.Intn(len(allKinds))],
			Sender:  strings.Repeat("s", rng.Intn(40)),
			Target:  strings.Repeat("t", rng.Intn(80)),
			Content: content,
		}
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode #%d: %v", i, err)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode #%d: %v", i, err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("round trip #%d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRoundTripEmptyFields(t *testing.T) {
	for _, content := range [][]byte{nil, {}} {
		want := &Frame{Kind: KindSecure, Content: content}
		data, err := Encode(want)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		if len(data) != LengthSize+headerSize {
			t.Fatalf("encoded size = %d, want %d", len(data), LengthSize+headerSize)
		}
		got, err := Decode(data)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("mismatch (-want +got):\n%s", diff)
		}
	}
}

func TestEncodeLayout(t *testing.T) {
	data, err := Encode(&Frame{Kind: KindPrivate, Sender: "al", Target: "bob", Content: []byte{0, 1}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := []byte{
		0, 0, 0, 16, // length
		0x31,                // kind
		0, 2, 'a', 'l',      // sender
		0, 3, 'b', 'o', 'b', // target
		0, 0, 0, 2, 0, 1,    // content
	}
	if !bytes.Equal(data, want) {
		t.Fatalf("Encode layout:\n got %v\nwant %v", data, want)
	}
}

func TestDecodeErrors(t *testing.T) {
	valid := MustEncode(&Frame{Kind: KindGroup, Sender: "a", Target: "r", Content: []byte("x")})

	withLength := func(payload []byte) []byte {
		b := make([]byte, LengthSize, LengthSize+len(payload))
		binary.BigEndian.PutUint32(b, uint32(len(payload)))
		return append(b, payload...)
	}

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"unknown kind", withLength([]byte{0x77, 0, 0, 0, 0, 0, 0, 0, 0}), ErrUnknownKind},
		{"short header", withLength([]byte{0x03, 0}), ErrShortFrame},
		{"sender overruns", withLength([]byte{0x03, 0, 9, 'a'}), ErrShortFrame},
		{"content overruns", withLength(append([]byte{}, valid[4:len(valid)-1]...)), ErrShortFrame},
		{"trailing bytes", withLength(append(append([]byte{}, valid[4:]...), 'z')), ErrTrailingBytes},
		{"too large", []byte{0, 2, 0, 0}, ErrFrameTooLarge},
		{"bytes after frame", append(append([]byte{}, valid...), 0xde, 0xad, 0xbe, 0xef), ErrTrailingBytes},
		{"payload cut short", valid[:len(valid)-2], ErrShortFrame},
		{"no length prefix", []byte{0, 0}, ErrShortFrame},
		{"empty", nil, ErrShortFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	if _, err := Encode(&Frame{Kind: Kind(0x99)}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("unknown kind: got %v", err)
	}
	if _, err := Encode(&Frame{Kind: KindGroup, Content: make([]byte, MaxFrameSize)}); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("oversized: got %v", err)
	}
	if _, err := Encode(&Frame{Kind: KindGroup, Sender: strings.Repeat("x", maxFieldString+1)}); !errors.Is(err, ErrFieldTooLong) {
		t.Fatalf("long sender: got %v", err)
	}
}

func TestReadFrameStream(t *testing.T) {
	var buf bytes.Buffer
	frames := []*Frame{
		{Kind: KindHello, Content: []byte("alice")},
		{Kind: KindCommand, Content: []byte("/join lobby")},
		{Kind: KindDisconnect},
	}
	for _, f := range frames {
		if err := WriteFrame(&buf, f); err != nil {
			t.Fatalf("WriteFrame: %v", err)
		}
	}
	for i, want := range frames {
		got, err := ReadFrame(&buf)
		if err != nil {
			t.Fatalf("ReadFrame #%d: %v", i, err)
		}
		if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
			t.Fatalf("frame #%d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if _, err := ReadFrame(&buf); err != io.EOF {
		t.Fatalf("ReadFrame at end = %v, want io.EOF", err)
	}
}

func TestReadFrameTruncatedStream(t *testing.T) {
	data := MustEncode(&Frame{Kind: KindGroup, Content: []byte("cut short")})
	_, err := ReadFrame(bytes.NewReader(data[:len(data)-3]))
	if err == nil || err == io.EOF {
		t.Fatalf("ReadFrame truncated = %v, want wrapped unexpected EOF", err)
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("ReadFrame truncated = %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestIsMalformed(t *testing.T) {
	_, err := Decode([]byte{0, 0, 0, 1, 0x03})
	if !IsMalformed(err) {
		t.Fatalf("IsMalformed(%v) = false", err)
	}
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0}))
	if IsMalformed(err) {
		t.Fatalf("IsMalformed(%v) = true for a truncated stream", err)
	}
	if IsMalformed(io.EOF) {
		t.Fatalf("IsMalformed(io.EOF) = true")
	}
}
