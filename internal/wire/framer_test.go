package wire

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"hft_go/internal/domain"
)

func encodeAll(t *testing.T, codec Codec, msgs []*Message) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, m := range msgs {
		frame, err := codec.Encode(m)
		if err != nil {
			t.Fatalf("Encode(%s) failed: %v", m.Type, err)
		}
		buf.Write(frame)
	}
	return buf.Bytes()
}

func TestFrameReader_SplitsStream(t *testing.T) {
	for _, p := range []Protocol{ProtocolBinary, ProtocolFIX, ProtocolText} {
		t.Run(string(p), func(t *testing.T) {
			codec, _ := NewCodec(p)
			msgs := sampleMessages()
			stream := encodeAll(t, codec, msgs)

			fr, err := NewFrameReader(iotest.OneByteReader(bytes.NewReader(stream)), p)
			if err != nil {
				t.Fatalf("NewFrameReader failed: %v", err)
			}
			for i, want := range msgs {
				frame, err := fr.Next()
				if err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				got, err := codec.Decode(frame)
				if err != nil {
					t.Fatalf("frame %d decode: %v", i, err)
				}
				if got.Type != want.Type || got.Seq != want.Seq {
					t.Errorf("frame %d: got %s/%d, want %s/%d", i, got.Type, got.Seq, want.Type, want.Seq)
				}
			}
			if _, err := fr.Next(); !errors.Is(err, io.EOF) {
				t.Errorf("Expected io.EOF after last frame, got %v", err)
			}
		})
	}
}

func TestFrameReader_TruncatedStream(t *testing.T) {
	codec, _ := NewCodec(ProtocolBinary)
	stream := encodeAll(t, codec, sampleMessages()[:2])
	stream = stream[:len(stream)-3]

	fr, _ := NewFrameReader(bytes.NewReader(stream), ProtocolBinary)
	if _, err := fr.Next(); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	_, err := fr.Next()
	if !domain.IsIncomplete(err) || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("Expected incomplete with io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestFrameReader_CorruptFrameIsSkippable(t *testing.T) {
	codec, _ := NewCodec(ProtocolBinary)
	msgs := sampleMessages()[:3]
	stream := encodeAll(t, codec, msgs)
	// Flip a payload byte in the first frame; its length header stays intact.
	stream[binaryHeaderLen+1] ^= 0xff

	fr, _ := NewFrameReader(bytes.NewReader(stream), ProtocolBinary)
	frame, err := fr.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if _, err := codec.Decode(frame); codecKind(err) != domain.CodecMalformed {
		t.Fatalf("Expected malformed first frame, got %v", err)
	}
	frame, err = fr.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	m, err := codec.Decode(frame)
	if err != nil {
		t.Fatalf("second frame should decode: %v", err)
	}
	if m.Seq != msgs[1].Seq {
		t.Errorf("Expected seq %d, got %d", msgs[1].Seq, m.Seq)
	}
}

func TestFrameReader_OversizedLine(t *testing.T) {
	stream := strings.Repeat("x", 300)
	fr, _ := NewFrameReader(strings.NewReader(stream), ProtocolText, WithMaxPayload(128))
	_, err := fr.Next()
	if codecKind(err) != domain.CodecMalformed {
		t.Errorf("Expected malformed, got %v", err)
	}
}

func TestFrameReader_GrowsBuffer(t *testing.T) {
	line := "LOGOUT,1,0," + strings.Repeat("y", 10_000) + "\n"
	fr, _ := NewFrameReader(strings.NewReader(line), ProtocolText)
	frame, err := fr.Next()
	if err != nil {
		t.Fatalf("Next failed: %v", err)
	}
	if len(frame) != len(line) {
		t.Errorf("Expected %d bytes, got %d", len(line), len(frame))
	}
}
