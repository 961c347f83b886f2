package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"hft_go/internal/domain"
)

// SplitFunc reports the length of the first complete frame in buf, or 0 when
// more bytes are needed. An error means the stream cannot be resynchronised
// and the connection has to be dropped.
type SplitFunc func(buf []byte) (int, error)

// frameOverhead covers headers and trailers on top of the payload limit.
const frameOverhead = 64

// NewSplitFunc returns the frame splitter for p.
func NewSplitFunc(p Protocol, opts ...Option) (SplitFunc, error) {
	o := buildOptions(opts)
	switch p {
	case ProtocolBinary:
		return func(buf []byte) (int, error) {
			if len(buf) < binaryHeaderLen {
				return 0, nil
			}
			size := int(binary.BigEndian.Uint32(buf[0:4]))
			if size > o.maxPayload {
				return 0, malformed(p, "payload length %d exceeds %d", size, o.maxPayload)
			}
			total := binaryHeaderLen + size + binaryTrailerLen
			if len(buf) < total {
				return 0, nil
			}
			return total, nil
		}, nil
	case ProtocolFIX:
		fc := &fixCodec{delim: o.fixDelimiter, maxPayload: o.maxPayload}
		return func(buf []byte) (int, error) {
			bodyStart, bodyLen, err := fc.header(buf)
			if err != nil {
				if domain.IsIncomplete(err) {
					return 0, nil
				}
				return 0, err
			}
			total := bodyStart + bodyLen + fixTrailerBytes
			if len(buf) < total {
				return 0, nil
			}
			return total, nil
		}, nil
	case ProtocolText:
		return func(buf []byte) (int, error) {
			if nl := bytes.IndexByte(buf, '\n'); nl >= 0 {
				return nl + 1, nil
			}
			if len(buf) > o.maxPayload {
				return 0, malformed(p, "line exceeds %d bytes", o.maxPayload)
			}
			return 0, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported protocol %q", p)
}

// FrameReader cuts an inbound byte stream into whole frames.
type FrameReader struct {
	r        io.Reader
	proto    Protocol
	split    SplitFunc
	buf      []byte
	start    int
	end      int
	maxFrame int
	err      error
}

// NewFrameReader wraps r with the splitter for p.
func NewFrameReader(r io.Reader, p Protocol, opts ...Option) (*FrameReader, error) {
	split, err := NewSplitFunc(p, opts...)
	if err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &FrameReader{
		r:        r,
		proto:    p,
		split:    split,
		buf:      make([]byte, 4096),
		maxFrame: o.maxPayload + frameOverhead,
	}, nil
}

// Next returns the next complete frame. The slice is only valid until the
// following call. A stream that ends inside a frame yields a CodecIncomplete
// error wrapping io.ErrUnexpectedEOF; a clean end yields io.EOF.
func (fr *FrameReader) Next() ([]byte, error) {
	for {
		if fr.end > fr.start {
			n, err := fr.split(fr.buf[fr.start:fr.end])
			if err != nil {
				return nil, err
			}
			if n > 0 {
				frame := fr.buf[fr.start : fr.start+n]
				fr.start += n
				return frame, nil
			}
		}
		if fr.err != nil {
			if errors.Is(fr.err, io.EOF) && fr.end > fr.start {
				return nil, &domain.CodecError{
					Kind:     domain.CodecIncomplete,
					Protocol: string(fr.proto),
					Detail:   fmt.Sprintf("stream ended with %d buffered bytes", fr.end-fr.start),
					Err:      io.ErrUnexpectedEOF,
				}
			}
			return nil, fr.err
		}
		fr.fill()
	}
}

func (fr *FrameReader) fill() {
	if fr.start > 0 {
		copy(fr.buf, fr.buf[fr.start:fr.end])
		fr.end -= fr.start
		fr.start = 0
	}
	if fr.end == len(fr.buf) {
		if len(fr.buf) >= fr.maxFrame {
			fr.err = malformed(fr.proto, "frame exceeds %d bytes", fr.maxFrame)
			return
		}
		grown := make([]byte, min(2*len(fr.buf), fr.maxFrame))
		copy(grown, fr.buf[:fr.end])
		fr.buf = grown
	}
	n, err := fr.r.Read(fr.buf[fr.end:])
	fr.end += n
	if err != nil {
		fr.err = err
	}
}
