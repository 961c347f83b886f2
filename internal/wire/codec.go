// Package wire turns typed messages into bytes and back for each supported
// exchange protocol, and splits an inbound byte stream into frames.
package wire

import (
	"errors"
	"fmt"
	"strings"

	"hft_go/internal/domain"
)

// Protocol names a wire format.
type Protocol string

const (
	ProtocolBinary Protocol = "binary"
	ProtocolFIX    Protocol = "fix"
	ProtocolText   Protocol = "text"
)

// ParseProtocol accepts a case-insensitive protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case ProtocolBinary, ProtocolFIX, ProtocolText:
		return p, nil
	}
	return "", fmt.Errorf("unsupported protocol %q", s)
}

// Codec encodes and decodes exactly one frame at a time.
//
// Decode returns a *domain.CodecError of kind CodecIncomplete when frame is a
// prefix of a valid frame, and CodecMalformed when it can never become one.
type Codec interface {
	Protocol() Protocol
	Encode(m *Message) ([]byte, error)
	Decode(frame []byte) (*Message, error)
}

type options struct {
	fixDelimiter   byte
	fixBeginString string
	maxPayload     int
}

// Option tunes a codec.
type Option func(*options)

// WithFIXDelimiter replaces SOH, typically with '|' for logs and tests.
func WithFIXDelimiter(d byte) Option {
	return func(o *options) { o.fixDelimiter = d }
}

// WithFIXBeginString sets tag 8.
func WithFIXBeginString(s string) Option {
	return func(o *options) { o.fixBeginString = s }
}

// WithMaxPayload bounds the size of a single frame body.
func WithMaxPayload(n int) Option {
	return func(o *options) { o.maxPayload = n }
}

const (
	SOH               = 0x01
	DefaultMaxPayload = 64 * 1024
)

func buildOptions(opts []Option) options {
	o := options{
		fixDelimiter:   SOH,
		fixBeginString: "FIX.4.4",
		maxPayload:     DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewCodec returns the codec for p.
func NewCodec(p Protocol, opts ...Option) (Codec, error) {
	o := buildOptions(opts)
	switch p {
	case ProtocolBinary:
		return &binaryCodec{maxPayload: o.maxPayload}, nil
	case ProtocolFIX:
		return &fixCodec{delim: o.fixDelimiter, begin: o.fixBeginString, maxPayload: o.maxPayload}, nil
	case ProtocolText:
		return &textCodec{maxLine: o.maxPayload}, nil
	}
	return nil, fmt.Errorf("unsupported protocol %q", p)
}

func malformed(p Protocol, format string, args ...any) error {
	return &domain.CodecError{Kind: domain.CodecMalformed, Protocol: string(p), Detail: fmt.Sprintf(format, args...)}
}

func malformedErr(p Protocol, detail string, err error) error {
	return &domain.CodecError{Kind: domain.CodecMalformed, Protocol: string(p), Detail: detail, Err: err}
}

// withSeq tags a decode error with the sequence number read from the frame header.
func withSeq(err error, seq uint64) error {
	var ce *domain.CodecError
	if seq > 0 && errors.As(err, &ce) {
		ce.Seq = seq
	}
	return err
}

func incomplete(p Protocol, format string, args ...any) error {
	return &domain.CodecError{Kind: domain.CodecIncomplete, Protocol: string(p), Detail: fmt.Sprintf(format, args...)}
}
