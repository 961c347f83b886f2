package domain

import (
	"errors"
	"fmt"

	"hft_go/pkg/quant"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "write")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CodecErrorKind classifies wire decoding failures.
type CodecErrorKind uint8

const (
	// CodecMalformed: checksum, field count, type or number mismatch. The message is skipped.
	CodecMalformed CodecErrorKind = iota + 1
	// CodecIncomplete: not enough bytes yet. The caller keeps buffering.
	CodecIncomplete
	// CodecSequence: duplicate or out-of-order sequence number.
	CodecSequence
)

func (k CodecErrorKind) String() string {
	switch k {
	case CodecMalformed:
		return "malformed"
	case CodecIncomplete:
		return "incomplete"
	case CodecSequence:
		return "sequence"
	default:
		return "unknown"
	}
}

// CodecError is returned by codecs and framers.
type CodecError struct {
	Kind     CodecErrorKind
	Protocol string
	Detail   string
	Seq      uint64 // sequence number of the rejected frame, 0 when the header was unreadable
	Err      error
}

func (e *CodecError) Error() string {
	msg := fmt.Sprintf("codec %s [%s]: %s", e.Protocol, e.Kind, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CodecError) Unwrap() error {
	return e.Err
}

// IsIncomplete reports whether err asks the caller to buffer more bytes.
func IsIncomplete(err error) bool {
	var ce *CodecError
	return errors.As(err, &ce) && ce.Kind == CodecIncomplete
}

// BookErrorKind classifies order book integrity failures.
type BookErrorKind uint8

const (
	BookUnknownLevel BookErrorKind = iota + 1
	BookNegativeQuantity
	BookInvalidDelta
	BookCrossed
)

func (k BookErrorKind) String() string {
	switch k {
	case BookUnknownLevel:
		return "unknown_level"
	case BookNegativeQuantity:
		return "negative_quantity"
	case BookInvalidDelta:
		return "invalid_delta"
	case BookCrossed:
		return "crossed"
	default:
		return "unknown"
	}
}

// BookError reports a delta that could not be applied, or a book that had to be reset.
type BookError struct {
	Kind   BookErrorKind
	Symbol string
	Side   Side
	Price  quant.PriceMicros
	Detail string
}

func (e *BookError) Error() string {
	return fmt.Sprintf("book %s [%s] %s@%s: %s", e.Symbol, e.Kind, e.Side, e.Price, e.Detail)
}

// ForcesResync reports whether the book can no longer be trusted and the
// session must rebuild it from a fresh snapshot.
func (e *BookError) ForcesResync() bool {
	return e.Kind == BookUnknownLevel || e.Kind == BookNegativeQuantity
}

// SessionErrorKind classifies session failures.
type SessionErrorKind uint8

const (
	SessionIO SessionErrorKind = iota + 1
	SessionHandshake
	SessionHeartbeatTimeout
	SessionSequence
	SessionRetriesExhausted
)

func (k SessionErrorKind) String() string {
	switch k {
	case SessionIO:
		return "io"
	case SessionHandshake:
		return "handshake"
	case SessionHeartbeatTimeout:
		return "heartbeat_timeout"
	case SessionSequence:
		return "sequence"
	case SessionRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// SessionError is recoverable through reconnect, except when retries are exhausted.
type SessionError struct {
	Kind SessionErrorKind
	Op   string
	Err  error
}

func (e *SessionError) Error() string {
	msg := "session " + e.Kind.String()
	if e.Op != "" {
		msg += " (" + e.Op + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SessionError) IsRetriable() bool {
	return e.Kind != SessionRetriesExhausted
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// GatewayErrorKind classifies order gateway failures.
type GatewayErrorKind uint8

const (
	GatewayUnknownCorrelation GatewayErrorKind = iota + 1
	GatewaySendFailed
	GatewayInvalidIntent
	GatewayNotOpen
)

func (k GatewayErrorKind) String() string {
	switch k {
	case GatewayUnknownCorrelation:
		return "unknown_correlation"
	case GatewaySendFailed:
		return "send_failed"
	case GatewayInvalidIntent:
		return "invalid_intent"
	case GatewayNotOpen:
		return "not_open"
	default:
		return "unknown"
	}
}

// GatewayError is logged by callers and never stops the engine.
type GatewayError struct {
	Kind          GatewayErrorKind
	CorrelationID string
	Err           error
}

func (e *GatewayError) Error() string {
	msg := "gateway " + e.Kind.String()
	if e.CorrelationID != "" {
		msg += " [" + e.CorrelationID + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ValidationError describes a rejected field of an inbound request.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

var (
	// ErrConnectionFailed is returned when the transport cannot be established. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrInvalidSymbol is returned when a symbol is malformed. Not retriable.
	ErrInvalidSymbol = errors.New("invalid symbol")

	// ErrUnknownInstrument is returned for symbols missing from the registry.
	ErrUnknownInstrument = errors.New("unknown instrument")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	// ErrSessionFailed is returned once the reconnect budget is exhausted.
	ErrSessionFailed = errors.New("session failed")

	// ErrNotActive is returned when sending on a session that is not logged on.
	ErrNotActive = errors.New("session not active")
)
