// Package session keeps one authenticated, heartbeated connection to the
// exchange and reconnects it when it breaks.
//
// Machine holds the state and timers and never touches the network: every
// input carries the current time and every output is an Action for the
// driver. Session is the driver that owns the connection.
package session

import (
	"fmt"
	"time"

	"hft_go/internal/domain"
	"hft_go/internal/infra"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

// State of the session.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingOn
	StateActive
	StateLoggingOut
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateLoggingOn:
		return "LOGGING_ON"
	case StateActive:
		return "ACTIVE"
	case StateLoggingOut:
		return "LOGGING_OUT"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Connected reports whether a connection is open in this state.
func (s State) Connected() bool {
	return s == StateLoggingOn || s == StateActive || s == StateLoggingOut
}

// Config drives the timers and the retry budget.
type Config struct {
	HeartbeatInterval  time.Duration
	HeartbeatTolerance float64 // receive deadline = interval * tolerance
	LogonTimeout       time.Duration
	LogoutTimeout      time.Duration
	MaxRetries         int // 0 retries forever
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	BackoffJitter      float64
	SequenceCheck      bool
	WriteTimeout       time.Duration
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 5 * time.Second
	}
	if c.HeartbeatTolerance < 1 {
		c.HeartbeatTolerance = 2
	}
	if c.LogonTimeout <= 0 {
		c.LogonTimeout = 5 * time.Second
	}
	if c.LogoutTimeout <= 0 {
		c.LogoutTimeout = 2 * time.Second
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 2 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 500 * time.Millisecond
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = 30 * time.Second
	}
}

func (c Config) receiveWindow() time.Duration {
	return time.Duration(float64(c.HeartbeatInterval) * c.HeartbeatTolerance)
}

// ActionKind tells the driver what to do next.
type ActionKind uint8

const (
	// ActionDial opens a new connection.
	ActionDial ActionKind = iota + 1
	// ActionSend writes Msg on the current connection.
	ActionSend
	// ActionClose closes the current connection and stops its reader.
	ActionClose
	// ActionActivated reports a completed logon. Books must be rebuilt.
	ActionActivated
	// ActionFailed reports an exhausted retry budget.
	ActionFailed
)

// Action is one instruction for the driver.
type Action struct {
	Kind ActionKind
	Msg  *wire.Message
	Err  error
}

// Credentials returns the api key and logon signature for the given time.
type Credentials func(ts quant.TimeStamp) (apiKey, signature string)

// Transition describes one state change.
type Transition struct {
	From, To State
	Err      error
	At       time.Time
}

// Machine is the session state machine. It is not safe for concurrent use;
// the driver calls it from a single goroutine.
type Machine struct {
	cfg   Config
	creds Credentials

	state   State
	epoch   uint64
	backoff *infra.Backoff
	retries int

	outSeq uint64
	inSeq  uint64

	lastSent       time.Time
	lastRecv       time.Time
	logonDeadline  time.Time
	logoutDeadline time.Time
	retryAt        time.Time

	lastErr      error
	onTransition func(Transition)
}

// NewMachine creates a machine in StateDisconnected.
func NewMachine(cfg Config, creds Credentials) *Machine {
	cfg.ApplyDefaults()
	return &Machine{
		cfg:     cfg,
		creds:   creds,
		backoff: infra.NewBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffJitter),
	}
}

// OnTransition registers a hook called for every state change.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.onTransition = fn
}

// WithBackoff replaces the reconnect backoff, for deterministic tests.
func (m *Machine) WithBackoff(b *infra.Backoff) *Machine {
	m.backoff = b
	return m
}

func (m *Machine) State() State { return m.state }

// Epoch increments on every new connection.
func (m *Machine) Epoch() uint64 { return m.epoch }

func (m *Machine) Retries() int { return m.retries }

func (m *Machine) LastError() error { return m.lastErr }

// RetryAt returns when the next reconnect is due while Reconnecting.
func (m *Machine) RetryAt() time.Time { return m.retryAt }

func (m *Machine) setState(to State, now time.Time, err error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	if err != nil {
		m.lastErr = err
	}
	if m.onTransition != nil {
		m.onTransition(Transition{From: from, To: to, Err: err, At: now})
	}
}

// Start leaves Disconnected and asks for a connection.
func (m *Machine) Start(now time.Time) []Action {
	if m.state != StateDisconnected {
		return nil
	}
	m.retries = 0
	m.backoff.Reset()
	m.setState(StateConnecting, now, nil)
	return []Action{{Kind: ActionDial}}
}

// OnConnected starts a fresh epoch on the new connection and returns the Logon.
func (m *Machine) OnConnected(now time.Time) []Action {
	if m.state != StateConnecting {
		return []Action{{Kind: ActionClose}}
	}
	m.epoch++
	m.outSeq = 0
	m.inSeq = 0
	m.lastRecv = now
	m.logonDeadline = now.Add(m.cfg.LogonTimeout)
	m.setState(StateLoggingOn, now, nil)

	logon := &wire.Message{
		Type:          wire.MsgLogon,
		HeartbeatSecs: uint32(m.cfg.HeartbeatInterval / time.Second),
	}
	m.Stamp(logon, now)
	if m.creds != nil {
		logon.APIKey, logon.Signature = m.creds(logon.Time)
	}
	return []Action{{Kind: ActionSend, Msg: logon}}
}

// OnConnectFailed schedules the next attempt or fails the session.
func (m *Machine) OnConnectFailed(now time.Time, err error) []Action {
	if m.state != StateConnecting {
		return nil
	}
	return m.reconnect(now, &domain.SessionError{Kind: domain.SessionIO, Op: "dial", Err: err}, false)
}

// NextSeq returns the sequence number the next Stamp will assign.
func (m *Machine) NextSeq() uint64 { return m.outSeq + 1 }

// Stamp assigns the next outbound sequence number and time to msg.
func (m *Machine) Stamp(msg *wire.Message, now time.Time) {
	m.outSeq++
	msg.Seq = m.outSeq
	msg.Time = quant.FromTime(now)
	m.lastSent = now
}

// OnSkipped accounts for an inbound frame that was dropped as malformed but
// whose header carried seq. The sequence advances so the next good message
// does not look like a gap.
func (m *Machine) OnSkipped(now time.Time, seq uint64) {
	if !m.state.Connected() {
		return
	}
	m.lastRecv = now
	if m.cfg.SequenceCheck && seq == m.inSeq+1 {
		m.inSeq = seq
	}
}

// OnMessage processes one inbound message. forward is true when the message
// belongs to the engine (market data and execution reports on a live session).
func (m *Machine) OnMessage(now time.Time, msg *wire.Message) (forward bool, actions []Action) {
	if !m.state.Connected() {
		return false, nil
	}
	m.lastRecv = now

	if m.cfg.SequenceCheck {
		expected := m.inSeq + 1
		if msg.Seq != expected {
			kind := "gap"
			if msg.Seq < expected {
				kind = "duplicate"
			}
			err := &domain.SessionError{
				Kind: domain.SessionSequence,
				Op:   "read",
				Err: &domain.CodecError{
					Kind:   domain.CodecSequence,
					Detail: fmt.Sprintf("%s: expected seq %d, got %d", kind, expected, msg.Seq),
				},
			}
			if m.state == StateLoggingOut {
				m.setState(StateDisconnected, now, err)
				return false, []Action{{Kind: ActionClose}}
			}
			return false, m.reconnect(now, err, true)
		}
		m.inSeq = msg.Seq
	}

	switch m.state {
	case StateLoggingOn:
		return false, m.onLogonReply(now, msg)
	case StateActive:
		return m.onActive(now, msg)
	case StateLoggingOut:
		if msg.Type == wire.MsgLogout {
			m.setState(StateDisconnected, now, nil)
			return false, []Action{{Kind: ActionClose}}
		}
		// Execution reports still settle while the logout is in flight.
		return !msg.Type.IsSession(), nil
	}
	return false, nil
}

func (m *Machine) onLogonReply(now time.Time, msg *wire.Message) []Action {
	switch msg.Type {
	case wire.MsgLogon:
		m.retries = 0
		m.backoff.Reset()
		m.setState(StateActive, now, nil)
		return []Action{{Kind: ActionActivated}}
	case wire.MsgLogout, wire.MsgReject:
		err := &domain.SessionError{Kind: domain.SessionHandshake, Op: "logon", Err: fmt.Errorf("refused: %s", msg.Text)}
		return m.reconnect(now, err, true)
	}
	// Nothing else is meaningful before the logon is acknowledged.
	return nil
}

func (m *Machine) onActive(now time.Time, msg *wire.Message) (bool, []Action) {
	switch msg.Type {
	case wire.MsgHeartbeat, wire.MsgReject, wire.MsgLogon:
		return false, nil
	case wire.MsgTestRequest:
		hb := &wire.Message{Type: wire.MsgHeartbeat, TestReqID: msg.TestReqID}
		m.Stamp(hb, now)
		return false, []Action{{Kind: ActionSend, Msg: hb}}
	case wire.MsgLogout:
		ack := &wire.Message{Type: wire.MsgLogout}
		m.Stamp(ack, now)
		err := &domain.SessionError{Kind: domain.SessionIO, Op: "logout", Err: fmt.Errorf("exchange logout: %s", msg.Text)}
		return false, append([]Action{{Kind: ActionSend, Msg: ack}}, m.reconnect(now, err, true)...)
	}
	return true, nil
}

// Tick fires whichever deadline has passed.
func (m *Machine) Tick(now time.Time) []Action {
	switch m.state {
	case StateLoggingOn:
		if !now.Before(m.logonDeadline) {
			err := &domain.SessionError{Kind: domain.SessionHandshake, Op: "logon", Err: fmt.Errorf("no reply within %s", m.cfg.LogonTimeout)}
			return m.reconnect(now, err, true)
		}
	case StateActive:
		if now.Sub(m.lastRecv) >= m.cfg.receiveWindow() {
			err := &domain.SessionError{
				Kind: domain.SessionHeartbeatTimeout,
				Op:   "read",
				Err:  fmt.Errorf("nothing received for %s", now.Sub(m.lastRecv)),
			}
			return m.reconnect(now, err, true)
		}
		if now.Sub(m.lastSent) >= m.cfg.HeartbeatInterval {
			hb := &wire.Message{Type: wire.MsgHeartbeat}
			m.Stamp(hb, now)
			return []Action{{Kind: ActionSend, Msg: hb}}
		}
	case StateLoggingOut:
		if !now.Before(m.logoutDeadline) {
			m.setState(StateDisconnected, now, nil)
			return []Action{{Kind: ActionClose}}
		}
	case StateReconnecting:
		if !now.Before(m.retryAt) {
			m.setState(StateConnecting, now, nil)
			return []Action{{Kind: ActionDial}}
		}
	}
	return nil
}

// OnIOError handles a read or write failure on the current connection.
func (m *Machine) OnIOError(now time.Time, op string, err error) []Action {
	serr := &domain.SessionError{Kind: domain.SessionIO, Op: op, Err: err}
	switch m.state {
	case StateLoggingOn, StateActive:
		return m.reconnect(now, serr, true)
	case StateLoggingOut:
		m.setState(StateDisconnected, now, serr)
		return []Action{{Kind: ActionClose}}
	}
	return nil
}

// OnIntegrityViolation drops a live session so the books are rebuilt from
// the snapshot that follows the next logon.
func (m *Machine) OnIntegrityViolation(now time.Time, cause error) []Action {
	if m.state != StateActive {
		return nil
	}
	return m.reconnect(now, &domain.SessionError{Kind: domain.SessionSequence, Op: "book", Err: cause}, true)
}

// RequestLogout starts a graceful shutdown. Outside Active the session goes
// straight to Disconnected.
func (m *Machine) RequestLogout(now time.Time) []Action {
	switch m.state {
	case StateActive:
		m.logoutDeadline = now.Add(m.cfg.LogoutTimeout)
		m.setState(StateLoggingOut, now, nil)
		lo := &wire.Message{Type: wire.MsgLogout, Text: "client shutdown"}
		m.Stamp(lo, now)
		return []Action{{Kind: ActionSend, Msg: lo}}
	case StateLoggingOut, StateDisconnected, StateFailed:
		return nil
	case StateLoggingOn:
		m.setState(StateDisconnected, now, nil)
		return []Action{{Kind: ActionClose}}
	default:
		m.setState(StateDisconnected, now, nil)
		return nil
	}
}

func (m *Machine) reconnect(now time.Time, cause error, connected bool) []Action {
	var actions []Action
	if connected {
		actions = append(actions, Action{Kind: ActionClose})
	}
	m.retries++
	if m.cfg.MaxRetries > 0 && m.retries > m.cfg.MaxRetries {
		err := &domain.SessionError{
			Kind: domain.SessionRetriesExhausted,
			Op:   "reconnect",
			Err:  fmt.Errorf("%w after %d attempts: %w", domain.ErrSessionFailed, m.retries-1, cause),
		}
		m.setState(StateFailed, now, err)
		return append(actions, Action{Kind: ActionFailed, Err: err})
	}
	m.retryAt = now.Add(m.backoff.Next())
	m.setState(StateReconnecting, now, cause)
	return actions
}
