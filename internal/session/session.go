package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"hft_go/internal/domain"
	"hft_go/internal/infra"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

// Handler receives what the session forwards to the engine. Both methods are
// called from the session goroutine and must not block for long.
type Handler interface {
	// OnSessionActive is called after every successful logon. The exchange
	// follows it with a book snapshot, so existing books are stale.
	OnSessionActive(epoch uint64)
	// OnMessage delivers market data and execution reports.
	OnMessage(epoch uint64, msg *wire.Message)
}

type inbound struct {
	epoch   uint64
	msg     *wire.Message
	err     error
	skipped uint64 // seq of a frame dropped as malformed
}

type dialResult struct {
	id   uint64
	conn Conn
	err  error
}

type sendRequest struct {
	msg  *wire.Message
	done chan error
}

// Session drives a Machine over real connections. All state is owned by the
// goroutine running Run; other goroutines talk to it through channels.
type Session struct {
	machine   *Machine
	cfg       Config
	dialer    Dialer
	codec     wire.Codec
	frameOpts []wire.Option
	handler   Handler
	metrics   *infra.Metrics
	logger    *slog.Logger
	now       func() time.Time
	tickEvery time.Duration

	state   atomic.Int32
	epoch   atomic.Uint64
	running atomic.Bool

	inbound  chan inbound
	dialed   chan dialResult
	sendReq  chan sendRequest
	logoutCh chan struct{}
	resyncCh chan error

	// Owned by the Run goroutine.
	conn            Conn
	readerStop      context.CancelFunc
	readers         sync.WaitGroup
	dialID          uint64
	logoutRequested bool
}

// Option configures a Session.
type Option func(*Session)

func WithMetrics(m *infra.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithClock replaces time.Now for deadlines.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithTickInterval sets how often deadlines are checked.
func WithTickInterval(d time.Duration) Option {
	return func(s *Session) { s.tickEvery = d }
}

// WithCredentials signs the logon.
func WithCredentials(c Credentials) Option {
	return func(s *Session) { s.machine.creds = c }
}

// WithFrameOptions passes codec options to the inbound framer.
func WithFrameOptions(opts ...wire.Option) Option {
	return func(s *Session) { s.frameOpts = opts }
}

// New creates a session. Run starts it.
func New(cfg Config, dialer Dialer, codec wire.Codec, handler Handler, opts ...Option) *Session {
	cfg.ApplyDefaults()
	s := &Session{
		machine:  NewMachine(cfg, nil),
		cfg:      cfg,
		dialer:   dialer,
		codec:    codec,
		handler:  handler,
		logger:   slog.Default(),
		now:      time.Now,
		inbound:  make(chan inbound, 1024),
		dialed:   make(chan dialResult, 1),
		sendReq:  make(chan sendRequest, 64),
		logoutCh: make(chan struct{}, 1),
		resyncCh: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = infra.NewMetrics()
	}
	if s.tickEvery <= 0 {
		s.tickEvery = max(cfg.HeartbeatInterval/10, 10*time.Millisecond)
	}
	s.machine.OnTransition(s.onTransition)
	return s
}

// State returns the current state. Safe from any goroutine.
func (s *Session) State() State { return State(s.state.Load()) }

// Epoch returns the current connection epoch. Safe from any goroutine.
func (s *Session) Epoch() uint64 { return s.epoch.Load() }

// Run connects and keeps the session alive until ctx is cancelled, a
// requested logout completes, or the retry budget is exhausted. The last case
// returns an error wrapping domain.ErrSessionFailed.
func (s *Session) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("session already running")
	}
	defer s.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.closeConnection()
		s.readers.Wait()
	}()

	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	s.apply(runCtx, s.machine.Start(s.now()))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.apply(runCtx, s.machine.Tick(s.now()))
		case d := <-s.dialed:
			s.onDialed(runCtx, d)
		case in := <-s.inbound:
			s.onInbound(runCtx, in)
		case req := <-s.sendReq:
			req.done <- s.sendApp(runCtx, req.msg)
		case <-s.logoutCh:
			s.logoutRequested = true
			s.apply(runCtx, s.machine.RequestLogout(s.now()))
		case cause := <-s.resyncCh:
			s.apply(runCtx, s.machine.OnIntegrityViolation(s.now(), cause))
		}

		switch s.machine.State() {
		case StateFailed:
			return s.machine.LastError()
		case StateDisconnected:
			if s.logoutRequested {
				return nil
			}
		}
	}
}

// Send stamps and writes msg. It fails with domain.ErrNotActive unless the
// session is logged on.
func (s *Session) Send(ctx context.Context, msg *wire.Message) error {
	if s.State() != StateActive {
		return domain.ErrNotActive
	}
	req := sendRequest{msg: msg, done: make(chan error, 1)}
	select {
	case s.sendReq <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Logout asks for a graceful logout. Run returns once it completes.
func (s *Session) Logout() {
	select {
	case s.logoutCh <- struct{}{}:
	default:
	}
}

// RequestResync drops the connection after a book integrity violation. The
// next logon brings a fresh snapshot.
func (s *Session) RequestResync(cause error) {
	select {
	case s.resyncCh <- cause:
	default:
	}
}

func (s *Session) onTransition(t Transition) {
	s.state.Store(int32(t.To))
	s.metrics.SetSessionState(int32(t.To))

	attrs := []any{
		slog.String("from", t.From.String()),
		slog.String("to", t.To.String()),
		slog.Uint64("epoch", s.machine.Epoch()),
	}
	if t.Err != nil {
		attrs = append(attrs, slog.Any("error", t.Err))
	}

	switch t.To {
	case StateReconnecting:
		var se *domain.SessionError
		if errors.As(t.Err, &se) && se.Kind == domain.SessionHeartbeatTimeout {
			s.metrics.RecordHeartbeatMiss()
		}
		attrs = append(attrs, slog.Int("retry", s.machine.Retries()), slog.Time("retry_at", s.machine.RetryAt()))
		s.logger.Warn("SESSION_STATE", attrs...)
	case StateFailed:
		s.logger.Error("SESSION_STATE", attrs...)
	default:
		if t.From == StateReconnecting && t.To == StateConnecting {
			s.metrics.RecordReconnect()
		}
		s.logger.Info("SESSION_STATE", attrs...)
	}
}

func (s *Session) apply(ctx context.Context, actions []Action) {
	for i := 0; i < len(actions); i++ {
		a := actions[i]
		switch a.Kind {
		case ActionDial:
			s.dial(ctx)
		case ActionSend:
			frame, err := s.codec.Encode(a.Msg)
			if err != nil {
				s.logger.Error("SESSION_ENCODE_ERROR", slog.String("type", a.Msg.Type.String()), slog.Any("error", err))
				continue
			}
			if err := s.write(frame); err != nil {
				actions = append(actions, s.machine.OnIOError(s.now(), "write", err)...)
				continue
			}
			if a.Msg.Type == wire.MsgHeartbeat {
				s.metrics.RecordHeartbeatSent()
			}
		case ActionClose:
			s.closeConnection()
		case ActionActivated:
			s.handler.OnSessionActive(s.machine.Epoch())
		case ActionFailed:
			s.logger.Error("SESSION_FAILED", slog.Any("error", a.Err))
		}
	}
}

func (s *Session) dial(ctx context.Context) {
	s.dialID++
	id := s.dialID
	go func() {
		conn, err := s.dialer.Dial(ctx)
		select {
		case s.dialed <- dialResult{id: id, conn: conn, err: err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()
}

func (s *Session) onDialed(ctx context.Context, d dialResult) {
	if d.id != s.dialID || s.machine.State() != StateConnecting {
		if d.conn != nil {
			d.conn.Close()
		}
		return
	}
	now := s.now()
	if d.err != nil {
		s.logger.Warn("SESSION_DIAL_FAILED", slog.Any("error", d.err))
		s.apply(ctx, s.machine.OnConnectFailed(now, d.err))
		return
	}

	s.conn = d.conn
	actions := s.machine.OnConnected(now)
	epoch := s.machine.Epoch()
	s.epoch.Store(epoch)
	s.startReader(ctx, d.conn, epoch)
	s.apply(ctx, actions)
}

func (s *Session) startReader(ctx context.Context, conn Conn, epoch uint64) {
	rctx, cancel := context.WithCancel(ctx)
	s.readerStop = cancel
	s.readers.Add(1)
	go func() {
		defer s.readers.Done()
		s.readLoop(rctx, conn, epoch)
	}()
}

func (s *Session) readLoop(ctx context.Context, conn Conn, epoch uint64) {
	fr, err := wire.NewFrameReader(conn, s.codec.Protocol(), s.frameOpts...)
	if err != nil {
		s.deliver(ctx, inbound{epoch: epoch, err: err})
		return
	}
	for {
		frame, err := fr.Next()
		if err != nil {
			if ctx.Err() == nil {
				s.deliver(ctx, inbound{epoch: epoch, err: err})
			}
			return
		}
		msg, err := s.codec.Decode(frame)
		if err != nil {
			s.metrics.RecordCodecError()
			s.logger.Warn("CODEC_ERROR", slog.Uint64("epoch", epoch), slog.Any("error", err))
			var ce *domain.CodecError
			if errors.As(err, &ce) && ce.Seq > 0 {
				if !s.deliver(ctx, inbound{epoch: epoch, skipped: ce.Seq}) {
					return
				}
			}
			continue
		}
		s.metrics.RecordDecoded()
		if !s.deliver(ctx, inbound{epoch: epoch, msg: msg}) {
			return
		}
	}
}

func (s *Session) deliver(ctx context.Context, in inbound) bool {
	select {
	case s.inbound <- in:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) onInbound(ctx context.Context, in inbound) {
	if in.epoch != s.machine.Epoch() || !s.machine.State().Connected() {
		s.metrics.RecordStaleDrop()
		return
	}
	now := s.now()
	if in.err != nil {
		s.logger.Warn("SESSION_READ_ERROR", slog.Uint64("epoch", in.epoch), slog.Any("error", in.err))
		s.apply(ctx, s.machine.OnIOError(now, "read", in.err))
		return
	}
	if in.msg == nil {
		s.machine.OnSkipped(now, in.skipped)
		return
	}

	msg := in.msg
	if msg.Type == wire.MsgReject {
		s.metrics.RecordExchangeReject()
		s.logger.Warn("EXCHANGE_REJECT",
			slog.Uint64("ref_seq", msg.RefSeq),
			slog.String("reason", msg.Text))
	}

	forward, actions := s.machine.OnMessage(now, msg)
	s.apply(ctx, actions)
	if forward {
		s.handler.OnMessage(in.epoch, msg)
	}
}

func (s *Session) sendApp(ctx context.Context, msg *wire.Message) error {
	if s.machine.State() != StateActive {
		return domain.ErrNotActive
	}
	now := s.now()
	msg.Seq = s.machine.NextSeq()
	msg.Time = quant.FromTime(now)
	frame, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	s.machine.Stamp(msg, now)
	if err := s.write(frame); err != nil {
		s.apply(ctx, s.machine.OnIOError(now, "write", err))
		return domain.NewNetworkError("write", err)
	}
	return nil
}

func (s *Session) write(frame []byte) error {
	if s.conn == nil {
		return domain.ErrNotActive
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return err
	}
	_, err := s.conn.Write(frame)
	return err
}

func (s *Session) closeConnection() {
	if s.readerStop != nil {
		s.readerStop()
		s.readerStop = nil
	}
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}
