package session

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"hft_go/internal/domain"
	"hft_go/internal/infra"
	"hft_go/internal/wire"
	"hft_go/pkg/quant"
)

const waitFor = 2 * time.Second

// pipeDialer hands out the client ends of net.Pipe pairs, one per Dial.
type pipeDialer struct {
	conns chan net.Conn
}

func (d *pipeDialer) Dial(ctx context.Context) (Conn, error) {
	select {
	case c := <-d.conns:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type failingDialer struct{}

func (failingDialer) Dial(context.Context) (Conn, error) {
	return nil, domain.NewNetworkError("dial", domain.ErrConnectionFailed)
}

// fakeExchange is the server end of one connection.
type fakeExchange struct {
	t        *testing.T
	conn     net.Conn
	codec    wire.Codec
	received chan *wire.Message
	seq      uint64
}

func newFakeExchange(t *testing.T, conn net.Conn, codec wire.Codec) *fakeExchange {
	x := &fakeExchange{t: t, conn: conn, codec: codec, received: make(chan *wire.Message, 64)}
	go func() {
		fr, err := wire.NewFrameReader(conn, codec.Protocol())
		if err != nil {
			return
		}
		for {
			frame, err := fr.Next()
			if err != nil {
				close(x.received)
				return
			}
			msg, err := codec.Decode(frame)
			if err != nil {
				continue
			}
			x.received <- msg
		}
	}()
	return x
}

// expect returns the next message of type typ, skipping heartbeats.
func (x *fakeExchange) expect(typ wire.MsgType) *wire.Message {
	x.t.Helper()
	timeout := time.After(waitFor)
	for {
		select {
		case msg, ok := <-x.received:
			if !ok {
				x.t.Fatalf("connection closed while waiting for %s", typ)
			}
			if msg.Type == typ {
				return msg
			}
			if msg.Type != wire.MsgHeartbeat {
				x.t.Fatalf("expected %s, got %s", typ, msg.Type)
			}
		case <-timeout:
			x.t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func (x *fakeExchange) send(msg *wire.Message) {
	x.t.Helper()
	x.seq++
	msg.Seq = x.seq
	msg.Time = quant.FromTime(time.Now())
	frame, err := x.codec.Encode(msg)
	if err != nil {
		x.t.Fatalf("encode %s: %v", msg.Type, err)
	}
	if _, err := x.conn.Write(frame); err != nil {
		x.t.Fatalf("write %s: %v", msg.Type, err)
	}
}

type handlerEvent struct {
	active bool
	epoch  uint64
	msg    *wire.Message
}

type recordingHandler struct {
	events chan handlerEvent
}

func (h *recordingHandler) OnSessionActive(epoch uint64) {
	h.events <- handlerEvent{active: true, epoch: epoch}
}

func (h *recordingHandler) OnMessage(epoch uint64, msg *wire.Message) {
	h.events <- handlerEvent{epoch: epoch, msg: msg}
}

func (h *recordingHandler) next(t *testing.T) handlerEvent {
	t.Helper()
	select {
	case ev := <-h.events:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for handler event")
		return handlerEvent{}
	}
}

type harness struct {
	sess    *Session
	dialer  *pipeDialer
	handler *recordingHandler
	metrics *infra.Metrics
	codec   wire.Codec
	done    chan error
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	codec, err := wire.NewCodec(wire.ProtocolText)
	if err != nil {
		t.Fatal(err)
	}
	h := &harness{
		dialer:  &pipeDialer{conns: make(chan net.Conn, 4)},
		handler: &recordingHandler{events: make(chan handlerEvent, 64)},
		metrics: infra.NewMetrics(),
		codec:   codec,
		done:    make(chan error, 1),
	}
	h.sess = New(cfg, h.dialer, codec, h.handler,
		WithMetrics(h.metrics),
		WithTickInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- h.sess.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-h.done
	})
	return h
}

func (h *harness) connect(t *testing.T) *fakeExchange {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { server.Close() })
	x := newFakeExchange(t, server, h.codec)
	h.dialer.conns <- client
	return x
}

func (h *harness) logon(t *testing.T, x *fakeExchange) uint64 {
	t.Helper()
	if got := x.expect(wire.MsgLogon); got.Seq != 1 {
		t.Fatalf("Expected logon seq 1, got %d", got.Seq)
	}
	x.send(&wire.Message{Type: wire.MsgLogon, HeartbeatSecs: 1})
	ev := h.handler.next(t)
	if !ev.active {
		t.Fatalf("Expected activation, got %+v", ev)
	}
	return ev.epoch
}

func (h *harness) result(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		h.done <- err // for Cleanup
		return err
	case <-time.After(waitFor):
		t.Fatal("Run did not return")
		return nil
	}
}

func integrationConfig() Config {
	return Config{
		HeartbeatInterval: time.Second,
		LogonTimeout:      time.Second,
		LogoutTimeout:     time.Second,
		BackoffBase:       5 * time.Millisecond,
		BackoffMax:        20 * time.Millisecond,
	}
}

func TestSession_LogonTradeLogout(t *testing.T) {
	h := newHarness(t, integrationConfig())
	x := h.connect(t)
	epoch := h.logon(t, x)
	if epoch != 1 {
		t.Errorf("Expected epoch 1, got %d", epoch)
	}

	x.send(&wire.Message{Type: wire.MsgBookAdd, Symbol: "BTC-USD", Side: domain.SideBid,
		Price: quant.ToPriceMicros(100), Qty: quant.ToQtySats(1)})
	ev := h.handler.next(t)
	if ev.msg == nil || ev.msg.Type != wire.MsgBookAdd || ev.epoch != 1 {
		t.Fatalf("Expected forwarded BOOK_ADD, got %+v", ev)
	}

	order := &wire.Message{
		Type:          wire.MsgNewOrder,
		CorrelationID: "6f1c2b1e-4a0d-4c39-9a43-2e0b8f2d7c11",
		Symbol:        "BTC-USD",
		Side:          domain.SideBuy,
		Price:         quant.ToPriceMicros(100),
		Qty:           quant.ToQtySats(1),
	}
	if err := h.sess.Send(context.Background(), order); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	got := x.expect(wire.MsgNewOrder)
	if got.CorrelationID != order.CorrelationID || got.Seq < 2 {
		t.Errorf("Unexpected order on the wire: %+v", got)
	}

	x.send(&wire.Message{Type: wire.MsgTestRequest, TestReqID: "ping-1"})
	if hb := x.expect(wire.MsgHeartbeat); hb.TestReqID != "ping-1" {
		// expect skips plain heartbeats, so this one must be the echo
		t.Errorf("Expected echo of ping-1, got %q", hb.TestReqID)
	}

	h.sess.Logout()
	x.expect(wire.MsgLogout)
	x.send(&wire.Message{Type: wire.MsgLogout})
	if err := h.result(t); err != nil {
		t.Errorf("Expected clean shutdown, got %v", err)
	}
	if h.sess.State() != StateDisconnected {
		t.Errorf("Expected DISCONNECTED, got %s", h.sess.State())
	}
}

func TestSession_ReconnectStartsNewEpoch(t *testing.T) {
	h := newHarness(t, integrationConfig())
	x1 := h.connect(t)
	if epoch := h.logon(t, x1); epoch != 1 {
		t.Fatalf("Expected epoch 1, got %d", epoch)
	}

	x2 := h.connect(t)
	x1.conn.Close()

	if epoch := h.logon(t, x2); epoch != 2 {
		t.Fatalf("Expected epoch 2 after reconnect, got %d", epoch)
	}
	if snap := h.metrics.Snapshot(); snap.Reconnects != 1 {
		t.Errorf("Expected 1 reconnect, got %d", snap.Reconnects)
	}
}

func TestSession_SendWhenNotActive(t *testing.T) {
	codec, _ := wire.NewCodec(wire.ProtocolText)
	s := New(integrationConfig(), failingDialer{}, codec, &recordingHandler{})
	err := s.Send(context.Background(), &wire.Message{Type: wire.MsgNewOrder})
	if !errors.Is(err, domain.ErrNotActive) {
		t.Errorf("Expected ErrNotActive, got %v", err)
	}
}

func TestSession_RetriesExhausted(t *testing.T) {
	cfg := integrationConfig()
	cfg.MaxRetries = 2
	cfg.BackoffBase = time.Millisecond
	cfg.BackoffMax = 2 * time.Millisecond
	codec, _ := wire.NewCodec(wire.ProtocolText)
	s := New(cfg, failingDialer{}, codec, &recordingHandler{}, WithTickInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	err := s.Run(ctx)
	if !errors.Is(err, domain.ErrSessionFailed) {
		t.Fatalf("Expected ErrSessionFailed, got %v", err)
	}
	if s.State() != StateFailed {
		t.Errorf("Expected FAILED, got %s", s.State())
	}
}

func TestSession_ContextCancel(t *testing.T) {
	h := newHarness(t, integrationConfig())
	x := h.connect(t)
	h.logon(t, x)

	h.cancel()
	if err := h.result(t); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	// The connection is closed on the way out.
	deadline := time.After(waitFor)
	for {
		select {
		case _, ok := <-x.received:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("connection still open after Run returned")
		}
	}
}
