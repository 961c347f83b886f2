package session

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hft_go/internal/domain"
)

// Conn is a byte stream to the exchange. Frames may be split or coalesced
// arbitrarily; the wire framer reassembles them.
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// Dialer opens connections to one endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// NewDialer picks the transport from the endpoint scheme: ws:// and wss://
// use WebSocket, tcp://host:port or a bare host:port use TCP.
func NewDialer(endpoint string, timeout time.Duration) (Dialer, error) {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		return &WebSocketDialer{URL: endpoint, HandshakeTimeout: timeout}, nil
	case strings.HasPrefix(endpoint, "tcp://"):
		return &TCPDialer{Addr: strings.TrimPrefix(endpoint, "tcp://"), Timeout: timeout}, nil
	case endpoint != "" && !strings.Contains(endpoint, "://"):
		return &TCPDialer{Addr: endpoint, Timeout: timeout}, nil
	}
	return nil, &domain.ConfigError{Field: "exchange.endpoint", Err: fmt.Errorf("unsupported endpoint %q", endpoint)}
}

// TCPDialer dials plain TCP.
type TCPDialer struct {
	Addr    string
	Timeout time.Duration
}

func (d *TCPDialer) Dial(ctx context.Context) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout, KeepAlive: 30 * time.Second}
	conn, err := nd.DialContext(ctx, "tcp", d.Addr)
	if err != nil {
		return nil, domain.NewNetworkError("dial", fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err))
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return conn, nil
}

// WebSocketDialer carries the stream over binary WebSocket messages.
type WebSocketDialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
}

func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, domain.NewNetworkError("dial", fmt.Errorf("%w: %w", domain.ErrConnectionFailed, err))
	}
	return newWSConn(ws), nil
}

// wsConn adapts a WebSocket to a byte stream. Each Write is one binary
// message; Read drains messages in order.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	cur     io.Reader
}

func newWSConn(ws *websocket.Conn) *wsConn {
	return &wsConn{ws: ws}
}

func (c *wsConn) Read(p []byte) (int, error) {
	for {
		if c.cur == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				return 0, err
			}
			c.cur = r
		}
		n, err := c.cur.Read(p)
		if err == io.EOF {
			c.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
