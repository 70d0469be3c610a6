package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/relay"
)

const wsWriteWait = 1 * time.Second

// wsConn is the relay.Transport for one WebSocket. Events are encoded on the
// caller's goroutine and queued; a single writer goroutine owns data writes.
// Control frames go through WriteControl, which gorilla allows concurrently
// with the writer.
type wsConn struct {
	conn    *websocket.Conn
	codec   codec
	out     *outbox
	metrics *metrics.Metrics

	closeOnce sync.Once

	mu          sync.Mutex
	closeCode   int
	closeReason string
}

var _ relay.Transport = (*wsConn)(nil)

func newWSConn(conn *websocket.Conn, c codec, queueBytes int, m *metrics.Metrics) *wsConn {
	return &wsConn{
		conn:      conn,
		codec:     c,
		out:       newOutbox(queueBytes),
		metrics:   m,
		closeCode: websocket.CloseGoingAway,
	}
}

func (c *wsConn) Send(ev relay.Event) error {
	data, err := c.codec.encode(ev)
	if err != nil {
		return err
	}
	return c.sendRaw(data)
}

func (c *wsConn) sendRaw(data []byte) error {
	err := c.out.push(data)
	if errors.Is(err, ErrSendQueueFull) {
		c.metrics.Inc(metrics.SendQueueFull)
		c.setCloseReason(websocket.CloseTryAgainLater, "send queue full")
	}
	return err
}

// Close closes the socket with the most specific reason recorded so far.
func (c *wsConn) Close() error {
	c.mu.Lock()
	code, reason := c.closeCode, c.closeReason
	c.mu.Unlock()
	c.closeWith(code, reason)
	return nil
}

func (c *wsConn) setCloseReason(code int, reason string) {
	c.mu.Lock()
	c.closeCode, c.closeReason = code, reason
	c.mu.Unlock()
}

// closeWith sends a close frame and tears the socket down. Only the first
// call has any effect.
func (c *wsConn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.out.close()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		_ = c.conn.Close()
	})
}

func (c *wsConn) ping() error {
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func (c *wsConn) writeLoop() {
	for {
		frame, ok := c.out.pop()
		if !ok {
			return
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.closeWith(websocket.CloseGoingAway, "write failed")
			return
		}
	}
}

// keepaliveConn adapts a wsConn to keepalive.Conn.
type keepaliveConn struct{ c *wsConn }

func (k keepaliveConn) Ping() error { return k.c.ping() }

func (k keepaliveConn) Close() error {
	k.c.closeWith(websocket.CloseNormalClosure, "keepalive timeout")
	return nil
}
