package live

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the client
	writeWait = 10 * time.Second

	// Maximum message size allowed from client; viewers only listen
	maxMessageSize = 512

	// ErrorPrefix starts every text frame that reports a failure to the client
	ErrorPrefix = "ERROR: "
)

// WebSocketConn adapts a gorilla websocket to Conn. It owns a read pump that
// detects disconnects and, when idleTimeout is set, a ping pump that drops
// peers which stop answering.
type WebSocketConn struct {
	ws          *websocket.Conn
	writeMu     sync.Mutex
	done        chan struct{}
	closeOnce   sync.Once
	idleTimeout time.Duration
}

// NewWebSocketConn starts the pumps for ws
func NewWebSocketConn(ws *websocket.Conn, idleTimeout time.Duration) *WebSocketConn {
	c := &WebSocketConn{
		ws:          ws,
		done:        make(chan struct{}),
		idleTimeout: idleTimeout,
	}

	go c.readPump()
	if idleTimeout > 0 {
		go c.pingPump()
	}

	return c
}

// Done is closed when the read pump stops
func (c *WebSocketConn) Done() <-chan struct{} {
	return c.done
}

// WriteText sends a text frame
func (c *WebSocketConn) WriteText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

// WriteBinary sends a binary frame
func (c *WebSocketConn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *WebSocketConn) write(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.ws.WriteMessage(messageType, data)
}

// Close sends a normal close frame and tears the transport down
func (c *WebSocketConn) Close() error {
	return c.closeWith(websocket.CloseNormalClosure, "")
}

// Fail reports reason as an ERROR text frame, then closes with the
// unsupported-data code. Clients treat this as terminal.
func (c *WebSocketConn) Fail(reason string) error {
	_ = c.WriteText(ErrorPrefix + reason)
	return c.closeWith(websocket.CloseUnsupportedData, reason)
}

func (c *WebSocketConn) closeWith(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, text)
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

// readPump drains the connection until it fails, then marks the conn done
func (c *WebSocketConn) readPump() {
	defer func() {
		c.closeWith(websocket.CloseGoingAway, "")
		close(c.done)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	if c.idleTimeout > 0 {
		c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
		c.ws.SetPongHandler(func(string) error {
			return c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
		})
	}

	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

// pingPump keeps the peer's read deadline honest
func (c *WebSocketConn) pingPump() {
	ticker := time.NewTicker(c.idleTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil {
				c.closeWith(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}
