package transport

import (
	"time"

	"github.com/gorilla/websocket"

	"github.com/codetogether/roomsync/internal/protocol"
)

// writePump sends queued frames to the socket.
// It also sends periodic pings to keep the connection alive.
func (c *Conn) writePump(l *link) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		l.ws.Close()
	}()

	for {
		select {
		case <-l.done:
			// Shutdown signaled; send close frame and exit.
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			l.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-l.send:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "err", err)
				return
			}

		case <-ticker.C:
			l.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames until the socket fails and dispatches them.
// The returned error is why the socket ended.
func (c *Conn) readPump(l *link) error {
	l.ws.SetReadLimit(maxMessageSize)
	l.ws.SetReadDeadline(time.Now().Add(pongWait))

	// A pong (answer to our ping) proves the server is alive.
	l.ws.SetPongHandler(func(string) error {
		l.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := l.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway) {
				c.logger.Debug("read error", "err", err)
			}
			return err
		}
		l.ws.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data, protocol.FromServer)
		if err != nil {
			c.logger.Warn("dropping frame", "err", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one decoded frame: connection identity, correlated
// response, or broadcast.
func (c *Conn) dispatch(msg protocol.Message) {
	switch {
	case msg.Type == protocol.TypeConnected:
		p := msg.Payload.(protocol.ConnectedPayload)
		c.mu.Lock()
		c.id = p.ID
		c.mu.Unlock()
		c.logger.Debug("connection id assigned", "id", p.ID)

	case msg.IsResponse():
		fn := c.takePending(msg.ReplyTo)
		if fn == nil {
			c.logger.Debug("response without pending request", "type", msg.Type, "replyTo", msg.ReplyTo)
			return
		}
		fn(msg, nil)

	default:
		c.mu.Lock()
		h := c.frameHandler
		c.mu.Unlock()
		if h != nil {
			h(msg)
		}
	}
}
