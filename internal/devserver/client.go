package devserver

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/codetogether/roomsync/internal/protocol"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = 30 * time.Second
	maxMessageSize = 2 << 20
)

// Client is one WebSocket connection to the server.
type Client struct {
	id         string
	conn       *websocket.Conn
	send       chan []byte
	done       chan struct{}
	sendOnce   sync.Once
	server     *Server
	remoteHost string
	logger     *log.Logger

	inputLimiter *rate.Limiter

	mu       sync.Mutex
	room     *Room
	username string
}

// ID returns the connection identifier sent in the connected frame.
func (c *Client) ID() string {
	return c.id
}

// membership returns the joined room and username.
func (c *Client) membership() (*Room, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.room, c.username
}

func (c *Client) setMembership(r *Room, username string) {
	c.mu.Lock()
	c.room, c.username = r, username
	c.mu.Unlock()
}

// closeSend signals the write pump to shut down, exactly once.
func (c *Client) closeSend() {
	c.sendOnce.Do(func() {
		close(c.done)
	})
}

// sendMessage queues msg without blocking; a client whose queue is full
// loses the message.
func (c *Client) sendMessage(msg protocol.Message) {
	data, err := msg.Encode()
	if err != nil {
		c.logger.Error("encode failed", "type", msg.Type, "err", err)
		return
	}
	c.sendRaw(data)
}

func (c *Client) sendRaw(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.logger.Warn("client send buffer full, dropping message", "id", c.id)
	}
}

// reply answers a request.
func (c *Client) reply(req protocol.Message, payload any) {
	c.sendMessage(protocol.NewReply(req, payload))
}

// writePump sends queued frames and periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("write error", "id", c.id, "err", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump decodes frames and handles them in arrival order until the
// connection fails.
func (c *Client) readPump() {
	defer func() {
		c.server.unregister(c)
		c.closeSend()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				c.logger.Debug("read error", "id", c.id, "err", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.Decode(data, protocol.FromClient)
		if err != nil {
			c.logger.Warn("dropping frame", "id", c.id, "err", err)
			continue
		}
		c.server.handle(c, msg)
	}
}
