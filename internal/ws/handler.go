package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

const (
	writeTimeout   = 10 * time.Second
	pingPeriod     = 30 * time.Second
	sendQueueDepth = 256
)

// HandleWebSocket upgrades the connection and serves it until the client
// goes away. Every client gets a status snapshot on connect and may ask
// for a fresh one with a sync message; everything else it sees is hub
// broadcasts of run lifecycle and progress.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// The listener binds loopback; dev frontends connect
		// cross-origin from another local port.
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}

	client := &Client{hub: h, send: make(chan []byte, sendQueueDepth), conn: conn}
	h.register <- client
	client.queueStatusSnapshot()

	go client.writeLoop(r.Context())
	client.readLoop(r.Context())
}

// queueStatusSnapshot puts the current service status on the send
// queue, if the hub has a provider wired. A full queue is not waited
// on.
func (c *Client) queueStatusSnapshot() {
	if c.hub.statusProvider == nil {
		return
	}
	data, err := c.hub.statusProvider()
	if err != nil {
		c.hub.logger.Warn("status snapshot failed", "error", err)
		return
	}
	msg, err := NewMessage(MsgStatus, json.RawMessage(data))
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

// readLoop consumes client frames until the peer closes or errors. The
// only client-initiated request is a sync; everything else is ignored.
func (c *Client) readLoop(ctx context.Context) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		switch {
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
			c.hub.logger.Debug("websocket client disconnected")
			return
		case err != nil:
			return
		}

		var msg Message
		if json.Unmarshal(data, &msg) != nil || msg.Type != MsgSync {
			continue
		}
		c.queueStatusSnapshot()
	}
}

// writeLoop drains the send queue and keeps the connection alive with
// pings between broadcasts.
func (c *Client) writeLoop(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if c.writeFrame(ctx, message) != nil {
				return
			}
		case <-ticker.C:
			if c.ping(ctx) != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) writeFrame(ctx context.Context, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *Client) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.conn.Ping(ctx)
}
