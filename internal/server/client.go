package server

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"portfolio-sentinel/internal/logger"
	"portfolio-sentinel/internal/types"
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 // clients only send pings and close frames
)

// client is one WebSocket consumer of the snapshot stream.
type client struct {
	srv  *Server
	conn *websocket.Conn
	send chan types.Snapshot
}

func newClient(srv *Server, conn *websocket.Conn) *client {
	return &client{srv: srv, conn: conn, send: make(chan types.Snapshot, 8)}
}

// readPump watches the connection for closes and pongs. Incoming payloads
// are ignored; the stream is one-way.
func (c *client) readPump() {
	defer func() {
		c.srv.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug(context.Background(), "websocket read error", "error", err)
			}
			return
		}
	}
}

// writePump pushes queued snapshots and keeps the connection alive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case snap, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(snap); err != nil {
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
