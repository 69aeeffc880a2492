package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"portfolio-sentinel/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Snapshot data is not account-scoped secrets; same-host UIs connect
	// from arbitrary dev ports.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// hubLoop owns the client set. Register, unregister and broadcast all
// funnel through here so no lock is needed around the set.
func (s *Server) hubLoop(ctx context.Context) {
	defer close(s.hubDone)
	for {
		select {
		case c := <-s.register:
			s.clients[c] = struct{}{}
			// New clients immediately get the current state.
			c.send <- s.eng.Snapshot()

		case c := <-s.unregister:
			if _, ok := s.clients[c]; ok {
				delete(s.clients, c)
				close(c.send)
			}

		case snap := <-s.broadcast:
			for c := range s.clients {
				select {
				case c.send <- snap:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(s.clients, c)
					close(c.send)
				}
			}

		case <-ctx.Done():
			for c := range s.clients {
				delete(s.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.ErrorWithErr(c.Request.Context(), "websocket upgrade failed", err)
		return
	}

	cl := newClient(s, conn)
	if !s.addClient(cl) {
		conn.Close()
		return
	}

	go cl.writePump()
	go cl.readPump()
}

// addClient hands a connection to the hub. Returns false when the hub has
// already shut down, so callers never block on a dead loop.
func (s *Server) addClient(cl *client) bool {
	select {
	case s.register <- cl:
		return true
	case <-s.hubDone:
		return false
	}
}

// removeClient returns a connection to the hub for teardown, unless the hub
// has already shut down and closed every client itself.
func (s *Server) removeClient(cl *client) {
	select {
	case s.unregister <- cl:
	case <-s.hubDone:
	}
}
