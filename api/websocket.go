package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Clients authenticate with a bearer token, so any origin is accepted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleStream relays hub notifications to a websocket client as JSON events.
func (s *Server) handleStream(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "notification stream not configured"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("⚠️  [API] Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.hub.Subscribe()
	defer cancel()
	s.log.Infof("🔌 [API] Stream client connected from %s", c.ClientIP())

	// Reader: only needed to process control frames and notice disconnects.
	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			s.log.Infof("🔌 [API] Stream client %s disconnected", c.ClientIP())
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				s.log.WithError(err).Debug("🔌 [API] Stream write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
