package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
	// Two missed pings before the connection is considered gone.
	wsPongTimeout = 90 * time.Second
)

type wsUpgrader = websocket.Upgrader

func newWSUpgrader() wsUpgrader {
	return websocket.Upgrader{
		// The daemon binds to loopback; the desktop shell's origin varies
		// by packaging, so origin checks buy nothing here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// wsHandler streams every bus event to the client over a WebSocket. The
// connection is push-only; inbound frames are read solely to service pings
// and detect the peer going away.
func (s *Server) wsHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an error status.
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	sub := s.bus.Subscribe("")
	done := make(chan struct{})

	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(wsPongTimeout))
			return nil
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	pings := time.NewTicker(wsPingInterval)
	defer func() {
		pings.Stop()
		s.bus.Unsubscribe(sub)
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case <-pings.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case event, ok := <-sub.Ch():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				return
			}
		}
	}
}
