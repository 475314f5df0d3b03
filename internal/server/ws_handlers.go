package server

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// local app; allow all
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) handleWSCapture(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, s.wsCapture, "capture")
}

func (s *Server) handleWSMonitor(w http.ResponseWriter, r *http.Request) {
	s.serveWS(w, r, s.wsMonitor, "monitor")
}

// serveWS registers the connection, greets it with the current device
// state and blocks until the client goes away.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request, hub *WSHub, stream string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := hub.Add(conn)
	defer hub.Remove(client)

	s.dev.mu.Lock()
	hello := map[string]interface{}{
		"stream":    stream,
		"connected": s.dev.meter != nil,
		"op":        s.dev.opKind,
	}
	s.dev.mu.Unlock()
	if err := client.Send(WSMessage{Type: "hello", Data: hello}); err != nil {
		return
	}

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
