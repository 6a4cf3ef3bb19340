package ws

import (
	"errors"
	"log"
	"net"
	"net/http"

	"github.com/gorilla/websocket"
)

type Server struct {
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub) *Server {
	return &Server{
		hub: hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections upgrades the request and runs the connection until
// the client disconnects or the server shuts down.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConn(s.hub, ws)
	if err := conn.Handle(r.Context()); err != nil &&
		!errors.Is(err, net.ErrClosed) &&
		!websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		log.Printf("connection %s closed with error: %v", conn.Key(), err)
	}
}
