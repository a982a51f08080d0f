package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

// Server upgrades progress watchers to websockets
type Server struct {
	hub      *Hub
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// NewServer creates a server. An empty origin list accepts any origin.
func NewServer(hub *Hub, allowedOrigins []string, log *slog.Logger) *Server {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[strings.ToLower(o)] = true
		}
	}

	return &Server{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if len(allowed) == 0 {
					return true
				}
				return allowed[strings.ToLower(r.Header.Get("Origin"))]
			},
		},
		log: log,
	}
}

// Routes returns the HTTP handler for the service
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.HandleWebSocket)
	mux.HandleFunc("GET /health", s.HandleHealth)
	return mux
}

// HandleWebSocket handles WebSocket upgrade and registration
// URL: /ws?requester=<id>
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	requester := strings.TrimSpace(r.URL.Query().Get("requester"))
	if requester == "" {
		http.Error(w, "requester query parameter required", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "requester_id", requester, "error", err)
		return
	}

	client := NewClient(s.hub, conn, requester)
	s.hub.register <- client
	s.log.Info("watcher connected", "requester_id", requester, "remote", r.RemoteAddr)

	go client.writePump()
	go client.readPump()
}

// HandleHealth reports liveness and connection counts
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"connections": s.hub.ConnectionCount(),
		"requesters":  s.hub.RequesterCount(),
	})
}
