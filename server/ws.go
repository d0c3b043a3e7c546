package server

import (
	"net/http"

	"github.com/rustyeddy/astrocomm/transport"
)

// Ping answers liveness checks with 200 OK and the body "pong".
type Ping struct{}

func (Ping) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("pong"))
}

// WServe mounts a server-role websocket transport's upgrade handler onto
// the REST mux, so the same HTTP listener serves both. It's a thin adaptor
// over transport.WebSocket.Handler rather than its own upgrade loop, since
// C2 already owns framing, peer bookkeeping, and inbound delivery.
type WServe struct {
	ws *transport.WebSocket
}

// NewWServe wraps ws. ws may be nil if no websocket transport was
// configured, in which case requests get a 503.
func NewWServe(ws *transport.WebSocket) WServe {
	return WServe{ws: ws}
}

func (w WServe) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	if w.ws == nil {
		http.Error(rw, "websocket transport not configured", http.StatusServiceUnavailable)
		return
	}
	w.ws.Handler().ServeHTTP(rw, r)
}
