package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket adapts one envelope per text frame onto the Transport interface.
// Binary frames are dropped by the adaptor and never delivered to the core. In RoleServer it
// exposes an http.Handler (Handler) to mount on a mux; in RoleClient it
// dials a ws:// URL and surfaces one peer.
type WebSocket struct {
	opts     Options
	url      string // dial target, RoleClient only
	upgrader websocket.Upgrader

	mu        sync.Mutex
	conns     map[string]*websocket.Conn
	nextID    int
	started   bool
	onInbound InboundFunc
	onConnect func(string)
	onDisconn func(string)
}

// NewWebSocketServer builds a server-role adaptor; mount Handler() on a mux.
func NewWebSocketServer(opts Options) *WebSocket {
	return &WebSocket{
		opts:  opts,
		conns: make(map[string]*websocket.Conn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.BufferSize,
			WriteBufferSize: opts.BufferSize,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// NewWebSocketClient builds a client-role adaptor dialing url.
func NewWebSocketClient(url string, opts Options) *WebSocket {
	return &WebSocket{
		opts:  opts,
		url:   url,
		conns: make(map[string]*websocket.Conn),
	}
}

func (w *WebSocket) Tag() string { return "websocket" }

// Handler returns the http.Handler that upgrades incoming connections; only
// meaningful for a server-role WebSocket started with Start.
func (w *WebSocket) Handler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		conn, err := w.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		w.adopt(conn)
	})
}

func (w *WebSocket) adopt(conn *websocket.Conn) string {
	w.mu.Lock()
	w.nextID++
	peerID := fmt.Sprintf("ws-%d", w.nextID)
	w.conns[peerID] = conn
	w.mu.Unlock()

	if w.onConnect != nil {
		w.onConnect(peerID)
	}
	go w.readLoop(peerID, conn)
	return peerID
}

func (w *WebSocket) Start(ctx context.Context) error {
	if err := w.opts.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	if w.opts.Role == RoleClient {
		conn, _, err := websocket.DefaultDialer.Dial(w.url, nil)
		if err != nil {
			return wrapf(w.Tag(), "dial %s: %w", w.url, err)
		}
		w.adopt(conn)
	}
	// Server role becomes live as Handler() is invoked by the HTTP mux.
	return nil
}

func (w *WebSocket) readLoop(peerID string, conn *websocket.Conn) {
	for {
		msgType, b, err := conn.ReadMessage()
		if err != nil {
			w.removePeer(peerID)
			return
		}
		if msgType != websocket.TextMessage {
			// binary frames are dropped here, never delivered
			continue
		}
		if w.onInbound != nil {
			w.onInbound(DeliveryMeta{Tag: w.Tag(), PeerID: peerID}, b)
		}
	}
}

func (w *WebSocket) removePeer(peerID string) {
	w.mu.Lock()
	conn, ok := w.conns[peerID]
	if ok {
		delete(w.conns, peerID)
	}
	w.mu.Unlock()

	if ok {
		conn.Close()
		if w.onDisconn != nil {
			w.onDisconn(peerID)
		}
	}
}

func (w *WebSocket) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	conns := make([]*websocket.Conn, 0, len(w.conns))
	for _, c := range w.conns {
		conns = append(conns, c)
	}
	w.conns = make(map[string]*websocket.Conn)
	w.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

func (w *WebSocket) Send(peerID string, b []byte) error {
	w.mu.Lock()
	conn, ok := w.conns[peerID]
	w.mu.Unlock()
	if !ok {
		return ErrPeerNotConnected
	}

	conn.SetWriteDeadline(time.Now().Add(w.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		w.removePeer(peerID)
		return err
	}
	return nil
}

func (w *WebSocket) OnInbound(fn InboundFunc)         { w.onInbound = fn }
func (w *WebSocket) OnConnect(fn func(peerID string))  { w.onConnect = fn }
func (w *WebSocket) OnDisconnect(fn func(string))      { w.onDisconn = fn }
