package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// TCP is the line-delimited-JSON-over-TCP adaptor. In RoleServer it accepts
// any number of peers keyed by a generated connection id; in RoleClient it
// dials a single remote endpoint and surfaces one peer.
type TCP struct {
	opts Options
	addr string // listen address (server) or dial address (client)

	mu        sync.Mutex
	listener  net.Listener
	conns     map[string]net.Conn
	nextID    int
	started   bool
	stopped   chan struct{}
	onInbound InboundFunc
	onConnect func(string)
	onDisconn func(string)
}

// NewTCP builds a TCP adaptor bound/dialing to addr.
func NewTCP(addr string, opts Options) *TCP {
	return &TCP{
		opts:  opts,
		addr:  addr,
		conns: make(map[string]net.Conn),
	}
}

func (t *TCP) Tag() string { return "tcp" }

func (t *TCP) Start(ctx context.Context) error {
	if err := t.opts.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = true
	t.stopped = make(chan struct{})
	t.mu.Unlock()

	if t.opts.Role == RoleClient {
		conn, err := net.Dial("tcp", t.addr)
		if err != nil {
			return wrapf(t.Tag(), "dial %s: %w", t.addr, err)
		}
		peerID := t.addr
		t.mu.Lock()
		t.conns[peerID] = conn
		t.mu.Unlock()
		if t.onConnect != nil {
			t.onConnect(peerID)
		}
		go t.readConn(ctx, peerID, conn)
		return nil
	}

	ln, err := net.Listen("tcp", t.addr)
	if err != nil {
		return wrapf(t.Tag(), "listen %s: %w", t.addr, err)
	}
	t.listener = ln
	go t.acceptLoop(ctx)
	return nil
}

func (t *TCP) acceptLoop(ctx context.Context) {
	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return
		}

		t.mu.Lock()
		t.nextID++
		peerID := fmt.Sprintf("tcp-%d", t.nextID)
		t.conns[peerID] = conn
		t.mu.Unlock()

		if t.onConnect != nil {
			t.onConnect(peerID)
		}
		go t.readConn(ctx, peerID, conn)
	}
}

func (t *TCP) readConn(ctx context.Context, peerID string, conn net.Conn) {
	lr := newLineReader(conn, t.opts.Delimiter, t.opts.BufferSize, t.opts.MaxMessageSize)
	for {
		select {
		case <-t.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := lr.ReadFrame()
		if err != nil {
			t.removePeer(peerID)
			return
		}
		if len(frame) == 0 {
			continue
		}
		if t.onInbound != nil {
			t.onInbound(DeliveryMeta{Tag: t.Tag(), PeerID: peerID}, frame)
		}
	}
}

func (t *TCP) removePeer(peerID string) {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	if ok {
		delete(t.conns, peerID)
	}
	t.mu.Unlock()

	if ok {
		conn.Close()
		if t.onDisconn != nil {
			t.onDisconn(peerID)
		}
	}
}

func (t *TCP) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	select {
	case <-t.stopped:
	default:
		close(t.stopped)
	}
	if t.listener != nil {
		t.listener.Close()
	}
	conns := make([]net.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.conns = make(map[string]net.Conn)
	t.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

func (t *TCP) Send(peerID string, b []byte) error {
	t.mu.Lock()
	conn, ok := t.conns[peerID]
	t.mu.Unlock()
	if !ok {
		return ErrPeerNotConnected
	}
	if err := writeFrame(conn, b, t.opts.Delimiter); err != nil {
		t.removePeer(peerID)
		return err
	}
	return nil
}

func (t *TCP) OnInbound(fn InboundFunc)        { t.onInbound = fn }
func (t *TCP) OnConnect(fn func(peerID string)) { t.onConnect = fn }
func (t *TCP) OnDisconnect(fn func(string))     { t.onDisconn = fn }
