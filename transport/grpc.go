package transport

import (
	"context"
	"io"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rustyeddy/astrocomm/transport/astrocommpb"
)

// GRPC adapts astrocomm's Broker gRPC service onto the Transport interface.
// Both roles ride the bidirectional Bridge RPC so that a single connection
// behaves like the duplex streams the other adaptors already expose;
// Command and Subscribe also exist on the wire for external gRPC clients
// that do not run a full bridge. Command hands its frame to the inbound
// callback as peer "grpc-unary" and returns an empty frame; it does not
// return a correlated Response.
type GRPC struct {
	opts Options
	addr string // listen address (server) or dial target (client)

	mu        sync.Mutex
	started   bool
	server    *grpc.Server
	conn      *grpc.ClientConn
	streams   map[string]frameSender // peerID -> whatever can push a Frame out
	cancel    context.CancelFunc
	onInbound InboundFunc
	onConnect func(string)
	onDisconn func(string)
}

// frameSender is the common surface of a Bridge stream, a Subscribe stream,
// and the client-side bridge handle: enough to push an outbound Frame.
type frameSender interface {
	Send(*astrocommpb.Frame) error
}

// NewGRPC builds a gRPC adaptor bound to addr.
func NewGRPC(addr string, opts Options) *GRPC {
	return &GRPC{opts: opts, addr: addr, streams: make(map[string]frameSender)}
}

func (g *GRPC) Tag() string { return "grpc" }

func (g *GRPC) Start(ctx context.Context) error {
	if err := g.opts.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = true
	gctx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.mu.Unlock()

	if g.opts.Role == RoleServer {
		return g.startServer()
	}
	return g.startClient(gctx)
}

func (g *GRPC) startServer() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return wrapf(g.Tag(), "listen %s: %w", g.addr, err)
	}
	srv := grpc.NewServer(grpc.ForceServerCodec(astrocommpb.Codec{}))
	astrocommpb.RegisterBrokerServer(srv, &brokerService{g: g})
	g.mu.Lock()
	g.server = srv
	g.mu.Unlock()

	go func() {
		_ = srv.Serve(lis)
	}()
	return nil
}

func (g *GRPC) startClient(ctx context.Context) error {
	conn, err := grpc.NewClient(g.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return wrapf(g.Tag(), "dial %s: %w", g.addr, err)
	}
	g.mu.Lock()
	g.conn = conn
	g.mu.Unlock()

	client := astrocommpb.NewBrokerClient(conn)
	stream, err := client.Bridge(ctx, grpc.CallContentSubtype(astrocommpb.Name))
	if err != nil {
		return wrapf(g.Tag(), "bridge: %w", err)
	}
	peerID := g.opts.EndpointName
	g.mu.Lock()
	g.streams[peerID] = stream
	g.mu.Unlock()
	if g.onConnect != nil {
		g.onConnect(peerID)
	}
	go g.recvLoop(peerID, stream)
	return nil
}

func (g *GRPC) recvLoop(peerID string, stream interface {
	Recv() (*astrocommpb.Frame, error)
}) {
	for {
		f, err := stream.Recv()
		if err != nil {
			g.mu.Lock()
			delete(g.streams, peerID)
			g.mu.Unlock()
			if g.onDisconn != nil {
				g.onDisconn(peerID)
			}
			return
		}
		if g.onInbound != nil {
			g.onInbound(DeliveryMeta{Tag: g.Tag(), PeerID: peerID}, f.Payload)
		}
	}
}

func (g *GRPC) Stop(ctx context.Context) error {
	g.mu.Lock()
	if !g.started {
		g.mu.Unlock()
		return nil
	}
	g.started = false
	if g.cancel != nil {
		g.cancel()
	}
	srv := g.server
	conn := g.conn
	g.mu.Unlock()

	if srv != nil {
		srv.GracefulStop()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

func (g *GRPC) Send(peerID string, b []byte) error {
	g.mu.Lock()
	stream, ok := g.streams[peerID]
	g.mu.Unlock()
	if !ok {
		return ErrPeerNotConnected
	}
	return stream.Send(&astrocommpb.Frame{Payload: b})
}

func (g *GRPC) OnInbound(fn InboundFunc)        { g.onInbound = fn }
func (g *GRPC) OnConnect(fn func(peerID string)) { g.onConnect = fn }
func (g *GRPC) OnDisconnect(fn func(string))     { g.onDisconn = fn }

// brokerService implements astrocommpb.BrokerServer on top of a GRPC adaptor.
type brokerService struct {
	g *GRPC
}

func (b *brokerService) Command(ctx context.Context, in *astrocommpb.Frame) (*astrocommpb.Frame, error) {
	// Unary Command/Response is served by peers that reply inline; the
	// generic duplex adaptor doesn't correlate a response here, so this
	// surface is left for future per-RPC session wiring (spec §9 open
	// question on unary vs. bridged delivery) and currently echoes nothing.
	if b.g.onInbound != nil {
		b.g.onInbound(DeliveryMeta{Tag: b.g.Tag(), PeerID: "grpc-unary"}, in.Payload)
	}
	return &astrocommpb.Frame{}, nil
}

func (b *brokerService) Subscribe(in *astrocommpb.Frame, stream astrocommpb.Broker_SubscribeServer) error {
	peerID := string(in.Payload)
	ch := make(chan []byte, b.g.opts.BufferSize)
	sub := &subscriberSink{ch: ch}

	b.g.mu.Lock()
	b.g.streams[peerID] = sub
	b.g.mu.Unlock()
	if b.g.onConnect != nil {
		b.g.onConnect(peerID)
	}
	defer func() {
		b.g.mu.Lock()
		delete(b.g.streams, peerID)
		b.g.mu.Unlock()
		if b.g.onDisconn != nil {
			b.g.onDisconn(peerID)
		}
	}()

	for payload := range ch {
		if err := stream.Send(&astrocommpb.Frame{Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

func (b *brokerService) Bridge(stream astrocommpb.Broker_BridgeServer) error {
	f, err := stream.Recv()
	if err != nil {
		return err
	}
	peerID := string(f.Payload)

	b.g.mu.Lock()
	b.g.streams[peerID] = stream
	b.g.mu.Unlock()
	if b.g.onConnect != nil {
		b.g.onConnect(peerID)
	}
	defer func() {
		b.g.mu.Lock()
		delete(b.g.streams, peerID)
		b.g.mu.Unlock()
		if b.g.onDisconn != nil {
			b.g.onDisconn(peerID)
		}
	}()

	for {
		f, err := stream.Recv()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if b.g.onInbound != nil {
			b.g.onInbound(DeliveryMeta{Tag: b.g.Tag(), PeerID: peerID}, f.Payload)
		}
	}
}

// subscriberSink lets Send() push onto a server-streaming Subscribe call
// using the same map type (streams) that holds Bridge streams.
type subscriberSink struct {
	ch chan []byte
}

func (s *subscriberSink) Send(f *astrocommpb.Frame) error {
	s.ch <- f.Payload
	return nil
}
