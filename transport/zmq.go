package transport

import (
	"context"
	"sync"

	zmq4 "github.com/luxfi/zmq/v4"
)

// ZMQSocketMode selects which ZeroMQ socket pattern this adaptor instance
// speaks, per spec §4.2 ("socket type is configured per peer").
type ZMQSocketMode int

const (
	// RouterDealer carries Command/Response traffic: the server binds a
	// ROUTER, each client dials a DEALER whose identity is its peer id.
	RouterDealer ZMQSocketMode = iota
	// PubSub carries Event fan-out: the server binds a PUB, clients dial SUB.
	PubSub
)

// ZMQ adapts ZeroMQ REQ/REP-style (via ROUTER/DEALER) and PUB/SUB sockets
// onto the Transport interface. PUSH/PULL fire-and-forget is obtained by
// running two PubSub-less RouterDealer transports and only ever publishing,
// never waiting on a reply, at the session layer.
type ZMQ struct {
	opts Options
	mode ZMQSocketMode
	addr string // bind address (server) or connect address (client)
	peerID string // RoleClient only: this peer's identity

	mu        sync.Mutex
	started   bool
	router    zmq4.Socket
	pub       zmq4.Socket
	sub       zmq4.Socket
	dealer    zmq4.Socket
	dealers   map[string]zmq4.Socket // server-side Send() fan-out by identity
	onInbound InboundFunc
	onConnect func(string)
	onDisconn func(string)
	cancel    context.CancelFunc
}

// NewZMQ builds a ZeroMQ adaptor. addr is the bind/connect endpoint
// ("tcp://127.0.0.1:5555"); peerID is only meaningful in RoleClient.
func NewZMQ(mode ZMQSocketMode, addr, peerID string, opts Options) *ZMQ {
	return &ZMQ{
		opts:    opts,
		mode:    mode,
		addr:    addr,
		peerID:  peerID,
		dealers: make(map[string]zmq4.Socket),
	}
}

func (z *ZMQ) Tag() string {
	if z.mode == PubSub {
		return "zmq-pubsub"
	}
	return "zmq-routerdealer"
}

func (z *ZMQ) Start(ctx context.Context) error {
	if err := z.opts.Validate(); err != nil {
		return err
	}
	z.mu.Lock()
	if z.started {
		z.mu.Unlock()
		return nil
	}
	z.started = true
	zctx, cancel := context.WithCancel(ctx)
	z.cancel = cancel
	z.mu.Unlock()

	switch z.mode {
	case PubSub:
		if z.opts.Role == RoleServer {
			z.pub = zmq4.NewPub(zctx)
			if err := z.pub.Listen(z.addr); err != nil {
				return wrapf(z.Tag(), "pub listen %s: %w", z.addr, err)
			}
			return nil
		}
		z.sub = zmq4.NewSub(zctx)
		if err := z.sub.SetOption(zmq4.OptionSubscribe, ""); err != nil {
			return wrapf(z.Tag(), "sub subscribe: %w", err)
		}
		if err := z.sub.Dial(z.addr); err != nil {
			return wrapf(z.Tag(), "sub dial %s: %w", z.addr, err)
		}
		if z.onConnect != nil {
			z.onConnect(z.peerID)
		}
		go z.subLoop(zctx)
		return nil

	default: // RouterDealer
		if z.opts.Role == RoleServer {
			z.router = zmq4.NewRouter(zctx)
			if err := z.router.Listen(z.addr); err != nil {
				return wrapf(z.Tag(), "router listen %s: %w", z.addr, err)
			}
			go z.routerLoop(zctx)
			return nil
		}
		z.dealer = zmq4.NewDealer(zctx, zmq4.WithID(zmq4.SocketIdentity(z.peerID)))
		if err := z.dealer.Dial(z.addr); err != nil {
			return wrapf(z.Tag(), "dealer dial %s: %w", z.addr, err)
		}
		if z.onConnect != nil {
			z.onConnect(z.peerID)
		}
		go z.dealerLoop(zctx)
		return nil
	}
}

func (z *ZMQ) subLoop(ctx context.Context) {
	for {
		msg, err := z.sub.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		if z.onInbound != nil {
			z.onInbound(DeliveryMeta{Tag: z.Tag(), PeerID: z.peerID}, msg.Bytes())
		}
	}
}

func (z *ZMQ) routerLoop(ctx context.Context) {
	for {
		msg, err := z.router.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		if len(msg.Frames) < 2 {
			continue
		}
		identity := string(msg.Frames[0])
		payload := msg.Frames[len(msg.Frames)-1]

		z.mu.Lock()
		_, known := z.dealers[identity]
		z.mu.Unlock()
		if !known {
			z.mu.Lock()
			z.dealers[identity] = nil // tracked for presence only; replies route via ROUTER identity frame
			z.mu.Unlock()
			if z.onConnect != nil {
				z.onConnect(identity)
			}
		}

		if z.onInbound != nil {
			z.onInbound(DeliveryMeta{Tag: z.Tag(), PeerID: identity}, payload)
		}
	}
}

func (z *ZMQ) dealerLoop(ctx context.Context) {
	for {
		msg, err := z.dealer.Recv()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		if z.onInbound != nil {
			z.onInbound(DeliveryMeta{Tag: z.Tag(), PeerID: z.peerID}, msg.Bytes())
		}
	}
}

func (z *ZMQ) Stop(ctx context.Context) error {
	z.mu.Lock()
	if !z.started {
		z.mu.Unlock()
		return nil
	}
	z.started = false
	if z.cancel != nil {
		z.cancel()
	}
	sockets := []zmq4.Socket{z.router, z.pub, z.sub, z.dealer}
	z.mu.Unlock()

	for _, s := range sockets {
		if s != nil {
			s.Close()
		}
	}
	return nil
}

func (z *ZMQ) Send(peerID string, b []byte) error {
	switch z.mode {
	case PubSub:
		if z.pub == nil {
			return ErrNotStarted
		}
		return z.pub.Send(zmq4.NewMsg(b))
	default:
		if z.opts.Role == RoleServer {
			if z.router == nil {
				return ErrNotStarted
			}
			return z.router.Send(zmq4.NewMsgFrom([]byte(peerID), b))
		}
		if z.dealer == nil {
			return ErrNotStarted
		}
		return z.dealer.Send(zmq4.NewMsg(b))
	}
}

func (z *ZMQ) OnInbound(fn InboundFunc)        { z.onInbound = fn }
func (z *ZMQ) OnConnect(fn func(peerID string)) { z.onConnect = fn }
func (z *ZMQ) OnDisconnect(fn func(string))     { z.onDisconn = fn }
