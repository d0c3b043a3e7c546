package transport

import (
	"context"
	"io"
	"sync"
)

// Stdio is the simplest adaptor: one peer, line-delimited JSON read from an
// io.Reader and written to an io.Writer (os.Stdin/os.Stdout in production,
// pipes in tests). It only ever has a single peer, conventionally named
// "stdio".
type Stdio struct {
	opts   Options
	in     io.Reader
	out    io.Writer
	peerID string

	mu         sync.Mutex
	started    bool
	stopped    chan struct{}
	onInbound  InboundFunc
	onConnect  func(string)
	onDisconn  func(string)
}

// NewStdio builds a Stdio adaptor reading from in and writing to out.
func NewStdio(peerID string, in io.Reader, out io.Writer, opts Options) *Stdio {
	return &Stdio{opts: opts, in: in, out: out, peerID: peerID}
}

func (s *Stdio) Tag() string { return "stdio" }

func (s *Stdio) Start(ctx context.Context) error {
	if err := s.opts.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.stopped = make(chan struct{})
	s.mu.Unlock()

	if s.onConnect != nil {
		s.onConnect(s.peerID)
	}

	go s.readLoop(ctx)
	return nil
}

func (s *Stdio) readLoop(ctx context.Context) {
	lr := newLineReader(s.in, s.opts.Delimiter, s.opts.BufferSize, s.opts.MaxMessageSize)
	for {
		select {
		case <-s.stopped:
			return
		case <-ctx.Done():
			return
		default:
		}

		frame, err := lr.ReadFrame()
		if err != nil {
			if s.onDisconn != nil {
				s.onDisconn(s.peerID)
			}
			return
		}
		if len(frame) == 0 {
			continue
		}
		if s.onInbound != nil {
			s.onInbound(DeliveryMeta{Tag: s.Tag(), PeerID: s.peerID}, frame)
		}
	}
}

func (s *Stdio) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	select {
	case <-s.stopped:
	default:
		close(s.stopped)
	}
	s.started = false
	return nil
}

func (s *Stdio) Send(peerID string, b []byte) error {
	if peerID != s.peerID {
		return ErrPeerNotConnected
	}
	return writeFrame(s.out, b, s.opts.Delimiter)
}

func (s *Stdio) OnInbound(fn InboundFunc)        { s.onInbound = fn }
func (s *Stdio) OnConnect(fn func(peerID string)) { s.onConnect = fn }
func (s *Stdio) OnDisconnect(fn func(string))     { s.onDisconn = fn }
