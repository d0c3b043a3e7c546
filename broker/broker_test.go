package broker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/astrocomm/auth"
	"github.com/rustyeddy/astrocomm/broker"
	"github.com/rustyeddy/astrocomm/envelope"
	"github.com/rustyeddy/astrocomm/transport"
)

// fakeTransport is a single-tag in-memory Transport double that lets tests
// drive connect/disconnect/inbound events and inspect what was sent to
// each peer.
type fakeTransport struct {
	tag string

	mu        sync.Mutex
	sent      map[string][][]byte
	onInbound transport.InboundFunc
	onConnect func(string)
	onDisconn func(string)
}

func newFakeTransport(tag string) *fakeTransport {
	return &fakeTransport{tag: tag, sent: make(map[string][][]byte)}
}

func (f *fakeTransport) Tag() string                        { return f.tag }
func (f *fakeTransport) Start(ctx context.Context) error     { return nil }
func (f *fakeTransport) Stop(ctx context.Context) error      { return nil }
func (f *fakeTransport) OnInbound(fn transport.InboundFunc)  { f.onInbound = fn }
func (f *fakeTransport) OnConnect(fn func(string))           { f.onConnect = fn }
func (f *fakeTransport) OnDisconnect(fn func(string))        { f.onDisconn = fn }

func (f *fakeTransport) Send(peerID string, b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[peerID] = append(f.sent[peerID], b)
	return nil
}

func (f *fakeTransport) connect(peerID string)    { f.onConnect(peerID) }
func (f *fakeTransport) disconnect(peerID string) { f.onDisconn(peerID) }
func (f *fakeTransport) deliver(peerID string, b []byte) {
	f.onInbound(transport.DeliveryMeta{Tag: f.tag, PeerID: peerID}, b)
}

func (f *fakeTransport) lastSentTo(peerID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.sent[peerID]
	if len(msgs) == 0 {
		return nil
	}
	return msgs[len(msgs)-1]
}

func (f *fakeTransport) countSentTo(peerID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[peerID])
}

func TestConnectCreatesASessionAndDisconnectTearsItDown(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil, nil, nil)
	tr := newFakeTransport("fake")
	b.AddTransport("fake", tr)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	tr.connect("dome-1")
	require.Eventually(t, func() bool { return b.SessionCount() == 1 }, time.Second, time.Millisecond)

	tr.disconnect("dome-1")
	require.Eventually(t, func() bool { return b.SessionCount() == 0 }, time.Second, time.Millisecond)
}

func TestEndToEndRegistrationCommandResponse(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil, nil, nil)
	tr := newFakeTransport("fake")
	b.AddTransport("fake", tr)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	tr.connect("dome-1")
	tr.connect("client-1")

	reg, err := envelope.Encode(&envelope.Envelope{
		MessageType: envelope.Registration,
		MessageID:   envelope.NewMessageID(),
		Timestamp:   time.Now().UTC(),
		DeviceInfo:  &envelope.DeviceInfo{ID: "dome-1", Type: "dome"},
	})
	require.NoError(t, err)
	tr.deliver("dome-1", reg)

	cmdID := envelope.NewMessageID()
	cmd, err := envelope.Encode(&envelope.Envelope{
		MessageType: envelope.Command,
		MessageID:   cmdID,
		Timestamp:   time.Now().UTC(),
		DeviceID:    "dome-1",
		Command:     "open",
	})
	require.NoError(t, err)
	tr.deliver("client-1", cmd)

	require.Eventually(t, func() bool { return tr.countSentTo("dome-1") == 1 }, time.Second, time.Millisecond)
	delivered, err := envelope.Decode(tr.lastSentTo("dome-1"))
	require.NoError(t, err)
	assert.Equal(t, "open", delivered.Command)

	resp, err := envelope.Encode(&envelope.Envelope{
		MessageType:       envelope.Response,
		MessageID:         envelope.NewMessageID(),
		Timestamp:         time.Now().UTC(),
		DeviceID:          "dome-1",
		OriginalMessageID: cmdID,
		Status:            "ok",
	})
	require.NoError(t, err)
	tr.deliver("dome-1", resp)

	require.Eventually(t, func() bool { return tr.countSentTo("client-1") == 1 }, time.Second, time.Millisecond)
	got, err := envelope.Decode(tr.lastSentTo("client-1"))
	require.NoError(t, err)
	assert.Equal(t, cmdID, got.OriginalMessageID)
}

func TestBadCredentialsAreRejectedWithUnauthenticatedError(t *testing.T) {
	// A broker given an authenticator with one user answers an
	// Authentication envelope carrying a wrong password with UNAUTHENTICATED.
	a := auth.New(auth.DefaultConfig())
	a.AddUser("operator", "s3cret")
	b := broker.New(broker.DefaultConfig(), nil, nil, a)
	tr := newFakeTransport("fake")
	b.AddTransport("fake", tr)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	tr.connect("client-1")
	bad, err := envelope.Encode(&envelope.Envelope{
		MessageType: envelope.Authentication,
		MessageID:   envelope.NewMessageID(),
		Timestamp:   time.Now().UTC(),
		Method:      auth.MethodBasic,
		Credentials: "operator:wrong",
	})
	require.NoError(t, err)
	tr.deliver("client-1", bad)

	require.Eventually(t, func() bool { return tr.countSentTo("client-1") == 1 }, time.Second, time.Millisecond)
	got, err := envelope.Decode(tr.lastSentTo("client-1"))
	require.NoError(t, err)
	assert.Equal(t, envelope.ErrUnauthenticated, got.ErrorCode)
}

func TestTrafficStatsAggregatesSessionsAndErrors(t *testing.T) {
	b := broker.New(broker.DefaultConfig(), nil, nil, nil)
	tr := newFakeTransport("fake")
	b.AddTransport("fake", tr)
	require.NoError(t, b.Start(context.Background()))
	defer b.Stop(time.Second)

	before := b.TrafficStats()

	tr.connect("dome-1")
	reg, err := envelope.Encode(&envelope.Envelope{
		MessageType: envelope.Registration,
		MessageID:   envelope.NewMessageID(),
		Timestamp:   time.Now().UTC(),
		DeviceID:    "dome-1",
		DeviceInfo:  &envelope.DeviceInfo{Type: "dome"},
	})
	require.NoError(t, err)
	tr.deliver("dome-1", reg)
	require.Eventually(t, func() bool { return b.TrafficStats().MessagesReceived > before.MessagesReceived }, time.Second, time.Millisecond)

	b.Metrics.RecordError()
	assert.Greater(t, b.TrafficStats().ErrorCount, before.ErrorCount)
}
