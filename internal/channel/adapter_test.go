package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/latticehq/lattice/backend/internal/infrastructure/config"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// fakeTransport records host → sandbox sends and lets tests inject
// sandbox → host messages.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []Message
	inbound func(Message)
	closed  bool
}

func (f *fakeTransport) Send(msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) OnMessage(fn func(Message)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbound = fn
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) inject(msg Message) {
	f.mu.Lock()
	fn := f.inbound
	f.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}

func (f *fakeTransport) sentOfType(msgType string) []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Message
	for _, m := range f.sent {
		if m.Type == msgType {
			out = append(out, m)
		}
	}
	return out
}

func fastHandshake() config.HandshakeConfig {
	return config.HandshakeConfig{
		ReadyTimeout:  20 * time.Millisecond,
		RetryInterval: 20 * time.Millisecond,
		MaxRetries:    3,
		BufferCap:     4,
	}
}

func TestHandshakeCompletesOnReady(t *testing.T) {
	ft := &fakeTransport{}
	readyCh := make(chan string, 1)

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnReady: func(instanceID string) { readyCh <- instanceID },
	}, logging.NewNop())

	require.NoError(t, a.Open())
	ft.inject(Message{Type: MessageReady})

	select {
	case got := <-readyCh:
		assert.Equal(t, "wdg-1", got)
	case <-time.After(time.Second):
		t.Fatal("OnReady never fired")
	}
	assert.True(t, a.Ready())
}

func TestHandshakeFailsAfterExactlyMaxRetries(t *testing.T) {
	ft := &fakeTransport{}
	failedCh := make(chan string, 1)

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnFailed: func(_, reason string) { failedCh <- reason },
	}, logging.NewNop())

	require.NoError(t, a.Open())

	select {
	case <-failedCh:
	case <-time.After(2 * time.Second):
		t.Fatal("OnFailed never fired")
	}

	// One initial mount plus exactly three retries, never more.
	mounts := ft.sentOfType(MessageMount)
	assert.Len(t, mounts, 4)
	assert.False(t, a.Ready())
}

func TestLateReadyAfterFailureIsIgnored(t *testing.T) {
	ft := &fakeTransport{}
	var readyFired bool
	failedCh := make(chan struct{}, 1)

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnReady:  func(string) { readyFired = true },
		OnFailed: func(string, string) { failedCh <- struct{}{} },
	}, logging.NewNop())

	require.NoError(t, a.Open())
	<-failedCh

	ft.inject(Message{Type: MessageReady})
	assert.False(t, readyFired, "READY after FAILED must be ignored")
}

func TestDeliveriesBufferedUntilReady(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{}, logging.NewNop())
	require.NoError(t, a.Open())

	code, err := a.Deliver(types.PortPayload{PortID: "in", Value: "hello"})
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryBuffered, code)
	assert.Empty(t, ft.sentOfType(MessageEvent), "nothing crosses before READY")

	ft.inject(Message{Type: MessageReady})

	events := ft.sentOfType(MessageEvent)
	require.Len(t, events, 1, "buffer must flush on READY")

	payload, err := DecodePortPayload(events[0])
	require.NoError(t, err)
	assert.Equal(t, "in", payload.PortID)
	assert.Equal(t, "hello", payload.Value)
}

func TestBufferEvictsOldestPastCap(t *testing.T) {
	ft := &fakeTransport{}
	cfg := fastHandshake()
	cfg.BufferCap = 2
	a := NewAdapter("wdg-1", ft, cfg, Callbacks{}, logging.NewNop())
	require.NoError(t, a.Open())

	for _, v := range []string{"a", "b", "c"} {
		_, err := a.Deliver(types.PortPayload{PortID: "in", Value: v})
		require.NoError(t, err)
	}

	ft.inject(Message{Type: MessageReady})

	events := ft.sentOfType(MessageEvent)
	require.Len(t, events, 2, "oldest delivery beyond the cap is dropped")

	var values []interface{}
	for _, e := range events {
		p, err := DecodePortPayload(e)
		require.NoError(t, err)
		values = append(values, p.Value)
	}
	assert.Equal(t, []interface{}{"b", "c"}, values)
}

func TestDeliverAfterReadySendsDirectly(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{}, logging.NewNop())
	require.NoError(t, a.Open())
	ft.inject(Message{Type: MessageReady})

	code, err := a.Deliver(types.PortPayload{PortID: "in", Value: float64(42)})
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryOK, code)
	assert.Len(t, ft.sentOfType(MessageEvent), 1)
}

func TestSuspendBuffersResumeFlushes(t *testing.T) {
	ft := &fakeTransport{}
	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{}, logging.NewNop())
	require.NoError(t, a.Open())
	ft.inject(Message{Type: MessageReady})

	a.Suspend()
	code, err := a.Deliver(types.PortPayload{PortID: "in", Value: "held"})
	require.NoError(t, err)
	assert.Equal(t, types.DeliveryBuffered, code)
	assert.Empty(t, ft.sentOfType(MessageEvent))

	a.Resume()
	assert.Len(t, ft.sentOfType(MessageEvent), 1)
}

func TestEmitNormalizedThroughCallback(t *testing.T) {
	ft := &fakeTransport{}
	type emitted struct {
		instanceID, portID string
		value              interface{}
	}
	var got []emitted

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnEmit: func(instanceID, portID string, value interface{}, _ int) {
			got = append(got, emitted{instanceID, portID, value})
		},
	}, logging.NewNop())
	require.NoError(t, a.Open())
	ft.inject(Message{Type: MessageReady})

	msg, err := EncodeMessage(MessageEmit, types.PortPayload{
		PortID: "clicked",
		Value:  map[string]interface{}{"ts": float64(123)},
	})
	require.NoError(t, err)
	ft.inject(msg)

	require.Len(t, got, 1)
	assert.Equal(t, "wdg-1", got[0].instanceID)
	assert.Equal(t, "clicked", got[0].portID)
	assert.Equal(t, map[string]interface{}{"ts": float64(123)}, got[0].value)
}

func TestEmitEchoesDeliveryChainDepth(t *testing.T) {
	ft := &fakeTransport{}
	var depths []int

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnEmit: func(_, _ string, _ interface{}, depth int) {
			depths = append(depths, depth)
		},
	}, logging.NewNop())
	require.NoError(t, a.Open())
	ft.inject(Message{Type: MessageReady})

	emit, err := EncodeMessage(MessageEmit, types.PortPayload{PortID: "out", Value: "v"})
	require.NoError(t, err)

	// Before any delivery the widget's output starts a fresh chain.
	ft.inject(emit)

	// After a delivery stamped three hops deep, the provoked emission
	// must carry the same stamp even though it arrives on the inbound
	// path, not the delivering call stack.
	_, err = a.Deliver(types.PortPayload{PortID: "in", Value: "x", Depth: 3})
	require.NoError(t, err)
	ft.inject(emit)

	require.Equal(t, []int{0, 3}, depths)
}

func TestMalformedEmitReportedNotThrown(t *testing.T) {
	ft := &fakeTransport{}
	var protocolErrors []string

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnProtocolError: func(_, detail string) {
			protocolErrors = append(protocolErrors, detail)
		},
	}, logging.NewNop())
	require.NoError(t, a.Open())
	ft.inject(Message{Type: MessageReady})

	ft.inject(Message{Type: MessageEmit, Payload: []byte(`{"value": 1}`)}) // missing portId
	ft.inject(Message{Type: "telemetry"})                                 // unknown type

	assert.Len(t, protocolErrors, 2)
}

func TestCloseDiscardsBufferAndCancelsHandshake(t *testing.T) {
	ft := &fakeTransport{}
	var failed bool

	a := NewAdapter("wdg-1", ft, fastHandshake(), Callbacks{
		OnFailed: func(string, string) { failed = true },
	}, logging.NewNop())
	require.NoError(t, a.Open())

	_, err := a.Deliver(types.PortPayload{PortID: "in", Value: "x"})
	require.NoError(t, err)

	require.NoError(t, a.Close())

	// The watchdog is cancelled: no failure report after the retry
	// window would have elapsed.
	time.Sleep(150 * time.Millisecond)
	assert.False(t, failed)
	assert.True(t, ft.closed)

	_, err = a.Deliver(types.PortPayload{PortID: "in", Value: "y"})
	assert.ErrorIs(t, err, ErrClosed)
}
