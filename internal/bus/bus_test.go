package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

func newTestBus() *Bus {
	return New("ctx-local", logging.NewNop())
}

func TestEmitDispatchesToMatchingSubscriber(t *testing.T) {
	b := newTestBus()

	var got []types.Event
	b.On(types.ScopeWidget, "color.changed", func(ev types.Event) {
		got = append(got, ev)
	})

	ok := b.Emit(types.Event{Type: "color.changed", Scope: types.ScopeWidget, Payload: "red"})

	assert.True(t, ok)
	assert.Len(t, got, 1)
	assert.Equal(t, "red", got[0].Payload)
	assert.False(t, got[0].Timestamp.IsZero(), "emit should stamp a timestamp")
}

func TestEmitScopeIsolation(t *testing.T) {
	b := newTestBus()

	widgetCalls := 0
	canvasCalls := 0
	b.On(types.ScopeWidget, "ping", func(types.Event) { widgetCalls++ })
	b.On(types.ScopeCanvas, "ping", func(types.Event) { canvasCalls++ })

	b.Emit(types.Event{Type: "ping", Scope: types.ScopeCanvas})

	assert.Equal(t, 0, widgetCalls)
	assert.Equal(t, 1, canvasCalls)
}

func TestWildcardSubscription(t *testing.T) {
	b := newTestBus()

	var seen []string
	b.On(types.ScopeCanvas, types.EventTypeWildcard, func(ev types.Event) {
		seen = append(seen, ev.Type)
	})

	b.Emit(types.Event{Type: "a", Scope: types.ScopeCanvas})
	b.Emit(types.Event{Type: "b", Scope: types.ScopeCanvas})
	b.Emit(types.Event{Type: "c", Scope: types.ScopeWidget})

	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestHandlersFireInSubscriptionOrder(t *testing.T) {
	b := newTestBus()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		b.On(types.ScopeSystem, "tick", func(types.Event) {
			order = append(order, i)
		})
	}

	b.Emit(types.Event{Type: "tick", Scope: types.ScopeSystem})

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestUnsubscribe(t *testing.T) {
	b := newTestBus()

	calls := 0
	unsub := b.On(types.ScopeWidget, "x", func(types.Event) { calls++ })

	b.Emit(types.Event{Type: "x", Scope: types.ScopeWidget})
	unsub()
	b.Emit(types.Event{Type: "x", Scope: types.ScopeWidget})
	unsub() // double-unsubscribe is a no-op

	assert.Equal(t, 1, calls)
}

func TestLocalEventsExemptFromLoopChecks(t *testing.T) {
	b := newTestBus()

	calls := 0
	b.On(types.ScopeWidget, "local", func(types.Event) { calls++ })

	// No metadata: emit twice, both dispatch.
	b.Emit(types.Event{Type: "local", Scope: types.ScopeWidget})
	b.Emit(types.Event{Type: "local", Scope: types.ScopeWidget})

	assert.Equal(t, 2, calls)
}

func TestEmitDropsWhenHopCountExceeded(t *testing.T) {
	b := newTestBus()

	calls := 0
	b.On(types.ScopeGlobal, "sync", func(types.Event) { calls++ })

	ok := b.Emit(types.Event{
		Type:  "sync",
		Scope: types.ScopeGlobal,
		Metadata: &types.EventMetadata{
			EventID:  "evt-1",
			HopCount: types.MaxHops + 1,
		},
	})

	assert.False(t, ok)
	assert.Equal(t, 0, calls)
}

func TestEmitDropsWhenAlreadySeen(t *testing.T) {
	b := newTestBus()

	calls := 0
	b.On(types.ScopeGlobal, "sync", func(types.Event) { calls++ })

	ok := b.Emit(types.Event{
		Type:  "sync",
		Scope: types.ScopeGlobal,
		Metadata: &types.EventMetadata{
			EventID: "evt-2",
			SeenBy:  []string{"ctx-local"},
		},
	})

	assert.False(t, ok)
	assert.Equal(t, 0, calls)
}

func TestEmitMarksLocalContextSeen(t *testing.T) {
	b := newTestBus()

	md := &types.EventMetadata{EventID: "evt-3", OriginContextID: "ctx-remote", SeenBy: []string{"ctx-remote"}}
	ok := b.Emit(types.Event{Type: "sync", Scope: types.ScopeGlobal, Metadata: md})

	assert.True(t, ok)
	assert.True(t, md.Seen("ctx-local"), "local context must be in seenBy after processing")

	// Idempotence: re-delivering the same event is a no-op here.
	assert.False(t, b.Emit(types.Event{Type: "sync", Scope: types.ScopeGlobal, Metadata: md}))
}

func TestReentrantEmitFromHandler(t *testing.T) {
	b := newTestBus()

	var order []string
	b.On(types.ScopeWidget, "first", func(types.Event) {
		order = append(order, "first")
		b.Emit(types.Event{Type: "second", Scope: types.ScopeWidget})
	})
	b.On(types.ScopeWidget, "second", func(types.Event) {
		order = append(order, "second")
	})

	b.Emit(types.Event{Type: "first", Scope: types.ScopeWidget})

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestSubscriberCount(t *testing.T) {
	b := newTestBus()

	b.On(types.ScopeCanvas, "t", func(types.Event) {})
	b.On(types.ScopeCanvas, types.EventTypeWildcard, func(types.Event) {})

	assert.Equal(t, 2, b.SubscriberCount(types.ScopeCanvas, "t"))
	assert.Equal(t, 1, b.SubscriberCount(types.ScopeCanvas, "other"))
}
