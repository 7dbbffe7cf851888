package router

import (
	"testing"
	"time"

	"github.com/latticehq/lattice/backend/internal/pipeline"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

type inputDelivery struct {
	instanceID string
	payload    types.PortPayload
}

type fakeResolver struct {
	mounted   map[string]string // widget id -> instance id
	delivered []inputDelivery
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{mounted: make(map[string]string)}
}

func (f *fakeResolver) InstanceOf(widgetID string) (string, bool) {
	instanceID, ok := f.mounted[widgetID]
	return instanceID, ok
}

func (f *fakeResolver) WidgetOf(instanceID string) (string, bool) {
	for widgetID, iid := range f.mounted {
		if iid == instanceID {
			return widgetID, true
		}
	}
	return "", false
}

func (f *fakeResolver) DeliverInput(instanceID string, payload types.PortPayload) (types.DeliveryCode, error) {
	f.delivered = append(f.delivered, inputDelivery{instanceID, payload})
	return types.DeliveryOK, nil
}

func emitOutput(b interface {
	Emit(ev types.Event) bool
}, instanceID, portID string, value interface{}) {
	b.Emit(types.Event{
		Type:             pipeline.EventTypePortOutput,
		Scope:            types.ScopeCanvas,
		Payload:          types.PortPayload{PortID: portID, Value: value},
		SourceInstanceID: instanceID,
		Timestamp:        time.Now(),
	})
}

func TestRouteForwardsLocalOutputAcrossScopes(t *testing.T) {
	tr := &fakeTransport{}
	r, b := newTestRouter("scope-a", "ctx-a", tr)
	r.HandleAnnounce("scope-b")

	resolver := newFakeResolver()
	resolver.mounted["btn"] = "inst-btn"
	table := NewRouteTable(r, resolver)

	if _, err := table.AddRoute(
		"scope-a", types.ScopePortRef{WidgetID: "btn", PortID: "clicked"},
		"scope-b", types.ScopePortRef{WidgetID: "card", PortID: "userId"},
		false,
	); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	emitOutput(b, "inst-btn", "clicked", map[string]interface{}{"ts": float64(123)})

	wire := tr.lastSent(t)
	if wire.scopeID != "scope-b" {
		t.Errorf("forwarded to %s, want scope-b", wire.scopeID)
	}
	env, ok := wire.ev.Payload.(RouteEnvelope)
	if !ok {
		t.Fatalf("payload is %T, want RouteEnvelope", wire.ev.Payload)
	}
	if env.Target.WidgetID != "card" || env.Payload.PortID != "userId" {
		t.Errorf("envelope targets %s.%s, want card.userId", env.Target.WidgetID, env.Payload.PortID)
	}
	obj, _ := env.Payload.Value.(map[string]interface{})
	if obj["ts"] != float64(123) {
		t.Errorf("value altered in flight: %#v", env.Payload.Value)
	}
}

func TestInboundRouteDeliversToMountedWidget(t *testing.T) {
	r, _ := newTestRouter("scope-b", "ctx-b", &fakeTransport{})
	resolver := newFakeResolver()
	resolver.mounted["card"] = "inst-card"
	NewRouteTable(r, resolver)

	delivered := r.Receive("scope-a", types.Event{
		Type:  EventTypeRouteDeliver,
		Scope: types.ScopeSystem,
		Payload: RouteEnvelope{
			RouteID: "route-1",
			Target:  types.ScopePortRef{WidgetID: "card", PortID: "userId"},
			Payload: types.PortPayload{PortID: "userId", Value: "u-42"},
		},
		Metadata: &types.EventMetadata{
			EventID:         "evt-1",
			OriginContextID: "ctx-a",
			SeenBy:          []string{"ctx-a"},
		},
	})
	if !delivered {
		t.Fatal("inbound route event should dispatch")
	}
	if len(resolver.delivered) != 1 {
		t.Fatalf("expected 1 input delivery, got %d", len(resolver.delivered))
	}
	got := resolver.delivered[0]
	if got.instanceID != "inst-card" || got.payload.PortID != "userId" || got.payload.Value != "u-42" {
		t.Errorf("delivery = %+v, want inst-card userId u-42", got)
	}
}

// Envelopes that crossed the scope bridge arrive as decoded JSON, not
// as the struct.
func TestInboundRouteDecodesWireShapedEnvelope(t *testing.T) {
	r, _ := newTestRouter("scope-b", "ctx-b", &fakeTransport{})
	resolver := newFakeResolver()
	resolver.mounted["card"] = "inst-card"
	NewRouteTable(r, resolver)

	r.Receive("scope-a", types.Event{
		Type:  EventTypeRouteDeliver,
		Scope: types.ScopeSystem,
		Payload: map[string]interface{}{
			"routeId": "route-1",
			"target":  map[string]interface{}{"widget_id": "card", "port_id": "userId"},
			"payload": map[string]interface{}{"portId": "userId", "value": "u-42"},
		},
		Metadata: &types.EventMetadata{
			EventID:         "evt-1",
			OriginContextID: "ctx-a",
			SeenBy:          []string{"ctx-a"},
		},
	})
	if len(resolver.delivered) != 1 {
		t.Fatalf("expected 1 input delivery, got %d", len(resolver.delivered))
	}
	if resolver.delivered[0].payload.Value != "u-42" {
		t.Errorf("value = %v, want u-42", resolver.delivered[0].payload.Value)
	}
}

func TestInboundRouteNoOpWhenTargetUnmounted(t *testing.T) {
	r, _ := newTestRouter("scope-b", "ctx-b", &fakeTransport{})
	resolver := newFakeResolver() // nothing mounted
	NewRouteTable(r, resolver)

	r.Receive("scope-a", types.Event{
		Type:  EventTypeRouteDeliver,
		Scope: types.ScopeSystem,
		Payload: RouteEnvelope{
			Target:  types.ScopePortRef{WidgetID: "card", PortID: "userId"},
			Payload: types.PortPayload{PortID: "userId", Value: "u-42"},
		},
		Metadata: &types.EventMetadata{
			EventID:         "evt-1",
			OriginContextID: "ctx-a",
			SeenBy:          []string{"ctx-a"},
		},
	})
	if len(resolver.delivered) != 0 {
		t.Error("unmounted route target must be a silent no-op")
	}
}

func TestBidirectionalRouteMatchesReverseDirection(t *testing.T) {
	tr := &fakeTransport{}
	r, b := newTestRouter("scope-a", "ctx-a", tr)
	r.HandleAnnounce("scope-b")

	resolver := newFakeResolver()
	resolver.mounted["card"] = "inst-card"
	table := NewRouteTable(r, resolver)

	// Route declared with scope-a as the *target* end
	if _, err := table.AddRoute(
		"scope-b", types.ScopePortRef{WidgetID: "btn", PortID: "clicked"},
		"scope-a", types.ScopePortRef{WidgetID: "card", PortID: "selected"},
		true,
	); err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	emitOutput(b, "inst-card", "selected", "u-7")

	wire := tr.lastSent(t)
	if wire.scopeID != "scope-b" {
		t.Fatalf("reverse traffic went to %s, want scope-b", wire.scopeID)
	}
	env := wire.ev.Payload.(RouteEnvelope)
	if env.Target.WidgetID != "btn" || env.Target.PortID != "clicked" {
		t.Errorf("reverse target = %+v, want btn.clicked", env.Target)
	}
}

func TestDisabledRouteNotForwarded(t *testing.T) {
	tr := &fakeTransport{}
	r, b := newTestRouter("scope-a", "ctx-a", tr)
	r.HandleAnnounce("scope-b")

	resolver := newFakeResolver()
	resolver.mounted["btn"] = "inst-btn"
	table := NewRouteTable(r, resolver)

	route, err := table.AddRoute(
		"scope-a", types.ScopePortRef{WidgetID: "btn", PortID: "clicked"},
		"scope-b", types.ScopePortRef{WidgetID: "card", PortID: "userId"},
		false,
	)
	if err != nil {
		t.Fatalf("AddRoute: %v", err)
	}
	if err := table.SetRouteEnabled(route.ID, false); err != nil {
		t.Fatalf("SetRouteEnabled: %v", err)
	}

	emitOutput(b, "inst-btn", "clicked", nil)
	if len(tr.sent) != 0 {
		t.Error("disabled route must not forward")
	}
}

func TestRouteSurvivesImportRoundTrip(t *testing.T) {
	r, _ := newTestRouter("scope-a", "ctx-a", &fakeTransport{})
	table := NewRouteTable(r, newFakeResolver())

	route, err := table.AddRoute(
		"scope-a", types.ScopePortRef{WidgetID: "btn", PortID: "clicked"},
		"scope-b", types.ScopePortRef{WidgetID: "card", PortID: "userId"},
		true,
	)
	if err != nil {
		t.Fatalf("AddRoute: %v", err)
	}

	snapshot := table.Routes()

	r2, _ := newTestRouter("scope-a", "ctx-a2", &fakeTransport{})
	table2 := NewRouteTable(r2, newFakeResolver())
	if err := table2.Import(snapshot); err != nil {
		t.Fatalf("Import: %v", err)
	}
	restored := table2.Routes()
	if len(restored) != 1 || restored[0].ID != route.ID || !restored[0].Bidirectional {
		t.Errorf("restored = %+v, want the original route byte-for-byte", restored)
	}
	if err := table2.Import(snapshot); err == nil {
		t.Error("duplicate import should be refused")
	}
}

func TestSameScopeRouteRejected(t *testing.T) {
	r, _ := newTestRouter("scope-a", "ctx-a", &fakeTransport{})
	table := NewRouteTable(r, newFakeResolver())

	if _, err := table.AddRoute(
		"scope-a", types.ScopePortRef{WidgetID: "btn", PortID: "clicked"},
		"scope-a", types.ScopePortRef{WidgetID: "card", PortID: "userId"},
		false,
	); err == nil {
		t.Error("a route within one scope should be refused")
	}
}
