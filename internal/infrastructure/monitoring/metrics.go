package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the core
type Metrics struct {
	registry *prometheus.Registry

	// Bus metrics
	EventsEmitted *prometheus.CounterVec
	EventsDropped *prometheus.CounterVec

	// Channel metrics
	HandshakeOutcomes *prometheus.CounterVec
	MessagesBuffered  prometheus.Gauge
	BufferEvictions   prometheus.Counter

	// Pipeline metrics
	Deliveries      *prometheus.CounterVec
	RoutingDuration prometheus.Histogram
	DepthAborts     prometheus.Counter

	// Widget metrics
	WidgetsActive prometheus.Gauge
	WidgetsTotal  prometheus.Counter
	WidgetsFailed prometheus.Counter

	// Cross-boundary metrics
	ScopesKnown    prometheus.Gauge
	RemoteSends    *prometheus.CounterVec
	LoopRejections *prometheus.CounterVec

	// Validation metrics
	ValidationRuns   prometheus.Counter
	ValidationScores prometheus.Histogram

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.Gauge
	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry so multiple
// host instances (tests included) never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// Bus metrics
		EventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_bus_events_emitted_total",
				Help: "Total number of events dispatched on the bus",
			},
			[]string{"scope", "type"},
		),
		EventsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_bus_events_dropped_total",
				Help: "Total number of events dropped before dispatch",
			},
			[]string{"reason"},
		),

		// Channel metrics
		HandshakeOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_channel_handshakes_total",
				Help: "Handshake outcomes by result",
			},
			[]string{"outcome"},
		),
		MessagesBuffered: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_channel_messages_buffered",
				Help: "Messages currently buffered awaiting READY",
			},
		),
		BufferEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_channel_buffer_evictions_total",
				Help: "Oldest-message evictions from full pre-READY buffers",
			},
		),

		// Pipeline metrics
		Deliveries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_pipeline_deliveries_total",
				Help: "Pipeline delivery outcomes",
			},
			[]string{"code"},
		),
		RoutingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_pipeline_route_duration_seconds",
				Help:    "RouteOutput call duration in seconds",
				Buckets: []float64{.00001, .0001, .001, .005, .01, .05, .1},
			},
		),
		DepthAborts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_pipeline_depth_aborts_total",
				Help: "Routing chains aborted by the depth guard",
			},
		),

		// Widget metrics
		WidgetsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_widgets_active",
				Help: "Number of active widget instances",
			},
		),
		WidgetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_widgets_total",
				Help: "Total number of widget instances mounted",
			},
		),
		WidgetsFailed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_widgets_failed_total",
				Help: "Widget instances that ended in the failed state",
			},
		),

		// Cross-boundary metrics
		ScopesKnown: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_router_scopes_known",
				Help: "Remote scopes currently in the route table",
			},
		),
		RemoteSends: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_router_sends_total",
				Help: "Cross-boundary send outcomes",
			},
			[]string{"outcome"},
		),
		LoopRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_router_loop_rejections_total",
				Help: "Events rejected by loop prevention",
			},
			[]string{"reason"},
		),

		// Validation metrics
		ValidationRuns: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lattice_validation_runs_total",
				Help: "Total validator runs",
			},
		),
		ValidationScores: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lattice_validation_score",
				Help:    "Quality scores produced by the validator",
				Buckets: []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lattice_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),

		// System metrics
		Uptime: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lattice_uptime_seconds",
				Help: "Host uptime in seconds",
			},
		),
	}

	return m
}

// Registry exposes the backing registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// UpdateUptime refreshes the uptime gauge. Called periodically by the host.
func (m *Metrics) UpdateUptime() {
	m.Uptime.Set(time.Since(m.startTime).Seconds())
}
