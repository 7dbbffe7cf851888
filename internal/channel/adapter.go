package channel

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/infrastructure/config"
	"github.com/latticehq/lattice/backend/internal/infrastructure/monitoring"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

var (
	// ErrClosed is returned when delivering to a closed adapter
	ErrClosed = errors.New("channel adapter is closed")
	// ErrFailed is returned when delivering to a failed instance
	ErrFailed = errors.New("channel handshake failed")
)

// Callbacks connect an adapter to the rest of the core. All callbacks
// fire outside the adapter's lock.
type Callbacks struct {
	// OnReady fires once when the READY message is observed.
	OnReady func(instanceID string)
	// OnFailed fires once when handshake retries are exhausted.
	OnFailed func(instanceID, reason string)
	// OnEmit receives each normalized widget output. depth is the
	// routing chain depth behind the emission: zero for spontaneous
	// output, the delivery's stamp for output provoked by an input.
	OnEmit func(instanceID, portID string, value interface{}, depth int)
	// OnProtocolError receives malformed-message reports.
	OnProtocolError func(instanceID, detail string)
}

type adapterState int

const (
	stateAwaitingReady adapterState = iota
	stateReady
	stateFailed
	stateClosed
)

// Adapter owns the host side of one widget instance's message channel.
type Adapter struct {
	instanceID string
	transport  Transport
	cfg        config.HandshakeConfig
	callbacks  Callbacks
	logger     *logging.Logger
	metrics    *monitoring.Metrics

	mu         sync.Mutex
	state      adapterState
	suspended  bool
	buffer     []Message
	chainDepth int // depth stamp of the most recent delivery

	readyCh chan struct{}
	closeCh chan struct{}
	once    sync.Once
}

// NewAdapter wraps a transport for one instance. Call Open to start the
// handshake.
func NewAdapter(instanceID string, transport Transport, cfg config.HandshakeConfig, callbacks Callbacks, logger *logging.Logger) *Adapter {
	a := &Adapter{
		instanceID: instanceID,
		transport:  transport,
		cfg:        cfg,
		callbacks:  callbacks,
		logger:     logger.Component("channel"),
		readyCh:    make(chan struct{}),
		closeCh:    make(chan struct{}),
	}
	transport.OnMessage(a.handleInbound)
	return a
}

// WithMetrics adds metrics tracking to the adapter
func (a *Adapter) WithMetrics(metrics *monitoring.Metrics) *Adapter {
	a.metrics = metrics
	return a
}

// InstanceID returns the instance this adapter serves.
func (a *Adapter) InstanceID() string {
	return a.instanceID
}

// Ready reports whether the handshake completed.
func (a *Adapter) Ready() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == stateReady
}

// Open sends the mount signal and starts the handshake watchdog.
func (a *Adapter) Open() error {
	msg, err := EncodeMessage(MessageMount, map[string]string{"instance_id": a.instanceID})
	if err != nil {
		return err
	}
	if err := a.transport.Send(msg); err != nil {
		return err
	}

	go a.awaitReady(msg)
	return nil
}

// awaitReady waits for READY, retrying the mount signal before giving
// up. The initial window uses ReadyTimeout; each retry waits
// RetryInterval. Failure is reported, never thrown.
func (a *Adapter) awaitReady(mountMsg Message) {
	timer := time.NewTimer(a.cfg.ReadyTimeout)
	defer timer.Stop()

	retries := 0
	for {
		select {
		case <-a.readyCh:
			return
		case <-a.closeCh:
			return
		case <-timer.C:
			if retries >= a.cfg.MaxRetries {
				a.fail(fmt.Sprintf("no READY after %d retries", retries))
				return
			}
			retries++
			a.logger.Warn("READY not observed, retrying mount signal",
				zap.String("instance_id", a.instanceID),
				zap.Int("attempt", retries),
			)
			if err := a.transport.Send(mountMsg); err != nil {
				a.logger.Warn("Mount retry send failed",
					zap.String("instance_id", a.instanceID),
					zap.Error(err),
				)
			}
			timer.Reset(a.cfg.RetryInterval)
		}
	}
}

// Deliver sends an input event to the widget. Before READY, and while
// suspended, messages are buffered rather than dropped.
func (a *Adapter) Deliver(payload types.PortPayload) (types.DeliveryCode, error) {
	msg, err := EncodeMessage(MessageEvent, payload)
	if err != nil {
		return types.DeliveryChannelError, err
	}

	a.mu.Lock()
	// Remember the chain depth so emissions this delivery provokes are
	// routed at the right depth, even when the sandbox hands them to us
	// on another goroutine. Attribution is to the most recent delivery,
	// which is exact for the single-delivery-in-flight case and a sane
	// bound otherwise.
	a.chainDepth = payload.Depth
	switch a.state {
	case stateClosed:
		a.mu.Unlock()
		return types.DeliveryChannelError, ErrClosed
	case stateFailed:
		a.mu.Unlock()
		return types.DeliveryChannelError, ErrFailed
	}

	if a.state == stateAwaitingReady || a.suspended {
		a.bufferLocked(msg)
		a.mu.Unlock()
		return types.DeliveryBuffered, nil
	}
	a.mu.Unlock()

	if err := a.transport.Send(msg); err != nil {
		return types.DeliveryChannelError, err
	}
	return types.DeliveryOK, nil
}

// Suspend holds future deliveries in the buffer.
func (a *Adapter) Suspend() {
	a.mu.Lock()
	a.suspended = true
	a.mu.Unlock()
}

// Resume flushes deliveries buffered while suspended.
func (a *Adapter) Resume() {
	a.mu.Lock()
	a.suspended = false
	pending := a.takeBufferLocked()
	a.mu.Unlock()

	a.flush(pending)
}

// Close cancels the pending handshake watchdog and discards buffered
// deliveries. Idempotent.
func (a *Adapter) Close() error {
	var pending int
	a.mu.Lock()
	if a.state != stateClosed {
		pending = len(a.buffer)
		a.buffer = nil
		a.state = stateClosed
	}
	a.mu.Unlock()

	a.once.Do(func() { close(a.closeCh) })

	if pending > 0 {
		a.logger.Debug("Discarded buffered deliveries on close",
			zap.String("instance_id", a.instanceID),
			zap.Int("discarded", pending),
		)
		if a.metrics != nil {
			a.metrics.MessagesBuffered.Sub(float64(pending))
		}
	}
	return a.transport.Close()
}

// handleInbound processes one sandbox → host message.
func (a *Adapter) handleInbound(msg Message) {
	switch msg.Type {
	case MessageReady:
		a.markReady()
	case MessageEmit:
		payload, err := DecodePortPayload(msg)
		if err != nil {
			a.protocolError(err.Error())
			return
		}
		// Copy-on-boundary: the sandbox's value never enters the core
		// by reference.
		value, err := CopyValue(payload.Value)
		if err != nil {
			a.protocolError(err.Error())
			return
		}
		if a.callbacks.OnEmit != nil {
			a.mu.Lock()
			depth := a.chainDepth
			a.mu.Unlock()
			a.callbacks.OnEmit(a.instanceID, payload.PortID, value, depth)
		}
	default:
		a.protocolError("unknown message type " + msg.Type)
	}
}

// markReady completes the handshake and flushes the pre-READY buffer.
// A second READY is ignored.
func (a *Adapter) markReady() {
	a.mu.Lock()
	if a.state != stateAwaitingReady {
		a.mu.Unlock()
		return
	}
	a.state = stateReady
	pending := a.takeBufferLocked()
	a.mu.Unlock()

	close(a.readyCh)

	if a.metrics != nil {
		a.metrics.HandshakeOutcomes.WithLabelValues("ready").Inc()
	}
	a.logger.Info("Handshake complete",
		zap.String("instance_id", a.instanceID),
		zap.Int("flushed", len(pending)),
	)

	if a.callbacks.OnReady != nil {
		a.callbacks.OnReady(a.instanceID)
	}
	a.flush(pending)
}

func (a *Adapter) fail(reason string) {
	a.mu.Lock()
	if a.state != stateAwaitingReady {
		a.mu.Unlock()
		return
	}
	a.state = stateFailed
	discarded := len(a.buffer)
	a.buffer = nil
	a.mu.Unlock()

	if a.metrics != nil {
		a.metrics.HandshakeOutcomes.WithLabelValues("failed").Inc()
		a.metrics.MessagesBuffered.Sub(float64(discarded))
	}
	a.logger.Error("Handshake failed",
		zap.String("instance_id", a.instanceID),
		zap.String("reason", reason),
	)

	if a.callbacks.OnFailed != nil {
		a.callbacks.OnFailed(a.instanceID, reason)
	}
}

// bufferLocked appends under the cap, evicting the oldest entry with a
// warning once the cap is exceeded (must hold mu).
func (a *Adapter) bufferLocked(msg Message) {
	if len(a.buffer) >= a.cfg.BufferCap {
		a.buffer = a.buffer[1:]
		if a.metrics != nil {
			a.metrics.BufferEvictions.Inc()
			a.metrics.MessagesBuffered.Dec()
		}
		a.logger.Warn("Pre-READY buffer full, dropped oldest delivery",
			zap.String("instance_id", a.instanceID),
			zap.Int("cap", a.cfg.BufferCap),
		)
	}
	a.buffer = append(a.buffer, msg)
	if a.metrics != nil {
		a.metrics.MessagesBuffered.Inc()
	}
}

func (a *Adapter) takeBufferLocked() []Message {
	pending := a.buffer
	a.buffer = nil
	if a.metrics != nil && len(pending) > 0 {
		a.metrics.MessagesBuffered.Sub(float64(len(pending)))
	}
	return pending
}

// flush sends buffered deliveries in FIFO order.
func (a *Adapter) flush(pending []Message) {
	for _, msg := range pending {
		if err := a.transport.Send(msg); err != nil {
			a.logger.Warn("Flush send failed",
				zap.String("instance_id", a.instanceID),
				zap.Error(err),
			)
		}
	}
}

func (a *Adapter) protocolError(detail string) {
	a.logger.Warn("Protocol error",
		zap.String("instance_id", a.instanceID),
		zap.String("detail", detail),
	)
	if a.callbacks.OnProtocolError != nil {
		a.callbacks.OnProtocolError(a.instanceID, detail)
	}
}
