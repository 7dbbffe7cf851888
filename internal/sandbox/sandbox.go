// Package sandbox runs widget entry scripts in an in-process JavaScript
// runtime behind the channel Transport contract. The script sees only
// the lattice API object; values cross in serialized form, so nothing
// in the host is ever reachable by reference from widget code.
package sandbox

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/channel"
	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
)

// Sandbox is one isolated widget execution context. It implements
// channel.Transport: the host sends it mount/event messages, the script
// answers through the lattice API. All script execution happens on one
// goroutine-confined runtime guarded by mu; goja runtimes are not
// concurrency-safe.
type Sandbox struct {
	instanceID string
	script     string
	logger     *logging.Logger

	mu       sync.Mutex
	vm       *goja.Runtime
	inbound  func(channel.Message)
	onPort   map[string]goja.Callable
	started  bool
	closed   bool
	signaled bool

	// out preserves FIFO order from script to host while keeping
	// script execution from re-entering the host synchronously
	out  chan channel.Message
	quit chan struct{}
}

// New creates a sandbox for one widget instance around its entry script
func New(instanceID, script string, logger *logging.Logger) *Sandbox {
	s := &Sandbox{
		instanceID: instanceID,
		script:     script,
		logger:     logger.Component("sandbox"),
		onPort:     make(map[string]goja.Callable),
		out:        make(chan channel.Message, 256),
		quit:       make(chan struct{}),
	}
	go s.pump()
	return s
}

// pump drains the outbound queue toward the registered handler
func (s *Sandbox) pump() {
	for {
		select {
		case msg := <-s.out:
			s.mu.Lock()
			fn := s.inbound
			s.mu.Unlock()
			if fn != nil {
				fn(msg)
			}
		case <-s.quit:
			return
		}
	}
}

// OnMessage registers the single inbound handler (the channel adapter)
func (s *Sandbox) OnMessage(fn func(channel.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inbound = fn
}

// Send delivers a host message into the sandbox. A mount message boots
// the runtime and runs the entry script; an event message invokes the
// script's registered port listener.
func (s *Sandbox) Send(msg channel.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sandbox %s is closed", s.instanceID)
	}

	switch msg.Type {
	case channel.MessageMount:
		return s.bootLocked()
	case channel.MessageEvent:
		return s.dispatchEventLocked(msg)
	default:
		// Unknown host messages are ignored, not fatal; the protocol
		// may grow without breaking old sandboxes.
		return nil
	}
}

// Close tears down the runtime. Pending outbound messages are dropped.
func (s *Sandbox) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.vm = nil
	s.onPort = make(map[string]goja.Callable)
	close(s.quit)
	return nil
}

// bootLocked creates the runtime, installs the lattice API, and runs
// the entry script. Mount retries reuse the running instance; a script
// that already executed is not run twice.
func (s *Sandbox) bootLocked() error {
	if s.started {
		// Handshake retry. If the script already signalled ready the
		// first signal was lost; repeat it.
		if s.signaled {
			s.postLocked(channel.Message{Type: channel.MessageReady})
		}
		return nil
	}
	s.started = true

	s.vm = goja.New()
	s.vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := s.installAPILocked(); err != nil {
		return err
	}

	if _, err := s.vm.RunString(s.script); err != nil {
		// Script failure stays inside the sandbox; the host observes a
		// missing READY, not an exception.
		s.logger.Warn("Widget script failed",
			zap.String("instance_id", s.instanceID),
			zap.Error(err),
		)
	}
	return nil
}

// installAPILocked exposes the lattice object: ready(), emit(portId,
// value), on(portId, fn).
func (s *Sandbox) installAPILocked() error {
	api := s.vm.NewObject()

	if err := api.Set("ready", func(goja.FunctionCall) goja.Value {
		s.signaled = true
		s.postLocked(channel.Message{Type: channel.MessageReady})
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := api.Set("emit", func(call goja.FunctionCall) goja.Value {
		portID := call.Argument(0).String()
		value := call.Argument(1).Export()
		msg, err := channel.EncodeMessage(channel.MessageEmit, types.PortPayload{
			PortID: portID,
			Value:  value,
		})
		if err != nil {
			s.logger.Warn("Sandbox emit not serializable",
				zap.String("instance_id", s.instanceID),
				zap.String("port_id", portID),
				zap.Error(err),
			)
			return goja.Undefined()
		}
		s.postLocked(msg)
		return goja.Undefined()
	}); err != nil {
		return err
	}

	if err := api.Set("on", func(call goja.FunctionCall) goja.Value {
		portID := call.Argument(0).String()
		fn, ok := goja.AssertFunction(call.Argument(1))
		if !ok {
			return goja.Undefined()
		}
		s.onPort[portID] = fn
		return goja.Undefined()
	}); err != nil {
		return err
	}

	return s.vm.Set("lattice", api)
}

// dispatchEventLocked hands an inbound port delivery to the script's
// listener. The value enters as a fresh decode of the serialized
// payload; the script never sees host memory.
func (s *Sandbox) dispatchEventLocked(msg channel.Message) error {
	payload, err := channel.DecodePortPayload(msg)
	if err != nil {
		return fmt.Errorf("sandbox %s: %w", s.instanceID, err)
	}
	fn, ok := s.onPort[payload.PortID]
	if !ok {
		// No listener is not an error; widgets subscribe lazily
		return nil
	}
	if _, err := fn(goja.Undefined(), s.vm.ToValue(payload.Value)); err != nil {
		s.logger.Warn("Widget listener failed",
			zap.String("instance_id", s.instanceID),
			zap.String("port_id", payload.PortID),
			zap.Error(err),
		)
	}
	return nil
}

// postLocked queues a message out of the sandbox. Non-blocking: a
// script flooding emits faster than the host drains loses the newest
// messages with a warning rather than wedging the runtime.
func (s *Sandbox) postLocked(msg channel.Message) {
	// Copy the payload bytes; the script side must not alias them
	if msg.Payload != nil {
		cp := make([]byte, len(msg.Payload))
		copy(cp, msg.Payload)
		msg.Payload = cp
	}
	select {
	case s.out <- msg:
	default:
		s.logger.Warn("Sandbox outbound queue full, dropping message",
			zap.String("instance_id", s.instanceID),
			zap.String("type", msg.Type),
		)
	}
}
