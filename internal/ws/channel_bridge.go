// Package ws exposes the two WebSocket surfaces of a host: the remote
// sandbox channel (a widget running out of process speaks the
// mount/ready/emit/event protocol over one connection) and the scope
// bridge carrying presence and events between hosts.
package ws

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/channel"
	"github.com/latticehq/lattice/backend/internal/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // host deployments front this with their own origin policy
	},
}

// RemoteTransport implements channel.Transport over one WebSocket
// connection. Messages sent before the remote side connects are held
// and flushed on attach; the channel adapter's own handshake timer
// still bounds how long a widget may take to appear.
type RemoteTransport struct {
	instanceID string
	logger     *logging.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	handler func(channel.Message)
	pending []channel.Message
	closed  bool
}

// NewRemoteTransport creates a transport waiting for its widget to
// connect.
func NewRemoteTransport(instanceID string, logger *logging.Logger) *RemoteTransport {
	return &RemoteTransport{
		instanceID: instanceID,
		logger:     logger.Component("ws"),
	}
}

// Send writes a message to the connected widget, or holds it until the
// widget attaches.
func (t *RemoteTransport) Send(msg channel.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return fmt.Errorf("transport for %s is closed", t.instanceID)
	}
	if t.conn == nil {
		t.pending = append(t.pending, msg)
		return nil
	}
	return t.conn.WriteJSON(msg)
}

// OnMessage registers the single inbound handler
func (t *RemoteTransport) OnMessage(fn func(channel.Message)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = fn
}

// Close tears down the connection if one is attached
func (t *RemoteTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.pending = nil
	if t.conn != nil {
		err := t.conn.Close()
		t.conn = nil
		return err
	}
	return nil
}

// attach binds the live connection and flushes anything sent while the
// widget was still connecting.
func (t *RemoteTransport) attach(conn *websocket.Conn) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return fmt.Errorf("transport for %s is closed", t.instanceID)
	}
	if t.conn != nil {
		t.mu.Unlock()
		return fmt.Errorf("instance %s already has a live connection", t.instanceID)
	}
	t.conn = conn
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, msg := range pending {
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
	}
	return nil
}

// readLoop pumps inbound frames to the registered handler until the
// connection drops.
func (t *RemoteTransport) readLoop(conn *websocket.Conn) {
	for {
		var msg channel.Message
		if err := conn.ReadJSON(&msg); err != nil {
			t.logger.Debug("Widget connection closed",
				zap.String("instance_id", t.instanceID),
				zap.Error(err),
			)
			return
		}
		t.mu.Lock()
		fn := t.handler
		t.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
}

// ChannelHandler upgrades widget connections and binds them to their
// pending transports.
type ChannelHandler struct {
	logger *logging.Logger

	mu         sync.Mutex
	transports map[string]*RemoteTransport
}

// NewChannelHandler creates the widget-connection endpoint handler
func NewChannelHandler(logger *logging.Logger) *ChannelHandler {
	return &ChannelHandler{
		logger:     logger.Component("ws"),
		transports: make(map[string]*RemoteTransport),
	}
}

// Register creates the transport a widget instance will attach to.
// Called by the host when it mounts a remote widget.
func (h *ChannelHandler) Register(instanceID string) *RemoteTransport {
	t := NewRemoteTransport(instanceID, h.logger)

	h.mu.Lock()
	h.transports[instanceID] = t
	h.mu.Unlock()
	return t
}

// Unregister drops the transport for an unmounted instance
func (h *ChannelHandler) Unregister(instanceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.transports, instanceID)
}

// HandleConnection upgrades a widget's WebSocket and pumps its messages
func (h *ChannelHandler) HandleConnection(c *gin.Context) {
	instanceID := c.Param("instanceId")

	h.mu.Lock()
	transport, ok := h.transports[instanceID]
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such instance"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if err := transport.attach(conn); err != nil {
		h.logger.Warn("Widget attach refused",
			zap.String("instance_id", instanceID),
			zap.Error(err),
		)
		return
	}

	h.logger.Info("Widget connected", zap.String("instance_id", instanceID))
	transport.readLoop(conn)
}
