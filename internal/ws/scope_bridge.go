package ws

import (
	"fmt"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/latticehq/lattice/backend/internal/logging"
	"github.com/latticehq/lattice/backend/internal/shared/types"
	"github.com/latticehq/lattice/backend/internal/shared/utils"
)

// Frame kinds on the scope bridge
const (
	FrameHello    = "hello"
	FrameAnnounce = "announce"
	FrameEvent    = "event"
)

// ScopeFrame is the wire unit between two hosts. Every frame names the
// scope it speaks for.
type ScopeFrame struct {
	Kind    string       `json:"kind"`
	ScopeID string       `json:"scope_id"`
	Event   *types.Event `json:"event,omitempty"`
}

// Receiver is the router-side sink for inbound bridge traffic.
// Implemented by router.Router.
type Receiver interface {
	HandleAnnounce(scopeID string)
	Receive(fromScopeID string, ev types.Event) bool
}

// ScopeBridge carries presence and events between hosts over
// WebSockets. It implements router.ScopeTransport on the sending side
// and feeds a Receiver on the inbound side. Peers register by
// connecting to the bridge endpoint and sending a hello frame.
type ScopeBridge struct {
	localScopeID string
	receiver     Receiver
	logger       *logging.Logger

	mu    sync.RWMutex
	peers map[string]*peerConn
}

type peerConn struct {
	mu   sync.Mutex // gorilla conns allow one concurrent writer
	conn *websocket.Conn
}

func (p *peerConn) writeJSON(v interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteJSON(v)
}

// NewScopeBridge creates a bridge for the local scope
func NewScopeBridge(localScopeID string, receiver Receiver, logger *logging.Logger) *ScopeBridge {
	return &ScopeBridge{
		localScopeID: localScopeID,
		receiver:     receiver,
		logger:       logger.Component("ws"),
		peers:        make(map[string]*peerConn),
	}
}

// eventValidator bounds serialized events leaving for a peer scope.
// Cross-boundary events can batch more than one channel message, so the
// limit is the payload cap, not the message cap.
var eventValidator = utils.DefaultPayloadValidator()

// Send delivers an event to one connected peer scope
func (b *ScopeBridge) Send(targetScopeID string, ev types.Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("event is not serializable: %w", err)
	}
	if err := eventValidator.Validate(data); err != nil {
		return fmt.Errorf("event rejected: %w", err)
	}

	b.mu.RLock()
	peer, ok := b.peers[targetScopeID]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("scope %s is not connected", targetScopeID)
	}
	return peer.writeJSON(ScopeFrame{
		Kind:    FrameEvent,
		ScopeID: b.localScopeID,
		Event:   &ev,
	})
}

// Announce broadcasts presence to every connected peer
func (b *ScopeBridge) Announce(localScopeID string) error {
	b.mu.RLock()
	peers := make([]*peerConn, 0, len(b.peers))
	for _, p := range b.peers {
		peers = append(peers, p)
	}
	b.mu.RUnlock()

	frame := ScopeFrame{Kind: FrameAnnounce, ScopeID: localScopeID}
	var firstErr error
	for _, p := range peers {
		if err := p.writeJSON(frame); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Peers lists the currently connected peer scope ids
func (b *ScopeBridge) Peers() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.peers))
	for sid := range b.peers {
		out = append(out, sid)
	}
	return out
}

// HandleConnection upgrades a peer host's WebSocket. The peer must open
// with a hello frame naming its scope; everything after flows to the
// receiver.
func (b *ScopeBridge) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		b.logger.Warn("Scope bridge upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var hello ScopeFrame
	if err := conn.ReadJSON(&hello); err != nil || hello.Kind != FrameHello || hello.ScopeID == "" {
		b.logger.Warn("Peer failed to introduce itself", zap.Error(err))
		return
	}
	peerID := hello.ScopeID

	peer := &peerConn{conn: conn}
	b.mu.Lock()
	if _, dup := b.peers[peerID]; dup {
		b.mu.Unlock()
		b.logger.Warn("Duplicate peer connection refused", zap.String("scope_id", peerID))
		return
	}
	b.peers[peerID] = peer
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.peers, peerID)
		b.mu.Unlock()
		b.logger.Info("Peer scope disconnected", zap.String("scope_id", peerID))
	}()

	// The connection itself is presence
	b.receiver.HandleAnnounce(peerID)
	_ = peer.writeJSON(ScopeFrame{Kind: FrameHello, ScopeID: b.localScopeID})

	b.logger.Info("Peer scope connected", zap.String("scope_id", peerID))
	for {
		var frame ScopeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		switch frame.Kind {
		case FrameAnnounce:
			b.receiver.HandleAnnounce(frame.ScopeID)
		case FrameEvent:
			if frame.Event == nil {
				continue
			}
			b.receiver.Receive(frame.ScopeID, *frame.Event)
		default:
			b.logger.Debug("Ignoring unknown bridge frame",
				zap.String("kind", frame.Kind),
				zap.String("scope_id", peerID),
			)
		}
	}
}

// Dial connects to a remote host's bridge endpoint and registers the
// connection as a peer, so two hosts can link up from either side.
func (b *ScopeBridge) Dial(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dialing scope bridge: %w", err)
	}

	peer := &peerConn{conn: conn}
	if err := peer.writeJSON(ScopeFrame{Kind: FrameHello, ScopeID: b.localScopeID}); err != nil {
		conn.Close()
		return err
	}

	var hello ScopeFrame
	if err := conn.ReadJSON(&hello); err != nil || hello.Kind != FrameHello || hello.ScopeID == "" {
		conn.Close()
		return fmt.Errorf("peer failed to introduce itself")
	}
	peerID := hello.ScopeID

	b.mu.Lock()
	if _, dup := b.peers[peerID]; dup {
		b.mu.Unlock()
		conn.Close()
		return fmt.Errorf("scope %s is already connected", peerID)
	}
	b.peers[peerID] = peer
	b.mu.Unlock()

	b.receiver.HandleAnnounce(peerID)

	go func() {
		defer func() {
			conn.Close()
			b.mu.Lock()
			delete(b.peers, peerID)
			b.mu.Unlock()
		}()
		for {
			var frame ScopeFrame
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			switch frame.Kind {
			case FrameAnnounce:
				b.receiver.HandleAnnounce(frame.ScopeID)
			case FrameEvent:
				if frame.Event != nil {
					b.receiver.Receive(frame.ScopeID, *frame.Event)
				}
			}
		}
	}()
	return nil
}
