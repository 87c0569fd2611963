package signal

import (
	"encoding/json"
	"sync"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// connection is one participant's socket. Outbound frames are queued on
// send and written by a single writer goroutine; done is closed to ask that
// writer to flush and close the socket.
type connection struct {
	grant domain.SessionGrant
	ws    *websocket.Conn
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

func newConnection(grant domain.SessionGrant, ws *websocket.Conn, buffer int) *connection {
	return &connection{
		grant: grant,
		ws:    ws,
		send:  make(chan []byte, buffer),
		done:  make(chan struct{}),
	}
}

// enqueue never blocks; a full buffer means the frame is dropped.
func (c *connection) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *connection) close() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks the open signaling connection of every participant on this
// instance and implements the coordinator's transport.
type Hub struct {
	mu    sync.RWMutex
	conns map[domain.ParticipantID]*connection

	sent    atomic.Uint64
	dropped atomic.Uint64

	logger *zap.SugaredLogger
}

var _ ports.SignalTransport = (*Hub)(nil)

func NewHub(logger *zap.SugaredLogger) *Hub {
	return &Hub{
		conns:  make(map[domain.ParticipantID]*connection),
		logger: logger,
	}
}

// register makes conn the participant's current connection, closing any
// connection it replaces.
func (h *Hub) register(conn *connection) {
	h.mu.Lock()
	prev := h.conns[conn.grant.ParticipantID]
	h.conns[conn.grant.ParticipantID] = conn
	h.mu.Unlock()

	if prev != nil {
		prev.close()
		h.logger.Infow("replaced signaling connection",
			"stream_id", conn.grant.StreamID,
			"participant_id", conn.grant.ParticipantID,
		)
	}
}

// unregister removes conn if it is still the participant's current
// connection and reports whether it was.
func (h *Hub) unregister(conn *connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[conn.grant.ParticipantID] != conn {
		return false
	}
	delete(h.conns, conn.grant.ParticipantID)
	return true
}

func (h *Hub) Send(participantID domain.ParticipantID, msg *domain.SignalingMessage) bool {
	h.mu.RLock()
	conn := h.conns[participantID]
	h.mu.RUnlock()
	if conn == nil {
		h.dropped.Inc()
		return false
	}

	frame, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warnw("failed to encode signaling message", "type", msg.Type, "error", err)
		h.dropped.Inc()
		return false
	}
	if !conn.enqueue(frame) {
		h.dropped.Inc()
		return false
	}
	h.sent.Inc()
	return true
}

// Close drops the participant's connection. Frames already queued are still
// flushed before the socket closes.
func (h *Hub) Close(participantID domain.ParticipantID) {
	h.mu.Lock()
	conn := h.conns[participantID]
	delete(h.conns, participantID)
	h.mu.Unlock()

	if conn != nil {
		conn.close()
	}
}

// CloseAll closes every connection, used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := h.conns
	h.conns = make(map[domain.ParticipantID]*connection)
	h.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

func (h *Hub) Connected(participantID domain.ParticipantID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[participantID]
	return ok
}

type HubStats struct {
	Connections int    `json:"connections"`
	Sent        uint64 `json:"sent"`
	Dropped     uint64 `json:"dropped"`
}

func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.conns)
	h.mu.RUnlock()
	return HubStats{
		Connections: n,
		Sent:        h.sent.Load(),
		Dropped:     h.dropped.Load(),
	}
}
