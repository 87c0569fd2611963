package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/pkg/config"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Coordinator is the part of the session coordinator the socket drives.
type Coordinator interface {
	AttachConnection(ctx context.Context, grant domain.SessionGrant) error
	DetachConnection(ctx context.Context, grant domain.SessionGrant, failed bool)
	TouchParticipant(ctx context.Context, streamID domain.StreamID, participantID domain.ParticipantID) error
	HandleSignal(ctx context.Context, grant domain.SessionGrant, msg *domain.SignalingMessage) error
}

type SessionValidator interface {
	ValidateSessionToken(token string) (domain.SessionGrant, error)
}

type Config struct {
	PingInterval      time.Duration
	PongTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	MaxMessageSize    int64
	MessagesPerSecond float64
	Burst             int
	AllowedOrigins    []string
}

func ConfigFrom(cfg *config.Config) Config {
	c := Config{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		SendBuffer:     cfg.Signal.SendBuffer,
		MaxMessageSize: cfg.RateLimiting.WebSocket.MaxMessageSizeBytes,
		AllowedOrigins: cfg.Signal.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		c.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		c.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return c
}

// Server accepts signaling sockets at /ws?token=<session token>.
type Server struct {
	coordinator Coordinator
	sessions    SessionValidator
	hub         *Hub
	cfg         Config
	upgrader    websocket.Upgrader
	logger      *zap.SugaredLogger
}

func NewServer(coordinator Coordinator, sessions SessionValidator, hub *Hub, cfg Config, logger *zap.SugaredLogger) *Server {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	s := &Server{
		coordinator: coordinator,
		sessions:    sessions,
		hub:         hub,
		cfg:         cfg,
		logger:      logger,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	grant, err := s.sessions.ValidateSessionToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "invalid session token", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "stream_id", grant.StreamID, "error", err)
		return
	}

	conn := newConnection(grant, ws, s.cfg.SendBuffer)
	s.hub.register(conn)
	go s.writePump(conn)

	// The socket outlives the upgrade request.
	ctx := context.WithoutCancel(r.Context())
	if err := s.coordinator.AttachConnection(ctx, grant); err != nil {
		s.logger.Infow("rejecting signaling connection",
			"stream_id", grant.StreamID,
			"participant_id", grant.ParticipantID,
			"error", err,
		)
		conn.enqueue(s.errorFrame(grant.StreamID, err))
		s.hub.unregister(conn)
		conn.close()
		return
	}

	s.logger.Infow("signaling connection opened",
		"stream_id", grant.StreamID,
		"participant_id", grant.ParticipantID,
	)

	failed := s.readPump(ctx, conn)
	conn.close()
	if s.hub.unregister(conn) {
		s.coordinator.DetachConnection(ctx, grant, failed)
	}
}

// readPump processes inbound frames until the socket fails or the
// participant is gone. It reports whether the socket ended abnormally.
func (s *Server) readPump(ctx context.Context, conn *connection) bool {
	grant := conn.grant
	if s.cfg.MaxMessageSize > 0 {
		conn.ws.SetReadLimit(s.cfg.MaxMessageSize)
	}
	extend := func() {
		if s.cfg.PongTimeout > 0 {
			_ = conn.ws.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
		}
	}
	extend()
	conn.ws.SetPongHandler(func(string) error {
		extend()
		_ = s.coordinator.TouchParticipant(ctx, grant.StreamID, grant.ParticipantID)
		return nil
	})

	var limiter *rate.Limiter
	if s.cfg.MessagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			select {
			case <-conn.done:
				return false
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return false
			}
			s.logger.Infow("signaling connection lost",
				"stream_id", grant.StreamID,
				"participant_id", grant.ParticipantID,
				"error", err,
			)
			return true
		}
		extend()

		if limiter != nil && !limiter.Allow() {
			conn.enqueue(s.errorFrame(grant.StreamID, errRateLimited))
			continue
		}

		var msg domain.SignalingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.enqueue(s.errorFrame(grant.StreamID, errMalformedFrame))
			continue
		}

		if err := s.coordinator.TouchParticipant(ctx, grant.StreamID, grant.ParticipantID); err != nil {
			// The participant left, was removed or timed out.
			conn.enqueue(s.errorFrame(grant.StreamID, err))
			return false
		}

		if err := s.coordinator.HandleSignal(ctx, grant, &msg); err != nil {
			s.logger.Debugw("signaling message rejected",
				"stream_id", grant.StreamID,
				"participant_id", grant.ParticipantID,
				"type", msg.Type,
				"error", err,
			)
			conn.enqueue(s.errorFrame(grant.StreamID, err))
		}
		if msg.Type == domain.MessageLeave {
			return false
		}
	}
}

func (s *Server) writePump(conn *connection) {
	var ping <-chan time.Time
	if s.cfg.PingInterval > 0 {
		ticker := time.NewTicker(s.cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer conn.ws.Close()

	for {
		select {
		case frame := <-conn.send:
			if err := s.write(conn, websocket.TextMessage, frame); err != nil {
				conn.close()
				return
			}

		case <-ping:
			if err := s.write(conn, websocket.PingMessage, nil); err != nil {
				conn.close()
				return
			}

		case <-conn.done:
			for {
				select {
				case frame := <-conn.send:
					if err := s.write(conn, websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = s.write(conn, websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (s *Server) write(conn *connection, messageType int, data []byte) error {
	if s.cfg.WriteTimeout > 0 {
		_ = conn.ws.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	}
	return conn.ws.WriteMessage(messageType, data)
}

var (
	errRateLimited    = errors.New("rate limit exceeded")
	errMalformedFrame = errors.New("malformed signaling frame")
)

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (s *Server) errorFrame(streamID domain.StreamID, err error) []byte {
	p := errorPayload{Code: domain.ErrorCode(err), Message: err.Error()}
	switch {
	case p.Code != "":
	case errors.Is(err, errRateLimited):
		p.Code = "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, errMalformedFrame):
		p.Code = "INVALID_INPUT"
	default:
		s.logger.Warnw("signaling operation failed", "stream_id", streamID, "error", err)
		p = errorPayload{Code: "INTERNAL_ERROR", Message: "internal error"}
	}

	payload, _ := json.Marshal(p)
	frame, _ := json.Marshal(&domain.SignalingMessage{
		Type:     domain.MessageError,
		StreamID: streamID,
		Payload:  payload,
	})
	return frame
}
