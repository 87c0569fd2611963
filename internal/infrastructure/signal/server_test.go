package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/services"
	"liveclass/internal/infrastructure/repositories/memory"
	"liveclass/internal/infrastructure/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type harness struct {
	coord *services.Coordinator
	auth  services.AuthService
	hub   *Hub
	url   string
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	blobs, err := storage.NewFileStore(t.TempDir())
	require.NoError(t, err)
	recordings := services.NewRecordingOrchestrator(memory.NewMemoryRecordingRepository(), blobs,
		services.DefaultRecordingConfig(), services.NoopMetrics{}, logger)
	t.Cleanup(recordings.Close)

	hub := NewHub(logger)
	auth := services.NewAuthService("signal-test-secret", time.Hour, time.Hour)
	heartbeats := services.NewHeartbeatMonitor(time.Second, 10*time.Second, logger)
	coord, err := services.NewCoordinator(memory.NewMemoryStreamRepository(), recordings, heartbeats, hub,
		services.NoopEventPublisher{}, auth, services.NoopMetrics{}, services.DefaultCoordinatorConfig(), logger)
	require.NoError(t, err)
	t.Cleanup(coord.Close)

	srv := NewServer(coord, auth, hub, cfg, logger)
	ts := httptest.NewServer(http.HandlerFunc(srv.HandleWebSocket))
	t.Cleanup(ts.Close)
	t.Cleanup(hub.CloseAll)

	return &harness{
		coord: coord,
		auth:  auth,
		hub:   hub,
		url:   "ws" + strings.TrimPrefix(ts.URL, "http"),
	}
}

func defaultTestConfig() Config {
	return Config{
		PingInterval: time.Second,
		PongTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		SendBuffer:   32,
	}
}

func (h *harness) join(t *testing.T, streamID domain.StreamID, userID domain.UserID) *domain.JoinResult {
	t.Helper()
	res, err := h.coord.JoinStream(context.Background(), streamID, userID)
	require.NoError(t, err)
	return res
}

func (h *harness) dial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(h.url+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func (h *harness) waitConnected(t *testing.T, streamID domain.StreamID, ids ...domain.ParticipantID) {
	t.Helper()
	require.Eventually(t, func() bool {
		participants, err := h.coord.Participants(context.Background(), streamID)
		if err != nil {
			return false
		}
		connected := map[domain.ParticipantID]bool{}
		for _, p := range participants {
			connected[p.ID] = p.ConnectionState == domain.ConnectionConnected
		}
		for _, id := range ids {
			if !connected[id] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func send(t *testing.T, ws *websocket.Conn, msg domain.SignalingMessage) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(msg))
}

// readUntil returns the first frame of the wanted type, skipping others.
func readUntil(t *testing.T, ws *websocket.Conn, want domain.MessageType) domain.SignalingMessage {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg domain.SignalingMessage
		require.NoError(t, ws.ReadJSON(&msg))
		if msg.Type == want {
			return msg
		}
	}
}

func errorCode(t *testing.T, msg domain.SignalingMessage) string {
	t.Helper()
	var p errorPayload
	require.NoError(t, json.Unmarshal(msg.Payload, &p))
	return p.Code
}

func startClass(t *testing.T, h *harness) (host, student *domain.JoinResult) {
	t.Helper()
	_, err := h.coord.StartStream(context.Background(), "s-1", "teacher-1")
	require.NoError(t, err)
	return h.join(t, "s-1", "teacher-1"), h.join(t, "s-1", "student-1")
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	h := newHarness(t, defaultTestConfig())

	_, resp, err := websocket.DefaultDialer.Dial(h.url+"?token=bogus", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_RelaysOfferWithForcedSender(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	host, student := startClass(t, h)

	hostWS := h.dial(t, host.SessionToken)
	studentWS := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", host.Participant.ID, student.Participant.ID)

	send(t, studentWS, domain.SignalingMessage{
		Type:     domain.MessageOffer,
		StreamID: "s-1",
		SenderID: host.Participant.ID, // spoofed
		TargetID: host.Participant.ID,
		Payload:  json.RawMessage(`{"sdp":"v=0\r\n"}`),
	})

	got := readUntil(t, hostWS, domain.MessageOffer)
	assert.Equal(t, student.Participant.ID, got.SenderID)
	assert.Equal(t, host.Participant.ID, got.TargetID)
	assert.JSONEq(t, `{"sdp":"v=0\r\n"}`, string(got.Payload))
}

func TestServer_InvalidRouteAndMalformedFrames(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	_, student := startClass(t, h)

	ws := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", student.Participant.ID)

	send(t, ws, domain.SignalingMessage{Type: domain.MessageOffer, StreamID: "other-stream"})
	assert.Equal(t, "INVALID_ROUTE", errorCode(t, readUntil(t, ws, domain.MessageError)))

	send(t, ws, domain.SignalingMessage{Type: domain.MessageQualityAdjustment, StreamID: "s-1"})
	assert.Equal(t, "INVALID_ROUTE", errorCode(t, readUntil(t, ws, domain.MessageError)))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "INVALID_INPUT", errorCode(t, readUntil(t, ws, domain.MessageError)))
}

func TestServer_HandRaiseIsBroadcast(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	host, student := startClass(t, h)

	hostWS := h.dial(t, host.SessionToken)
	studentWS := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", host.Participant.ID, student.Participant.ID)

	send(t, studentWS, domain.SignalingMessage{Type: domain.MessageHandRaised, StreamID: "s-1"})
	got := readUntil(t, hostWS, domain.MessageHandRaised)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(got.Payload, &payload))
	assert.Equal(t, string(student.Participant.ID), payload["participantId"])
}

func TestServer_LeaveFrameRemovesParticipant(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	host, student := startClass(t, h)

	hostWS := h.dial(t, host.SessionToken)
	studentWS := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", host.Participant.ID, student.Participant.ID)

	send(t, studentWS, domain.SignalingMessage{Type: domain.MessageLeave, StreamID: "s-1"})

	left := readUntil(t, hostWS, domain.MessageParticipantLeft)
	assert.Contains(t, string(left.Payload), string(student.Participant.ID))

	participants, err := h.coord.Participants(context.Background(), "s-1")
	require.NoError(t, err)
	require.Len(t, participants, 1)
	assert.Equal(t, host.Participant.ID, participants[0].ID)
	assert.False(t, h.hub.Connected(student.Participant.ID))
}

func TestServer_SocketCloseMarksDisconnected(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	_, student := startClass(t, h)

	ws := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", student.Participant.ID)
	require.NoError(t, ws.Close())

	require.Eventually(t, func() bool {
		participants, err := h.coord.Participants(context.Background(), "s-1")
		if err != nil {
			return false
		}
		for _, p := range participants {
			if p.ID == student.Participant.ID {
				return p.ConnectionState != domain.ConnectionConnected
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "participant stays registered but is no longer connected")
}

func TestServer_RateLimitsFrames(t *testing.T) {
	cfg := defaultTestConfig()
	cfg.MessagesPerSecond = 0.001
	cfg.Burst = 1
	h := newHarness(t, cfg)
	_, student := startClass(t, h)

	ws := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", student.Participant.ID)

	send(t, ws, domain.SignalingMessage{Type: domain.MessageHeartbeat, StreamID: "s-1"})
	send(t, ws, domain.SignalingMessage{Type: domain.MessageHeartbeat, StreamID: "s-1"})
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errorCode(t, readUntil(t, ws, domain.MessageError)))
}

func TestServer_EndStreamClosesSockets(t *testing.T) {
	h := newHarness(t, defaultTestConfig())
	_, student := startClass(t, h)

	ws := h.dial(t, student.SessionToken)
	h.waitConnected(t, "s-1", student.Participant.ID)

	require.NoError(t, h.coord.EndStream(context.Background(), "s-1"))

	got := readUntil(t, ws, domain.MessageLeave)
	assert.JSONEq(t, `{"reason":"stream_ended"}`, string(got.Payload))

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
	}
}
