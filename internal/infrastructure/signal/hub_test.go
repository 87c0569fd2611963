package signal

import (
	"encoding/json"
	"testing"

	"liveclass/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func grantFor(pid domain.ParticipantID) domain.SessionGrant {
	return domain.SessionGrant{StreamID: "s-1", ParticipantID: pid, UserID: domain.UserID("u-" + pid)}
}

func TestHub_SendQueuesEncodedFrame(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	conn := newConnection(grantFor("p-1"), nil, 4)
	hub.register(conn)

	ok := hub.Send("p-1", &domain.SignalingMessage{Type: domain.MessageOffer, StreamID: "s-1", SenderID: "p-2", TargetID: "p-1"})
	require.True(t, ok)

	var msg domain.SignalingMessage
	require.NoError(t, json.Unmarshal(<-conn.send, &msg))
	assert.Equal(t, domain.MessageOffer, msg.Type)
	assert.Equal(t, domain.ParticipantID("p-2"), msg.SenderID)
}

func TestHub_SendNeverBlocks(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	hub.register(newConnection(grantFor("p-1"), nil, 2))

	msg := &domain.SignalingMessage{Type: domain.MessageCandidate, StreamID: "s-1"}
	assert.True(t, hub.Send("p-1", msg))
	assert.True(t, hub.Send("p-1", msg))
	assert.False(t, hub.Send("p-1", msg), "full buffer drops the frame")
	assert.False(t, hub.Send("nobody", msg))

	stats := hub.Stats()
	assert.Equal(t, 1, stats.Connections)
	assert.Equal(t, uint64(2), stats.Sent)
	assert.Equal(t, uint64(2), stats.Dropped)
}

func TestHub_ReplaceAndUnregister(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	first := newConnection(grantFor("p-1"), nil, 1)
	second := newConnection(grantFor("p-1"), nil, 1)

	hub.register(first)
	hub.register(second)

	select {
	case <-first.done:
	default:
		t.Fatal("replaced connection was not closed")
	}

	assert.False(t, hub.unregister(first), "stale connection must not unregister its replacement")
	assert.True(t, hub.Connected("p-1"))
	assert.True(t, hub.unregister(second))
	assert.False(t, hub.Connected("p-1"))
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t).Sugar())
	conn := newConnection(grantFor("p-1"), nil, 4)
	hub.register(conn)

	hub.Close("p-1")
	assert.False(t, hub.Connected("p-1"))
	assert.False(t, conn.enqueue([]byte("{}")))
	assert.False(t, hub.unregister(conn))

	hub.register(newConnection(grantFor("p-2"), nil, 1))
	hub.CloseAll()
	assert.Equal(t, 0, hub.Stats().Connections)
}
