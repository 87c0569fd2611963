package domain

import "encoding/json"

type MessageType string

const (
	MessageJoin              MessageType = "join"
	MessageLeave             MessageType = "leave"
	MessageOffer             MessageType = "offer"
	MessageAnswer            MessageType = "answer"
	MessageCandidate         MessageType = "candidate"
	MessageTrackState        MessageType = "track-state"
	MessageQualityAdjustment MessageType = "quality-adjustment"
	MessageHandRaised        MessageType = "hand-raised"
	MessageHandLowered       MessageType = "hand-lowered"
	MessageAudioRequested    MessageType = "audio-requested"
	MessageMuteChanged       MessageType = "mute-changed"
	MessageParticipantJoined MessageType = "participant-joined"
	MessageParticipantLeft   MessageType = "participant-left"
	MessageRoleChanged       MessageType = "role-changed"
	MessageHeartbeat         MessageType = "heartbeat"
	MessageError             MessageType = "error"
)

// Relayed reports whether messages of this type are forwarded peer to peer
// with an opaque payload.
func (t MessageType) Relayed() bool {
	switch t {
	case MessageOffer, MessageAnswer, MessageCandidate:
		return true
	}
	return false
}

// SignalingMessage is the envelope on the signaling channel. An empty
// TargetID means broadcast to the stream; an empty SenderID marks a message
// originated by the server.
type SignalingMessage struct {
	Type     MessageType     `json:"type"`
	StreamID StreamID        `json:"streamId"`
	SenderID ParticipantID   `json:"senderId,omitempty"`
	TargetID ParticipantID   `json:"targetId,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

type TrackState struct {
	Muted        *bool `json:"muted,omitempty"`
	VideoEnabled *bool `json:"videoEnabled,omitempty"`
}
