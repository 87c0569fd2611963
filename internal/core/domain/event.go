package domain

import "time"

type EventType string

const (
	EventStreamStarted      EventType = "stream.started"
	EventStreamEnded        EventType = "stream.ended"
	EventParticipantJoined  EventType = "participant.joined"
	EventParticipantLeft    EventType = "participant.left"
	EventQualityAdjusted    EventType = "quality.adjusted"
	EventRecordingStarted   EventType = "recording.started"
	EventRecordingFinalized EventType = "recording.finalized"
)

// StreamEvent is a lifecycle notification for other instances and consumers.
type StreamEvent struct {
	Type          EventType              `json:"type"`
	StreamID      StreamID               `json:"streamId"`
	ParticipantID ParticipantID          `json:"participantId,omitempty"`
	UserID        UserID                 `json:"userId,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Attributes    map[string]interface{} `json:"attributes,omitempty"`
}
