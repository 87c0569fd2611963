package domain

import "time"

type ParticipantID string

type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleCoHost      ParticipantRole = "co-host"
	RoleParticipant ParticipantRole = "participant"
)

type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionFailed       ConnectionState = "failed"
)

// Deliverable reports whether signaling messages may be pushed to a
// participant in this state.
func (s ConnectionState) Deliverable() bool {
	return s == ConnectionConnected
}

type Participant struct {
	ID                          ParticipantID   `json:"id"`
	StreamID                    StreamID        `json:"streamId"`
	UserID                      UserID          `json:"userId"`
	Role                        ParticipantRole `json:"role"`
	ConnectionState             ConnectionState `json:"connectionState"`
	Muted                       bool            `json:"muted"`
	VideoEnabled                bool            `json:"videoEnabled"`
	HandRaised                  bool            `json:"handRaised"`
	AudioRequested              bool            `json:"audioRequested"`
	JoinedAt                    time.Time       `json:"joinedAt"`
	LeftAt                      *time.Time      `json:"leftAt,omitempty"`
	AccumulatedWatchTimeSeconds float64         `json:"accumulatedWatchTimeSeconds"`
}

// ParticipantSummary is what remains of a participant after it left,
// kept for session reports.
type ParticipantSummary struct {
	StreamID         StreamID        `json:"streamId"`
	ParticipantID    ParticipantID   `json:"participantId"`
	UserID           UserID          `json:"userId"`
	Role             ParticipantRole `json:"role"`
	JoinedAt         time.Time       `json:"joinedAt"`
	LeftAt           *time.Time      `json:"leftAt,omitempty"`
	WatchTimeSeconds float64         `json:"watchTimeSeconds"`
	LeaveReason      string          `json:"leaveReason,omitempty"`
	Quality          *WindowStats    `json:"quality,omitempty"`
}

// SessionGrant identifies the holder of a session token issued on join.
type SessionGrant struct {
	StreamID      StreamID
	ParticipantID ParticipantID
	UserID        UserID
	Role          ParticipantRole
}

type JoinResult struct {
	Participant  Participant `json:"participant"`
	SessionToken string      `json:"sessionToken"`
	Rejoined     bool        `json:"rejoined"`
}
