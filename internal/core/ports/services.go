package ports

import (
	"context"
	"time"

	"liveclass/internal/core/domain"
)

// SignalTransport delivers messages to participant connections. Send must
// not block; it reports whether the message was queued.
type SignalTransport interface {
	Send(participantID domain.ParticipantID, msg *domain.SignalingMessage) bool
	Close(participantID domain.ParticipantID)
}

type EventPublisher interface {
	Publish(ctx context.Context, event *domain.StreamEvent) error
}

// StreamLocker serializes stream lifecycle transitions across coordinator
// instances that share a store.
type StreamLocker interface {
	TryLock(ctx context.Context, key string) (release func(), acquired bool, err error)
}

type TokenIssuer interface {
	IssueSessionToken(grant domain.SessionGrant) (string, error)
}

type CoordinatorMetrics interface {
	StreamStarted(streamID domain.StreamID)
	StreamEnded(streamID domain.StreamID)
	ParticipantJoined(streamID domain.StreamID)
	ParticipantLeft(streamID domain.StreamID, reason string)
	MetricsReported(streamID domain.StreamID, sample domain.BandwidthSample)
	MetricsRejected(streamID domain.StreamID)
	QualityAdjusted(streamID domain.StreamID, quality domain.Quality)
	SignalRouted(msgType domain.MessageType, delivered bool)
	RecordingStarted(streamID domain.StreamID)
	RecordingFinalized(streamID domain.StreamID, sizeBytes int64, duration time.Duration)
	RecordingFailed(streamID domain.StreamID)
}

type SessionCoordinator interface {
	ScheduleStream(ctx context.Context, streamID domain.StreamID, hostID domain.UserID, title string, capacity int, settings *domain.BandwidthSettingsPatch) (*domain.Stream, error)
	GetStream(ctx context.Context, streamID domain.StreamID) (*domain.Stream, error)
	ListLiveStreams(ctx context.Context) ([]*domain.Stream, error)
	RequireHost(ctx context.Context, streamID domain.StreamID, userID domain.UserID) error
	StartStream(ctx context.Context, streamID domain.StreamID, hostID domain.UserID) (*domain.Stream, error)
	EndStream(ctx context.Context, streamID domain.StreamID) error

	JoinStream(ctx context.Context, streamID domain.StreamID, userID domain.UserID) (*domain.JoinResult, error)
	LeaveStream(ctx context.Context, streamID domain.StreamID, userID domain.UserID) error
	Heartbeat(ctx context.Context, streamID domain.StreamID, userID domain.UserID) (int, error)
	Participants(ctx context.Context, streamID domain.StreamID) ([]domain.Participant, error)

	Promote(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error
	SetMuted(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID, muted bool) error
	AllowAudio(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error
	RemoveParticipant(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error
	RaiseHand(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error
	LowerHand(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error
	RequestAudio(ctx context.Context, streamID domain.StreamID, callerID domain.UserID) error

	ReportMetrics(ctx context.Context, streamID domain.StreamID, userID domain.UserID, report domain.MetricsReport) (*domain.QualityAdjustment, error)
	RejectMetrics(ctx context.Context, streamID domain.StreamID, userID domain.UserID, cause error) error
	Bandwidth(ctx context.Context, streamID domain.StreamID) (domain.BandwidthSettings, domain.BandwidthStatistics, error)
	UpdateBandwidthSettings(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, patch domain.BandwidthSettingsPatch) (domain.BandwidthSettings, error)

	StartRecording(ctx context.Context, streamID domain.StreamID, callerID domain.UserID) (*domain.Recording, error)
	AppendSegment(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, recordingID domain.RecordingID, segment []byte) error
	StopRecording(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, recordingID domain.RecordingID) (*domain.Recording, error)
	ListRecordings(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error)

	Report(ctx context.Context, streamID domain.StreamID) (*domain.SessionReport, error)

	AttachConnection(ctx context.Context, grant domain.SessionGrant) error
	DetachConnection(ctx context.Context, grant domain.SessionGrant, failed bool)
	TouchParticipant(ctx context.Context, streamID domain.StreamID, participantID domain.ParticipantID) error
	HandleSignal(ctx context.Context, grant domain.SessionGrant, msg *domain.SignalingMessage) error
}
