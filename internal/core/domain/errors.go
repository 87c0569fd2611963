package domain

import "errors"

var (
	ErrNotAuthorized          = errors.New("not authorized")
	ErrStreamNotFound         = errors.New("stream not found")
	ErrStreamExists           = errors.New("stream already exists")
	ErrStreamNotLive          = errors.New("stream is not live")
	ErrAlreadyLive            = errors.New("stream is already live")
	ErrStreamFull             = errors.New("stream is full")
	ErrInvalidMetrics         = errors.New("invalid metrics sample")
	ErrInvalidRoute           = errors.New("invalid signaling route")
	ErrRecordingAlreadyActive = errors.New("recording already active")
	ErrRecordingNotActive     = errors.New("recording not active")
	ErrParticipantNotFound    = errors.New("participant not found")
	ErrRecordingNotFound      = errors.New("recording not found")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrNotAuthorized, "NOT_AUTHORIZED"},
	{ErrStreamNotFound, "NOT_FOUND"},
	{ErrStreamExists, "CONFLICT"},
	{ErrStreamNotLive, "STREAM_NOT_LIVE"},
	{ErrAlreadyLive, "ALREADY_LIVE"},
	{ErrStreamFull, "STREAM_FULL"},
	{ErrInvalidMetrics, "INVALID_METRICS"},
	{ErrInvalidRoute, "INVALID_ROUTE"},
	{ErrRecordingAlreadyActive, "RECORDING_ALREADY_ACTIVE"},
	{ErrRecordingNotActive, "RECORDING_NOT_ACTIVE"},
	{ErrParticipantNotFound, "PARTICIPANT_NOT_FOUND"},
	{ErrRecordingNotFound, "NOT_FOUND"},
}

// ErrorCode names the taxonomy entry err belongs to, or "" when err is not
// a domain error.
func ErrorCode(err error) string {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return ""
}
