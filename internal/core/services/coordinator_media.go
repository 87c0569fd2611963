package services

import (
	"context"
	"fmt"
	"sort"

	"liveclass/internal/core/domain"
	"liveclass/pkg/tracing"
)

// ReportMetrics feeds a client sample to the stream's bandwidth engine. It
// does not take the stream lock; only the reporter's own window is locked.
func (c *Coordinator) ReportMetrics(ctx context.Context, streamID domain.StreamID, userID domain.UserID, report domain.MetricsReport) (*domain.QualityAdjustment, error) {
	s, p, err := c.reporter(ctx, streamID, userID)
	if err != nil {
		return nil, err
	}

	sample, err := report.Sample(streamID, p.ID, c.now())
	if err == nil {
		var adjustment *domain.QualityAdjustment
		adjustment, err = s.engine.Report(p.ID, sample)
		if err == nil {
			c.metrics.MetricsReported(streamID, sample)
			if adjustment != nil {
				c.deliverAdjustment(s, adjustment)
			}
			return adjustment, nil
		}
	}

	c.dropSample(streamID, p.ID, err)
	return nil, err
}

// RejectMetrics drops a report whose body could not be decoded into numbers.
func (c *Coordinator) RejectMetrics(ctx context.Context, streamID domain.StreamID, userID domain.UserID, cause error) error {
	_, p, err := c.reporter(ctx, streamID, userID)
	if err != nil {
		return err
	}
	err = fmt.Errorf("%w: %v", domain.ErrInvalidMetrics, cause)
	c.dropSample(streamID, p.ID, err)
	return err
}

func (c *Coordinator) reporter(ctx context.Context, streamID domain.StreamID, userID domain.UserID) (*streamSession, domain.Participant, error) {
	s, ok := c.liveSession(streamID)
	if !ok {
		if err := c.inactiveError(ctx, streamID); err != nil {
			return nil, domain.Participant{}, err
		}
		if s, ok = c.liveSession(streamID); !ok {
			return nil, domain.Participant{}, domain.ErrStreamNotLive
		}
	}
	p, err := s.registry.GetByUser(userID)
	if err != nil {
		return nil, domain.Participant{}, err
	}
	return s, p, nil
}

func (c *Coordinator) dropSample(streamID domain.StreamID, participantID domain.ParticipantID, err error) {
	c.metrics.MetricsRejected(streamID)
	c.logger.Warnw("metrics sample dropped",
		"stream_id", streamID,
		"participant_id", participantID,
		"error", err,
	)
}

func (c *Coordinator) deliverAdjustment(s *streamSession, adjustment *domain.QualityAdjustment) {
	streamID := s.stream.ID
	s.relay.Notify(adjustment.ParticipantID, domain.MessageQualityAdjustment, adjustment)
	c.metrics.QualityAdjusted(streamID, adjustment.Quality)
	c.publish(&domain.StreamEvent{
		Type:          domain.EventQualityAdjusted,
		StreamID:      streamID,
		ParticipantID: adjustment.ParticipantID,
		Attributes: map[string]interface{}{
			"quality":                  adjustment.Quality,
			"recommended_bitrate_kbps": adjustment.RecommendedBitrateKbps,
		},
	})
}

// Bandwidth returns current settings and window statistics. Streams that
// are not live report their stored settings and empty statistics.
func (c *Coordinator) Bandwidth(ctx context.Context, streamID domain.StreamID) (domain.BandwidthSettings, domain.BandwidthStatistics, error) {
	if s, ok := c.liveSession(streamID); ok {
		return s.engine.Settings(), s.engine.Statistics(), nil
	}
	stream, err := c.streams.GetByID(ctx, streamID)
	if err != nil {
		return domain.BandwidthSettings{}, domain.BandwidthStatistics{}, err
	}
	return stream.BandwidthSettings, domain.BandwidthStatistics{
		PerParticipant: map[domain.ParticipantID]domain.WindowStats{},
	}, nil
}

// UpdateBandwidthSettings applies a host's patch. Every field is clamped into
// its allowed range; absent fields keep their value.
func (c *Coordinator) UpdateBandwidthSettings(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, patch domain.BandwidthSettingsPatch) (domain.BandwidthSettings, error) {
	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if s.live.Load() {
		if s.stream.HostID != callerID {
			return domain.BandwidthSettings{}, domain.ErrNotAuthorized
		}
		settings := s.engine.UpdateSettings(patch)
		s.stream.BandwidthSettings = settings
		c.markDirty(s)
		return settings, nil
	}

	stream, err := c.streams.GetByID(ctx, streamID)
	if err != nil {
		return domain.BandwidthSettings{}, err
	}
	if stream.HostID != callerID {
		return domain.BandwidthSettings{}, domain.ErrNotAuthorized
	}
	stream.BandwidthSettings = stream.BandwidthSettings.Apply(patch)
	if err := c.streams.Update(ctx, stream); err != nil {
		return domain.BandwidthSettings{}, fmt.Errorf("failed to persist bandwidth settings: %w", err)
	}
	return stream.BandwidthSettings, nil
}

// StartRecording opens the stream's single active recording. Only the host
// may record and only while live.
func (c *Coordinator) StartRecording(ctx context.Context, streamID domain.StreamID, callerID domain.UserID) (*domain.Recording, error) {
	ctx, span := tracing.TraceRecording(ctx, "start", string(streamID), "")
	defer span.End()

	// Started under the stream lock so EndStream either sees the recording and
	// finalizes it or runs entirely before it exists.
	var rec *domain.Recording
	err := c.withLive(ctx, streamID, func(s *streamSession) error {
		if s.stream.HostID != callerID {
			return domain.ErrNotAuthorized
		}
		started, err := c.recordings.Start(ctx, streamID)
		if err != nil {
			return err
		}
		rec = started
		return nil
	})
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}

	c.publish(&domain.StreamEvent{
		Type:       domain.EventRecordingStarted,
		StreamID:   streamID,
		UserID:     callerID,
		Attributes: map[string]interface{}{"recording_id": rec.ID},
	})
	return rec, nil
}

// AppendSegment adds opaque media bytes to the stream's active recording.
func (c *Coordinator) AppendSegment(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, recordingID domain.RecordingID, segment []byte) error {
	if err := c.RequireHost(ctx, streamID, callerID); err != nil {
		return err
	}
	active, ok := c.recordings.ActiveFor(streamID)
	if !ok || active != recordingID {
		return domain.ErrRecordingNotActive
	}
	return c.recordings.AppendSegment(recordingID, segment)
}

// StopRecording finalizes the given recording, or the active one when
// recordingID is empty. Stopping is allowed after the stream ended so a
// failed force-finalize can be retried.
func (c *Coordinator) StopRecording(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, recordingID domain.RecordingID) (*domain.Recording, error) {
	ctx, span := tracing.TraceRecording(ctx, "stop", string(streamID), string(recordingID))
	defer span.End()

	if err := c.RequireHost(ctx, streamID, callerID); err != nil {
		return nil, err
	}
	active, ok := c.recordings.ActiveFor(streamID)
	if !ok || (recordingID != "" && recordingID != active) {
		return nil, domain.ErrRecordingNotActive
	}

	rec, err := c.recordings.Stop(ctx, active)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	c.publish(&domain.StreamEvent{
		Type:     domain.EventRecordingFinalized,
		StreamID: streamID,
		UserID:   callerID,
		Attributes: map[string]interface{}{
			"recording_id": rec.ID,
			"size_bytes":   rec.SizeBytes,
			"duration_ms":  rec.DurationMs,
		},
	})
	return rec, nil
}

func (c *Coordinator) ListRecordings(ctx context.Context, streamID domain.StreamID) ([]*domain.Recording, error) {
	if _, err := c.GetStream(ctx, streamID); err != nil {
		return nil, err
	}
	return c.recordings.List(ctx, streamID)
}

// Report builds the session summary: statistics, current participants with
// their accrued watch time and window stats, recently departed participants,
// and recordings.
func (c *Coordinator) Report(ctx context.Context, streamID domain.StreamID) (*domain.SessionReport, error) {
	now := c.now()
	report := &domain.SessionReport{StreamID: streamID, GeneratedAt: now}

	var stream *domain.Stream
	s := c.lock(streamID)
	if s.live.Load() {
		stream = s.stream.Clone()
		viewerSeconds := s.viewers.at(now)
		stream.Statistics.ViewerSeconds = viewerSeconds
		if stream.StartedAt != nil {
			if d := now.Sub(*stream.StartedAt).Seconds(); d > 0 {
				stream.Statistics.AverageViewers = viewerSeconds / d
			}
		}
		for _, p := range s.registry.List() {
			summary := domain.ParticipantSummary{
				StreamID:         streamID,
				ParticipantID:    p.ID,
				UserID:           p.UserID,
				Role:             p.Role,
				JoinedAt:         p.JoinedAt,
				WatchTimeSeconds: p.AccumulatedWatchTimeSeconds,
			}
			if st, ok := s.engine.ParticipantStats(p.ID); ok {
				summary.Quality = &st
			}
			report.Participants = append(report.Participants, summary)
		}
		report.CurrentViewers = s.registry.Count()
	}
	c.unlock(streamID, s)

	if stream == nil {
		var err error
		if stream, err = c.streams.GetByID(ctx, streamID); err != nil {
			return nil, err
		}
	}

	for _, id := range c.departed.Keys() {
		summary, ok := c.departed.Peek(id)
		if ok && summary.StreamID == streamID {
			report.Participants = append(report.Participants, summary)
		}
	}
	sort.SliceStable(report.Participants, func(i, j int) bool {
		return report.Participants[i].JoinedAt.Before(report.Participants[j].JoinedAt)
	})
	for _, p := range report.Participants {
		report.TotalWatchTimeSeconds += p.WatchTimeSeconds
	}

	recordings, err := c.recordings.List(ctx, streamID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}

	report.State = stream.State
	report.Statistics = stream.Statistics
	report.Recordings = recordings
	if stream.StartedAt != nil {
		end := now
		if stream.EndedAt != nil {
			end = *stream.EndedAt
		}
		report.DurationSeconds = end.Sub(*stream.StartedAt).Seconds()
	}
	if report.Participants == nil {
		report.Participants = []domain.ParticipantSummary{}
	}
	return report, nil
}
