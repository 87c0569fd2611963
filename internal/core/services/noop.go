package services

import (
	"context"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
)

// NoopEventPublisher drops lifecycle events. Used when no event bus is
// configured.
type NoopEventPublisher struct{}

var _ ports.EventPublisher = NoopEventPublisher{}

func (NoopEventPublisher) Publish(context.Context, *domain.StreamEvent) error { return nil }

type NoopMetrics struct{}

var _ ports.CoordinatorMetrics = NoopMetrics{}

func (NoopMetrics) StreamStarted(domain.StreamID) {}
func (NoopMetrics) StreamEnded(domain.StreamID) {}
func (NoopMetrics) ParticipantJoined(domain.StreamID) {}
func (NoopMetrics) ParticipantLeft(domain.StreamID, string) {}
func (NoopMetrics) MetricsReported(domain.StreamID, domain.BandwidthSample) {}
func (NoopMetrics) MetricsRejected(domain.StreamID) {}
func (NoopMetrics) QualityAdjusted(domain.StreamID, domain.Quality) {}
func (NoopMetrics) SignalRouted(domain.MessageType, bool) {}
func (NoopMetrics) RecordingStarted(domain.StreamID) {}
func (NoopMetrics) RecordingFinalized(domain.StreamID, int64, time.Duration) {}
func (NoopMetrics) RecordingFailed(domain.StreamID) {}
