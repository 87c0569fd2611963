package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/pkg/tracing"

	"github.com/bep/debounce"
	"github.com/gammazero/workerpool"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

type CoordinatorConfig struct {
	DefaultCapacity   int
	SampleRetention   time.Duration
	DepartedCacheSize int
	StatsPersistDelay time.Duration
	EventTimeout      time.Duration
}

func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		DefaultCapacity:   100,
		SampleRetention:   DefaultSampleRetention,
		DepartedCacheSize: 4096,
		StatsPersistDelay: 2 * time.Second,
		EventTimeout:      5 * time.Second,
	}
}

// Coordinator composes the per-stream registry, relay and bandwidth engine
// with the process-wide recording orchestrator and heartbeat monitor. All
// mutations of one stream run under that stream's session lock; different
// streams share nothing but the session index.
type Coordinator struct {
	streams    ports.StreamRepository
	recordings *RecordingOrchestrator
	heartbeats *HeartbeatMonitor
	transport  ports.SignalTransport
	events     ports.EventPublisher
	tokens     ports.TokenIssuer
	metrics    ports.CoordinatorMetrics
	locker     ports.StreamLocker
	quality    *QualityService
	cfg        CoordinatorConfig
	logger     *zap.SugaredLogger

	mu       sync.Mutex
	sessions map[domain.StreamID]*streamSession

	departed  *lru.Cache[domain.ParticipantID, domain.ParticipantSummary]
	eventPool *workerpool.WorkerPool

	now func() time.Time
}

// streamSession is the serialized-access domain of one live stream. The
// registry, relay and engine are assigned before live is set and never
// reassigned, so lock-free readers that observe live may use them.
type streamSession struct {
	mu sync.Mutex

	live     atomic.Bool
	stream   *domain.Stream
	registry *ParticipantRegistry
	relay    *SignalingRelay
	engine   *BandwidthEngine
	viewers  viewerClock
	persist  func(f func())

	version uint64

	persistMu    sync.Mutex
	savedVersion uint64
}

// viewerClock integrates the concurrent participant count over time.
type viewerClock struct {
	since         time.Time
	count         int
	viewerSeconds float64
}

func (v *viewerClock) set(now time.Time, count int) {
	v.viewerSeconds = v.at(now)
	v.since = now
	v.count = count
}

func (v *viewerClock) at(now time.Time) float64 {
	if v.since.IsZero() || !now.After(v.since) {
		return v.viewerSeconds
	}
	return v.viewerSeconds + float64(v.count)*now.Sub(v.since).Seconds()
}

var _ ports.SessionCoordinator = (*Coordinator)(nil)

func NewCoordinator(
	streams ports.StreamRepository,
	recordings *RecordingOrchestrator,
	heartbeats *HeartbeatMonitor,
	transport ports.SignalTransport,
	events ports.EventPublisher,
	tokens ports.TokenIssuer,
	metrics ports.CoordinatorMetrics,
	cfg CoordinatorConfig,
	logger *zap.SugaredLogger,
) (*Coordinator, error) {
	if cfg.DepartedCacheSize <= 0 {
		cfg.DepartedCacheSize = DefaultCoordinatorConfig().DepartedCacheSize
	}
	if cfg.EventTimeout <= 0 {
		cfg.EventTimeout = DefaultCoordinatorConfig().EventTimeout
	}
	departed, err := lru.New[domain.ParticipantID, domain.ParticipantSummary](cfg.DepartedCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create departed participant cache: %w", err)
	}

	c := &Coordinator{
		streams:    streams,
		recordings: recordings,
		heartbeats: heartbeats,
		transport:  transport,
		events:     events,
		tokens:     tokens,
		metrics:    metrics,
		quality:    NewQualityService(),
		cfg:        cfg,
		logger:     logger,
		sessions:   make(map[domain.StreamID]*streamSession),
		departed:   departed,
		eventPool:  workerpool.New(1),
		now:        time.Now,
	}
	heartbeats.OnTimeout(c.handleHeartbeatTimeout)
	return c, nil
}

// UseLocker makes stream start exclusive across instances sharing the
// stream store. Call before serving requests.
func (c *Coordinator) UseLocker(locker ports.StreamLocker) {
	c.locker = locker
}

// Close writes the pending statistics of every live stream and drains
// queued event publications.
func (c *Coordinator) Close() {
	c.mu.Lock()
	live := make([]*streamSession, 0, len(c.sessions))
	for _, s := range c.sessions {
		if s.live.Load() {
			live = append(live, s)
		}
	}
	c.mu.Unlock()

	for _, s := range live {
		c.flush(s)
	}
	c.eventPool.StopWait()
}

// lock acquires the session of streamID, creating a placeholder if needed.
// A placeholder that is not live is dropped from the index on unlock, so
// callers that waited on a dropped session retry against the current one.
func (c *Coordinator) lock(streamID domain.StreamID) *streamSession {
	for {
		c.mu.Lock()
		s, ok := c.sessions[streamID]
		if !ok {
			s = &streamSession{}
			c.sessions[streamID] = s
		}
		c.mu.Unlock()

		s.mu.Lock()
		c.mu.Lock()
		current := c.sessions[streamID]
		c.mu.Unlock()
		if current == s {
			return s
		}
		s.mu.Unlock()
	}
}

func (c *Coordinator) unlock(streamID domain.StreamID, s *streamSession) {
	if !s.live.Load() {
		c.mu.Lock()
		if c.sessions[streamID] == s {
			delete(c.sessions, streamID)
		}
		c.mu.Unlock()
	}
	s.mu.Unlock()
}

// liveSession returns the session for lock-free read paths.
func (c *Coordinator) liveSession(streamID domain.StreamID) (*streamSession, bool) {
	c.mu.Lock()
	s, ok := c.sessions[streamID]
	c.mu.Unlock()
	if !ok || !s.live.Load() {
		return nil, false
	}
	return s, true
}

func (c *Coordinator) ScheduleStream(
	ctx context.Context,
	streamID domain.StreamID,
	hostID domain.UserID,
	title string,
	capacity int,
	settings *domain.BandwidthSettingsPatch,
) (*domain.Stream, error) {
	if streamID == "" {
		streamID = domain.StreamID(uuid.NewString())
	}
	stream := c.newStream(streamID, hostID, title, capacity)
	if settings != nil {
		stream.BandwidthSettings = stream.BandwidthSettings.Apply(*settings)
	}
	if err := c.streams.Create(ctx, stream); err != nil {
		return nil, err
	}

	c.logger.Infow("stream scheduled", "stream_id", streamID, "host_id", hostID, "capacity", stream.Capacity)
	return stream.Clone(), nil
}

func (c *Coordinator) newStream(streamID domain.StreamID, hostID domain.UserID, title string, capacity int) *domain.Stream {
	if capacity <= 0 {
		capacity = c.cfg.DefaultCapacity
	}
	return &domain.Stream{
		ID:                streamID,
		Title:             title,
		HostID:            hostID,
		State:             domain.StreamScheduled,
		Capacity:          capacity,
		BandwidthSettings: domain.DefaultBandwidthSettings(),
		CreatedAt:         c.now(),
	}
}

func (c *Coordinator) GetStream(ctx context.Context, streamID domain.StreamID) (*domain.Stream, error) {
	s := c.lock(streamID)
	if s.live.Load() {
		out := s.stream.Clone()
		c.unlock(streamID, s)
		return out, nil
	}
	c.unlock(streamID, s)
	return c.streams.GetByID(ctx, streamID)
}

func (c *Coordinator) ListLiveStreams(ctx context.Context) ([]*domain.Stream, error) {
	return c.streams.ListLive(ctx)
}

func (c *Coordinator) RequireHost(ctx context.Context, streamID domain.StreamID, userID domain.UserID) error {
	stream, err := c.GetStream(ctx, streamID)
	if err != nil {
		return err
	}
	if stream.HostID != userID {
		return domain.ErrNotAuthorized
	}
	return nil
}

// StartStream moves a scheduled stream to live. Unknown ids are created on
// the fly with hostID as host. The live flag is the gate: of any number of
// concurrent calls exactly one succeeds and the rest see AlreadyLive.
func (c *Coordinator) StartStream(ctx context.Context, streamID domain.StreamID, hostID domain.UserID) (*domain.Stream, error) {
	ctx, span := tracing.TraceStream(ctx, "start_stream", string(streamID), string(hostID))
	defer span.End()

	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if s.live.Load() {
		return nil, domain.ErrAlreadyLive
	}
	if c.locker != nil {
		release, acquired, err := c.locker.TryLock(ctx, "start:"+string(streamID))
		if err != nil {
			return nil, fmt.Errorf("failed to lock stream start: %w", err)
		}
		if !acquired {
			return nil, domain.ErrAlreadyLive
		}
		defer release()
	}

	stream, err := c.streams.GetByID(ctx, streamID)
	created := false
	switch {
	case errors.Is(err, domain.ErrStreamNotFound):
		stream = c.newStream(streamID, hostID, "", 0)
		created = true
	case err != nil:
		return nil, err
	}

	if stream.HostID != hostID {
		return nil, domain.ErrNotAuthorized
	}
	if !stream.State.CanTransitionTo(domain.StreamLive) {
		if stream.State == domain.StreamLive {
			// Live in the store but not in this process: resume it so joins work.
			c.activate(s, stream)
			return nil, domain.ErrAlreadyLive
		}
		return nil, fmt.Errorf("%w: stream has ended", domain.ErrStreamNotLive)
	}

	now := c.now()
	next := stream.Clone()
	next.State = domain.StreamLive
	next.StartedAt = &now
	if created {
		err = c.streams.Create(ctx, next)
	} else {
		err = c.streams.Update(ctx, next)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to persist stream start: %w", err)
	}

	c.activate(s, next)
	c.metrics.StreamStarted(streamID)
	c.publish(&domain.StreamEvent{Type: domain.EventStreamStarted, StreamID: streamID, UserID: hostID})
	c.logger.Infow("stream started", "stream_id", streamID, "host_id", hostID)
	return next.Clone(), nil
}

func (c *Coordinator) activate(s *streamSession, stream *domain.Stream) {
	now := c.now()
	registry := NewParticipantRegistry(stream.ID, stream.HostID)
	registry.now = c.now
	engine := NewBandwidthEngine(stream.ID, stream.BandwidthSettings, c.cfg.SampleRetention, c.quality, c.logger)
	engine.now = c.now

	s.stream = stream
	s.registry = registry
	s.relay = NewSignalingRelay(registry, c.transport, c.metrics, c.logger)
	s.engine = engine
	s.viewers = viewerClock{since: now, viewerSeconds: stream.Statistics.ViewerSeconds}
	s.persist = debounce.New(c.cfg.StatsPersistDelay)
	s.live.Store(true)
}

// ensureLive activates a session for a stream that is live in the store.
func (c *Coordinator) ensureLive(ctx context.Context, s *streamSession, streamID domain.StreamID) error {
	if s.live.Load() {
		return nil
	}
	stream, err := c.streams.GetByID(ctx, streamID)
	if err != nil {
		return err
	}
	switch stream.State {
	case domain.StreamLive:
		c.activate(s, stream)
		return nil
	case domain.StreamEnded:
		return fmt.Errorf("%w: stream has ended", domain.ErrStreamNotLive)
	default:
		return fmt.Errorf("%w: stream has not started", domain.ErrStreamNotLive)
	}
}

// EndStream finalizes any active recording, removes every participant and
// closes their routes, then marks the stream ended. Ending an ended stream
// is a no-op.
func (c *Coordinator) EndStream(ctx context.Context, streamID domain.StreamID) error {
	ctx, span := tracing.TraceStream(ctx, "end_stream", string(streamID), "")
	defer span.End()

	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if !s.live.Load() {
		stream, err := c.streams.GetByID(ctx, streamID)
		if err != nil {
			return err
		}
		if stream.State == domain.StreamEnded {
			return nil
		}
		if !stream.State.CanTransitionTo(domain.StreamEnded) {
			return fmt.Errorf("%w: stream has not started", domain.ErrStreamNotLive)
		}
		c.activate(s, stream)
	}

	if rec, err := c.recordings.FinalizeStream(ctx, streamID); err != nil {
		c.logger.Errorw("failed to finalize recording on stream end", "stream_id", streamID, "error", err)
	} else if rec != nil {
		c.publish(&domain.StreamEvent{
			Type:       domain.EventRecordingFinalized,
			StreamID:   streamID,
			Attributes: map[string]interface{}{"recording_id": rec.ID, "size_bytes": rec.SizeBytes},
		})
	}

	s.relay.Broadcast(domain.MessageLeave, map[string]string{"reason": "stream_ended"}, "")
	for _, final := range s.registry.Drain() {
		c.retire(s, final, "stream_ended")
	}

	now := c.now()
	s.stream.State = domain.StreamEnded
	s.stream.EndedAt = &now
	c.touchStats(s, now)
	s.live.Store(false)

	snapshot, version := s.stream.Clone(), s.version
	if err := c.save(ctx, s, snapshot, version); err != nil {
		tracing.RecordError(ctx, err)
		c.logger.Errorw("failed to persist stream end", "stream_id", streamID, "error", err)
		return fmt.Errorf("failed to persist stream end: %w", err)
	}

	c.metrics.StreamEnded(streamID)
	c.publish(&domain.StreamEvent{
		Type:     domain.EventStreamEnded,
		StreamID: streamID,
		Attributes: map[string]interface{}{
			"peak_viewers":    snapshot.Statistics.PeakViewers,
			"total_views":     snapshot.Statistics.TotalViews,
			"average_viewers": snapshot.Statistics.AverageViewers,
		},
	})
	c.logger.Infow("stream ended",
		"stream_id", streamID,
		"peak_viewers", snapshot.Statistics.PeakViewers,
		"total_views", snapshot.Statistics.TotalViews,
	)
	return nil
}

// JoinStream creates or replaces the caller's participant record and
// returns a session token for the signaling channel.
func (c *Coordinator) JoinStream(ctx context.Context, streamID domain.StreamID, userID domain.UserID) (*domain.JoinResult, error) {
	ctx, span := tracing.TraceStream(ctx, "join_stream", string(streamID), string(userID))
	defer span.End()

	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if err := c.ensureLive(ctx, s, streamID); err != nil {
		return nil, err
	}

	grant := domain.SessionGrant{
		StreamID:      streamID,
		ParticipantID: domain.ParticipantID(uuid.NewString()),
		UserID:        userID,
		Role:          domain.RoleParticipant,
	}
	existing, err := s.registry.GetByUser(userID)
	switch {
	case err == nil:
		grant.ParticipantID, grant.Role = existing.ID, existing.Role
	case s.registry.IsHost(userID):
		grant.Role = domain.RoleHost
	case s.stream.Capacity > 0 && s.registry.Count() >= s.stream.Capacity:
		return nil, domain.ErrStreamFull
	}

	// Issued before anything is registered; a failure changes nothing.
	token, err := c.tokens.IssueSessionToken(grant)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, fmt.Errorf("failed to issue session token: %w", err)
	}

	p, rejoined := s.registry.Join(userID, grant.ParticipantID)
	if rejoined {
		s.relay.CloseRoute(p.ID)
	}
	c.heartbeats.Track(streamID, p.ID)

	if !rejoined {
		s.stream.Statistics.TotalViews++
		s.relay.Broadcast(domain.MessageParticipantJoined, p, p.ID)
		c.metrics.ParticipantJoined(streamID)
		c.publish(&domain.StreamEvent{
			Type:          domain.EventParticipantJoined,
			StreamID:      streamID,
			ParticipantID: p.ID,
			UserID:        userID,
		})
	}
	c.touchStats(s, c.now())

	c.logger.Infow("participant joined",
		"stream_id", streamID,
		"participant_id", p.ID,
		"user_id", userID,
		"role", p.Role,
		"rejoined", rejoined,
	)
	return &domain.JoinResult{Participant: p, SessionToken: token, Rejoined: rejoined}, nil
}

// LeaveStream removes the caller. Leaving twice, or leaving a stream that is
// not live, succeeds without effect.
func (c *Coordinator) LeaveStream(ctx context.Context, streamID domain.StreamID, userID domain.UserID) error {
	_, span := tracing.TraceStream(ctx, "leave_stream", string(streamID), string(userID))
	defer span.End()

	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if !s.live.Load() {
		return nil
	}
	p, err := s.registry.GetByUser(userID)
	if err != nil {
		return nil
	}
	c.depart(s, p.ID, "left")
	return nil
}

func (c *Coordinator) handleHeartbeatTimeout(streamID domain.StreamID, participantID domain.ParticipantID) {
	s := c.lock(streamID)
	defer c.unlock(streamID, s)

	if !s.live.Load() {
		return
	}
	// A rejoin between the sweep and this call tracks the participant again.
	if _, tracked := c.heartbeats.LastSeen(streamID, participantID); tracked {
		return
	}
	if err := s.registry.SetConnectionState(participantID, domain.ConnectionDisconnected); err != nil {
		return
	}
	c.depart(s, participantID, "timeout")
}

// depart is the shared cleanup path for leave, removal and timeout.
// Accumulated watch time is kept in the departed summary.
func (c *Coordinator) depart(s *streamSession, participantID domain.ParticipantID, reason string) bool {
	final, ok := s.registry.Remove(participantID)
	if !ok {
		return false
	}
	c.retire(s, final, reason)
	return true
}

// retire releases everything held for a participant already removed from
// the registry and records its summary.
func (c *Coordinator) retire(s *streamSession, final domain.Participant, reason string) {
	streamID := s.stream.ID
	participantID := final.ID
	c.heartbeats.Untrack(streamID, participantID)
	quality, hasQuality := s.engine.RemoveParticipant(participantID)
	s.relay.CloseRoute(participantID)
	s.relay.Broadcast(domain.MessageParticipantLeft, map[string]interface{}{
		"participantId": participantID,
		"reason":        reason,
	}, participantID)
	c.touchStats(s, c.now())

	summary := domain.ParticipantSummary{
		StreamID:         streamID,
		ParticipantID:    final.ID,
		UserID:           final.UserID,
		Role:             final.Role,
		JoinedAt:         final.JoinedAt,
		LeftAt:           final.LeftAt,
		WatchTimeSeconds: final.AccumulatedWatchTimeSeconds,
		LeaveReason:      reason,
	}
	if hasQuality {
		summary.Quality = &quality
	}
	c.departed.Add(final.ID, summary)

	c.metrics.ParticipantLeft(streamID, reason)
	c.publish(&domain.StreamEvent{
		Type:          domain.EventParticipantLeft,
		StreamID:      streamID,
		ParticipantID: final.ID,
		UserID:        final.UserID,
		Attributes:    map[string]interface{}{"reason": reason, "watch_time_seconds": final.AccumulatedWatchTimeSeconds},
	})
	c.logger.Infow("participant left",
		"stream_id", streamID,
		"participant_id", final.ID,
		"user_id", final.UserID,
		"reason", reason,
		"watch_time_seconds", final.AccumulatedWatchTimeSeconds,
	)
}

// touchStats refreshes peak and time-weighted viewer statistics after a
// membership change and schedules a debounced write. Caller holds s.mu.
func (c *Coordinator) touchStats(s *streamSession, now time.Time) {
	count := s.registry.Count()
	s.viewers.set(now, count)

	st := &s.stream.Statistics
	if count > st.PeakViewers {
		st.PeakViewers = count
	}
	st.ViewerSeconds = s.viewers.viewerSeconds
	if s.stream.StartedAt != nil {
		if d := now.Sub(*s.stream.StartedAt).Seconds(); d > 0 {
			st.AverageViewers = st.ViewerSeconds / d
		}
	}
	c.markDirty(s)
}

func (c *Coordinator) countInteraction(s *streamSession) {
	s.stream.Statistics.TotalInteractions++
	c.markDirty(s)
}

func (c *Coordinator) markDirty(s *streamSession) {
	s.version++
	s.persist(func() { c.flush(s) })
}

func (c *Coordinator) flush(s *streamSession) {
	s.mu.Lock()
	snapshot, version := s.stream.Clone(), s.version
	s.mu.Unlock()

	if err := c.save(context.Background(), s, snapshot, version); err != nil {
		c.logger.Warnw("failed to persist stream statistics", "stream_id", snapshot.ID, "error", err)
	}
}

// save writes snapshot unless a newer version has already been written.
func (c *Coordinator) save(ctx context.Context, s *streamSession, snapshot *domain.Stream, version uint64) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if version <= s.savedVersion {
		return nil
	}
	if err := c.streams.Update(ctx, snapshot); err != nil {
		return err
	}
	s.savedVersion = version
	return nil
}

// publish hands the event to a single worker so publications keep their
// order and never block the caller on the event bus.
func (c *Coordinator) publish(event *domain.StreamEvent) {
	event.Timestamp = c.now()
	c.eventPool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.EventTimeout)
		defer cancel()
		if err := c.events.Publish(ctx, event); err != nil {
			c.logger.Warnw("failed to publish stream event", "type", event.Type, "stream_id", event.StreamID, "error", err)
		}
	})
}
