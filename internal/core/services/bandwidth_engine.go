package services

import (
	"sync"
	"time"

	"liveclass/internal/core/domain"

	"github.com/gammazero/deque"
	"go.uber.org/zap"
)

const (
	DefaultSampleRetention = 5 * time.Minute

	// A spike is a move from below to at-or-above this loss percentage.
	packetLossSpikeThreshold = 5.0
	// A quality drop is a bitrate falling below this share of the previous sample.
	qualityDropRatio = 0.5
)

// BandwidthEngine owns the rolling sample windows of one stream and decides
// when a participant should be told to change quality. Each participant has
// its own window lock so reports from different participants never contend.
type BandwidthEngine struct {
	streamID  domain.StreamID
	quality   *QualityService
	retention time.Duration
	logger    *zap.SugaredLogger

	settingsMu sync.RWMutex
	settings   domain.BandwidthSettings

	windowsMu sync.RWMutex
	windows   map[domain.ParticipantID]*sampleWindow

	now func() time.Time
}

func NewBandwidthEngine(
	streamID domain.StreamID,
	settings domain.BandwidthSettings,
	retention time.Duration,
	quality *QualityService,
	logger *zap.SugaredLogger,
) *BandwidthEngine {
	if retention <= 0 {
		retention = DefaultSampleRetention
	}
	return &BandwidthEngine{
		streamID:  streamID,
		quality:   quality,
		retention: retention,
		logger:    logger,
		settings:  settings.Clamped(),
		windows:   make(map[domain.ParticipantID]*sampleWindow),
		now:       time.Now,
	}
}

func (e *BandwidthEngine) Settings() domain.BandwidthSettings {
	e.settingsMu.RLock()
	defer e.settingsMu.RUnlock()

	s := e.settings
	s.QualityLevels = append([]domain.Quality(nil), e.settings.QualityLevels...)
	return s
}

// UpdateSettings merges patch into the current settings, clamping every field.
func (e *BandwidthEngine) UpdateSettings(patch domain.BandwidthSettingsPatch) domain.BandwidthSettings {
	e.settingsMu.Lock()
	e.settings = e.settings.Apply(patch)
	e.settingsMu.Unlock()

	e.logger.Infow("bandwidth settings updated", "stream_id", e.streamID)
	return e.Settings()
}

// Report validates and stores a sample, then evaluates the decision rule.
// An invalid sample is discarded before it touches the window.
func (e *BandwidthEngine) Report(participantID domain.ParticipantID, sample domain.BandwidthSample) (*domain.QualityAdjustment, error) {
	if err := sample.Validate(); err != nil {
		return nil, err
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = e.now()
	}
	sample.StreamID = e.streamID
	sample.ParticipantID = participantID

	w := e.window(participantID)
	w.mu.Lock()
	w.evictBefore(sample.Timestamp.Add(-e.retention))
	w.push(sample)
	w.mu.Unlock()

	settings := e.Settings()
	if !settings.AdaptiveBitrate {
		return nil, nil
	}
	reasons := e.quality.Triggers(sample, settings)
	if len(reasons) == 0 {
		return nil, nil
	}

	target := e.quality.Constrain(e.quality.TargetQuality(sample), settings.QualityLevels)
	adjustment := &domain.QualityAdjustment{
		ParticipantID:          participantID,
		Quality:                target,
		RecommendedBitrateKbps: e.quality.RecommendedBitrate(sample, settings),
		KeyFrameInterval:       e.quality.KeyFrameInterval(target, settings),
		Reasons:                reasons,
	}

	w.mu.Lock()
	w.lastQuality = target
	w.mu.Unlock()

	e.logger.Infow("quality adjustment triggered",
		"stream_id", e.streamID,
		"participant_id", participantID,
		"quality", target,
		"packet_loss", sample.PacketLossPercent,
		"rtt_ms", sample.RTTMs,
	)
	return adjustment, nil
}

// ParticipantStats aggregates the participant's current window.
func (e *BandwidthEngine) ParticipantStats(participantID domain.ParticipantID) (domain.WindowStats, bool) {
	e.windowsMu.RLock()
	w, ok := e.windows[participantID]
	e.windowsMu.RUnlock()
	if !ok {
		return domain.WindowStats{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.evictBefore(e.now().Add(-e.retention))
	return w.stats(), true
}

// Statistics aggregates every window of the stream. Means are weighted by
// sample count.
func (e *BandwidthEngine) Statistics() domain.BandwidthStatistics {
	e.windowsMu.RLock()
	windows := make(map[domain.ParticipantID]*sampleWindow, len(e.windows))
	for id, w := range e.windows {
		windows[id] = w
	}
	e.windowsMu.RUnlock()

	cutoff := e.now().Add(-e.retention)
	out := domain.BandwidthStatistics{
		PerParticipant: make(map[domain.ParticipantID]domain.WindowStats, len(windows)),
	}
	var sumBitrate, sumLoss, sumRTT, sumJitter float64
	for id, w := range windows {
		w.mu.Lock()
		w.evictBefore(cutoff)
		st := w.stats()
		sumBitrate += w.sumBitrate
		sumLoss += w.sumLoss
		sumRTT += w.sumRTT
		sumJitter += w.sumJitter
		w.mu.Unlock()

		out.PerParticipant[id] = st
		out.Samples += st.Samples
		out.PacketLossSpikes += st.PacketLossSpikes
		out.QualityDrops += st.QualityDrops
	}
	out.Participants = len(windows)
	if out.Samples > 0 {
		n := float64(out.Samples)
		out.MeanBitrateKbps = sumBitrate / n
		out.MeanPacketLoss = sumLoss / n
		out.MeanRTTMs = sumRTT / n
		out.MeanJitterMs = sumJitter / n
	}
	return out
}

// RemoveParticipant drops the window and returns its final aggregate.
func (e *BandwidthEngine) RemoveParticipant(participantID domain.ParticipantID) (domain.WindowStats, bool) {
	e.windowsMu.Lock()
	w, ok := e.windows[participantID]
	delete(e.windows, participantID)
	e.windowsMu.Unlock()
	if !ok {
		return domain.WindowStats{}, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats(), true
}

func (e *BandwidthEngine) window(participantID domain.ParticipantID) *sampleWindow {
	e.windowsMu.RLock()
	w, ok := e.windows[participantID]
	e.windowsMu.RUnlock()
	if ok {
		return w
	}

	e.windowsMu.Lock()
	defer e.windowsMu.Unlock()
	if w, ok = e.windows[participantID]; !ok {
		w = &sampleWindow{}
		w.samples.SetMinCapacity(6)
		e.windows[participantID] = w
	}
	return w
}

// sampleWindow keeps running sums so aggregates are O(1) regardless of how
// many samples are retained. Spike and drop counts stay exact: each one is a
// property of a pair of neighbours, and eviction only ever breaks the pair
// formed by the evicted sample and its successor.
type sampleWindow struct {
	mu sync.Mutex

	samples deque.Deque[domain.BandwidthSample]

	sumBitrate   float64
	sumBitrateSq float64
	sumLoss      float64
	sumRTT       float64
	sumJitter    float64
	spikes       int
	drops        int

	lastQuality domain.Quality
}

func (w *sampleWindow) push(s domain.BandwidthSample) {
	if w.samples.Len() > 0 {
		prev := w.samples.Back()
		if isLossSpike(prev, s) {
			w.spikes++
		}
		if isQualityDrop(prev, s) {
			w.drops++
		}
	}
	w.samples.PushBack(s)

	w.sumBitrate += s.BitrateKbps
	w.sumBitrateSq += s.BitrateKbps * s.BitrateKbps
	w.sumLoss += s.PacketLossPercent
	w.sumRTT += s.RTTMs
	w.sumJitter += s.JitterMs
}

func (w *sampleWindow) evictBefore(cutoff time.Time) {
	for w.samples.Len() > 0 && w.samples.Front().Timestamp.Before(cutoff) {
		old := w.samples.PopFront()

		w.sumBitrate -= old.BitrateKbps
		w.sumBitrateSq -= old.BitrateKbps * old.BitrateKbps
		w.sumLoss -= old.PacketLossPercent
		w.sumRTT -= old.RTTMs
		w.sumJitter -= old.JitterMs

		if w.samples.Len() > 0 {
			next := w.samples.Front()
			if isLossSpike(old, next) {
				w.spikes--
			}
			if isQualityDrop(old, next) {
				w.drops--
			}
		}
	}
	if w.samples.Len() == 0 {
		w.sumBitrate, w.sumBitrateSq, w.sumLoss, w.sumRTT, w.sumJitter = 0, 0, 0, 0, 0
		w.spikes, w.drops = 0, 0
	}
}

func (w *sampleWindow) stats() domain.WindowStats {
	st := domain.WindowStats{
		Samples:          w.samples.Len(),
		PacketLossSpikes: w.spikes,
		QualityDrops:     w.drops,
		LastQuality:      w.lastQuality,
	}
	if st.Samples == 0 {
		return st
	}
	n := float64(st.Samples)
	st.MeanBitrateKbps = w.sumBitrate / n
	st.MeanPacketLoss = w.sumLoss / n
	st.MeanRTTMs = w.sumRTT / n
	st.MeanJitterMs = w.sumJitter / n
	if v := w.sumBitrateSq/n - st.MeanBitrateKbps*st.MeanBitrateKbps; v > 0 {
		st.BitrateVariance = v
	}
	st.LastSampleAt = w.samples.Back().Timestamp
	return st
}

func isLossSpike(prev, cur domain.BandwidthSample) bool {
	return prev.PacketLossPercent < packetLossSpikeThreshold && cur.PacketLossPercent >= packetLossSpikeThreshold
}

func isQualityDrop(prev, cur domain.BandwidthSample) bool {
	return cur.BitrateKbps < prev.BitrateKbps*qualityDropRatio
}
