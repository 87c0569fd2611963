package domain

import (
	"math"
	"time"
)

type Quality string

const (
	QualityAuto  Quality = "auto"
	Quality1080p Quality = "1080p"
	Quality720p  Quality = "720p"
	Quality480p  Quality = "480p"
	Quality360p  Quality = "360p"
)

// qualityRank orders concrete levels from lowest to highest.
var qualityRank = map[Quality]int{
	Quality360p:  1,
	Quality480p:  2,
	Quality720p:  3,
	Quality1080p: 4,
}

func (q Quality) Valid() bool {
	if q == QualityAuto {
		return true
	}
	_, ok := qualityRank[q]
	return ok
}

// Rank returns 0 for auto and unknown levels.
func (q Quality) Rank() int {
	return qualityRank[q]
}

const (
	MinVideoBitrateKbps = 100
	MaxVideoBitrateKbps = 8000
	MinAudioBitrateKbps = 16
	MaxAudioBitrateKbps = 320

	MinPacketLossThreshold = 1.0
	MaxPacketLossThreshold = 20.0

	MinBitrateAdjustmentFactor = 0.5
	MaxBitrateAdjustmentFactor = 0.9

	MinKeyFrameIntervalLow  = 1
	MinKeyFrameIntervalHigh = 5
	MaxKeyFrameIntervalLow  = 5
	MaxKeyFrameIntervalHigh = 20
)

type BitrateRange struct {
	Min     int `json:"min"`
	Max     int `json:"max"`
	Default int `json:"default"`
}

type BandwidthSettings struct {
	VideoBitrate            BitrateRange `json:"videoBitrate"`
	AudioBitrate            BitrateRange `json:"audioBitrate"`
	QualityLevels           []Quality    `json:"qualityLevels"`
	AdaptiveBitrate         bool         `json:"adaptiveBitrate"`
	PacketLossThreshold     float64      `json:"packetLossThreshold"`
	BitrateAdjustmentFactor float64      `json:"bitrateAdjustmentFactor"`
	MinKeyFrameInterval     int          `json:"minKeyFrameInterval"`
	MaxKeyFrameInterval     int          `json:"maxKeyFrameInterval"`
}

func DefaultBandwidthSettings() BandwidthSettings {
	return BandwidthSettings{
		VideoBitrate:            BitrateRange{Min: 300, Max: 4000, Default: 1500},
		AudioBitrate:            BitrateRange{Min: 32, Max: 128, Default: 64},
		QualityLevels:           []Quality{QualityAuto, Quality1080p, Quality720p, Quality480p, Quality360p},
		AdaptiveBitrate:         true,
		PacketLossThreshold:     5,
		BitrateAdjustmentFactor: 0.75,
		MinKeyFrameInterval:     2,
		MaxKeyFrameInterval:     10,
	}
}

// BitrateRangePatch carries the fields of a partial range update.
type BitrateRangePatch struct {
	Min     *int
	Max     *int
	Default *int
}

// BandwidthSettingsPatch is a partial update. Nil fields keep the stored value.
type BandwidthSettingsPatch struct {
	VideoBitrate            BitrateRangePatch
	AudioBitrate            BitrateRangePatch
	QualityLevels           []Quality
	QualityLevelsSet        bool
	AdaptiveBitrate         *bool
	PacketLossThreshold     *float64
	BitrateAdjustmentFactor *float64
	MinKeyFrameInterval     *int
	MaxKeyFrameInterval     *int
}

// Apply merges patch into s and clamps every field to its bounds.
func (s BandwidthSettings) Apply(patch BandwidthSettingsPatch) BandwidthSettings {
	out := s
	out.QualityLevels = append([]Quality(nil), s.QualityLevels...)

	out.VideoBitrate = applyRange(out.VideoBitrate, patch.VideoBitrate)
	out.AudioBitrate = applyRange(out.AudioBitrate, patch.AudioBitrate)
	if patch.QualityLevelsSet {
		out.QualityLevels = patch.QualityLevels
	}
	if patch.AdaptiveBitrate != nil {
		out.AdaptiveBitrate = *patch.AdaptiveBitrate
	}
	if patch.PacketLossThreshold != nil {
		out.PacketLossThreshold = *patch.PacketLossThreshold
	}
	if patch.BitrateAdjustmentFactor != nil {
		out.BitrateAdjustmentFactor = *patch.BitrateAdjustmentFactor
	}
	if patch.MinKeyFrameInterval != nil {
		out.MinKeyFrameInterval = *patch.MinKeyFrameInterval
	}
	if patch.MaxKeyFrameInterval != nil {
		out.MaxKeyFrameInterval = *patch.MaxKeyFrameInterval
	}
	return out.Clamped()
}

func applyRange(r BitrateRange, p BitrateRangePatch) BitrateRange {
	if p.Min != nil {
		r.Min = *p.Min
	}
	if p.Max != nil {
		r.Max = *p.Max
	}
	if p.Default != nil {
		r.Default = *p.Default
	}
	return r
}

// Clamped returns a copy with every numeric field forced into range and the
// quality list reduced to known levels. An empty list falls back to defaults.
func (s BandwidthSettings) Clamped() BandwidthSettings {
	defaults := DefaultBandwidthSettings()

	s.VideoBitrate = clampRange(s.VideoBitrate, MinVideoBitrateKbps, MaxVideoBitrateKbps)
	s.AudioBitrate = clampRange(s.AudioBitrate, MinAudioBitrateKbps, MaxAudioBitrateKbps)
	s.PacketLossThreshold = clampFloat(s.PacketLossThreshold, MinPacketLossThreshold, MaxPacketLossThreshold, defaults.PacketLossThreshold)
	s.BitrateAdjustmentFactor = clampFloat(s.BitrateAdjustmentFactor, MinBitrateAdjustmentFactor, MaxBitrateAdjustmentFactor, defaults.BitrateAdjustmentFactor)
	s.MinKeyFrameInterval = clampInt(s.MinKeyFrameInterval, MinKeyFrameIntervalLow, MinKeyFrameIntervalHigh)
	s.MaxKeyFrameInterval = clampInt(s.MaxKeyFrameInterval, MaxKeyFrameIntervalLow, MaxKeyFrameIntervalHigh)

	s.QualityLevels = FilterQualityLevels(s.QualityLevels)
	if len(s.QualityLevels) == 0 {
		s.QualityLevels = defaults.QualityLevels
	}
	return s
}

// FilterQualityLevels drops unknown and duplicate entries, keeping order.
func FilterQualityLevels(levels []Quality) []Quality {
	out := make([]Quality, 0, len(levels))
	seen := make(map[Quality]bool, len(levels))
	for _, q := range levels {
		if !q.Valid() || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

func clampRange(r BitrateRange, lo, hi int) BitrateRange {
	r.Min = clampInt(r.Min, lo, hi)
	r.Max = clampInt(r.Max, lo, hi)
	if r.Max < r.Min {
		r.Max = r.Min
	}
	r.Default = clampInt(r.Default, r.Min, r.Max)
	return r
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = fallback
	}
	return math.Max(lo, math.Min(hi, v))
}

// MetricsReport is a client report as received. Nil fields were absent.
type MetricsReport struct {
	BitrateKbps       *float64 `json:"bitrate"`
	PacketLossPercent *float64 `json:"packetLoss"`
	RTTMs             *float64 `json:"rtt"`
	JitterMs          *float64 `json:"jitter"`
}

type BandwidthSample struct {
	StreamID          StreamID      `json:"streamId"`
	ParticipantID     ParticipantID `json:"participantId"`
	Timestamp         time.Time     `json:"timestamp"`
	BitrateKbps       float64       `json:"bitrateKbps"`
	PacketLossPercent float64       `json:"packetLossPercent"`
	RTTMs             float64       `json:"rttMs"`
	JitterMs          float64       `json:"jitterMs"`
}

// Sample converts a report into a validated sample.
func (r MetricsReport) Sample(streamID StreamID, participantID ParticipantID, at time.Time) (BandwidthSample, error) {
	if r.BitrateKbps == nil || r.PacketLossPercent == nil || r.RTTMs == nil || r.JitterMs == nil {
		return BandwidthSample{}, ErrInvalidMetrics
	}
	sample := BandwidthSample{
		StreamID:          streamID,
		ParticipantID:     participantID,
		Timestamp:         at,
		BitrateKbps:       *r.BitrateKbps,
		PacketLossPercent: *r.PacketLossPercent,
		RTTMs:             *r.RTTMs,
		JitterMs:          *r.JitterMs,
	}
	if err := sample.Validate(); err != nil {
		return BandwidthSample{}, err
	}
	return sample, nil
}

func (s BandwidthSample) Validate() error {
	for _, v := range []float64{s.BitrateKbps, s.PacketLossPercent, s.RTTMs, s.JitterMs} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return ErrInvalidMetrics
		}
	}
	if s.PacketLossPercent > 100 {
		return ErrInvalidMetrics
	}
	return nil
}

// WindowStats aggregates the samples currently retained for a participant.
type WindowStats struct {
	Samples          int       `json:"samples"`
	MeanBitrateKbps  float64   `json:"meanBitrateKbps"`
	MeanPacketLoss   float64   `json:"meanPacketLoss"`
	MeanRTTMs        float64   `json:"meanRttMs"`
	MeanJitterMs     float64   `json:"meanJitterMs"`
	BitrateVariance  float64   `json:"bitrateVariance"`
	PacketLossSpikes int       `json:"packetLossSpikes"`
	QualityDrops     int       `json:"qualityDrops"`
	LastQuality      Quality   `json:"lastQuality,omitempty"`
	LastSampleAt     time.Time `json:"lastSampleAt,omitempty"`
}

type QualityAdjustment struct {
	ParticipantID          ParticipantID `json:"participantId"`
	Quality                Quality       `json:"quality"`
	RecommendedBitrateKbps int           `json:"recommendedBitrateKbps"`
	KeyFrameInterval       int           `json:"keyFrameInterval"`
	Reasons                []string      `json:"reasons"`
}

// BandwidthStatistics is the stream-wide view returned by the bandwidth endpoint.
type BandwidthStatistics struct {
	Participants     int                           `json:"participants"`
	Samples          int                           `json:"samples"`
	MeanBitrateKbps  float64                       `json:"meanBitrateKbps"`
	MeanPacketLoss   float64                       `json:"meanPacketLoss"`
	MeanRTTMs        float64                       `json:"meanRttMs"`
	MeanJitterMs     float64                       `json:"meanJitterMs"`
	PacketLossSpikes int                           `json:"packetLossSpikes"`
	QualityDrops     int                           `json:"qualityDrops"`
	PerParticipant   map[ParticipantID]WindowStats `json:"perParticipant"`
}
