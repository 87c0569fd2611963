package services

import (
	"fmt"
	"math"

	"liveclass/internal/core/domain"
)

// qualityTier maps the worst tolerable network conditions to a level.
// Tiers are ordered from most to least severe.
type qualityTier struct {
	quality      domain.Quality
	packetLossGT float64
	rttGT        float64
}

type QualityService struct {
	tiers []qualityTier

	rttTriggerMs       float64
	jitterTriggerMs    float64
	lowBitrateFraction float64
}

func NewQualityService() *QualityService {
	return &QualityService{
		tiers: []qualityTier{
			{quality: domain.Quality360p, packetLossGT: 10, rttGT: 500},
			{quality: domain.Quality480p, packetLossGT: 5, rttGT: 300},
			{quality: domain.Quality720p, packetLossGT: 2, rttGT: 200},
		},
		rttTriggerMs:       300,
		jitterTriggerMs:    50,
		lowBitrateFraction: 0.8,
	}
}

// Triggers returns the reasons a sample calls for an adjustment under the
// given settings. An empty result means conditions are acceptable.
func (qs *QualityService) Triggers(sample domain.BandwidthSample, settings domain.BandwidthSettings) []string {
	var reasons []string
	if sample.PacketLossPercent > settings.PacketLossThreshold {
		reasons = append(reasons, fmt.Sprintf("packet loss %.1f%% above %.1f%%", sample.PacketLossPercent, settings.PacketLossThreshold))
	}
	if sample.RTTMs > qs.rttTriggerMs {
		reasons = append(reasons, fmt.Sprintf("rtt %.0fms above %.0fms", sample.RTTMs, qs.rttTriggerMs))
	}
	if sample.JitterMs > qs.jitterTriggerMs {
		reasons = append(reasons, fmt.Sprintf("jitter %.0fms above %.0fms", sample.JitterMs, qs.jitterTriggerMs))
	}
	floor := qs.lowBitrateFraction * float64(settings.VideoBitrate.Min)
	if sample.BitrateKbps < floor {
		reasons = append(reasons, fmt.Sprintf("bitrate %.0fkbps below %.0fkbps", sample.BitrateKbps, floor))
	}
	return reasons
}

// TargetQuality picks the level for the observed loss and RTT. The first
// matching tier wins, so a sample satisfying several resolves to the lowest.
func (qs *QualityService) TargetQuality(sample domain.BandwidthSample) domain.Quality {
	for _, tier := range qs.tiers {
		if sample.PacketLossPercent > tier.packetLossGT || sample.RTTMs > tier.rttGT {
			return tier.quality
		}
	}
	return domain.Quality1080p
}

// Constrain maps target onto the allowed levels: the highest allowed level
// not above target, otherwise the lowest allowed level.
func (qs *QualityService) Constrain(target domain.Quality, allowed []domain.Quality) domain.Quality {
	best, lowest := domain.Quality(""), domain.Quality("")
	for _, q := range allowed {
		rank := q.Rank()
		if rank == 0 {
			continue
		}
		if lowest == "" || rank < lowest.Rank() {
			lowest = q
		}
		if rank <= target.Rank() && (best == "" || rank > best.Rank()) {
			best = q
		}
	}
	switch {
	case best != "":
		return best
	case lowest != "":
		return lowest
	default:
		return target
	}
}

// RecommendedBitrate scales the observed bitrate by the adjustment factor and
// keeps it inside the configured video range.
func (qs *QualityService) RecommendedBitrate(sample domain.BandwidthSample, settings domain.BandwidthSettings) int {
	kbps := int(math.Round(sample.BitrateKbps * settings.BitrateAdjustmentFactor))
	if kbps < settings.VideoBitrate.Min {
		return settings.VideoBitrate.Min
	}
	if kbps > settings.VideoBitrate.Max {
		return settings.VideoBitrate.Max
	}
	return kbps
}

// KeyFrameInterval widens the interval for degraded levels.
func (qs *QualityService) KeyFrameInterval(quality domain.Quality, settings domain.BandwidthSettings) int {
	if quality.Rank() <= domain.Quality480p.Rank() {
		return settings.MaxKeyFrameInterval
	}
	return settings.MinKeyFrameInterval
}
