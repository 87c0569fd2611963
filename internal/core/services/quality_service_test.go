package services

import (
	"testing"

	"liveclass/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestQualityService_TargetQuality(t *testing.T) {
	qs := NewQualityService()

	tests := []struct {
		name   string
		loss   float64
		rtt    float64
		expect domain.Quality
	}{
		{"clean link", 0.5, 50, domain.Quality1080p},
		{"light loss", 3, 50, domain.Quality720p},
		{"moderate rtt", 1, 350, domain.Quality480p},
		{"heavy loss", 12, 50, domain.Quality360p},
		{"both severe picks lowest", 6, 600, domain.Quality360p},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := qs.TargetQuality(domain.BandwidthSample{PacketLossPercent: tt.loss, RTTMs: tt.rtt})
			assert.Equal(t, tt.expect, got)
		})
	}
}

func TestQualityService_Triggers(t *testing.T) {
	qs := NewQualityService()
	settings := domain.DefaultBandwidthSettings()

	assert.Empty(t, qs.Triggers(domain.BandwidthSample{BitrateKbps: 2000, PacketLossPercent: 1, RTTMs: 80, JitterMs: 10}, settings))

	reasons := qs.Triggers(domain.BandwidthSample{BitrateKbps: 100, PacketLossPercent: 8, RTTMs: 400, JitterMs: 70}, settings)
	assert.Len(t, reasons, 4)
}

func TestQualityService_Constrain(t *testing.T) {
	qs := NewQualityService()

	assert.Equal(t, domain.Quality480p, qs.Constrain(domain.Quality720p, []domain.Quality{domain.Quality1080p, domain.Quality480p}))
	assert.Equal(t, domain.Quality720p, qs.Constrain(domain.Quality360p, []domain.Quality{domain.Quality1080p, domain.Quality720p}),
		"falls back to the lowest allowed level")
	assert.Equal(t, domain.Quality480p, qs.Constrain(domain.Quality480p, []domain.Quality{domain.QualityAuto}),
		"auto alone does not constrain")
}

func TestQualityService_RecommendedBitrate(t *testing.T) {
	qs := NewQualityService()
	settings := domain.DefaultBandwidthSettings()

	assert.Equal(t, 1500, qs.RecommendedBitrate(domain.BandwidthSample{BitrateKbps: 2000}, settings))
	assert.Equal(t, settings.VideoBitrate.Min, qs.RecommendedBitrate(domain.BandwidthSample{BitrateKbps: 10}, settings))
	assert.Equal(t, settings.VideoBitrate.Max, qs.RecommendedBitrate(domain.BandwidthSample{BitrateKbps: 20000}, settings))

	assert.Equal(t, settings.MaxKeyFrameInterval, qs.KeyFrameInterval(domain.Quality360p, settings))
	assert.Equal(t, settings.MinKeyFrameInterval, qs.KeyFrameInterval(domain.Quality1080p, settings))
}
