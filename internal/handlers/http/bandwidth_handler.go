package http

import (
	"net/http"

	"liveclass/internal/core/domain"

	"github.com/gin-gonic/gin"
)

type bitrateRangeRequest struct {
	Min     *int `json:"min"`
	Max     *int `json:"max"`
	Default *int `json:"default"`
}

// bandwidthSettingsRequest accepts any subset of the settings. Values out of
// range are clamped rather than rejected.
type bandwidthSettingsRequest struct {
	VideoBitrate            *bitrateRangeRequest `json:"videoBitrate"`
	AudioBitrate            *bitrateRangeRequest `json:"audioBitrate"`
	QualityLevels           *[]domain.Quality    `json:"qualityLevels"`
	AdaptiveBitrate         *bool                `json:"adaptiveBitrate"`
	PacketLossThreshold     *float64             `json:"packetLossThreshold"`
	BitrateAdjustmentFactor *float64             `json:"bitrateAdjustmentFactor"`
	MinKeyFrameInterval     *int                 `json:"minKeyFrameInterval"`
	MaxKeyFrameInterval     *int                 `json:"maxKeyFrameInterval"`
}

func (r *bandwidthSettingsRequest) patch() domain.BandwidthSettingsPatch {
	p := domain.BandwidthSettingsPatch{
		AdaptiveBitrate:         r.AdaptiveBitrate,
		PacketLossThreshold:     r.PacketLossThreshold,
		BitrateAdjustmentFactor: r.BitrateAdjustmentFactor,
		MinKeyFrameInterval:     r.MinKeyFrameInterval,
		MaxKeyFrameInterval:     r.MaxKeyFrameInterval,
	}
	if r.VideoBitrate != nil {
		p.VideoBitrate = domain.BitrateRangePatch{Min: r.VideoBitrate.Min, Max: r.VideoBitrate.Max, Default: r.VideoBitrate.Default}
	}
	if r.AudioBitrate != nil {
		p.AudioBitrate = domain.BitrateRangePatch{Min: r.AudioBitrate.Min, Max: r.AudioBitrate.Max, Default: r.AudioBitrate.Default}
	}
	if r.QualityLevels != nil {
		p.QualityLevels = *r.QualityLevels
		p.QualityLevelsSet = true
	}
	return p
}

func (h *StreamHandler) GetBandwidth(c *gin.Context) {
	settings, stats, err := h.coordinator.Bandwidth(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings, "statistics": stats})
}

func (h *StreamHandler) UpdateBandwidth(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	var req bandwidthSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	settings, err := h.coordinator.UpdateBandwidthSettings(c.Request.Context(), streamID, userID, req.patch())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings})
}

func (h *StreamHandler) ReportMetrics(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	var report domain.MetricsReport
	if err := c.ShouldBindJSON(&report); err != nil {
		abortWithError(c, h.coordinator.RejectMetrics(c.Request.Context(), streamID, userID, err))
		return
	}

	adjustment, err := h.coordinator.ReportMetrics(c.Request.Context(), streamID, userID, report)
	if err != nil {
		abortWithError(c, err)
		return
	}
	resp := gin.H{"success": true}
	if adjustment != nil {
		resp["qualityAdjustment"] = adjustment
	}
	c.JSON(http.StatusOK, resp)
}
