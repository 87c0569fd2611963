package http

import (
	"net/http"

	"liveclass/internal/core/domain"
	"liveclass/internal/core/ports"
	"liveclass/internal/infrastructure/middleware"
	apperrors "liveclass/pkg/errors"
	"liveclass/pkg/validation"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	webrtc "github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

type StreamHandler struct {
	coordinator ports.SessionCoordinator
	iceServers  []webrtc.ICEServer
	logger      *zap.SugaredLogger
}

func NewStreamHandler(
	coordinator ports.SessionCoordinator,
	iceServers []webrtc.ICEServer,
	logger *zap.SugaredLogger,
) *StreamHandler {
	return &StreamHandler{
		coordinator: coordinator,
		iceServers:  iceServers,
		logger:      logger,
	}
}

// SetupRoutes registers the control endpoints on an authenticated group.
func (h *StreamHandler) SetupRoutes(api *gin.RouterGroup) {
	hosts := middleware.RequireRole(domain.UserRoleInstructor, domain.UserRoleAdmin)

	api.POST("/streams", hosts, h.ScheduleStream)
	api.GET("/streams", h.ListStreams)

	stream := api.Group("/streams/:id", h.validateIDs)
	{
		stream.GET("", h.GetStream)
		stream.POST("/start", hosts, h.StartStream)
		stream.POST("/end", h.EndStream)
		stream.POST("/join", h.JoinStream)
		stream.POST("/leave", h.LeaveStream)
		stream.POST("/heartbeat", h.Heartbeat)

		stream.GET("/bandwidth", h.GetBandwidth)
		stream.PATCH("/bandwidth", h.UpdateBandwidth)
		stream.POST("/bandwidth", h.ReportMetrics)

		stream.GET("/participants", h.ListParticipants)
		stream.POST("/participants/:pid/promote", h.Promote)
		stream.POST("/participants/:pid/mute", h.Mute)
		stream.POST("/participants/:pid/unmute", h.Unmute)
		stream.POST("/participants/:pid/allow-audio", h.AllowAudio)
		stream.POST("/participants/:pid/remove", h.RemoveParticipant)
		stream.POST("/participants/:pid/hand", h.RaiseHand)
		stream.DELETE("/participants/:pid/hand", h.LowerHand)
		stream.POST("/audio-request", h.RequestAudio)

		stream.POST("/recording/start", h.StartRecording)
		stream.POST("/recording/stop", h.StopRecording)
		stream.GET("/recordings", h.ListRecordings)
		stream.POST("/recordings/:rid/segments", h.AppendSegment)

		stream.GET("/report", h.Report)
	}
}

func (h *StreamHandler) validateIDs(c *gin.Context) {
	if err := validation.ValidateStreamID(c.Param("id")); err != nil {
		badRequest(c, err.Error())
		return
	}
	if pid := c.Param("pid"); pid != "" {
		if err := validation.ValidateID("participant ID", pid); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	if rid := c.Param("rid"); rid != "" {
		if err := validation.ValidateID("recording ID", rid); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	c.Next()
}

// caller returns the authenticated user and the stream addressed by the
// route. It aborts the request when no user is present.
func caller(c *gin.Context) (domain.UserID, domain.StreamID, bool) {
	userID, ok := middleware.UserID(c)
	if !ok {
		_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
		c.Abort()
		return "", "", false
	}
	return userID, domain.StreamID(c.Param("id")), true
}

type scheduleStreamRequest struct {
	ID        domain.StreamID           `json:"id"`
	Title     string                    `json:"title"`
	Capacity  int                       `json:"capacity"`
	Bandwidth *bandwidthSettingsRequest `json:"bandwidthSettings"`
}

func (h *StreamHandler) ScheduleStream(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		abortWithError(c, apperrors.NewUnauthorizedError("authentication required"))
		return
	}

	var req scheduleStreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" {
		req.ID = domain.StreamID(uuid.NewString())
	}
	if err := validation.ValidateStreamID(string(req.ID)); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validation.ValidateTitle(req.Title); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := validation.ValidateCapacity(req.Capacity); err != nil {
		badRequest(c, err.Error())
		return
	}

	var patch *domain.BandwidthSettingsPatch
	if req.Bandwidth != nil {
		p := req.Bandwidth.patch()
		patch = &p
	}

	stream, err := h.coordinator.ScheduleStream(c.Request.Context(), req.ID, userID, req.Title, req.Capacity, patch)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"stream": stream})
}

func (h *StreamHandler) ListStreams(c *gin.Context) {
	streams, err := h.coordinator.ListLiveStreams(c.Request.Context())
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"streams": streams, "count": len(streams)})
}

func (h *StreamHandler) GetStream(c *gin.Context) {
	stream, err := h.coordinator.GetStream(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func (h *StreamHandler) StartStream(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	stream, err := h.coordinator.StartStream(c.Request.Context(), streamID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"stream": stream})
}

func (h *StreamHandler) EndStream(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.coordinator.RequireHost(ctx, streamID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.coordinator.EndStream(ctx, streamID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type joinResponse struct {
	Participant  domain.Participant `json:"participant"`
	SessionToken string             `json:"sessionToken"`
	Rejoined     bool               `json:"rejoined"`
	ICEServers   []webrtc.ICEServer `json:"iceServers"`
	SignalPath   string             `json:"signalPath"`
}

func (h *StreamHandler) JoinStream(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	res, err := h.coordinator.JoinStream(c.Request.Context(), streamID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	status := http.StatusCreated
	if res.Rejoined {
		status = http.StatusOK
	}
	c.JSON(status, joinResponse{
		Participant:  res.Participant,
		SessionToken: res.SessionToken,
		Rejoined:     res.Rejoined,
		ICEServers:   h.iceServers,
		SignalPath:   "/ws",
	})
}

func (h *StreamHandler) LeaveStream(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	if err := h.coordinator.LeaveStream(c.Request.Context(), streamID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *StreamHandler) Heartbeat(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	viewers, err := h.coordinator.Heartbeat(c.Request.Context(), streamID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"viewerCount": viewers})
}

func (h *StreamHandler) Report(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if err := h.coordinator.RequireHost(ctx, streamID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	report, err := h.coordinator.Report(ctx, streamID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}
