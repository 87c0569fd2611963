package http

import (
	"errors"
	"io"
	"net/http"

	"liveclass/internal/core/domain"
	apperrors "liveclass/pkg/errors"

	"github.com/gin-gonic/gin"
)

const maxSegmentBytes = 8 << 20

func (h *StreamHandler) StartRecording(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	rec, err := h.coordinator.StartRecording(c.Request.Context(), streamID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"recording": rec})
}

type stopRecordingRequest struct {
	RecordingID domain.RecordingID `json:"recordingId"`
}

func (h *StreamHandler) StopRecording(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	var req stopRecordingRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
	}

	rec, err := h.coordinator.StopRecording(c.Request.Context(), streamID, userID, req.RecordingID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recording": rec})
}

func (h *StreamHandler) ListRecordings(c *gin.Context) {
	recordings, err := h.coordinator.ListRecordings(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recordings": recordings, "count": len(recordings)})
}

// AppendSegment takes the raw request body as one media segment.
func (h *StreamHandler) AppendSegment(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxSegmentBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			abortWithError(c, apperrors.NewInvalidInputError("segment exceeds size limit"))
			return
		}
		badRequest(c, "failed to read segment")
		return
	}
	if len(body) == 0 {
		badRequest(c, "empty segment")
		return
	}

	recordingID := domain.RecordingID(c.Param("rid"))
	if err := h.coordinator.AppendSegment(c.Request.Context(), streamID, userID, recordingID, body); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "bytes": len(body)})
}
