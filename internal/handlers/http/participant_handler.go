package http

import (
	"context"
	"net/http"

	"liveclass/internal/core/domain"

	"github.com/gin-gonic/gin"
)

func (h *StreamHandler) ListParticipants(c *gin.Context) {
	participants, err := h.coordinator.Participants(c.Request.Context(), domain.StreamID(c.Param("id")))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants, "count": len(participants)})
}

type participantAction func(ctx context.Context, streamID domain.StreamID, callerID domain.UserID, target domain.ParticipantID) error

// targetAction runs a moderation action against the :pid participant.
func (h *StreamHandler) targetAction(c *gin.Context, action participantAction) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	target := domain.ParticipantID(c.Param("pid"))
	if err := action(c.Request.Context(), streamID, userID, target); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *StreamHandler) Promote(c *gin.Context) {
	h.targetAction(c, h.coordinator.Promote)
}

func (h *StreamHandler) Mute(c *gin.Context) {
	h.targetAction(c, func(ctx context.Context, s domain.StreamID, u domain.UserID, p domain.ParticipantID) error {
		return h.coordinator.SetMuted(ctx, s, u, p, true)
	})
}

func (h *StreamHandler) Unmute(c *gin.Context) {
	h.targetAction(c, func(ctx context.Context, s domain.StreamID, u domain.UserID, p domain.ParticipantID) error {
		return h.coordinator.SetMuted(ctx, s, u, p, false)
	})
}

func (h *StreamHandler) AllowAudio(c *gin.Context) {
	h.targetAction(c, h.coordinator.AllowAudio)
}

func (h *StreamHandler) RemoveParticipant(c *gin.Context) {
	h.targetAction(c, h.coordinator.RemoveParticipant)
}

func (h *StreamHandler) RaiseHand(c *gin.Context) {
	h.targetAction(c, h.coordinator.RaiseHand)
}

func (h *StreamHandler) LowerHand(c *gin.Context) {
	h.targetAction(c, h.coordinator.LowerHand)
}

func (h *StreamHandler) RequestAudio(c *gin.Context) {
	userID, streamID, ok := caller(c)
	if !ok {
		return
	}
	if err := h.coordinator.RequestAudio(c.Request.Context(), streamID, userID); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
