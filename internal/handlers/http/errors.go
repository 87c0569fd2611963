package http

import (
	"liveclass/internal/core/domain"
	apperrors "liveclass/pkg/errors"

	"github.com/gin-gonic/gin"
)

// abortWithError converts err into an AppError and hands it to the error
// middleware.
func abortWithError(c *gin.Context, err error) {
	_ = c.Error(toAppError(err))
	c.Abort()
}

func toAppError(err error) *apperrors.AppError {
	if appErr := apperrors.GetAppError(err); appErr != nil {
		return appErr
	}
	code := domain.ErrorCode(err)
	if code == "" {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "Internal server error")
	}
	return apperrors.Wrap(err, apperrors.ErrorCode(code), err.Error())
}

func badRequest(c *gin.Context, msg string) {
	_ = c.Error(apperrors.NewInvalidInputError(msg))
	c.Abort()
}
