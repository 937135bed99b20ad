package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mossy-p/conversa/internal/media"
	"github.com/mossy-p/conversa/internal/service"
	"go.uber.org/zap"
)

func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, media.ErrEmpty):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, media.ErrUnsupportedType):
		return http.StatusUnsupportedMediaType
	}
	return http.StatusInternalServerError
}

// clientMessage returns the text a client may see for err, and whether err
// was an expected failure.
func clientMessage(err error) (string, bool) {
	var svcErr *service.Error
	if errors.As(err, &svcErr) {
		return svcErr.Msg, true
	}
	if statusFor(err) != http.StatusInternalServerError {
		return err.Error(), true
	}
	return "Internal Server Error", false
}

func respondError(c *gin.Context, log *zap.Logger, err error) {
	msg, expected := clientMessage(err)
	if !expected {
		log.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("route", c.FullPath()),
			zap.Error(err),
		)
	}
	c.JSON(statusFor(err), gin.H{"error": msg})
}
