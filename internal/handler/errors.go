package handler

import (
	"errors"
	"net/http"

	"transfersvc/internal/apperr"
	"transfersvc/pkg/response"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// contentionMessage is shared by every contention outcome so a client cannot
// tell a single lock timeout from an exhausted retry budget.
const contentionMessage = "transaction failed due to lock timeout"

// StatusOf maps an error kind to its HTTP status.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAccountNotFound, apperr.KindAuthFailed:
		return http.StatusUnauthorized
	case apperr.KindAccountLocked:
		return http.StatusNotFound
	case apperr.KindLockTimeout, apperr.KindOptimisticConflict, apperr.KindTransferFailed, apperr.KindIdempotencyConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, logger *zap.Logger, err error) {
	var e *apperr.Error
	kind := apperr.KindOf(err)

	switch kind {
	case apperr.KindUnexpected:
		logger.Error("unexpected error",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
		response.ServerError(c)

	case apperr.KindLockTimeout, apperr.KindOptimisticConflict, apperr.KindTransferFailed:
		logger.Warn("transfer contention", zap.Stringer("kind", kind), zap.Error(err))
		response.Error(c, http.StatusConflict, apperr.KindLockTimeout.String(), contentionMessage)

	case apperr.KindIdempotencyConflict:
		response.Error(c, http.StatusConflict, kind.String(), "Idempotent request already processing")

	default:
		message := err.Error()
		if errors.As(err, &e) {
			message = e.Message
		}
		response.Error(c, StatusOf(kind), kind.String(), message)
	}
}
