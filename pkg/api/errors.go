package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classedge/sensei/pkg/models"
)

// statusClientClosedRequest is the de-facto status for client-triggered
// cancellation (nginx convention; net/http defines no constant for it).
const statusClientClosedRequest = 499

// statusForKind maps the wire error taxonomy onto HTTP status codes.
func statusForKind(kind models.ErrorKind) int {
	switch kind {
	case models.KindBadRequest, models.KindParseError:
		return http.StatusBadRequest
	case models.KindOverCapacity:
		return http.StatusTooManyRequests
	case models.KindTimeout:
		return http.StatusGatewayTimeout
	case models.KindCancelled:
		return statusClientClosedRequest
	case models.KindDependencyUnavailable, models.KindUnhealthy:
		return http.StatusServiceUnavailable
	case models.KindIncompatibleEmbedding, models.KindChecksumMismatch:
		return http.StatusUnprocessableEntity
	case models.KindNoRollbackTarget:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// kindMessage is the fixed wire message per kind. Raw component error
// strings stay in the logs, never in responses.
func kindMessage(kind models.ErrorKind) string {
	switch kind {
	case models.KindBadRequest:
		return "malformed request"
	case models.KindOverCapacity:
		return "admission queue is full, retry later"
	case models.KindTimeout:
		return "deadline exceeded"
	case models.KindCancelled:
		return "request cancelled"
	case models.KindDependencyUnavailable:
		return "a backing component is unavailable"
	case models.KindIncompatibleEmbedding:
		return "package embedding dimension does not match this node"
	case models.KindChecksumMismatch:
		return "package checksum verification failed"
	case models.KindParseError:
		return "package document is malformed"
	case models.KindNoRollbackTarget:
		return "no prior version to roll back to"
	case models.KindUnhealthy:
		return "node is draining"
	default:
		return "internal error"
	}
}

// respondError classifies err and writes the uniform error body.
func respondError(c *gin.Context, err error) {
	kind := models.KindOf(err)
	if kind == models.KindInternal {
		slog.Error("Unexpected handler error", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(statusForKind(kind), ErrorResponse{Kind: kind, Error: kindMessage(kind)})
}

// respondBadRequest writes a bad_request body with a handler-composed
// message.
func respondBadRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Kind: models.KindBadRequest, Error: msg})
}
