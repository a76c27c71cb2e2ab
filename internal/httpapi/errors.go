package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/switchyard/internal/call"
	"github.com/zulandar/switchyard/internal/db"
	"github.com/zulandar/switchyard/internal/orchestrator"
	"github.com/zulandar/switchyard/internal/sequencer"
)

// statusFor maps an operation error onto an HTTP status and client-facing
// detail. Unexpected errors get a generic message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, sequencer.ErrValidation), errors.Is(err, orchestrator.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, db.ErrForeignKey):
		return http.StatusBadRequest, "Referenced record does not exist"
	case errors.Is(err, db.ErrIntegrity):
		return http.StatusBadRequest, "Data integrity violation"
	case errors.Is(err, db.ErrDuplicate):
		return http.StatusConflict, "Record already exists"
	case errors.Is(err, call.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, call.ErrInvalidTransition), errors.Is(err, sequencer.ErrCallClosed):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// writeError writes the mapped status. 5xx errors are logged with the given
// key/value context.
func (h *handlers) writeError(c *gin.Context, err error, kv ...any) {
	status, detail := statusFor(err)
	if status >= http.StatusInternalServerError {
		args := append([]any{"err", err, "path", c.FullPath(), "request_id", c.GetString(requestIDKey)}, kv...)
		h.log.Error("request failed", args...)
	}
	c.JSON(status, gin.H{"detail": detail})
}

// writeValidation reports a request body that failed binding.
func writeValidation(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid request: " + err.Error()})
}
