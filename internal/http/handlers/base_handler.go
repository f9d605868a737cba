// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetloc/internal/modules/dispatch"
	"fleetloc/internal/modules/history"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/modules/matching"
	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/modules/tracking"
	"fleetloc/internal/rtdb"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeServiceError maps module sentinel errors onto status codes. A failing
// store wins over every other reason because the rest is then meaningless.
func writeServiceError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, rtdb.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, "location store unavailable")
	case errors.Is(err, location.ErrInvalidInput),
		errors.Is(err, matching.ErrInvalidInput),
		errors.Is(err, tracking.ErrInvalidInput),
		errors.Is(err, routecache.ErrInvalidInput),
		errors.Is(err, dispatch.ErrInvalidInput),
		errors.Is(err, history.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, location.ErrClaimConflict),
		errors.Is(err, dispatch.ErrNoWorker):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, location.ErrNotFound),
		errors.Is(err, tracking.ErrNotFound),
		errors.Is(err, routecache.ErrMiss),
		errors.Is(err, matching.ErrNoCandidate),
		errors.Is(err, routecache.ErrNoRoute):
		writeError(c, http.StatusNotFound, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// bindJSON decodes the body, answering 400 itself on failure.
func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func isUnavailable(err error) bool {
	return errors.Is(err, rtdb.ErrUnavailable)
}
