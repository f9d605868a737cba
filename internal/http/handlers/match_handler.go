// README: Nearest-worker lookup handler.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetloc/internal/metrics"
	"fleetloc/internal/modules/matching"
	"fleetloc/internal/types"
)

type MatchHandler struct {
	matcher *matching.Service
}

func NewMatchHandler(matcher *matching.Service) *MatchHandler {
	return &MatchHandler{matcher: matcher}
}

type nearestRequest struct {
	Lat           types.Number `json:"lat"`
	Lng           types.Number `json:"lng"`
	MaxDistanceKm types.Number `json:"maxDistanceKm"`
	Exclude       []types.ID   `json:"exclude"`
}

// Nearest handles POST /api/match/nearest.
func (h *MatchHandler) Nearest(c *gin.Context) {
	var req nearestRequest
	if !bindJSON(c, &req) {
		return
	}
	origin, ok := types.PairFrom(req.Lat, req.Lng)
	if !ok {
		metrics.MatchQueries.WithLabelValues("invalid").Inc()
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	cand, err := h.matcher.FindNearest(c.Request.Context(), matching.Query{
		Origin:        origin,
		MaxDistanceKm: req.MaxDistanceKm.Value,
		Exclude:       req.Exclude,
	})
	switch {
	case err == nil:
		metrics.MatchQueries.WithLabelValues("found").Inc()
		writeJSON(c, http.StatusOK, cand)
	case errors.Is(err, matching.ErrInvalidInput):
		metrics.MatchQueries.WithLabelValues("invalid").Inc()
		writeServiceError(c, err)
	default:
		metrics.MatchQueries.WithLabelValues("none").Inc()
		writeServiceError(c, err)
	}
}
