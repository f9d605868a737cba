// README: Worker presence handlers (telemetry pings and reads).
package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleetloc/internal/metrics"
	"fleetloc/internal/modules/location"
	"fleetloc/internal/types"
)

// TrailReader serves the presence history; nil when no database is configured.
type TrailReader interface {
	Trail(ctx context.Context, workerID types.ID, since time.Time, limit int) ([]location.Snapshot, error)
}

type PresenceHandler struct {
	presence *location.Store
	history  TrailReader
}

func NewPresenceHandler(presence *location.Store, history TrailReader) *PresenceHandler {
	return &PresenceHandler{presence: presence, history: history}
}

type presenceRequest struct {
	Lat      types.Number `json:"lat"`
	Lng      types.Number `json:"lng"`
	IsOnline bool         `json:"isOnline"`
}

// Update handles PUT /api/workers/:id/presence.
func (h *PresenceHandler) Update(c *gin.Context) {
	var req presenceRequest
	if !bindJSON(c, &req) {
		metrics.PresenceUpdates.WithLabelValues("invalid").Inc()
		return
	}
	err := h.presence.UpdatePresence(c.Request.Context(), location.PresenceUpdate{
		WorkerID: c.Param("id"),
		Lat:      req.Lat.Ptr(),
		Lng:      req.Lng.Ptr(),
		Online:   req.IsOnline,
	})
	if err != nil {
		metrics.PresenceUpdates.WithLabelValues(resultLabel(err)).Inc()
		writeServiceError(c, err)
		return
	}
	metrics.PresenceUpdates.WithLabelValues("ok").Inc()
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// Get handles GET /api/workers/:id/presence.
func (h *PresenceHandler) Get(c *gin.Context) {
	p, err := h.presence.Presence(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

// Online handles GET /api/workers/online.
func (h *PresenceHandler) Online(c *gin.Context) {
	online, err := h.presence.OnlineWorkers(c.Request.Context())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	out := make([]location.WorkerPresence, 0, len(online))
	for _, p := range online {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	writeJSON(c, http.StatusOK, gin.H{"workers": out})
}

// Trail handles GET /api/workers/:id/trail?since=RFC3339&limit=N.
func (h *PresenceHandler) Trail(c *gin.Context) {
	if h.history == nil {
		writeError(c, http.StatusServiceUnavailable, "presence history disabled")
		return
	}
	since := time.Now().Add(-24 * time.Hour)
	if raw := c.Query("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(c, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		since = t
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	snaps, err := h.history.Trail(c.Request.Context(), types.ID(c.Param("id")), since, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if snaps == nil {
		snaps = []location.Snapshot{}
	}
	writeJSON(c, http.StatusOK, gin.H{"snapshots": snaps})
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isUnavailable(err):
		return "unavailable"
	default:
		return "invalid"
	}
}
