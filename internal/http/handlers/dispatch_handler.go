// README: Dispatch handlers: assign an order to a worker and complete it.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"fleetloc/internal/metrics"
	"fleetloc/internal/modules/dispatch"
	"fleetloc/internal/types"
)

type DispatchHandler struct {
	dispatch *dispatch.Service
}

func NewDispatchHandler(svc *dispatch.Service) *DispatchHandler {
	return &DispatchHandler{dispatch: svc}
}

type assignRequest struct {
	Restaurant    *types.Point `json:"restaurant"`
	Customer      *types.Point `json:"customer"`
	MaxDistanceKm float64      `json:"maxDistanceKm"`
	Exclude       []types.ID   `json:"exclude"`
}

// Assign handles POST /api/orders/:id/dispatch.
func (h *DispatchHandler) Assign(c *gin.Context) {
	var req assignRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.Restaurant == nil {
		writeError(c, http.StatusBadRequest, "restaurant position is required")
		return
	}
	a, err := h.dispatch.Assign(c.Request.Context(), dispatch.AssignCommand{
		OrderID:       types.ID(c.Param("id")),
		Restaurant:    *req.Restaurant,
		Customer:      req.Customer,
		MaxDistanceKm: req.MaxDistanceKm,
		Exclude:       req.Exclude,
	})
	if err != nil {
		switch {
		case errors.Is(err, dispatch.ErrNoWorker):
			metrics.Dispatches.WithLabelValues("no_worker").Inc()
		default:
			metrics.Dispatches.WithLabelValues("failed").Inc()
		}
		writeServiceError(c, err)
		return
	}
	metrics.Dispatches.WithLabelValues("assigned").Inc()
	metrics.ClaimAttempts.Observe(float64(a.Attempts))
	writeJSON(c, http.StatusCreated, a)
}

// Complete handles POST /api/orders/:id/complete. The body is optional.
func (h *DispatchHandler) Complete(c *gin.Context) {
	var cmd dispatch.CompleteCommand
	if err := c.ShouldBindJSON(&cmd); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json body")
		return
	}
	cmd.OrderID = types.ID(c.Param("id"))
	if err := h.dispatch.Complete(c.Request.Context(), cmd); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": dispatch.StatusDelivered})
}
