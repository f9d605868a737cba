// README: Active-delivery tracking handlers, including a websocket stream.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"fleetloc/internal/metrics"
	"fleetloc/internal/modules/dispatch"
	"fleetloc/internal/modules/tracking"
	"fleetloc/internal/types"
)

const (
	streamPingEvery = 20 * time.Second
	streamReadWait  = 60 * time.Second
	streamWriteWait = 5 * time.Second
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

type TrackingHandler struct {
	tracker *tracking.Store
	poll    time.Duration
	log     *slog.Logger
}

// NewTrackingHandler polls the tracker every poll interval for stream
// subscribers; the admin SDK offers no change listener.
func NewTrackingHandler(tracker *tracking.Store, poll time.Duration, log *slog.Logger) *TrackingHandler {
	if poll <= 0 {
		poll = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &TrackingHandler{tracker: tracker, poll: poll, log: log}
}

// Update handles PUT /api/orders/:id/tracking.
func (h *TrackingHandler) Update(c *gin.Context) {
	var u tracking.ActiveOrderUpdate
	if !bindJSON(c, &u) {
		return
	}
	u.OrderID = c.Param("id")
	if err := h.tracker.UpdateActiveOrder(c.Request.Context(), u); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// Get handles GET /api/orders/:id/tracking.
func (h *TrackingHandler) Get(c *gin.Context) {
	d, err := h.tracker.ActiveOrder(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, d)
}

type streamMessage struct {
	Type  string                   `json:"type"`
	Order *tracking.ActiveDelivery `json:"order,omitempty"`
	Error string                   `json:"error,omitempty"`
}

// Stream handles GET /api/orders/:id/tracking/stream. It pushes the order
// whenever last_updated moves and closes after a delivered snapshot.
func (h *TrackingHandler) Stream(c *gin.Context) {
	orderID := types.ID(c.Param("id"))
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "order_id", orderID, "err", err)
		return
	}
	defer func() { _ = conn.Close() }()
	metrics.TrackingStreams.Inc()
	defer metrics.TrackingStreams.Dec()

	ctx := c.Request.Context()
	closed := make(chan struct{})
	conn.SetReadLimit(1 << 10)
	_ = conn.SetReadDeadline(time.Now().Add(streamReadWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamReadWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(msg streamMessage) error {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		return conn.WriteJSON(msg)
	}

	poll := time.NewTicker(h.poll)
	defer poll.Stop()
	ping := time.NewTicker(streamPingEvery)
	defer ping.Stop()

	var last time.Time
	for {
		d, err := h.tracker.ActiveOrder(ctx, orderID)
		switch {
		case err == nil && !d.LastUpdated.Equal(last):
			last = d.LastUpdated
			if err := write(streamMessage{Type: "update", Order: &d}); err != nil {
				return
			}
			if d.Status == dispatch.StatusDelivered {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "delivered"),
					time.Now().Add(streamWriteWait))
				return
			}
		case err != nil && !errors.Is(err, tracking.ErrNotFound):
			if errors.Is(err, tracking.ErrInvalidInput) {
				_ = write(streamMessage{Type: "error", Error: err.Error()})
				return
			}
			h.log.Warn("tracking stream read failed", "order_id", orderID, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-poll.C:
		}
	}
}
