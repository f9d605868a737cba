// README: Route cache handlers (direct get/put and cache-aside resolve).
package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/types"
)

type RouteHandler struct {
	cache    *routecache.Cache
	resolver *routecache.Resolver
	ttl      time.Duration
}

// NewRouteHandler uses ttl for puts that do not name one.
func NewRouteHandler(cache *routecache.Cache, resolver *routecache.Resolver, ttl time.Duration) *RouteHandler {
	if ttl <= 0 {
		ttl = routecache.DefaultTTL
	}
	return &RouteHandler{cache: cache, resolver: resolver, ttl: ttl}
}

type routePair struct {
	Restaurant *types.Point `json:"restaurant"`
	Customer   *types.Point `json:"customer"`
}

type putRouteRequest struct {
	routePair
	routecache.RouteData
	// TTLDays of zero or less stores an already expired entry; absent means the default.
	TTLDays types.Number `json:"ttlDays"`
}

// Get handles GET /api/routes?restaurantLat=&restaurantLng=&customerLat=&customerLng=.
func (h *RouteHandler) Get(c *gin.Context) {
	restaurant := queryPoint(c, "restaurantLat", "restaurantLng")
	customer := queryPoint(c, "customerLat", "customerLng")
	e, err := h.cache.Get(c.Request.Context(), restaurant, customer)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, e)
}

// Put handles PUT /api/routes.
func (h *RouteHandler) Put(c *gin.Context) {
	var req putRouteRequest
	if !bindJSON(c, &req) {
		return
	}
	ttl := h.ttl
	if days, ok := req.TTLDays.Float(); ok {
		ttl = ttlFromDays(days)
	}
	key, err := h.cache.Put(c.Request.Context(), req.Restaurant, req.Customer, req.RouteData, ttl)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"key": key})
}

// Resolve handles POST /api/routes/resolve.
func (h *RouteHandler) Resolve(c *gin.Context) {
	var req routePair
	if !bindJSON(c, &req) {
		return
	}
	e, cached, err := h.resolver.Resolve(c.Request.Context(), req.Restaurant, req.Customer)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"route": e, "cached": cached})
}

// ttlFromDays saturates at the longest representable duration instead of
// overflowing into a negative one.
func ttlFromDays(days float64) time.Duration {
	ns := days * float64(24*time.Hour)
	switch {
	case ns <= 0:
		return 0
	case ns >= float64(math.MaxInt64):
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(ns)
}

// queryPoint returns nil unless both parameters parse as numbers.
func queryPoint(c *gin.Context, latKey, lngKey string) *types.Point {
	lat, err1 := strconv.ParseFloat(c.Query(latKey), 64)
	lng, err2 := strconv.ParseFloat(c.Query(lngKey), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &types.Point{Lat: lat, Lng: lng}
}
