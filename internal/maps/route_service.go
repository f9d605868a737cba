package maps

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"googlemaps.github.io/maps"

	"fleetloc/internal/modules/routecache"
	"fleetloc/internal/types"
)

var ErrNoRoute = routecache.ErrNoRoute

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string) (*RouteService, error) {
	if apiKey == "" {
		return nil, errors.New("maps api key is empty")
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return &RouteService{client: client}, nil
}

// Route returns the driving route from origin to destination as an encoded
// overview polyline with its total distance and duration.
func (s *RouteService) Route(ctx context.Context, origin, destination types.Point) (routecache.RouteData, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLng(origin),
		Destination: latLng(destination),
		Mode:        maps.TravelModeDriving,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return routecache.RouteData{}, fmt.Errorf("maps api error: %w", err)
	}
	return routeData(routes)
}

func routeData(routes []maps.Route) (routecache.RouteData, error) {
	if len(routes) == 0 || len(routes[0].Legs) == 0 || routes[0].OverviewPolyline.Points == "" {
		return routecache.RouteData{}, ErrNoRoute
	}
	route := routes[0]
	var meters int
	var seconds float64
	for _, leg := range route.Legs {
		meters += leg.Distance.Meters
		seconds += leg.Duration.Seconds()
	}
	return routecache.RouteData{
		Polyline:    route.OverviewPolyline.Points,
		DistanceKm:  types.Num(float64(meters) / 1000),
		DurationMin: types.Num(seconds / 60),
	}, nil
}

func latLng(p types.Point) string {
	return strconv.FormatFloat(p.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(p.Lng, 'f', -1, 64)
}
