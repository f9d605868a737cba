package routecache

import (
	"math"
	"strconv"
	"strings"

	"fleetloc/internal/types"
)

// keyPrecision is 4 decimal places, roughly 11 m of latitude.
const keyPrecision = 1e4

// BuildKey derives the cache key for a restaurant/customer pair. It reports
// false when either point is missing or any coordinate is not finite; a
// partial key is never produced.
func BuildKey(restaurant, customer *types.Point) (string, bool) {
	if restaurant == nil || customer == nil {
		return "", false
	}
	coords := [4]float64{restaurant.Lat, restaurant.Lng, customer.Lat, customer.Lng}
	parts := make([]string, 0, len(coords))
	for _, c := range coords {
		part, ok := quantize(c)
		if !ok {
			return "", false
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "_"), true
}

// quantize rounds v to keyPrecision and renders it path-safe: trailing zeros
// are stripped, "-" becomes "m" and "." becomes "p".
func quantize(v float64) (string, bool) {
	if !types.Finite(v) {
		return "", false
	}
	q := math.Round(v*keyPrecision) / keyPrecision
	if q == 0 {
		q = 0 // folds -0
	}
	text := strconv.FormatFloat(q, 'f', 4, 64)
	text = strings.TrimRight(text, "0")
	text = strings.TrimSuffix(text, ".")
	text = strings.Replace(text, "-", "m", 1)
	text = strings.Replace(text, ".", "p", 1)
	return text, true
}
