package location

import (
	"math"
	"testing"
)

func TestHaversineKm_KnownDistances(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lng1      float64
		lat2      float64
		lng2      float64
		wantKm    float64
		tolerance float64
	}{
		{
			name: "same point",
			lat1: 12.9716, lng1: 77.5946,
			lat2: 12.9716, lng2: 77.5946,
			wantKm:    0,
			tolerance: 1e-9,
		},
		{
			name: "one degree of longitude on the equator",
			lat1: 0, lng1: 0,
			lat2: 0, lng2: 1,
			wantKm:    111.19,
			tolerance: 0.5,
		},
		{
			name: "MG Road to Koramangala (~5km)",
			lat1: 12.9716, lng1: 77.5946,
			lat2: 12.9352, lng2: 77.6245,
			wantKm:    5.15,
			tolerance: 0.3,
		},
		{
			name: "New York to Los Angeles (~3944km)",
			lat1: 40.7128, lng1: -74.0060,
			lat2: 34.0522, lng2: -118.2437,
			wantKm:    3944,
			tolerance: 50,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineKm(tt.lat1, tt.lng1, tt.lat2, tt.lng2)
			if math.Abs(got-tt.wantKm) > tt.tolerance {
				t.Errorf("HaversineKm() = %f, want %f (±%f)", got, tt.wantKm, tt.tolerance)
			}
		})
	}
}

func TestHaversineKm_SamePointIsZero(t *testing.T) {
	points := [][2]float64{{0, 0}, {89.9, 179.9}, {-45.5, -120.25}, {12.9716, 77.5946}}
	for _, p := range points {
		if d := HaversineKm(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("HaversineKm(%v, %v) = %f, want 0", p, p, d)
		}
	}
}

func TestHaversineKm_Symmetry(t *testing.T) {
	d1 := HaversineKm(25.0, 121.0, 26.0, 122.0)
	d2 := HaversineKm(26.0, 122.0, 25.0, 121.0)
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("haversine is not symmetric: %f vs %f", d1, d2)
	}
}
