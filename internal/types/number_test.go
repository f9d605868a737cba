package types

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNumber_UnmarshalCoerces(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Number
	}{
		{name: "number", input: `5.2`, want: Number{Value: 5.2, Set: true}},
		{name: "numeric string", input: `" 18 "`, want: Number{Value: 18, Set: true}},
		{name: "null", input: `null`, want: Number{}},
		{name: "word", input: `"soon"`, want: Number{}},
		{name: "bool", input: `true`, want: Number{}},
		{name: "nan string", input: `"NaN"`, want: Number{}},
		{name: "inf string", input: `"+Inf"`, want: Number{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n Number
			require.NoError(t, json.Unmarshal([]byte(tt.input), &n))
			require.Equal(t, tt.want, n)
		})
	}
}

func TestNumber_AbsentFieldInStruct(t *testing.T) {
	var payload struct {
		Distance Number `json:"distance"`
		Duration Number `json:"duration"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"distance":"abc"}`), &payload))
	require.False(t, payload.Distance.Set)
	require.False(t, payload.Duration.Set)
}

func TestNum_RejectsNonFinite(t *testing.T) {
	require.False(t, Num(math.NaN()).Set)
	require.False(t, Num(math.Inf(-1)).Set)
	require.Equal(t, 3.5, *Num(3.5).Ptr())
	require.Nil(t, Number{}.Ptr())
}

func TestPointFrom_NeedsBothCoordinates(t *testing.T) {
	lat, lng, nan := 12.9, 77.6, math.NaN()

	p, ok := PointFrom(&lat, &lng)
	require.True(t, ok)
	require.Equal(t, Point{Lat: 12.9, Lng: 77.6}, p)

	_, ok = PointFrom(&lat, nil)
	require.False(t, ok)
	_, ok = PointFrom(&lat, &nan)
	require.False(t, ok)
}
