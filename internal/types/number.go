package types

import (
	"bytes"
	"strconv"
	"strings"
)

// Number is an optional numeric input. JSON numbers and numeric strings are
// accepted; anything that does not coerce to a finite float decodes to an
// absent value instead of failing the whole payload.
type Number struct {
	Value float64
	Set   bool
}

// Num returns a set Number, or an absent one when v is not finite.
func Num(v float64) Number {
	if !Finite(v) {
		return Number{}
	}
	return Number{Value: v, Set: true}
}

func (n Number) Float() (float64, bool) {
	return n.Value, n.Set
}

// Ptr returns nil for an absent value.
func (n Number) Ptr() *float64 {
	if !n.Set {
		return nil
	}
	v := n.Value
	return &v
}

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number{}
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	s := string(b)
	if s[0] == '"' {
		unquoted, err := strconv.Unquote(s)
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(unquoted)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	*n = Num(v)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, n.Value, 'f', -1, 64), nil
}

// PairFrom combines two optional coordinates into a point when both are set.
func PairFrom(lat, lng Number) (Point, bool) {
	if !lat.Set || !lng.Set {
		return Point{}, false
	}
	return Point{Lat: lat.Value, Lng: lng.Value}, true
}
