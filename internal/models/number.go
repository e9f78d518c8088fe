package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidNumber is returned when a scalar cannot be read as a number.
var ErrInvalidNumber = errors.New("invalid number")

// Number is a numeric scalar that keeps whether it was read as an integer or a float.
// The zero value is the integer 0.
type Number struct {
	i     int64
	f     float64
	float bool
}

// Int returns an integer Number
func Int(v int64) Number { return Number{i: v} }

// Float returns a floating point Number
func Float(v float64) Number { return Number{f: v, float: true} }

// ParseNumber reads a decimal literal. Literals without a fraction or exponent
// that fit in an int64 stay integers.
func ParseNumber(s string) (Number, error) {
	s = strings.TrimSpace(s)
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Int(i), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return Float(f), nil
}

// IsFloat reports whether n holds a float
func (n Number) IsFloat() bool { return n.float }

// Float64 returns n as a float64
func (n Number) Float64() float64 {
	if n.float {
		return n.f
	}
	return float64(n.i)
}

// Int64 returns n as an int64 and whether the conversion was exact
func (n Number) Int64() (int64, bool) {
	if !n.float {
		return n.i, true
	}
	if n.f != math.Trunc(n.f) || n.f < math.MinInt64 || n.f >= math.MaxInt64 {
		return int64(n.f), false
	}
	return int64(n.f), true
}

// Cmp compares n and m and returns -1, 0 or +1.
// Two integers compare exactly; any float operand compares in float64.
func (n Number) Cmp(m Number) int {
	if !n.float && !m.float {
		switch {
		case n.i < m.i:
			return -1
		case n.i > m.i:
			return 1
		}
		return 0
	}
	a, b := n.Float64(), m.Float64()
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (n Number) String() string {
	if n.float {
		return strconv.FormatFloat(n.f, 'g', -1, 64)
	}
	return strconv.FormatInt(n.i, 10)
}

// MarshalJSON encodes n as a JSON number
func (n Number) MarshalJSON() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalJSON decodes a JSON number, keeping its integer or float kind
func (n *Number) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	v, err := ParseNumber(string(b))
	if err != nil {
		return err
	}
	*n = v
	return nil
}
