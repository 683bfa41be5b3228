// Package peaks picks the strongest vertical acceleration samples from a
// motion time series while keeping selected samples a minimum time apart.
package peaks

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidArgument is returned when the selector is called with an empty
// sample set, a target count below one or a negative minimum gap.
var ErrInvalidArgument = errors.New("invalid argument")

// Record is one row of the input table. Accel is the raw z-axis reading.
type Record struct {
	Time  float64 `json:"time"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Speed float64 `json:"speed"`
	Accel float64 `json:"accel"`
}

// Selected is a record chosen by the selector, projected to the output
// column order with the ranking magnitude in place of the raw reading.
type Selected struct {
	Time      float64 `json:"time"`
	Y         float64 `json:"y"`
	X         float64 `json:"x"`
	Speed     float64 `json:"speed"`
	Magnitude float64 `json:"magnitude"`
}

func (s Selected) String() string {
	return fmt.Sprintf("time=%g y=%g x=%g speed=%g magnitude=%g", s.Time, s.Y, s.X, s.Speed, s.Magnitude)
}

// Magnitude returns |accel - baseline|.
func Magnitude(accel, baseline float64) float64 {
	return math.Abs(accel - baseline)
}

// ranked pairs a record with its derived magnitude.
type ranked struct {
	rec       Record
	magnitude float64
}

func (r ranked) selected() Selected {
	return Selected{
		Time:      r.rec.Time,
		Y:         r.rec.Y,
		X:         r.rec.X,
		Speed:     r.rec.Speed,
		Magnitude: r.magnitude,
	}
}
