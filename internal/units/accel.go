package units

import "strings"

// StandardGravity is the nominal gravitational acceleration in m/s² used as
// the rest-reading baseline for vertical accelerometers.
const StandardGravity = 9.81

// Acceleration unit constants
const (
	MPS2 = "mps2"
	G    = "g"
)

// ValidAccelUnits contains all valid acceleration unit values
var ValidAccelUnits = []string{MPS2, G}

// IsValidAccel checks if the given acceleration unit is known.
func IsValidAccel(unit string) bool {
	for _, u := range ValidAccelUnits {
		if unit == u {
			return true
		}
	}
	return false
}

// GetValidAccelUnitsString returns a comma-separated list of acceleration units.
func GetValidAccelUnitsString() string {
	return strings.Join(ValidAccelUnits, ", ")
}

// GravityBaseline returns the rest reading of a vertical accelerometer in
// the given units: 9.81 for m/s², 1 for g.
func GravityBaseline(unit string) float64 {
	if unit == G {
		return 1
	}
	return StandardGravity
}
