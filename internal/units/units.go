// Package units provides shared constants and conversion for speed units.
// The wire contract carries speed in knots; position sources usually report
// meters per second.
package units

// Unit constants
const (
	Knots = "kn"
	MPS   = "mps"
	KMPH  = "kmph"
	MPH   = "mph"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{Knots, MPS, KMPH, MPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// KnotsFromMPS converts meters per second to knots.
func KnotsFromMPS(mps float64) float64 {
	return mps * 1.9438444924406
}

// ConvertSpeed converts a speed in knots to the target units. Unknown units
// pass the value through unchanged.
func ConvertSpeed(value float64, target string) float64 {
	switch target {
	case MPS:
		return value / 1.9438444924406
	case KMPH:
		return value * 1.852
	case MPH:
		return value * 1.1507794480235
	case Knots:
		return value
	default:
		return value
	}
}
