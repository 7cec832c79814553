// Package units provides angle conversions and normalisation shared by the
// geometry, environment and sensor packages. Simulator metadata reports all
// rotations in degrees.
package units

import "math"

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 {
	return rad * 180 / math.Pi
}

// NormalizeDegrees wraps deg into [0, 360).
func NormalizeDegrees(deg float64) float64 {
	d := math.Mod(deg, 360)
	if d < 0 {
		d += 360
	}
	// math.Mod(-1e-17, 360)+360 rounds to 360.
	if d >= 360 {
		d = 0
	}
	return d
}

// SignedDegrees wraps deg into (-180, 180].
func SignedDegrees(deg float64) float64 {
	d := NormalizeDegrees(deg)
	if d > 180 {
		d -= 360
	}
	return d
}
