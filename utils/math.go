package utils

import "math"

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// NormalizeAngle wraps an angle in radians into (-pi, pi]. It returns the shortest signed
// rotation equivalent to ang.
func NormalizeAngle(ang float64) float64 {
	r := math.Mod(ang, 2*math.Pi)
	switch {
	case r <= -math.Pi:
		r += 2 * math.Pi
	case r > math.Pi:
		r -= 2 * math.Pi
	}
	return r
}

// Sign returns -1, 0 or 1 matching the sign of x.
func Sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}

// Clamp limits x to [lo, hi].
func Clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
