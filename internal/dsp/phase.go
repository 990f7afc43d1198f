package dsp

import "math"

// WrapPhase maps a phase in radians to [0, 2*pi).
func WrapPhase(phase float64) float64 {
	phase = math.Mod(phase, 2*math.Pi)
	if phase < 0 {
		phase += 2 * math.Pi
	}
	return phase
}

// WrapPi maps a phase in radians to [-pi, pi).
func WrapPi(phase float64) float64 {
	return WrapPhase(phase+math.Pi) - math.Pi
}

// UnwrapCycles removes whole-cycle jumps from a sequence of phases expressed
// in cycles. A step larger than half a cycle is corrected by the nearest
// integer number of cycles.
func UnwrapCycles(cycles []float64) []float64 {
	out := make([]float64, len(cycles))
	if len(cycles) == 0 {
		return out
	}
	offset := 0.0
	out[0] = cycles[0]
	for i := 1; i < len(cycles); i++ {
		diff := cycles[i] + offset - out[i-1]
		if math.Abs(diff) > 0.5 {
			offset -= math.Round(diff)
		}
		out[i] = cycles[i] + offset
	}
	return out
}

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180 / math.Pi }
