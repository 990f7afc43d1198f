package dsp

import (
	"math"

	"github.com/rjboer/GoDVBS2/internal/ring"
)

// FIR is a streaming complex filter with real taps. The history survives
// between calls so a stream can be processed in blocks of any size.
type FIR struct {
	taps []float32
	hist *ring.Ring[complex64]
}

// NewFIR copies taps into a new filter with a zeroed history.
func NewFIR(taps []float64) *FIR {
	if len(taps) == 0 {
		taps = []float64{1}
	}
	f := &FIR{
		taps: make([]float32, len(taps)),
		hist: ring.New[complex64](len(taps)),
	}
	for i, v := range taps {
		f.taps[i] = float32(v)
	}
	f.hist.Fill(0)
	return f
}

// Len returns the number of taps.
func (f *FIR) Len() int { return len(f.taps) }

// Delay returns the group delay in samples of a symmetric filter.
func (f *FIR) Delay() int { return (len(f.taps) - 1) / 2 }

// Step filters one sample.
func (f *FIR) Step(x complex64) complex64 {
	f.hist.Shift(x)
	var re, im float32
	for k, h := range f.taps {
		v := f.hist.Back(k)
		re += h * real(v)
		im += h * imag(v)
	}
	return complex(re, im)
}

// Filter runs Step over in and writes len(in) samples to out.
func (f *FIR) Filter(in, out []complex64) {
	for i, x := range in {
		out[i] = f.Step(x)
	}
}

// Reset zeroes the history.
func (f *FIR) Reset() { f.hist.Fill(0) }

// RRCPulse evaluates the continuous root-raised-cosine impulse response at t
// symbol periods, normalized so that RRCPulse(0) = 1 - rolloff + 4*rolloff/pi.
func RRCPulse(t, rolloff float64) float64 {
	if rolloff <= 0 {
		return sinc(t)
	}
	if t == 0 {
		return 1 - rolloff + 4*rolloff/math.Pi
	}
	if math.Abs(math.Abs(4*rolloff*t)-1) < 1e-9 {
		return rolloff / math.Sqrt2 * ((1+2/math.Pi)*math.Sin(math.Pi/(4*rolloff)) +
			(1-2/math.Pi)*math.Cos(math.Pi/(4*rolloff)))
	}
	num := math.Sin(math.Pi*t*(1-rolloff)) + 4*rolloff*t*math.Cos(math.Pi*t*(1+rolloff))
	den := math.Pi * t * (1 - (4*rolloff*t)*(4*rolloff*t))
	return num / den
}

// RRCTaps returns 2*span*osf+1 root-raised-cosine taps normalized to unit
// energy, so that a transmit/receive pair has unit gain at the symbol instants.
func RRCTaps(rolloff float64, osf, span int) []float64 {
	n := 2*span*osf + 1
	taps := make([]float64, n)
	energy := 0.0
	for i := range taps {
		t := float64(i-span*osf) / float64(osf)
		taps[i] = RRCPulse(t, rolloff)
		energy += taps[i] * taps[i]
	}
	norm := 1 / math.Sqrt(energy)
	for i := range taps {
		taps[i] *= norm
	}
	return taps
}

// FractionalDelayTaps designs an n-tap Blackman-windowed sinc filter whose
// delay is (n-1)/2 + frac samples.
func FractionalDelayTaps(frac float64, n int) []float64 {
	if n < 2 {
		return []float64{1}
	}
	win := Blackman(n)
	taps := make([]float64, n)
	center := float64(n-1)/2 + frac
	sum := 0.0
	for i := range taps {
		taps[i] = sinc(float64(i)-center) * win[i]
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}
	return taps
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	return math.Sin(math.Pi*x) / (math.Pi * x)
}
