package dsp

import "github.com/rjboer/GoDVBS2/internal/ring"

// Farrow is a 4-tap cubic Farrow interpolator. With mu in [0,1) the output
// lies between x[n-2] (mu=0) and x[n-1] (mu=1).
type Farrow struct {
	hist *ring.Ring[complex64]
	mu   float64
	b    [4]float32
}

// NewFarrow returns an interpolator with mu=0 and a zeroed history.
func NewFarrow() *Farrow {
	f := &Farrow{hist: ring.New[complex64](4)}
	f.Reset()
	return f
}

// SetMu recomputes the four taps for the fractional offset mu. The taps are
// the cubic Lagrange weights for the points x[n-3..n] evaluated at n-2+mu.
func (f *Farrow) SetMu(mu float64) {
	f.mu = mu
	m1, m2, p1 := mu-1, mu-2, mu+1
	f.b[0] = float32(-mu * m1 * m2 / 6)
	f.b[1] = float32(p1 * m1 * m2 / 2)
	f.b[2] = float32(-p1 * mu * m2 / 2)
	f.b[3] = float32(p1 * mu * m1 / 6)
}

// Mu returns the current fractional offset.
func (f *Farrow) Mu() float64 { return f.mu }

// Step pushes x into the history and returns the interpolated sample.
func (f *Farrow) Step(x complex64) complex64 {
	f.hist.Shift(x)
	return scale(f.hist.Back(3), f.b[0]) +
		scale(f.hist.Back(2), f.b[1]) +
		scale(f.hist.Back(1), f.b[2]) +
		scale(f.hist.Back(0), f.b[3])
}

// Reset zeroes the history and sets mu back to 0.
func (f *Farrow) Reset() {
	f.hist.Fill(0)
	f.SetMu(0)
}

func scale(x complex64, g float32) complex64 {
	return complex(real(x)*g, imag(x)*g)
}
