package dsp

import "math"

// Rotator multiplies a stream by exp(j*2*pi*nu*n). The phase is accumulated
// sample by sample, so changing nu never introduces a phase jump.
type Rotator struct {
	nu    float64
	phase float64
}

// NewRotator returns a rotator at normalized frequency nu (cycles per sample).
func NewRotator(nu float64) *Rotator { return &Rotator{nu: nu} }

// SetNu changes the normalized frequency.
func (r *Rotator) SetNu(nu float64) { r.nu = nu }

// Nu returns the normalized frequency.
func (r *Rotator) Nu() float64 { return r.nu }

// Phase returns the phase that will be applied to the next sample.
func (r *Rotator) Phase() float64 { return r.phase }

// Step rotates one sample.
func (r *Rotator) Step(x complex64) complex64 {
	s, c := math.Sincos(r.phase)
	r.phase = WrapPhase(r.phase + 2*math.Pi*r.nu)
	return x * complex(float32(c), float32(s))
}

// Rotate runs Step over in and writes the result to out.
func (r *Rotator) Rotate(in, out []complex64) {
	for i, x := range in {
		out[i] = r.Step(x)
	}
}

// Reset zeroes the running phase and keeps nu.
func (r *Rotator) Reset() { r.phase = 0 }
