package dsp

import "math"

// Normalize scales a block so that its standard deviation (mean power after
// removing the mean) equals one. A silent block is copied unchanged. The
// applied gain is returned.
func Normalize(in, out []complex64) float64 {
	n := float64(len(in))
	if n == 0 {
		return 1
	}
	var energy float64
	var sum complex128
	for _, x := range in {
		c := complex128(x)
		energy += real(c)*real(c) + imag(c)*imag(c)
		sum += c
	}
	variance := (energy*n - (real(sum)*real(sum) + imag(sum)*imag(sum))) / (n * n)
	if variance <= 0 {
		copy(out, in)
		return 1
	}
	gain := 1 / math.Sqrt(variance)
	g := float32(gain)
	for i, x := range in {
		out[i] = complex(real(x)*g, imag(x)*g)
	}
	return gain
}
