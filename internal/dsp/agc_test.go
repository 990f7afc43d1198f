package dsp

import (
	"math"
	"math/rand"
	"testing"
)

func TestNormalizeUnitPower(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := make([]complex64, 4096)
	for i := range in {
		in[i] = complex(float32(3*rng.NormFloat64()), float32(3*rng.NormFloat64()))
	}
	out := make([]complex64, len(in))
	gain := Normalize(in, out)
	if gain <= 0 {
		t.Fatalf("expected positive gain, got %.4f", gain)
	}
	var power, mean complex128
	for _, y := range out {
		c := complex128(y)
		power += complex(real(c)*real(c)+imag(c)*imag(c), 0)
		mean += c
	}
	mean /= complex(float64(len(out)), 0)
	variance := real(power)/float64(len(out)) - (real(mean)*real(mean) + imag(mean)*imag(mean))
	if math.Abs(variance-1) > 1e-3 {
		t.Fatalf("expected unit variance, got %.5f", variance)
	}
}

func TestNormalizeSilence(t *testing.T) {
	in := []complex64{0, 0, 0}
	out := []complex64{1, 1, 1}
	if gain := Normalize(in, out); gain != 1 {
		t.Fatalf("expected unit gain on silence, got %.2f", gain)
	}
	for i := range out {
		if out[i] != 0 {
			t.Fatalf("expected silence copied through")
		}
	}
}
