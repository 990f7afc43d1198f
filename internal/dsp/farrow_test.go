package dsp

import (
	"math"
	"testing"
)

func TestFarrowMuZeroIsPureDelay(t *testing.T) {
	f := NewFarrow()
	f.SetMu(0)
	in := []complex64{1 + 2i, -3 + 1i, 0.5 - 0.5i, 4, 7i, -2}
	for n, x := range in {
		y := f.Step(x)
		var want complex64
		if n >= 2 {
			want = in[n-2]
		}
		if y != want {
			t.Fatalf("sample %d: expected %v got %v", n, want, y)
		}
	}
}

func TestFarrowMuOneSelectsPreviousSample(t *testing.T) {
	f := NewFarrow()
	f.SetMu(1)
	in := []complex64{1, 2, 3, 4, 5}
	for n, x := range in {
		y := f.Step(x)
		if n >= 1 && math.Abs(float64(real(y))-float64(real(in[n-1]))) > 1e-6 {
			t.Fatalf("sample %d: expected %v got %v", n, in[n-1], y)
		}
	}
}

func TestFarrowExactOnLinearRamp(t *testing.T) {
	for _, mu := range []float64{0.1, 0.3, 0.5, 0.77, 0.95} {
		f := NewFarrow()
		f.SetMu(mu)
		for n := 0; n < 16; n++ {
			y := f.Step(complex(float32(n), -float32(n)))
			if n < 3 {
				continue
			}
			want := float64(n) - 2 + mu
			if math.Abs(float64(real(y))-want) > 1e-4 || math.Abs(float64(imag(y))+want) > 1e-4 {
				t.Fatalf("mu=%.2f n=%d: expected %.4f got %v", mu, n, want, y)
			}
		}
	}
}

// lagrangeCubic interpolates at position p (in samples) from the four
// samples x[k-1..k+2] around floor(p) = k.
func lagrangeCubic(x func(int) float64, p float64) float64 {
	k := int(math.Floor(p))
	d := p - float64(k)
	xm1, x0, x1, x2 := x(k-1), x(k), x(k+1), x(k+2)
	return -d*(d-1)*(d-2)/6*xm1 +
		(d+1)*(d-1)*(d-2)/2*x0 -
		(d+1)*d*(d-2)/2*x1 +
		(d+1)*d*(d-1)/6*x2
}

func TestFarrowMatchesLagrangeOnBandLimitedSignal(t *testing.T) {
	for _, freq := range []float64{0.1, 0.2} {
		re := func(n int) float64 { return math.Cos(2*math.Pi*freq*float64(n) + 0.3) }
		im := func(n int) float64 { return math.Sin(2*math.Pi*freq*float64(n) + 0.3) }

		for _, mu := range []float64{0.01, 0.25, 0.5, 0.75, 0.99} {
			f := NewFarrow()
			f.SetMu(mu)
			for n := 0; n < 200; n++ {
				y := f.Step(complex(float32(re(n)), float32(im(n))))
				if n < 4 {
					continue
				}
				p := float64(n) - 2 + mu
				wantRe, wantIm := lagrangeCubic(re, p), lagrangeCubic(im, p)
				if diff := math.Hypot(float64(real(y))-wantRe, float64(imag(y))-wantIm); diff > 1e-4 {
					t.Fatalf("freq=%.1f mu=%.2f n=%d: farrow %v lagrange (%.6f,%.6f) diff %.2e",
						freq, mu, n, y, wantRe, wantIm, diff)
				}
			}
		}
	}
}

func TestFarrowExactOnCubic(t *testing.T) {
	cubic := func(x float64) float64 { return 0.02*x*x*x - 0.3*x*x + x - 4 }
	for _, mu := range []float64{0.2, 0.5, 0.9} {
		f := NewFarrow()
		f.SetMu(mu)
		for n := 0; n < 12; n++ {
			y := f.Step(complex(float32(cubic(float64(n))), 0))
			if n < 3 {
				continue
			}
			want := cubic(float64(n) - 2 + mu)
			if math.Abs(float64(real(y))-want) > 1e-3 {
				t.Fatalf("mu=%.1f n=%d: expected %.5f got %.5f", mu, n, want, real(y))
			}
		}
	}
}

func TestFarrowResetClearsHistory(t *testing.T) {
	f := NewFarrow()
	f.SetMu(0.4)
	f.Step(10)
	f.Step(20)
	f.Reset()
	if f.Mu() != 0 {
		t.Fatalf("expected mu reset to 0, got %.2f", f.Mu())
	}
	if y := f.Step(1); y != 0 {
		t.Fatalf("expected zero output after reset, got %v", y)
	}
}
