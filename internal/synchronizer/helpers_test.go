package synchronizer

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoDVBS2/internal/dvbs2"
)

var qpsk = [4]complex64{
	complex(math.Sqrt2/2, math.Sqrt2/2),
	complex(math.Sqrt2/2, -math.Sqrt2/2),
	complex(-math.Sqrt2/2, math.Sqrt2/2),
	complex(-math.Sqrt2/2, -math.Sqrt2/2),
}

func randomSymbols(rng *rand.Rand, n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = qpsk[rng.Intn(4)]
	}
	return out
}

func raisedCosine(t, beta float64) float64 {
	if math.Abs(t) < 1e-12 {
		return 1
	}
	if math.Abs(math.Abs(2*beta*t)-1) < 1e-9 {
		x := math.Pi / (2 * beta)
		return math.Pi / 4 * math.Sin(x) / x
	}
	return math.Sin(math.Pi*t) / (math.Pi * t) * math.Cos(math.Pi*beta*t) / (1 - 4*beta*beta*t*t)
}

// shapeRC places symbol k at sample k*period+delay and returns n samples of
// the raised cosine waveform.
func shapeRC(syms []complex64, period, delay, beta float64, n int) []complex64 {
	const span = 12
	out := make([]complex64, n)
	for i := range out {
		t := (float64(i) - delay) / period
		k0 := int(math.Floor(t))
		var acc complex128
		for k := k0 - span; k <= k0+span; k++ {
			if k < 0 || k >= len(syms) {
				continue
			}
			acc += complex128(syms[k]) * complex(raisedCosine(t-float64(k), beta), 0)
		}
		out[i] = complex64(acc)
	}
	return out
}

func sameQuadrant(a, b complex64) bool {
	return (real(a) > 0) == (real(b) > 0) && (imag(a) > 0) == (imag(b) > 0)
}

// minSymbolErrors aligns got against want with offsets in [-maxOff, maxOff]
// and returns the lowest quadrant error count over the last n symbols of got.
func minSymbolErrors(got, want []complex64, n, maxOff int) int {
	best := n + 1
	for off := -maxOff; off <= maxOff; off++ {
		errs := 0
		for i := len(got) - n; i < len(got); i++ {
			k := i + off
			if k < 0 || k >= len(want) || !sameQuadrant(got[i], want[k]) {
				errs++
			}
		}
		if errs < best {
			best = errs
		}
	}
	return best
}

func rotate(in []complex64, freq, phase float64) []complex64 {
	out := make([]complex64, len(in))
	for n, x := range in {
		out[n] = complex64(complex128(x) * cmplx.Exp(complex(0, 2*math.Pi*freq*float64(n)+phase)))
	}
	return out
}

// scrambledFrame builds one PL frame with random QPSK payload.
func scrambledFrame(t *testing.T, rng *rand.Rand, f *dvbs2.Framer) []complex64 {
	t.Helper()
	frame, err := f.Build(randomSymbols(rng, f.Geometry().DataSymbols))
	require.NoError(t, err)
	return frame
}

func defaultFramer(t *testing.T) *dvbs2.Framer {
	t.Helper()
	m, err := dvbs2.ParseModCod(dvbs2.DefaultModCod)
	require.NoError(t, err)
	return dvbs2.NewFramer(m)
}
