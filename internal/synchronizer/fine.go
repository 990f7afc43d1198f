package synchronizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
)

// Fine estimates and removes the residual carrier frequency and phase of a
// descrambled, frame aligned PL frame using its pilot blocks.
type Fine interface {
	Synchronize(in, out []complex64) error
	// EstimatedFreq is in cycles per symbol.
	EstimatedFreq() float64
	// EstimatedPhase is in radians.
	EstimatedPhase() float64
	Reset()
}

// pilotStarts lists the pilot blocks that fit in a frame of size symbols.
func pilotStarts(size int) []int {
	var starts []int
	for p := dvbs2.FirstPilot; p+dvbs2.PilotSize <= size; p += dvbs2.PilotPeriod {
		starts = append(starts, p)
	}
	return starts
}

// pilotProduct returns x times the conjugate of the unscrambled pilot
// direction (1+j), which strips the pilot modulation.
func pilotProduct(x complex64) complex128 {
	return complex128(x) * complex(1, -1)
}

// derotate writes in[n]*exp(-j*(2*pi*freq*n + phase)) to out.
func derotate(in, out []complex64, freq, phase float64) {
	for n, x := range in {
		s, c := math.Sincos(-(2*math.Pi*freq*float64(n) + phase))
		out[n] = x * complex(float32(c), float32(s))
	}
}

func checkFrame(in, out []complex64, size int) error {
	if len(in) != size || len(out) != size {
		return fmt.Errorf("%w: got %d/%d symbols, want %d", ErrLength, len(in), len(out), size)
	}
	return nil
}

// FineLR is the Luise-Reggiannini frequency estimator run over the pilot
// blocks of a frame. The pilot autocorrelation accumulates across frames
// until Reset, so the estimate averages over every frame seen since.
type FineLR struct {
	size   int
	starts []int
	z      []complex128
	acc    complex128
	freq   float64
}

// NewFineLR builds the estimator for frames of size symbols.
func NewFineLR(size int) (*FineLR, error) {
	starts := pilotStarts(size)
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: frame size %d has no pilot block", ErrInvalidConfig, size)
	}
	return &FineLR{size: size, starts: starts, z: make([]complex128, dvbs2.PilotSize)}, nil
}

// Synchronize estimates the frequency offset and derotates the frame.
func (l *FineLR) Synchronize(in, out []complex64) error {
	if err := checkFrame(in, out, l.size); err != nil {
		return err
	}
	const lp = dvbs2.PilotSize
	for _, p := range l.starts {
		for i := 0; i < lp; i++ {
			l.z[i] = pilotProduct(in[p+i])
		}
		for m := 1; m <= lp/2; m++ {
			var r complex128
			for k := m; k < lp; k++ {
				r += l.z[k] * complex(real(l.z[k-m]), -imag(l.z[k-m]))
			}
			l.acc += r / complex(float64(lp-m), 0)
		}
	}
	l.freq = math.Atan2(imag(l.acc), real(l.acc)) / (float64(lp/2+1) * math.Pi)
	derotate(in, out, l.freq, 0)
	return nil
}

// EstimatedFreq returns the last estimate in cycles per symbol.
func (l *FineLR) EstimatedFreq() float64 { return l.freq }

// EstimatedPhase is always zero; the estimator does not track phase.
func (l *FineLR) EstimatedPhase() float64 { return 0 }

// Reset clears the accumulated autocorrelation and the estimate.
func (l *FineLR) Reset() {
	l.acc = 0
	l.freq = 0
}

// PilotFit fits a straight line through the per pilot phase estimates and
// removes the resulting frequency ramp and phase.
type PilotFit struct {
	size   int
	starts []int
	t      []float64
	y      []float64
	freq   float64
	phase  float64
}

// NewPilotFit builds the estimator for frames of size symbols.
func NewPilotFit(size int) (*PilotFit, error) {
	starts := pilotStarts(size)
	if len(starts) == 0 {
		return nil, fmt.Errorf("%w: frame size %d has no pilot block", ErrInvalidConfig, size)
	}
	f := &PilotFit{
		size:   size,
		starts: starts,
		t:      make([]float64, len(starts)),
		y:      make([]float64, len(starts)),
	}
	for i, p := range starts {
		f.t[i] = float64(p) + float64(dvbs2.PilotSize-1)/2
	}
	return f, nil
}

// Synchronize estimates frequency and phase and derotates the frame.
func (f *PilotFit) Synchronize(in, out []complex64) error {
	if err := checkFrame(in, out, f.size); err != nil {
		return err
	}
	for i, p := range f.starts {
		var sum complex128
		for k := 0; k < dvbs2.PilotSize; k++ {
			sum += pilotProduct(in[p+k])
		}
		f.y[i] = dsp.WrapPhase(math.Atan2(imag(sum), real(sum))) / (2 * math.Pi)
	}
	y := dsp.UnwrapCycles(f.y)
	var intercept float64
	if len(y) > 1 {
		intercept, f.freq = stat.LinearRegression(f.t, y, nil, false)
	} else {
		intercept, f.freq = y[0], 0
	}
	f.phase = 2 * math.Pi * intercept
	derotate(in, out, f.freq, f.phase)
	return nil
}

// EstimatedFreq returns the fitted slope in cycles per symbol.
func (f *PilotFit) EstimatedFreq() float64 { return f.freq }

// EstimatedPhase returns the fitted phase at symbol 0 in radians.
func (f *PilotFit) EstimatedPhase() float64 { return f.phase }

// Reset clears the estimates.
func (f *PilotFit) Reset() {
	f.freq = 0
	f.phase = 0
}

// FineOracle removes a known frequency and phase. It is a test double for
// the fine estimators.
type FineOracle struct {
	size  int
	freq  float64
	phase float64
}

// NewFineOracle removes freq cycles per symbol and phase radians.
func NewFineOracle(size int, freq, phase float64) (*FineOracle, error) {
	if size < 1 {
		return nil, fmt.Errorf("%w: frame size %d", ErrInvalidConfig, size)
	}
	return &FineOracle{size: size, freq: freq, phase: phase}, nil
}

func (o *FineOracle) Synchronize(in, out []complex64) error {
	if err := checkFrame(in, out, o.size); err != nil {
		return err
	}
	derotate(in, out, o.freq, o.phase)
	return nil
}

func (o *FineOracle) EstimatedFreq() float64 { return o.freq }
func (o *FineOracle) EstimatedPhase() float64 { return o.phase }
func (o *FineOracle) Reset() {}
