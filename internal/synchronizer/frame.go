package synchronizer

import (
	"fmt"
	"math"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/ring"
)

// FrameResult carries the side outputs of one frame synchronization call.
type FrameResult struct {
	Delay    int     // frame start inside the input block
	Detected bool    // smoothed correlation above the trigger
	Metric   float64 // smoothed correlation peak
}

// Frame aligns symbol blocks on PL frame boundaries.
type Frame interface {
	Synchronize(in, out []complex64) (FrameResult, error)
	Delay() int
	Size() int
	Reset()
}

// FrameConfig configures the SOF/PLSC correlator.
type FrameConfig struct {
	Size    int     // symbols per block, the PL frame length
	Alpha   float64 // smoothing of the per position correlation
	Trigger float64 // detection threshold; a clean header peaks at 57
}

// DefaultFrameConfig returns the receiver defaults.
func DefaultFrameConfig(size int) FrameConfig {
	return FrameConfig{Size: size, Alpha: 0.9, Trigger: 25}
}

func (c FrameConfig) validate() error {
	switch {
	case c.Size < dvbs2.HeaderSize:
		return fmt.Errorf("%w: frame size %d shorter than a header", ErrInvalidConfig, c.Size)
	case c.Alpha < 0 || c.Alpha >= 1:
		return fmt.Errorf("%w: alpha %.3g outside [0,1)", ErrInvalidConfig, c.Alpha)
	case c.Trigger < 0:
		return fmt.Errorf("%w: trigger %.3g must not be negative", ErrInvalidConfig, c.Trigger)
	}
	return nil
}

// correlator scores the differential stream against the header reference.
// The returned value is max(|SOF+PLSC|, |SOF-PLSC|) for the window ending
// at the latest sample, which is blind to the PLSC pilot flag.
type correlator interface {
	step(d complex64) float64
	reset()
}

const corrLen = dvbs2.HeaderSize - 1

// directCorrelator slides the complex reference over a history ring.
type directCorrelator struct {
	hist *ring.Ring[complex64]
	ref  []complex64
}

func newDirectCorrelator() *directCorrelator {
	c := &directCorrelator{hist: ring.New[complex64](corrLen), ref: dvbs2.SyncReference()}
	c.reset()
	return c
}

func (c *directCorrelator) step(d complex64) float64 {
	c.hist.Shift(d)
	var sof, plsc complex64
	for k := 0; k < dvbs2.SOFLength; k++ {
		sof += c.hist.At(k) * c.ref[k]
	}
	for k := dvbs2.SOFLength; k < corrLen; k++ {
		plsc += c.hist.At(k) * c.ref[k]
	}
	return math.Max(cabs(sof+plsc), cabs(sof-plsc))
}

func (c *directCorrelator) reset() { c.hist.Fill(0) }

// fastCorrelator runs the SOF and PLSC parts as two real tap FIR filters.
// The reference is purely imaginary, so the common factor j is dropped.
// The SOF output is delayed to line up with the end of the PLSC.
type fastCorrelator struct {
	sof   *dsp.FIR
	plsc  *dsp.FIR
	align *dsp.VariableDelay
}

func newFastCorrelator() *fastCorrelator {
	ref := dvbs2.SyncReference()
	sofTaps := make([]float64, dvbs2.SOFLength)
	for i := range sofTaps {
		sofTaps[i] = float64(imag(ref[dvbs2.SOFLength-1-i]))
	}
	plscLen := corrLen - dvbs2.SOFLength
	plscTaps := make([]float64, plscLen)
	for i := range plscTaps {
		plscTaps[i] = float64(imag(ref[corrLen-1-i]))
	}
	c := &fastCorrelator{
		sof:   dsp.NewFIR(sofTaps),
		plsc:  dsp.NewFIR(plscTaps),
		align: dsp.NewVariableDelay(plscLen),
	}
	c.reset()
	return c
}

func (c *fastCorrelator) step(d complex64) float64 {
	s := c.align.Step(c.sof.Step(d))
	p := c.plsc.Step(d)
	sr, si := real(s)+real(p), imag(s)+imag(p)
	dr, di := real(s)-real(p), imag(s)-imag(p)
	return math.Sqrt(math.Max(float64(sr*sr+si*si), float64(dr*dr+di*di)))
}

func (c *fastCorrelator) reset() {
	c.sof.Reset()
	c.plsc.Reset()
	c.align.Reset()
	c.align.SetDelay(c.align.MaxDelay())
}

// FrameSync locates the PL header in every block and realigns the stream
// so that output symbol 0 is the first header symbol.
type FrameSync struct {
	cfg    FrameConfig
	corr   correlator
	prev   complex64
	smooth []float64
	out    *dsp.VariableDelay
	delay  int
	metric float64
}

func newFrameSync(cfg FrameConfig, corr correlator) (*FrameSync, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	f := &FrameSync{
		cfg:    cfg,
		corr:   corr,
		smooth: make([]float64, cfg.Size),
		out:    dsp.NewVariableDelay(cfg.Size),
	}
	f.Reset()
	return f, nil
}

// NewFrameSync builds the direct complex correlator.
func NewFrameSync(cfg FrameConfig) (*FrameSync, error) {
	return newFrameSync(cfg, newDirectCorrelator())
}

// NewFastFrameSync builds the split real tap correlator. It takes the same
// decisions as NewFrameSync.
func NewFastFrameSync(cfg FrameConfig) (*FrameSync, error) {
	return newFrameSync(cfg, newFastCorrelator())
}

// Synchronize correlates one block, updates the frame delay and writes the
// realigned stream to out.
func (f *FrameSync) Synchronize(in, out []complex64) (FrameResult, error) {
	n := f.cfg.Size
	if len(in) != n || len(out) != n {
		return FrameResult{}, fmt.Errorf("%w: got %d/%d symbols, want %d", ErrLength, len(in), len(out), n)
	}
	a := f.cfg.Alpha
	maxIdx, maxCorr := 0, math.Inf(-1)
	for i, x := range in {
		d := f.prev * complex(real(x), -imag(x))
		f.prev = x
		f.smooth[i] = f.smooth[i]*a + (1-a)*f.corr.step(d)
		if f.smooth[i] > maxCorr {
			maxIdx, maxCorr = i, f.smooth[i]
		}
	}
	f.delay = (n + maxIdx - corrLen) % n
	f.metric = maxCorr
	f.out.SetDelay((n - f.delay) % n)
	f.out.Filter(in, out)
	return FrameResult{Delay: f.delay, Detected: maxCorr > f.cfg.Trigger, Metric: maxCorr}, nil
}

// Delay returns the last frame delay.
func (f *FrameSync) Delay() int { return f.delay }

// Metric returns the last smoothed correlation peak.
func (f *FrameSync) Metric() float64 { return f.metric }

// Size returns the block size.
func (f *FrameSync) Size() int { return f.cfg.Size }

// Correlation returns the smoothed correlation per block position.
func (f *FrameSync) Correlation() []float64 {
	return append([]float64(nil), f.smooth...)
}

// Reset clears the correlator, the smoothing and the output delay line.
// Alpha and the trigger are kept.
func (f *FrameSync) Reset() {
	f.corr.reset()
	f.prev = 1
	for i := range f.smooth {
		f.smooth[i] = 0
	}
	f.out.Reset()
	f.out.SetDelay(0)
	f.delay = 0
	f.metric = 0
}

// FrameOracle realigns by a known delay. It is a test double for
// FrameSync.
type FrameOracle struct {
	size  int
	delay int
	out   *dsp.VariableDelay
}

// NewFrameOracle assumes the frame starts delay symbols into every block.
func NewFrameOracle(size, delay int) (*FrameOracle, error) {
	if size < 1 || delay < 0 || delay >= size {
		return nil, fmt.Errorf("%w: frame size %d, delay %d", ErrInvalidConfig, size, delay)
	}
	o := &FrameOracle{size: size, delay: delay, out: dsp.NewVariableDelay(size)}
	o.Reset()
	return o, nil
}

func (o *FrameOracle) Synchronize(in, out []complex64) (FrameResult, error) {
	if len(in) != o.size || len(out) != o.size {
		return FrameResult{}, fmt.Errorf("%w: got %d/%d symbols, want %d", ErrLength, len(in), len(out), o.size)
	}
	o.out.Filter(in, out)
	return FrameResult{Delay: o.delay, Detected: true}, nil
}

func (o *FrameOracle) Delay() int { return o.delay }
func (o *FrameOracle) Size() int { return o.size }

func (o *FrameOracle) Reset() {
	o.out.Reset()
	o.out.SetDelay((o.size - o.delay) % o.size)
}

func cabs(x complex64) float64 {
	return math.Hypot(float64(real(x)), float64(imag(x)))
}
