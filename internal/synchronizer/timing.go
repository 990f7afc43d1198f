package synchronizer

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/ring"
)

// Timing recovers symbol timing from an oversampled stream and buffers the
// strobed symbols for fixed size extraction.
type Timing interface {
	// Step consumes one sample. It returns the interpolated sample and
	// whether it was a strobe.
	Step(x complex64) (complex64, bool)
	// Push runs Step over a block.
	Push(in []complex64)
	// Extract drains len(out) symbols. On underflow it zero pads, returns
	// the shortfall and ErrAborted.
	Extract(out []complex64) (int, error)
	// Synchronize pushes one input block and extracts one output block.
	Synchronize(in, out []complex64) (int, error)

	Mu() float64
	// TEDError is the last timing error detector output.
	TEDError() float64
	IsStrobe() bool
	LastSymbol() complex64
	Delay() int
	OverflowCount() int
	UnderflowCount() int
	InputSize() int
	OutputSize() int
	Reset()
}

// GardnerConfig configures a Gardner timing loop.
type GardnerConfig struct {
	OSF        int // samples per symbol
	OutputSize int // symbols per extracted block
	Loop       LoopParams
	// Headroom zero symbols are queued after every reset so the first
	// extractions tolerate a slow start of the loop.
	Headroom int
}

// DefaultGardnerConfig returns the reference loop design for blocks of
// outputSize symbols.
func DefaultGardnerConfig(outputSize int) GardnerConfig {
	return GardnerConfig{
		OSF:        4,
		OutputSize: outputSize,
		Loop: LoopParams{
			DampingFactor:       math.Sqrt(0.5),
			NormalizedBandwidth: 5e-5,
			DetectorGain:        2,
		},
	}
}

func (c GardnerConfig) validate() error {
	switch {
	case c.OSF < 2 || c.OSF > 16:
		return fmt.Errorf("%w: oversampling factor %d outside [2,16]", ErrInvalidConfig, c.OSF)
	case c.OutputSize < 1:
		return fmt.Errorf("%w: output size %d must be positive", ErrInvalidConfig, c.OutputSize)
	case c.Headroom < 0 || c.Headroom > c.OutputSize:
		return fmt.Errorf("%w: headroom %d outside [0,%d]", ErrInvalidConfig, c.Headroom, c.OutputSize)
	}
	return c.Loop.validate()
}

func (p LoopParams) validate() error {
	switch {
	case p.DampingFactor <= 0:
		return fmt.Errorf("%w: damping factor %.3g must be positive", ErrInvalidConfig, p.DampingFactor)
	case p.NormalizedBandwidth <= 0:
		return fmt.Errorf("%w: loop bandwidth %.3g must be positive", ErrInvalidConfig, p.NormalizedBandwidth)
	case p.DetectorGain == 0:
		return fmt.Errorf("%w: detector gain must be non-zero", ErrInvalidConfig)
	}
	return nil
}

// elastic is the symbol buffer between the irregular strobe cadence and
// the fixed extraction size.
type elastic struct {
	buf       *ring.Ring[complex64]
	size      int
	headroom  int
	overflow  int
	underflow int
}

func newElastic(size, headroom int) elastic {
	e := elastic{buf: ring.New[complex64](2 * size), size: size, headroom: headroom}
	e.reset()
	return e
}

func (e *elastic) push(y complex64) {
	if !e.buf.Push(y) {
		e.overflow++
	}
}

func (e *elastic) extract(out []complex64) (int, error) {
	if len(out) != e.size {
		return 0, fmt.Errorf("%w: extract %d symbols, want %d", ErrLength, len(out), e.size)
	}
	n := e.buf.Drain(out)
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	if shortfall := len(out) - n; shortfall > 0 {
		e.underflow++
		return shortfall, ErrAborted
	}
	return 0, nil
}

// reset empties the buffer and queues the headroom. The counters are
// diagnostics and survive resets.
func (e *elastic) reset() {
	e.buf.Reset()
	for i := 0; i < e.headroom; i++ {
		e.buf.Push(0)
	}
}

// Gardner is a Gardner timing error detector driving a Farrow
// interpolator through a PI loop filter and an NCO.
type Gardner struct {
	osf  int
	pow  int
	loop loopFilter
	cfg  GardnerConfig

	farrow *dsp.Farrow
	nco    float64
	mu     float64

	nextStrobe bool // decision for the next sample
	strobed    bool // the last sample was a strobe
	last       complex64

	history int
	ted     []complex64
	head    int
	mid     int
	tedErr  float64
	lastTED float64

	out elastic
}

// NewGardner builds a timing loop.
func NewGardner(cfg GardnerConfig) (*Gardner, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &Gardner{
		osf:    cfg.OSF,
		pow:    1 << cfg.OSF,
		cfg:    cfg,
		farrow: dsp.NewFarrow(),
		ted:    make([]complex64, cfg.OSF),
		out:    newElastic(cfg.OutputSize, cfg.Headroom),
	}
	g.loop.kp, g.loop.ki = gardnerGains(cfg.OSF, cfg.Loop)
	g.Reset()
	return g, nil
}

// SetLoopParams redesigns the loop gains. The loop state is kept.
func (g *Gardner) SetLoopParams(p LoopParams) error {
	if err := p.validate(); err != nil {
		return err
	}
	g.cfg.Loop = p
	g.loop.kp, g.loop.ki = gardnerGains(g.osf, p)
	return nil
}

// Gains returns the proportional and integral gains.
func (g *Gardner) Gains() (kp, ki float64) { return g.loop.kp, g.loop.ki }

// Step consumes one sample.
func (g *Gardner) Step(x complex64) (complex64, bool) {
	y := g.farrow.Step(x)
	strobe := g.nextStrobe
	if strobe {
		g.out.push(y)
		g.last = y
	}
	g.strobed = strobe
	g.updateTED(y, strobe)
	g.loop.step(g.tedErr)
	g.control()
	return y, strobe
}

func (g *Gardner) updateTED(y complex64, strobe bool) {
	s := 0
	if strobe {
		s = 1
	}
	g.history = (g.history<<1)%g.pow + s
	if g.history == 1 {
		prev, mid := g.ted[g.head], g.ted[g.mid]
		g.tedErr = float64(real(mid))*float64(real(prev)-real(y)) +
			float64(imag(mid))*float64(imag(prev)-imag(y))
		g.lastTED = g.tedErr
	} else {
		g.tedErr = 0
	}

	switch bits.OnesCount(uint(g.history)) {
	case 0:
		// Slow clock: nothing to store.
	case 1:
		g.ted[g.head] = y
		g.head = (g.head - 1 + g.osf) % g.osf
		g.mid = (g.mid - 1 + g.osf) % g.osf
	default:
		// Two strobes inside one symbol: stuff a zero ahead of the sample.
		g.ted[g.head] = 0
		g.ted[(g.head-1+g.osf)%g.osf] = y
		g.head = (g.head - 2 + 2*g.osf) % g.osf
		g.mid = (g.mid - 2 + 2*g.osf) % g.osf
	}
}

func (g *Gardner) control() {
	w := g.loop.out + 1/float64(g.osf)
	g.nextStrobe = g.nco < w
	if g.nextStrobe {
		g.mu = g.nco / w
		g.farrow.SetMu(g.mu)
		g.nco++
	}
	g.nco -= w
}

// Push runs Step over a block.
func (g *Gardner) Push(in []complex64) {
	for _, x := range in {
		g.Step(x)
	}
}

// Extract drains OutputSize symbols into out.
func (g *Gardner) Extract(out []complex64) (int, error) { return g.out.extract(out) }

// Synchronize pushes InputSize samples and extracts OutputSize symbols.
func (g *Gardner) Synchronize(in, out []complex64) (int, error) {
	if len(in) != g.InputSize() {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrLength, len(in), g.InputSize())
	}
	g.Push(in)
	return g.Extract(out)
}

// Mu returns the fractional interpolation offset of the last strobe.
func (g *Gardner) Mu() float64 { return g.mu }

// IsStrobe reports whether the last sample produced a symbol.
func (g *Gardner) IsStrobe() bool { return g.strobed }

// LastSymbol returns the most recent strobed symbol.
func (g *Gardner) LastSymbol() complex64 { return g.last }

// TEDError returns the last timing error computed by the detector.
func (g *Gardner) TEDError() float64 { return g.lastTED }

// Delay returns the number of buffered symbols.
func (g *Gardner) Delay() int { return g.out.buf.Len() }

// OverflowCount returns how many strobed symbols were dropped on a full buffer.
func (g *Gardner) OverflowCount() int { return g.out.overflow }

// UnderflowCount returns how many extractions came up short.
func (g *Gardner) UnderflowCount() int { return g.out.underflow }

// InputSize returns the samples per Synchronize call.
func (g *Gardner) InputSize() int { return g.cfg.OutputSize * g.osf }

// OutputSize returns the symbols per extraction.
func (g *Gardner) OutputSize() int { return g.cfg.OutputSize }

// Reset zeroes the loop, the NCO, the detector and the output buffer. The
// loop gains and the diagnostic counters are kept.
func (g *Gardner) Reset() {
	g.farrow.Reset()
	g.farrow.SetMu(0)
	g.loop.reset()
	g.nco = 0
	g.mu = 0
	g.nextStrobe = false
	g.strobed = false
	g.last = 0
	g.history = 0
	for i := range g.ted {
		g.ted[i] = 0
	}
	g.head = 0
	g.mid = g.osf / 2
	g.tedErr = 0
	g.lastTED = 0
	g.out.reset()
}

// TimingOracle strobes at a known channel delay. It is a test double for
// Gardner.
type TimingOracle struct {
	osf     int
	size    int
	farrow  *dsp.Farrow
	mu      float64
	counter int
	start   int
	strobed bool
	last    complex64
	out     elastic
}

// NewTimingOracle builds an oracle for symbols placed at k*osf+delay
// samples.
func NewTimingOracle(osf, outputSize int, delay float64) (*TimingOracle, error) {
	if osf < 2 {
		return nil, fmt.Errorf("%w: oversampling factor %d must be at least 2", ErrInvalidConfig, osf)
	}
	if outputSize < 1 {
		return nil, fmt.Errorf("%w: output size %d must be positive", ErrInvalidConfig, outputSize)
	}
	if delay < 0 {
		return nil, fmt.Errorf("%w: channel delay %.3g must not be negative", ErrInvalidConfig, delay)
	}
	whole := math.Floor(delay)
	o := &TimingOracle{
		osf:    osf,
		size:   outputSize,
		farrow: dsp.NewFarrow(),
		mu:     delay - whole,
		// The interpolator output at step n sits at n-2+mu.
		start: ((-int(whole)-2)%osf + osf) % osf,
		out:   newElastic(outputSize, 0),
	}
	o.Reset()
	return o, nil
}

// Step consumes one sample.
func (o *TimingOracle) Step(x complex64) (complex64, bool) {
	y := o.farrow.Step(x)
	o.strobed = o.counter == 0
	if o.strobed {
		o.out.push(y)
		o.last = y
	}
	o.counter = (o.counter + 1) % o.osf
	return y, o.strobed
}

// Push runs Step over a block.
func (o *TimingOracle) Push(in []complex64) {
	for _, x := range in {
		o.Step(x)
	}
}

// Extract drains OutputSize symbols into out.
func (o *TimingOracle) Extract(out []complex64) (int, error) { return o.out.extract(out) }

// Synchronize pushes InputSize samples and extracts OutputSize symbols.
func (o *TimingOracle) Synchronize(in, out []complex64) (int, error) {
	if len(in) != o.InputSize() {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrLength, len(in), o.InputSize())
	}
	o.Push(in)
	return o.Extract(out)
}

func (o *TimingOracle) Mu() float64 { return o.mu }
func (o *TimingOracle) TEDError() float64 { return 0 }
func (o *TimingOracle) IsStrobe() bool { return o.strobed }
func (o *TimingOracle) LastSymbol() complex64 { return o.last }
func (o *TimingOracle) Delay() int { return o.out.buf.Len() }
func (o *TimingOracle) OverflowCount() int { return o.out.overflow }
func (o *TimingOracle) UnderflowCount() int { return o.out.underflow }
func (o *TimingOracle) InputSize() int { return o.size * o.osf }
func (o *TimingOracle) OutputSize() int { return o.size }

// Reset restarts the strobe counter and empties the buffer.
func (o *TimingOracle) Reset() {
	o.farrow.Reset()
	o.farrow.SetMu(o.mu)
	o.counter = o.start
	o.strobed = false
	o.last = 0
	o.out.reset()
}
