package synchronizer

import (
	"fmt"
	"math"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
)

// Coarse removes a carrier frequency offset at the sample rate.
type Coarse interface {
	// Step rotates one sample.
	Step(x complex64) complex64
	// Synchronize rotates a block.
	Synchronize(in, out []complex64) error
	// UpdatePhase feeds the symbol at the current frame index to the
	// loop and advances the index.
	UpdatePhase(symbol complex64)
	SetCurrentIndex(idx int)
	CurrentIndex() int
	EnableUpdate()
	DisableUpdate()
	IsActive() bool
	EstimatedFreq() float64
	EstimatedPhase() float64
	Reset()
}

// CoarseConfig configures the pilot aided carrier loop.
type CoarseConfig struct {
	FrameSize        int // PL frame length in symbols
	SamplesPerSymbol int
	BlockSize        int // samples per Synchronize call, 0 for FrameSize*SamplesPerSymbol
	DampingFactor    float64
	Bandwidth        float64
	PLLSamplesPerSym int // loop design sps, usually 1
}

// DefaultCoarseConfig returns the acquisition settings of the receiver.
func DefaultCoarseConfig(frameSize, sps int) CoarseConfig {
	return CoarseConfig{
		FrameSize:        frameSize,
		SamplesPerSymbol: sps,
		DampingFactor:    math.Sqrt(0.5),
		Bandwidth:        1e-4,
		PLLSamplesPerSym: 1,
	}
}

func (c CoarseConfig) validate() error {
	switch {
	case c.FrameSize < dvbs2.FirstPilot:
		return fmt.Errorf("%w: frame size %d has no pilots", ErrInvalidConfig, c.FrameSize)
	case c.SamplesPerSymbol < 1:
		return fmt.Errorf("%w: samples per symbol %d must be positive", ErrInvalidConfig, c.SamplesPerSymbol)
	case c.BlockSize < 0:
		return fmt.Errorf("%w: block size %d must not be negative", ErrInvalidConfig, c.BlockSize)
	case c.PLLSamplesPerSym < 1:
		return fmt.Errorf("%w: pll samples per symbol %d must be positive", ErrInvalidConfig, c.PLLSamplesPerSym)
	case c.DampingFactor <= 0 || c.Bandwidth <= 0:
		return fmt.Errorf("%w: damping %.3g and bandwidth %.3g must be positive", ErrInvalidConfig, c.DampingFactor, c.Bandwidth)
	}
	return nil
}

// CoarsePLL is a decision directed PLL driven by the known scrambled
// pilots. The phase error compares the symbol with the one two positions
// earlier, which makes it a frequency detector.
type CoarsePLL struct {
	sps       int
	frameSize int
	blockSize int
	pilots    []complex64

	kp, ki   float64
	loopVal  float64 // integrator of the loop filter
	integ    float64 // frequency integrator
	ddsPrev  float64
	estFreq  float64
	idx      int
	active   bool
	prev     complex64
	prevPrev complex64

	rot *dsp.Rotator
}

// NewCoarsePLL builds the loop. Updates start enabled.
func NewCoarsePLL(cfg CoarseConfig) (*CoarsePLL, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	block := cfg.BlockSize
	if block == 0 {
		block = cfg.FrameSize * cfg.SamplesPerSymbol
	}
	c := &CoarsePLL{
		sps:       cfg.SamplesPerSymbol,
		frameSize: cfg.FrameSize,
		blockSize: block,
		pilots:    dvbs2.ScrambledPilots(cfg.FrameSize),
		active:    true,
		rot:       dsp.NewRotator(0),
	}
	c.kp, c.ki = pllGains(cfg.PLLSamplesPerSym, cfg.DampingFactor, cfg.Bandwidth)
	c.Reset()
	return c, nil
}

// SetLoopParams redesigns the loop gains, keeping the state.
func (c *CoarsePLL) SetLoopParams(pllSPS int, zeta, bn float64) error {
	if pllSPS < 1 || zeta <= 0 || bn <= 0 {
		return fmt.Errorf("%w: pll sps %d, damping %.3g, bandwidth %.3g", ErrInvalidConfig, pllSPS, zeta, bn)
	}
	c.kp, c.ki = pllGains(pllSPS, zeta, bn)
	return nil
}

// Step rotates one sample by the current estimate.
func (c *CoarsePLL) Step(x complex64) complex64 { return c.rot.Step(x) }

// Synchronize rotates a block.
func (c *CoarsePLL) Synchronize(in, out []complex64) error {
	if len(in) != c.blockSize || len(out) != len(in) {
		return fmt.Errorf("%w: got %d/%d samples, want %d", ErrLength, len(in), len(out), c.blockSize)
	}
	c.rot.Rotate(in, out)
	return nil
}

// UpdatePhase runs one loop iteration when the current index is inside a
// pilot block.
func (c *CoarsePLL) UpdatePhase(symbol complex64) {
	rem := c.idx % dvbs2.PilotPeriod
	inPilots := c.idx >= dvbs2.FirstPilot
	switch {
	case inPilots && rem >= dvbs2.PilotZoneStart && rem < dvbs2.PilotZoneEnd:
		if c.active {
			pp := (c.idx - 2 + c.frameSize) % c.frameSize
			cur := complex128(symbol) * complex128(c.pilots[pp])
			old := complex128(c.prevPrev) * complex128(c.pilots[c.idx])
			pe := imag(cur * complex(real(old), -imag(old)))

			c.loopVal += pe * c.ki
			c.integ += c.ddsPrev
			c.ddsPrev = pe*c.kp + c.loopVal
			c.estFreq = c.integ / float64(c.sps)
			c.rot.SetNu(-c.estFreq)
		}
		c.prevPrev = c.prev
		c.prev = symbol
	case inPilots && rem == dvbs2.PilotZoneEnd:
		c.prev = 0
		c.prevPrev = 0
	}
	c.idx = (c.idx + 1) % c.frameSize
}

// SetCurrentIndex sets the frame position of the next UpdatePhase symbol.
func (c *CoarsePLL) SetCurrentIndex(idx int) {
	c.idx = ((idx % c.frameSize) + c.frameSize) % c.frameSize
}

// CurrentIndex returns the frame position of the next UpdatePhase symbol.
func (c *CoarsePLL) CurrentIndex() int { return c.idx }

// EnableUpdate lets pilots drive the loop.
func (c *CoarsePLL) EnableUpdate() { c.active = true }

// DisableUpdate freezes the frequency estimate.
func (c *CoarsePLL) DisableUpdate() { c.active = false }

// IsActive reports whether pilots update the loop.
func (c *CoarsePLL) IsActive() bool { return c.active }

// EstimatedFreq returns the offset estimate in cycles per sample.
func (c *CoarsePLL) EstimatedFreq() float64 { return c.estFreq }

// SetEstimatedFreq forces the estimate, for warm starts.
func (c *CoarsePLL) SetEstimatedFreq(nu float64) {
	c.estFreq = nu
	c.integ = nu * float64(c.sps)
	c.rot.SetNu(-nu)
}

// EstimatedPhase returns the running correction phase in radians.
func (c *CoarsePLL) EstimatedPhase() float64 { return c.rot.Phase() }

// Reset zeroes the loop, the estimate, the pilot history and the rotator.
// The update gate is kept.
func (c *CoarsePLL) Reset() {
	c.loopVal = 0
	c.integ = 0
	c.ddsPrev = 0
	c.estFreq = 0
	c.prev = 0
	c.prevPrev = 0
	c.idx = c.frameSize - 1
	c.rot.Reset()
	c.rot.SetNu(0)
}

// CoarseOracle removes a known frequency offset. It is a test double for
// CoarsePLL.
type CoarseOracle struct {
	nu        float64
	blockSize int
	frameSize int
	idx       int
	active    bool
	rot       *dsp.Rotator
}

// NewCoarseOracle removes nu cycles per sample.
func NewCoarseOracle(frameSize, blockSize int, nu float64) (*CoarseOracle, error) {
	if frameSize < 1 || blockSize < 1 {
		return nil, fmt.Errorf("%w: frame size %d, block size %d", ErrInvalidConfig, frameSize, blockSize)
	}
	return &CoarseOracle{nu: nu, frameSize: frameSize, blockSize: blockSize, rot: dsp.NewRotator(-nu), active: true}, nil
}

func (c *CoarseOracle) Step(x complex64) complex64 { return c.rot.Step(x) }

func (c *CoarseOracle) Synchronize(in, out []complex64) error {
	if len(in) != c.blockSize || len(out) != len(in) {
		return fmt.Errorf("%w: got %d/%d samples, want %d", ErrLength, len(in), len(out), c.blockSize)
	}
	c.rot.Rotate(in, out)
	return nil
}

func (c *CoarseOracle) UpdatePhase(complex64) { c.idx = (c.idx + 1) % c.frameSize }
func (c *CoarseOracle) SetCurrentIndex(idx int) { c.idx = ((idx % c.frameSize) + c.frameSize) % c.frameSize }
func (c *CoarseOracle) CurrentIndex() int { return c.idx }
func (c *CoarseOracle) EnableUpdate() { c.active = true }
func (c *CoarseOracle) DisableUpdate() { c.active = false }
func (c *CoarseOracle) IsActive() bool { return c.active }
func (c *CoarseOracle) EstimatedFreq() float64 { return c.nu }
func (c *CoarseOracle) EstimatedPhase() float64 { return c.rot.Phase() }
func (c *CoarseOracle) Reset() { c.rot.Reset(); c.idx = 0 }
