package synchronizer

import (
	"errors"
	"fmt"
)

// SampleFilter is a streaming per sample filter such as the matched filter.
type SampleFilter interface {
	Step(x complex64) complex64
	Reset()
}

// StepResult carries the side outputs of one Step call.
type StepResult struct {
	Mu        float64 // fractional timing offset of the last strobe
	Freq      float64 // coarse frequency estimate, cycles per sample
	Phase     float64 // coarse correction phase, radians
	Strobes   int     // symbols strobed during the call
	Shortfall int     // zero padded output symbols
}

// Step fuses the coarse frequency loop, the matched filter and the timing
// loop. Every input sample runs through all three before the next one, and
// each strobed symbol is fed back to the coarse loop immediately.
type Step struct {
	coarse Coarse
	mf     SampleFilter
	timing Timing
}

// NewStep chains the three stages. The timing stage's output size is the
// PL frame length.
func NewStep(coarse Coarse, mf SampleFilter, timing Timing) (*Step, error) {
	if coarse == nil || mf == nil || timing == nil {
		return nil, fmt.Errorf("%w: step needs coarse, matched filter and timing stages", ErrInvalidConfig)
	}
	return &Step{coarse: coarse, mf: mf, timing: timing}, nil
}

// InputSize returns the samples consumed per call.
func (s *Step) InputSize() int { return s.timing.InputSize() }

// OutputSize returns the symbols produced per call.
func (s *Step) OutputSize() int { return s.timing.OutputSize() }

// Coarse returns the coarse frequency stage.
func (s *Step) Coarse() Coarse { return s.coarse }

// Timing returns the timing stage.
func (s *Step) Timing() Timing { return s.timing }

// Synchronize processes one block. frameDelay is the frame start reported
// by the frame synchronizer for the previous output block; it positions the
// coarse loop on the pilot grid. ErrAborted is returned, with a zero padded
// out, when the timing stage could not fill the block.
func (s *Step) Synchronize(frameDelay int, in, out []complex64) (StepResult, error) {
	if len(in) != s.InputSize() || len(out) != s.OutputSize() {
		return StepResult{}, fmt.Errorf("%w: got %d samples and %d symbols, want %d and %d",
			ErrLength, len(in), len(out), s.InputSize(), s.OutputSize())
	}
	l := s.OutputSize()
	// Symbols strobed from now on land after the ones already buffered.
	s.coarse.SetCurrentIndex(((s.timing.Delay()-frameDelay)%l + l) % l)

	strobes := 0
	for _, x := range in {
		y := s.mf.Step(s.coarse.Step(x))
		if _, strobe := s.timing.Step(y); strobe {
			s.coarse.UpdatePhase(s.timing.LastSymbol())
			strobes++
		}
	}

	shortfall, err := s.timing.Extract(out)
	res := StepResult{
		Mu:        s.timing.Mu(),
		Freq:      s.coarse.EstimatedFreq(),
		Phase:     s.coarse.EstimatedPhase(),
		Strobes:   strobes,
		Shortfall: shortfall,
	}
	if err != nil && !errors.Is(err, ErrAborted) {
		return res, fmt.Errorf("extract symbols: %w", err)
	}
	return res, err
}

// Reset resets all three stages.
func (s *Step) Reset() {
	s.coarse.Reset()
	s.mf.Reset()
	s.timing.Reset()
}
