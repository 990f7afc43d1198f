package dsp

import "github.com/rjboer/GoDVBS2/internal/ring"

// VariableDelay is a circular delay line whose delay can change between
// samples. Delays are clamped to [0, MaxDelay].
type VariableDelay struct {
	line  *ring.Ring[complex64]
	delay int
}

// NewVariableDelay builds a delay line able to delay up to maxDelay samples.
func NewVariableDelay(maxDelay int) *VariableDelay {
	if maxDelay < 0 {
		maxDelay = 0
	}
	d := &VariableDelay{line: ring.New[complex64](maxDelay + 1)}
	d.line.Fill(0)
	return d
}

// MaxDelay returns the largest supported delay.
func (d *VariableDelay) MaxDelay() int { return d.line.Cap() - 1 }

// SetDelay changes the delay, clamping it to the supported range.
func (d *VariableDelay) SetDelay(delay int) {
	if delay < 0 {
		delay = 0
	}
	if delay > d.MaxDelay() {
		delay = d.MaxDelay()
	}
	d.delay = delay
}

// Delay returns the current delay in samples.
func (d *VariableDelay) Delay() int { return d.delay }

// Step pushes x and returns the sample delayed by Delay().
func (d *VariableDelay) Step(x complex64) complex64 {
	d.line.Shift(x)
	return d.line.Back(d.delay)
}

// Filter runs Step over in and writes the result to out.
func (d *VariableDelay) Filter(in, out []complex64) {
	for i, x := range in {
		out[i] = d.Step(x)
	}
}

// Reset zeroes the line and sets the delay back to 0.
func (d *VariableDelay) Reset() {
	d.line.Fill(0)
	d.delay = 0
}
