package sdr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotInitialized is returned by RX and TX before a successful Init.
var ErrNotInitialized = errors.New("sdr: not initialized")

// Config carries parameters required to initialize an SDR backend. The
// channel impairments only apply to the loopback mock.
type Config struct {
	SampleRate float64 // Hz
	CenterFreq float64 // Hz
	NumSamples int     // samples returned per RX call
	URI        string

	CarrierOffset float64 // Hz
	TimingOffset  float64 // samples, fractional allowed
	ClockDrift    float64 // relative sample clock error, e.g. 1e-5
	NoiseStd      float64 // AWGN standard deviation per component
	Seed          int64

	// MaxQueue bounds the samples buffered between TX and RX; TX blocks
	// while the queue is full. 0 means 16 RX buffers.
	MaxQueue int
	// RXTimeout is how long RX waits for a full buffer before zero
	// filling the rest. 0 never waits.
	RXTimeout time.Duration
}

// Validate fills defaults and checks ranges.
func (c *Config) Validate() error {
	if c.SampleRate == 0 {
		c.SampleRate = 2e6
	}
	if c.NumSamples == 0 {
		c.NumSamples = 4096
	}
	if c.MaxQueue == 0 {
		c.MaxQueue = 16 * c.NumSamples
	}
	switch {
	case c.SampleRate < 0:
		return fmt.Errorf("sdr: sample rate %.0f must be positive", c.SampleRate)
	case c.NumSamples < 0:
		return fmt.Errorf("sdr: buffer size %d must be positive", c.NumSamples)
	case c.MaxQueue < c.NumSamples:
		return fmt.Errorf("sdr: queue of %d samples cannot hold one %d sample buffer", c.MaxQueue, c.NumSamples)
	case c.TimingOffset < 0:
		return fmt.Errorf("sdr: timing offset %.3f must not be negative", c.TimingOffset)
	case c.ClockDrift <= -0.5 || c.ClockDrift >= 0.5:
		return fmt.Errorf("sdr: clock drift %.3g outside (-0.5, 0.5)", c.ClockDrift)
	case c.NoiseStd < 0:
		return fmt.Errorf("sdr: noise std %.3g must not be negative", c.NoiseStd)
	case c.RXTimeout < 0:
		return fmt.Errorf("sdr: rx timeout %s must not be negative", c.RXTimeout)
	}
	return nil
}

// SDR captures the single channel radio operations used by the modem.
type SDR interface {
	Init(ctx context.Context, cfg Config) error
	RX(ctx context.Context) ([]complex64, error)
	TX(ctx context.Context, iq []complex64) error
	Close() error
}
