package sdr

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjboer/GoDVBS2/internal/dsp"
)

// ErrClosed is returned by calls blocked in or issued after Close.
var ErrClosed = errors.New("sdr: closed")

const channelTaps = 33

// MockSDR is a loopback channel: samples passed to TX come back from RX
// after a fractional delay, an optional sample clock drift, a carrier
// frequency offset and additive white Gaussian noise.
type MockSDR struct {
	mu    sync.Mutex
	cfg   Config
	ready bool
	done  chan struct{}

	delay *dsp.FIR
	rot   *dsp.Rotator
	rng   *rand.Rand

	// resampler state, input samples not yet consumed and the read position
	pending []complex64
	pos     float64

	queue   []complex64
	filled  chan struct{}
	drained chan struct{}

	underruns atomic.Uint64
}

func NewMock() *MockSDR { return &MockSDR{} }

// Init validates cfg and resets the channel.
func (m *MockSDR) Init(_ context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	whole, frac := math.Modf(cfg.TimingOffset)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.done != nil && m.ready {
		close(m.done)
	}
	m.cfg = cfg
	m.delay = dsp.NewFIR(dsp.FractionalDelayTaps(frac, channelTaps))
	m.rot = dsp.NewRotator(cfg.CarrierOffset / cfg.SampleRate)
	m.rng = rand.New(rand.NewSource(cfg.Seed))
	m.pending = m.pending[:0]
	m.pos = 0
	m.queue = make([]complex64, int(whole), cfg.MaxQueue)
	m.filled = make(chan struct{})
	m.drained = make(chan struct{})
	m.done = make(chan struct{})
	m.ready = true
	m.underruns.Store(0)
	return nil
}

// Close wakes blocked callers and disables the channel.
func (m *MockSDR) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ready {
		m.ready = false
		close(m.done)
	}
	return nil
}

// SetCarrierOffset changes the carrier offset in Hz without a phase jump.
func (m *MockSDR) SetCarrierOffset(hz float64) {
	m.mu.Lock()
	m.cfg.CarrierOffset = hz
	if m.rot != nil {
		m.rot.SetNu(hz / m.cfg.SampleRate)
	}
	m.mu.Unlock()
}

// CarrierOffset returns the current carrier offset in Hz.
func (m *MockSDR) CarrierOffset() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.CarrierOffset
}

// Latency returns the delay in samples between a TX sample and its copy
// in the RX stream, ignoring drift.
func (m *MockSDR) Latency() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(channelTaps-1)/2 + m.cfg.TimingOffset
}

// Underruns returns how many RX buffers were zero filled.
func (m *MockSDR) Underruns() int { return int(m.underruns.Load()) }

// Pending returns the number of queued samples.
func (m *MockSDR) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// TX passes iq through the channel and queues it for RX. It blocks while
// the queue would overflow and RX has a full buffer to take.
func (m *MockSDR) TX(ctx context.Context, iq []complex64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return ErrNotInitialized
	}
	out := make([]complex64, len(iq))
	m.delay.Filter(iq, out)
	out = m.resample(out)

	for len(m.queue) >= m.cfg.NumSamples && len(m.queue)+len(out) > m.cfg.MaxQueue {
		drained, done := m.drained, m.done
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return ErrClosed
		case <-drained:
		}
		m.mu.Lock()
		if !m.ready {
			m.mu.Unlock()
			return ErrClosed
		}
	}
	m.queue = append(m.queue, out...)
	close(m.filled)
	m.filled = make(chan struct{})
	m.mu.Unlock()
	return nil
}

// resample applies the clock drift by linear interpolation. It must be
// called with the lock held.
func (m *MockSDR) resample(in []complex64) []complex64 {
	if m.cfg.ClockDrift == 0 {
		return in
	}
	step := 1 / (1 + m.cfg.ClockDrift)
	m.pending = append(m.pending, in...)
	out := make([]complex64, 0, int(float64(len(in))/step)+1)
	for m.pos+1 < float64(len(m.pending)) {
		i := int(m.pos)
		f := float32(m.pos - float64(i))
		a, b := m.pending[i], m.pending[i+1]
		out = append(out, a+complex(f, 0)*(b-a))
		m.pos += step
	}
	used := int(m.pos)
	m.pending = append(m.pending[:0], m.pending[used:]...)
	m.pos -= float64(used)
	return out
}

// RX returns NumSamples samples. Missing samples are zeros once the queue
// stays short for RXTimeout.
func (m *MockSDR) RX(ctx context.Context) ([]complex64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	if !m.ready {
		m.mu.Unlock()
		return nil, ErrNotInitialized
	}
	n := m.cfg.NumSamples

	timedOut := m.cfg.RXTimeout == 0
	var timeout <-chan time.Time
	if !timedOut {
		timer := time.NewTimer(m.cfg.RXTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	for len(m.queue) < n && !timedOut {
		filled, done := m.filled, m.done
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-done:
			return nil, ErrClosed
		case <-timeout:
			timedOut = true
		case <-filled:
		}
		m.mu.Lock()
		if !m.ready {
			m.mu.Unlock()
			return nil, ErrClosed
		}
	}

	out := make([]complex64, n)
	k := copy(out, m.queue)
	m.queue = append(m.queue[:0], m.queue[k:]...)
	if k < n {
		m.underruns.Add(1)
	}
	m.rot.Rotate(out, out)
	if std := m.cfg.NoiseStd; std > 0 {
		for i := range out {
			out[i] += complex(float32(m.rng.NormFloat64()*std), float32(m.rng.NormFloat64()*std))
		}
	}
	close(m.drained)
	m.drained = make(chan struct{})
	m.mu.Unlock()
	return out, nil
}

var _ SDR = (*MockSDR)(nil)
