package sdr

import (
	"context"
	"math"
	"math/cmplx"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func tone(freq float64, start, n int) []complex64 {
	out := make([]complex64, n)
	for i := range out {
		out[i] = complex64(cmplx.Exp(complex(0, 2*math.Pi*freq*float64(start+i))))
	}
	return out
}

func newMock(t *testing.T, cfg Config) *MockSDR {
	t.Helper()
	m := NewMock()
	if err := m.Init(context.Background(), cfg); err != nil {
		t.Fatalf("init failed: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func receive(t *testing.T, m *MockSDR, buffers int) []complex64 {
	t.Helper()
	var out []complex64
	for i := 0; i < buffers; i++ {
		rx, err := m.RX(context.Background())
		if err != nil {
			t.Fatalf("rx failed: %v", err)
		}
		out = append(out, rx...)
	}
	return out
}

func TestMockLoopbackDelaysSignal(t *testing.T) {
	const freq = 0.01
	m := newMock(t, Config{SampleRate: 1e6, NumSamples: 256, TimingOffset: 3.25})
	require.NoError(t, m.TX(context.Background(), tone(freq, 0, 1024)))

	rx := receive(t, m, 4)
	delay := m.Latency()
	assert.InDelta(t, 19.25, delay, 1e-12)
	for n := 64; n < 1000; n++ {
		want := cmplx.Exp(complex(0, 2*math.Pi*freq*(float64(n)-delay)))
		if d := cmplx.Abs(complex128(rx[n]) - want); d > 5e-3 {
			t.Fatalf("sample %d: got %v want %v (err %.2g)", n, rx[n], want, d)
		}
	}
}

func TestMockCarrierOffset(t *testing.T) {
	m := newMock(t, Config{SampleRate: 1e6, NumSamples: 512, CarrierOffset: 1000})
	ctx := context.Background()
	ones := make([]complex64, 512)
	for i := range ones {
		ones[i] = 1
	}

	check := func(rx []complex64, nu float64) {
		t.Helper()
		for n := 40; n < len(rx)-1; n++ {
			step := cmplx.Phase(complex128(rx[n+1]) * cmplx.Conj(complex128(rx[n])))
			if math.Abs(step-2*math.Pi*nu) > 1e-4 {
				t.Fatalf("sample %d: phase step %.6f want %.6f", n, step, 2*math.Pi*nu)
			}
		}
	}

	require.NoError(t, m.TX(ctx, ones))
	check(receive(t, m, 1), 1e-3)

	m.SetCarrierOffset(-2000)
	assert.Equal(t, -2000.0, m.CarrierOffset())
	require.NoError(t, m.TX(ctx, ones))
	check(receive(t, m, 1), -2e-3)
}

func TestMockEmptyQueueYieldsZeros(t *testing.T) {
	m := newMock(t, Config{NumSamples: 128})
	rx := receive(t, m, 1)
	require.Len(t, rx, 128)
	for i, v := range rx {
		if v != 0 {
			t.Fatalf("sample %d: expected zero, got %v", i, v)
		}
	}
	assert.Equal(t, 1, m.Underruns())
}

func TestMockRXWaitsForTX(t *testing.T) {
	m := newMock(t, Config{NumSamples: 64, RXTimeout: 5 * time.Second})
	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = m.TX(context.Background(), tone(0.05, 0, 128))
	}()
	rx := receive(t, m, 1)
	assert.NotZero(t, rx[len(rx)-1])
	assert.Equal(t, 0, m.Underruns())
}

func TestMockClockDrift(t *testing.T) {
	const n = 100_000
	m := newMock(t, Config{NumSamples: 1024, MaxQueue: 2 * n, ClockDrift: 1e-3})
	in := tone(0.01, 0, n)
	for off := 0; off < n; off += 10_000 {
		require.NoError(t, m.TX(context.Background(), in[off:off+10_000]))
	}
	want := float64(n-1) * (1 + 1e-3)
	if got := float64(m.Pending()); math.Abs(got-want) > 2 {
		t.Fatalf("expected about %.0f resampled samples, got %.0f", want, got)
	}
}

func TestMockNoiseIsSeeded(t *testing.T) {
	cfg := Config{NumSamples: 8192, NoiseStd: 0.1, Seed: 7}
	m := newMock(t, cfg)
	first := receive(t, m, 1)

	re := make([]float64, len(first))
	im := make([]float64, len(first))
	for i, v := range first {
		re[i], im[i] = float64(real(v)), float64(imag(v))
	}
	assert.InEpsilon(t, 0.01, stat.Variance(re, nil), 0.1)
	assert.InEpsilon(t, 0.01, stat.Variance(im, nil), 0.1)

	require.NoError(t, m.Init(context.Background(), cfg))
	assert.Equal(t, first, receive(t, m, 1))
}

func TestMockTXBlocksWhileQueueIsFull(t *testing.T) {
	m := newMock(t, Config{NumSamples: 100, MaxQueue: 200})
	ctx := context.Background()
	require.NoError(t, m.TX(ctx, make([]complex64, 200)))

	done := make(chan error, 1)
	go func() { done <- m.TX(ctx, make([]complex64, 100)) }()
	select {
	case err := <-done:
		t.Fatalf("tx returned early: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	receive(t, m, 1)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("tx still blocked after rx drained the queue")
	}
	assert.Equal(t, 200, m.Pending())
}

func TestMockClose(t *testing.T) {
	m := newMock(t, Config{NumSamples: 64, RXTimeout: 10 * time.Second})
	done := make(chan error, 1)
	go func() {
		_, err := m.RX(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, m.Close())
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("rx not woken by close")
	}
	assert.ErrorIs(t, m.TX(context.Background(), []complex64{1}), ErrNotInitialized)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMock().RX(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2e6, cfg.SampleRate)
	assert.Equal(t, 4096, cfg.NumSamples)
	assert.Equal(t, 16*4096, cfg.MaxQueue)

	bad := []Config{
		{SampleRate: -1},
		{NumSamples: -5},
		{NumSamples: 100, MaxQueue: 50},
		{TimingOffset: -0.5},
		{ClockDrift: 0.5},
		{NoiseStd: -1},
		{RXTimeout: -time.Second},
	}
	for i, c := range bad {
		if err := c.Validate(); err == nil {
			t.Fatalf("case %d: expected error for %+v", i, c)
		}
	}
}
