package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/sdr"
	"github.com/rjboer/GoDVBS2/internal/telemetry"
)

type recordingReporter struct {
	samples []telemetry.Sample
}

func (r *recordingReporter) Report(s telemetry.Sample) {
	r.samples = append(r.samples, s)
}

type recordingSink struct {
	updates int
	bins    int
}

func (s *recordingSink) SpectrumSize() int { return 256 }

func (s *recordingSink) UpdateSpectrumSnapshot(bins []float64, source string) {
	s.updates++
	s.bins = len(bins)
}

func TestReceiverLocksOnLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("loopback acquisition is slow")
	}
	const seed = 5
	m, err := dvbs2.ParseModCod(dvbs2.DefaultModCod)
	require.NoError(t, err)
	frameSamples := m.Geometry().FrameSize * dvbs2.DefaultOSF

	backend := sdr.NewMock()
	reporter := &recordingReporter{}
	sink := &recordingSink{}
	cfg := Config{
		Radio: sdr.Config{
			SampleRate:    2e6,
			NumSamples:    8192,
			CarrierOffset: 500, // 1e-3 cycles per symbol
			TimingOffset:  3.3,
			NoiseStd:      0.005,
			Seed:          1,
			MaxQueue:      4 * frameSamples,
			RXTimeout:     5 * time.Second,
		},
		CoarseBandwidth1: 1e-3,
		CoarseBandwidth2: 5e-4,
		WaitFrames:       40,
		LearnFrames1:     8,
		LearnFrames2:     4,
		LearnFrames3:     3,
		Frames:           6,
		SpectrumEvery:    5,
	}
	rx := NewReceiver(backend, reporter, quietLogger(), cfg)
	rx.SetSpectrumSink(sink)

	type received struct {
		index int
		data  []complex64
	}
	var frames []received
	rx.OnFrame(func(index int, data []complex64) {
		frames = append(frames, received{index, append([]complex64(nil), data...)})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	require.NoError(t, rx.Init(ctx))
	defer backend.Close()

	tx, err := NewTransmitter(backend, quietLogger(), TransmitterConfig{Seed: seed})
	require.NoError(t, err)
	txCtx, stopTX := context.WithCancel(ctx)
	txDone := make(chan error, 1)
	go func() { txDone <- tx.Run(txCtx) }()

	runErr := rx.Run(ctx)
	stopTX()
	require.NoError(t, runErr)
	assert.ErrorIs(t, <-txDone, context.Canceled)

	require.NotEmpty(t, reporter.samples)
	last := reporter.samples[len(reporter.samples)-1]
	assert.Equal(t, int(PhaseTracking), last.Phase)
	assert.True(t, last.Detected)
	assert.Zero(t, last.PilotSER)
	assert.Equal(t, telemetry.LockStateLocked, last.LockState)
	assert.Equal(t, telemetry.LockStateLocked, rx.LockState())
	assert.Equal(t, rx.RunID(), last.RunID)
	assert.Equal(t, dvbs2.DefaultModCod, rx.ModCod())
	assert.Equal(t, dvbs2.DefaultModCod, last.ModCod)
	assert.InDelta(t, 2.5e-4, last.CoarseFreq, 2.5e-5, "coarse loop settles on the carrier offset per sample")

	phases := map[int]bool{}
	for _, s := range reporter.samples {
		phases[s.Phase] = true
	}
	for p := PhaseWaiting; p <= PhaseTracking; p++ {
		assert.True(t, phases[int(p)], "no telemetry for phase %s", p)
	}
	assert.NotZero(t, sink.updates)
	assert.Equal(t, 256, sink.bins)

	// Tracked frames carry the transmitted payloads in order.
	ref, err := NewTransmitter(nil, quietLogger(), TransmitterConfig{Seed: seed})
	require.NoError(t, err)
	modem := dvbs2.NewQPSK()
	var payloads [][]complex64
	for i := 0; i < 80; i++ {
		p, _, err := ref.NextFrame()
		require.NoError(t, err)
		payloads = append(payloads, p)
	}
	match := func(data []complex64) int {
		for j, p := range payloads {
			if modem.SymbolErrors(data, p) == 0 {
				return j
			}
		}
		return -1
	}

	require.GreaterOrEqual(t, len(frames), cfg.Frames)
	tracked := frames[len(frames)-4:]
	prev := -1
	for _, f := range tracked {
		j := match(f.data)
		if j < 0 {
			t.Fatalf("frame %d does not match any transmitted payload", f.index)
		}
		if prev >= 0 && j != prev+1 {
			t.Fatalf("frame %d carries payload %d after payload %d", f.index, j, prev)
		}
		prev = j
	}
}

func TestReceiverAcquisitionFails(t *testing.T) {
	backend := sdr.NewMock()
	reporter := &recordingReporter{}
	cfg := Config{
		Radio:              sdr.Config{NumSamples: 8192, RXTimeout: time.Millisecond},
		WaitFrames:         3,
		MaxAcquireAttempts: 2,
		RetryInterval:      time.Millisecond,
	}
	rx := NewReceiver(backend, reporter, quietLogger(), cfg)
	ctx := context.Background()
	require.NoError(t, rx.Init(ctx))
	defer backend.Close()

	err := rx.Run(ctx)
	require.ErrorIs(t, err, ErrAcquisitionFailed)
	assert.Len(t, reporter.samples, 6)
	for _, s := range reporter.samples {
		assert.Equal(t, int(PhaseWaiting), s.Phase)
		assert.False(t, s.Detected)
		assert.Equal(t, telemetry.LockStateSearching, s.LockState)
	}
}

func TestReceiverRunHonorsContext(t *testing.T) {
	backend := sdr.NewMock()
	rx := NewReceiver(backend, nil, quietLogger(), Config{Radio: sdr.Config{RXTimeout: time.Millisecond}})
	require.NoError(t, rx.Init(context.Background()))
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, rx.Run(ctx), context.Canceled)

	idle := NewReceiver(backend, nil, quietLogger(), Config{})
	assert.Error(t, idle.Run(context.Background()), "run before init")
}

type flakySDR struct {
	failures int
	calls    int
}

func (f *flakySDR) Init(context.Context, sdr.Config) error {
	f.calls++
	if f.calls <= f.failures {
		return errors.New("device busy")
	}
	return nil
}

func (f *flakySDR) RX(context.Context) ([]complex64, error) { return make([]complex64, 64), nil }
func (f *flakySDR) TX(context.Context, []complex64) error { return nil }
func (f *flakySDR) Close() error                           { return nil }

func TestReceiverInitRetries(t *testing.T) {
	ctx := context.Background()
	cfg := Config{InitRetries: 3, RetryInterval: time.Millisecond}

	ok := &flakySDR{failures: 2}
	require.NoError(t, NewReceiver(ok, nil, quietLogger(), cfg).Init(ctx))
	assert.Equal(t, 3, ok.calls)

	dead := &flakySDR{failures: 10}
	err := NewReceiver(dead, nil, quietLogger(), cfg).Init(ctx)
	require.Error(t, err)
	assert.ErrorContains(t, err, "init SDR")
	assert.Equal(t, 4, dead.calls)

	bad := NewReceiver(ok, nil, quietLogger(), Config{TimingKind: "mueller"})
	assert.Error(t, bad.Init(ctx))
	assert.Error(t, NewReceiver(nil, nil, quietLogger(), cfg).Init(ctx))
}
