package app

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/logging"
	"github.com/rjboer/GoDVBS2/internal/sdr"
)

func quietLogger() logging.Logger { return logging.New(logging.Error, logging.Text, io.Discard) }

func TestTransmitterWaveformMatchesFrame(t *testing.T) {
	cfg := TransmitterConfig{Seed: 11}
	tx, err := NewTransmitter(nil, quietLogger(), cfg)
	require.NoError(t, err)

	// Reference frames from an identically seeded generator.
	m, err := dvbs2.ParseModCod(dvbs2.DefaultModCod)
	require.NoError(t, err)
	framer := dvbs2.NewFramer(m)
	modem, err := dvbs2.NewModem(m)
	require.NoError(t, err)
	ref, err := NewTransmitter(nil, quietLogger(), cfg)
	require.NoError(t, err)

	const osf, span = 4, 12
	mf := dsp.NewFIR(dsp.RRCTaps(0.2, osf, span))
	delay := 2 * span * osf

	var wave []complex64
	var frames []complex64
	for i := 0; i < 2; i++ {
		payload, w, err := tx.NextFrame()
		require.NoError(t, err)
		require.Len(t, w, framer.Geometry().FrameSize*osf)
		wave = append(wave, w...)

		want, _, err := ref.NextFrame()
		require.NoError(t, err)
		require.Equal(t, want, payload, "same seed yields the same payload")
		frame, err := framer.Build(payload)
		require.NoError(t, err)
		frames = append(frames, frame...)
	}

	filtered := make([]complex64, len(wave))
	mf.Filter(wave, filtered)
	var got, want []complex64
	for k := 0; k*osf+delay < len(filtered); k++ {
		got = append(got, filtered[k*osf+delay])
		want = append(want, frames[k])
	}
	if errs := modem.SymbolErrors(got, want); errs != 0 {
		t.Fatalf("matched filter output has %d symbol errors", errs)
	}
	mid := got[len(got)/2]
	assert.InDelta(t, 1.0, float64(real(mid)*real(mid)+imag(mid)*imag(mid)), 0.1)
}

type failingSDR struct {
	sdr.MockSDR
}

func (f *failingSDR) TX(context.Context, []complex64) error { return errors.New("device gone") }

func TestTransmitterRun(t *testing.T) {
	backend := sdr.NewMock()
	require.NoError(t, backend.Init(context.Background(), sdr.Config{NumSamples: 1024, MaxQueue: 1 << 20}))
	defer backend.Close()

	tx, err := NewTransmitter(backend, quietLogger(), TransmitterConfig{Frames: 3})
	require.NoError(t, err)
	require.NoError(t, tx.Run(context.Background()))
	assert.Equal(t, 3, tx.Sent())
	assert.Equal(t, 3*tx.Geometry().FrameSize*4, backend.Pending())

	bad, err := NewTransmitter(&failingSDR{}, quietLogger(), TransmitterConfig{Frames: 1})
	require.NoError(t, err)
	err = bad.Run(context.Background())
	assert.ErrorContains(t, err, "transmit frame 0")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	idle, err := NewTransmitter(backend, quietLogger(), TransmitterConfig{})
	require.NoError(t, err)
	assert.ErrorIs(t, idle.Run(ctx), context.Canceled)

	orphan, err := NewTransmitter(nil, quietLogger(), TransmitterConfig{})
	require.NoError(t, err)
	assert.Error(t, orphan.Run(context.Background()))
}
