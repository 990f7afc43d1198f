package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/logging"
	"github.com/rjboer/GoDVBS2/internal/sdr"
)

// Transmitter generates PL frames of random payload symbols, shapes them
// with a root raised cosine at the oversampling factor and sends them to
// the radio.
type Transmitter struct {
	sdr    sdr.SDR
	logger logging.Logger
	cfg    TransmitterConfig
	framer *dvbs2.Framer
	modem  *dvbs2.PSK
	shaper *dsp.FIR
	rng    *rand.Rand
	sent   int
}

// NewTransmitter validates cfg. backend may be nil when only NextFrame is
// used.
func NewTransmitter(backend sdr.SDR, logger logging.Logger, cfg TransmitterConfig) (*Transmitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("transmitter config: %w", err)
	}
	m, err := dvbs2.ParseModCod(cfg.ModCod)
	if err != nil {
		return nil, err
	}
	modem, err := dvbs2.NewModem(m)
	if err != nil {
		return nil, fmt.Errorf("transmitter modem: %w", err)
	}
	return &Transmitter{
		sdr:    backend,
		logger: logging.OrDefault(logger).With(logging.F("subsystem", "transmitter")),
		cfg:    cfg,
		framer: dvbs2.NewFramer(m),
		modem:  modem,
		shaper: dsp.NewFIR(dsp.RRCTaps(cfg.Rolloff, cfg.OSF, cfg.FilterSpan)),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}, nil
}

// Geometry returns the PL frame layout.
func (t *Transmitter) Geometry() dvbs2.Geometry { return t.framer.Geometry() }

// Sent returns the number of frames handed to the radio.
func (t *Transmitter) Sent() int { return t.sent }

// NextFrame draws a random payload and returns it together with the shaped
// waveform of its PL frame. The shaping filter state carries over between
// frames.
func (t *Transmitter) NextFrame() (payload, waveform []complex64, err error) {
	g := t.framer.Geometry()
	bits := make([]uint8, g.DataSymbols*t.modem.BitsPerSymbol())
	for i := range bits {
		bits[i] = uint8(t.rng.Intn(2))
	}
	payload = make([]complex64, g.DataSymbols)
	if err := t.modem.Modulate(bits, payload); err != nil {
		return nil, nil, err
	}
	frame, err := t.framer.Build(payload)
	if err != nil {
		return nil, nil, err
	}

	osf := t.cfg.OSF
	waveform = make([]complex64, len(frame)*osf)
	for k, s := range frame {
		waveform[k*osf] = t.shaper.Step(s)
		for i := 1; i < osf; i++ {
			waveform[k*osf+i] = t.shaper.Step(0)
		}
	}
	return payload, waveform, nil
}

// Run transmits frames until cfg.Frames is reached or ctx is canceled.
func (t *Transmitter) Run(ctx context.Context) error {
	if t.sdr == nil {
		return errors.New("transmitter has no radio")
	}
	for t.cfg.Frames == 0 || t.sent < t.cfg.Frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, waveform, err := t.NextFrame()
		if err != nil {
			return fmt.Errorf("build frame %d: %w", t.sent, err)
		}
		if err := t.sdr.TX(ctx, waveform); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("transmit frame %d: %w", t.sent, err)
		}
		t.sent++
		t.logger.Debug("frame sent", logging.F("frame", t.sent), logging.F("samples", len(waveform)))
	}
	return nil
}
