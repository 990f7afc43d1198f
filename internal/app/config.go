package app

import (
	"fmt"
	"math"
	"time"

	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/sdr"
	"github.com/rjboer/GoDVBS2/internal/synchronizer"
)

// Config captures receiver level configuration. Zero values select the
// defaults of DefaultConfig.
type Config struct {
	ModCod     string
	OSF        int     // samples per symbol
	Rolloff    float64 // RRC rolloff of the matched filter
	FilterSpan int     // RRC half length in symbols

	Radio sdr.Config

	// Synchronizer kinds, see synchronizer.Parse*Kind.
	TimingKind string
	FrameKind  string
	CoarseKind string
	FineKinds  []string // applied in order
	Oracle     synchronizer.Oracle

	TimingBandwidth float64
	TimingHeadroom  int // zero symbols queued on timing resets
	// Coarse PLL bandwidths of learning phases 1 and 2.
	CoarseBandwidth1 float64
	CoarseBandwidth2 float64
	FrameAlpha       float64
	FrameTrigger     float64

	// WaitFrames bounds one waiting attempt; MaxAcquireAttempts bounds
	// the attempts.
	WaitFrames         int
	MaxAcquireAttempts int
	LearnFrames1       int
	LearnFrames2       int
	LearnFrames3       int
	// SkipAcquisition starts tracking straight away with the PLL frozen.
	SkipAcquisition bool

	// Frames stops Run after this many tracking frames; 0 runs until the
	// context is canceled.
	Frames int

	// Pilot symbol error rates that gate the locked state.
	LockSER float64
	DropSER float64

	InitRetries   int
	RetryInterval time.Duration
	// SpectrumEvery publishes a spectrum snapshot every n frames.
	SpectrumEvery int
}

// DefaultConfig returns the acquisition schedule of the reference receiver.
func DefaultConfig() Config {
	return Config{
		ModCod:             dvbs2.DefaultModCod,
		OSF:                dvbs2.DefaultOSF,
		Rolloff:            0.2,
		FilterSpan:         12,
		TimingKind:         "gardner",
		FrameKind:          "aib",
		CoarseKind:         "pilot",
		FineKinds:          []string{"lr", "pf"},
		TimingBandwidth:    5e-5,
		TimingHeadroom:     16,
		CoarseBandwidth1:   1e-4,
		CoarseBandwidth2:   5e-5,
		FrameAlpha:         0.9,
		FrameTrigger:       25,
		WaitFrames:         500,
		MaxAcquireAttempts: 3,
		LearnFrames1:       150,
		LearnFrames2:       150,
		LearnFrames3:       200,
		LockSER:            0.01,
		DropSER:            0.1,
		InitRetries:        3,
		RetryInterval:      200 * time.Millisecond,
		SpectrumEvery:      10,
	}
}

// Validate fills zero fields with defaults and checks the result.
func (c *Config) Validate() error {
	def := DefaultConfig()
	fillString(&c.ModCod, def.ModCod)
	fillInt(&c.OSF, def.OSF)
	fillFloat(&c.Rolloff, def.Rolloff)
	fillInt(&c.FilterSpan, def.FilterSpan)
	fillString(&c.TimingKind, def.TimingKind)
	fillString(&c.FrameKind, def.FrameKind)
	fillString(&c.CoarseKind, def.CoarseKind)
	if len(c.FineKinds) == 0 {
		c.FineKinds = def.FineKinds
	}
	fillFloat(&c.TimingBandwidth, def.TimingBandwidth)
	fillInt(&c.TimingHeadroom, def.TimingHeadroom)
	fillFloat(&c.CoarseBandwidth1, def.CoarseBandwidth1)
	fillFloat(&c.CoarseBandwidth2, def.CoarseBandwidth2)
	fillFloat(&c.FrameAlpha, def.FrameAlpha)
	fillFloat(&c.FrameTrigger, def.FrameTrigger)
	fillInt(&c.WaitFrames, def.WaitFrames)
	fillInt(&c.MaxAcquireAttempts, def.MaxAcquireAttempts)
	fillInt(&c.LearnFrames1, def.LearnFrames1)
	fillInt(&c.LearnFrames2, def.LearnFrames2)
	fillInt(&c.LearnFrames3, def.LearnFrames3)
	fillFloat(&c.LockSER, def.LockSER)
	fillFloat(&c.DropSER, def.DropSER)
	fillInt(&c.InitRetries, def.InitRetries)
	if c.RetryInterval == 0 {
		c.RetryInterval = def.RetryInterval
	}
	fillInt(&c.SpectrumEvery, def.SpectrumEvery)

	switch {
	case c.Rolloff <= 0 || c.Rolloff > 1:
		return fmt.Errorf("rolloff %.3g outside (0,1]", c.Rolloff)
	case c.FilterSpan < 1:
		return fmt.Errorf("filter span %d must be positive", c.FilterSpan)
	case c.CoarseBandwidth1 < 0 || c.CoarseBandwidth2 < 0:
		return fmt.Errorf("coarse bandwidths %.3g/%.3g must not be negative", c.CoarseBandwidth1, c.CoarseBandwidth2)
	case c.WaitFrames < 1 || c.MaxAcquireAttempts < 1:
		return fmt.Errorf("wait frames %d and acquisition attempts %d must be positive", c.WaitFrames, c.MaxAcquireAttempts)
	case c.LearnFrames1 < 0 || c.LearnFrames2 < 0 || c.LearnFrames3 < 0 || c.Frames < 0:
		return fmt.Errorf("frame counts must not be negative")
	case c.LockSER < 0 || c.DropSER < c.LockSER:
		return fmt.Errorf("lock SER %.3g and drop SER %.3g must satisfy 0 <= lock <= drop", c.LockSER, c.DropSER)
	case c.InitRetries < 0 || c.RetryInterval < 0:
		return fmt.Errorf("init retries %d and retry interval %s must not be negative", c.InitRetries, c.RetryInterval)
	}
	if _, err := dvbs2.ParseModCod(c.ModCod); err != nil {
		return err
	}
	return nil
}

func fillInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func fillFloat(v *float64, def float64) {
	if *v == 0 || math.IsNaN(*v) {
		*v = def
	}
}

func fillString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// TransmitterConfig configures the DVB-S2 waveform generator.
type TransmitterConfig struct {
	ModCod     string
	OSF        int
	Rolloff    float64
	FilterSpan int
	Seed       int64
	// Frames stops Run after this many frames; 0 runs until the context
	// is canceled.
	Frames int
}

// Validate fills zero fields with the receiver defaults.
func (c *TransmitterConfig) Validate() error {
	def := DefaultConfig()
	fillString(&c.ModCod, def.ModCod)
	fillInt(&c.OSF, def.OSF)
	fillFloat(&c.Rolloff, def.Rolloff)
	fillInt(&c.FilterSpan, def.FilterSpan)
	switch {
	case c.OSF < 1:
		return fmt.Errorf("oversampling factor %d must be positive", c.OSF)
	case c.Rolloff <= 0 || c.Rolloff > 1:
		return fmt.Errorf("rolloff %.3g outside (0,1]", c.Rolloff)
	case c.FilterSpan < 1:
		return fmt.Errorf("filter span %d must be positive", c.FilterSpan)
	case c.Frames < 0:
		return fmt.Errorf("frame count %d must not be negative", c.Frames)
	}
	_, err := dvbs2.ParseModCod(c.ModCod)
	return err
}
