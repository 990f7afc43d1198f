package synchronizer

import (
	"fmt"
	"strings"
)

// TimingKind selects a timing recovery implementation.
type TimingKind int

const (
	TimingGardner TimingKind = iota
	TimingPerfect
)

// FrameKind selects a frame synchronizer implementation.
type FrameKind int

const (
	FrameAIB FrameKind = iota
	FrameFast
	FramePerfect
)

// CoarseKind selects a coarse frequency implementation.
type CoarseKind int

const (
	CoarsePilot CoarseKind = iota
	CoarsePerfect
)

// FineKind selects a fine frequency/phase implementation.
type FineKind int

const (
	FineLuiseReggiannini FineKind = iota
	FinePilotFit
	FinePerfect
)

var (
	timingNames = map[TimingKind]string{TimingGardner: "gardner", TimingPerfect: "perfect"}
	frameNames  = map[FrameKind]string{FrameAIB: "aib", FrameFast: "fast", FramePerfect: "perfect"}
	coarseNames = map[CoarseKind]string{CoarsePilot: "pilot", CoarsePerfect: "perfect"}
	fineNames   = map[FineKind]string{FineLuiseReggiannini: "lr", FinePilotFit: "pf", FinePerfect: "perfect"}
)

func (k TimingKind) String() string { return kindName(timingNames, k) }

func (k FrameKind) String() string { return kindName(frameNames, k) }

func (k CoarseKind) String() string { return kindName(coarseNames, k) }

func (k FineKind) String() string { return kindName(fineNames, k) }

// ParseTimingKind parses "gardner" or "perfect".
func ParseTimingKind(s string) (TimingKind, error) { return parseKind(timingNames, "timing", s) }

// ParseFrameKind parses "aib", "fast" or "perfect".
func ParseFrameKind(s string) (FrameKind, error) { return parseKind(frameNames, "frame", s) }

// ParseCoarseKind parses "pilot" or "perfect".
func ParseCoarseKind(s string) (CoarseKind, error) { return parseKind(coarseNames, "coarse", s) }

// ParseFineKind parses "lr", "pf" or "perfect".
func ParseFineKind(s string) (FineKind, error) { return parseKind(fineNames, "fine", s) }

func kindName[K ~int](names map[K]string, k K) string {
	if n, ok := names[k]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(k))
}

func parseKind[K ~int](names map[K]string, what, s string) (K, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range names {
		if n == s {
			return k, nil
		}
	}
	var zero K
	return zero, fmt.Errorf("%w: %s kind %q", ErrUnknownKind, what, s)
}

// Oracle holds the channel truth used by the perfect variants.
type Oracle struct {
	ChannelDelay float64 // timing delay in samples
	FrameDelay   int     // frame start in symbols
	CarrierFreq  float64 // cycles per sample
	FineFreq     float64 // cycles per symbol
	FinePhase    float64 // radians
}

// NewTiming builds the timing stage of the given kind.
func NewTiming(kind TimingKind, cfg GardnerConfig, oracle Oracle) (Timing, error) {
	switch kind {
	case TimingGardner:
		g, err := NewGardner(cfg)
		if err != nil {
			return nil, err
		}
		return g, nil
	case TimingPerfect:
		o, err := NewTimingOracle(cfg.OSF, cfg.OutputSize, oracle.ChannelDelay)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("%w: timing kind %d", ErrUnknownKind, int(kind))
}

// NewFrame builds the frame synchronizer of the given kind.
func NewFrame(kind FrameKind, cfg FrameConfig, oracle Oracle) (Frame, error) {
	var (
		f   *FrameSync
		err error
	)
	switch kind {
	case FrameAIB:
		f, err = NewFrameSync(cfg)
	case FrameFast:
		f, err = NewFastFrameSync(cfg)
	case FramePerfect:
		o, err := NewFrameOracle(cfg.Size, oracle.FrameDelay)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("%w: frame kind %d", ErrUnknownKind, int(kind))
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// NewCoarse builds the coarse frequency stage of the given kind.
func NewCoarse(kind CoarseKind, cfg CoarseConfig, oracle Oracle) (Coarse, error) {
	switch kind {
	case CoarsePilot:
		c, err := NewCoarsePLL(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case CoarsePerfect:
		block := cfg.BlockSize
		if block == 0 {
			block = cfg.FrameSize * cfg.SamplesPerSymbol
		}
		o, err := NewCoarseOracle(cfg.FrameSize, block, oracle.CarrierFreq)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("%w: coarse kind %d", ErrUnknownKind, int(kind))
}

// NewFine builds the fine frequency stage of the given kind for frames of
// size symbols.
func NewFine(kind FineKind, size int, oracle Oracle) (Fine, error) {
	switch kind {
	case FineLuiseReggiannini:
		l, err := NewFineLR(size)
		if err != nil {
			return nil, err
		}
		return l, nil
	case FinePilotFit:
		f, err := NewPilotFit(size)
		if err != nil {
			return nil, err
		}
		return f, nil
	case FinePerfect:
		o, err := NewFineOracle(size, oracle.FineFreq, oracle.FinePhase)
		if err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, fmt.Errorf("%w: fine kind %d", ErrUnknownKind, int(kind))
}

var (
	_ Timing = (*Gardner)(nil)
	_ Timing = (*TimingOracle)(nil)
	_ Coarse = (*CoarsePLL)(nil)
	_ Coarse = (*CoarseOracle)(nil)
	_ Frame  = (*FrameSync)(nil)
	_ Frame  = (*FrameOracle)(nil)
	_ Fine   = (*FineLR)(nil)
	_ Fine   = (*PilotFit)(nil)
	_ Fine   = (*FineOracle)(nil)
)
