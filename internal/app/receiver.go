package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"

	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/dvbs2"
	"github.com/rjboer/GoDVBS2/internal/logging"
	"github.com/rjboer/GoDVBS2/internal/sdr"
	"github.com/rjboer/GoDVBS2/internal/synchronizer"
	"github.com/rjboer/GoDVBS2/internal/telemetry"
)

// ErrAcquisitionFailed is returned by Run when no PL frame header was
// detected within the configured waiting attempts.
var ErrAcquisitionFailed = errors.New("acquisition failed")

var errNoPacket = errors.New("no frame header detected")

// SpectrumSink receives periodic power spectra of the received stream.
type SpectrumSink interface {
	SpectrumSize() int
	UpdateSpectrumSnapshot(bins []float64, source string)
}

// loopTuner is implemented by coarse stages whose loop can be redesigned
// between acquisition phases.
type loopTuner interface {
	SetLoopParams(pllSPS int, zeta, bn float64) error
}

type fineStage struct {
	kind synchronizer.FineKind
	sync synchronizer.Fine
}

// frameOutcome is the synchronizer state after one block.
type frameOutcome struct {
	aborted    bool
	mu         float64
	coarseFreq float64
	frame      synchronizer.FrameResult
	fineFreq   float64
	pilotFreq  float64
	pilotPhase float64
	ser        float64
	modcod     string
}

// Receiver runs the DVB-S2 synchronization chain on samples read from an
// SDR: it waits for a frame header, walks the learning phases and then
// tracks PL frames, handing the recovered XFECFRAME symbols to OnFrame.
type Receiver struct {
	sdr      sdr.SDR
	reporter telemetry.Reporter
	logger   logging.Logger
	cfg      Config
	runID    string

	framer *dvbs2.Framer
	size   int // PL frame length in symbols

	coarse synchronizer.Coarse
	mf     *dsp.FIR
	timing synchronizer.Timing
	step   *synchronizer.Step
	frame  synchronizer.Frame
	fines  []fineStage

	pending  []complex64
	block    []complex64
	agc      []complex64
	symbols  []complex64
	aligned  []complex64
	fineBufs [2][]complex64

	frameDelay int
	frameIdx   int
	phase      Phase
	lock       *lockTracker
	lastModCod string

	sink     SpectrumSink
	spectrum *dsp.Spectrum
	onFrame  func(index int, data []complex64)
}

// NewReceiver builds a receiver. Stages are created by Init.
func NewReceiver(backend sdr.SDR, reporter telemetry.Reporter, logger logging.Logger, cfg Config) *Receiver {
	runID := uuid.NewString()
	return &Receiver{
		sdr:      backend,
		reporter: reporter,
		logger:   logging.OrDefault(logger).With(logging.F("subsystem", "receiver"), logging.F("run_id", runID)),
		cfg:      cfg,
		runID:    runID,
	}
}

// RunID identifies this receiver run in telemetry.
func (r *Receiver) RunID() string { return r.runID }

// OnFrame registers a callback for every tracked frame's data symbols.
func (r *Receiver) OnFrame(fn func(index int, data []complex64)) { r.onFrame = fn }

// SetSpectrumSink enables periodic spectrum snapshots of the raw stream.
func (r *Receiver) SetSpectrumSink(sink SpectrumSink) { r.sink = sink }

// LockState returns the lock state after the last processed frame.
func (r *Receiver) LockState() telemetry.LockState {
	if r.lock == nil {
		return telemetry.LockStateSearching
	}
	return r.lock.state
}

// ModCod returns the MODCOD decoded from the last tracked header.
func (r *Receiver) ModCod() string { return r.lastModCod }

// Init validates the configuration, builds the synchronizer stages and
// initializes the radio.
func (r *Receiver) Init(ctx context.Context) error {
	if r.sdr == nil {
		return errors.New("receiver has no radio")
	}
	if err := r.cfg.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}
	if err := r.buildStages(); err != nil {
		return err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryInterval), uint64(r.cfg.InitRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("SDR init failed, retrying", logging.F("error", err), logging.F("wait", wait))
	}
	if err := backoff.RetryNotify(func() error { return r.sdr.Init(ctx, r.cfg.Radio) }, b, notify); err != nil {
		return fmt.Errorf("init SDR: %w", err)
	}

	r.logger.Info("receiver initialized",
		logging.F("modcod", r.framer.ModCod().Name),
		logging.F("frame_size", r.size),
		logging.F("osf", r.cfg.OSF),
		logging.F("timing", r.cfg.TimingKind),
		logging.F("frame", r.cfg.FrameKind),
		logging.F("coarse", r.cfg.CoarseKind),
		logging.F("fine", r.cfg.FineKinds),
	)
	return nil
}

func (r *Receiver) buildStages() error {
	m, err := dvbs2.ParseModCod(r.cfg.ModCod)
	if err != nil {
		return err
	}
	r.framer = dvbs2.NewFramer(m)
	r.size = r.framer.Geometry().FrameSize
	osf := r.cfg.OSF

	timingKind, err := synchronizer.ParseTimingKind(r.cfg.TimingKind)
	if err != nil {
		return err
	}
	frameKind, err := synchronizer.ParseFrameKind(r.cfg.FrameKind)
	if err != nil {
		return err
	}
	coarseKind, err := synchronizer.ParseCoarseKind(r.cfg.CoarseKind)
	if err != nil {
		return err
	}

	tcfg := synchronizer.DefaultGardnerConfig(r.size)
	tcfg.OSF = osf
	tcfg.Loop.NormalizedBandwidth = r.cfg.TimingBandwidth
	tcfg.Headroom = r.cfg.TimingHeadroom
	if r.timing, err = synchronizer.NewTiming(timingKind, tcfg, r.cfg.Oracle); err != nil {
		return fmt.Errorf("timing stage: %w", err)
	}

	ccfg := synchronizer.DefaultCoarseConfig(r.size, osf)
	ccfg.Bandwidth = r.cfg.CoarseBandwidth1
	if r.coarse, err = synchronizer.NewCoarse(coarseKind, ccfg, r.cfg.Oracle); err != nil {
		return fmt.Errorf("coarse stage: %w", err)
	}

	fcfg := synchronizer.DefaultFrameConfig(r.size)
	fcfg.Alpha = r.cfg.FrameAlpha
	fcfg.Trigger = r.cfg.FrameTrigger
	if r.frame, err = synchronizer.NewFrame(frameKind, fcfg, r.cfg.Oracle); err != nil {
		return fmt.Errorf("frame stage: %w", err)
	}

	r.fines = r.fines[:0]
	for _, name := range r.cfg.FineKinds {
		kind, err := synchronizer.ParseFineKind(name)
		if err != nil {
			return err
		}
		f, err := synchronizer.NewFine(kind, r.size, r.cfg.Oracle)
		if err != nil {
			return fmt.Errorf("fine stage %s: %w", kind, err)
		}
		r.fines = append(r.fines, fineStage{kind: kind, sync: f})
	}

	r.mf = dsp.NewFIR(dsp.RRCTaps(r.cfg.Rolloff, osf, r.cfg.FilterSpan))
	if r.step, err = synchronizer.NewStep(r.coarse, r.mf, r.timing); err != nil {
		return err
	}

	n := r.step.InputSize()
	r.block = make([]complex64, n)
	r.agc = make([]complex64, n)
	r.symbols = make([]complex64, r.size)
	r.aligned = make([]complex64, r.size)
	r.fineBufs = [2][]complex64{make([]complex64, r.size), make([]complex64, r.size)}
	r.pending = r.pending[:0]
	r.lock = newLockTracker(r.cfg.LockSER, r.cfg.DropSER)
	return nil
}

// Run executes the acquisition schedule and then tracks frames until
// cfg.Frames tracked frames were processed or ctx is canceled.
func (r *Receiver) Run(ctx context.Context) error {
	if r.step == nil {
		return errors.New("receiver not initialized")
	}
	if !r.cfg.SkipAcquisition {
		if err := r.acquire(ctx); err != nil {
			return err
		}
		if err := r.learn(ctx); err != nil {
			return err
		}
	} else {
		r.coarse.DisableUpdate()
	}

	r.enterPhase(PhaseTracking)
	for tracked := 0; r.cfg.Frames == 0 || tracked < r.cfg.Frames; tracked++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := r.trackFrame(ctx)
		if err != nil {
			return err
		}
		r.report(out)
	}
	r.logger.Info("tracking finished", logging.F("frames", r.frameIdx), logging.F("lock_state", r.LockState()))
	return nil
}

// acquire runs the waiting phase until the frame synchronizer detects a
// header, retrying with a fresh cascade up to MaxAcquireAttempts times.
func (r *Receiver) acquire(ctx context.Context) error {
	r.enterPhase(PhaseWaiting)
	attempt := 0
	op := func() error {
		attempt++
		r.resetCascade()
		r.tuneCoarse(r.cfg.CoarseBandwidth1)
		for i := 0; i < r.cfg.WaitFrames; i++ {
			if err := ctx.Err(); err != nil {
				return backoff.Permanent(err)
			}
			out, err := r.learnFrame(ctx)
			if err != nil {
				return backoff.Permanent(err)
			}
			r.report(out)
			if out.frame.Detected {
				r.logger.Info("frame header detected",
					logging.F("attempt", attempt),
					logging.F("frames", i+1),
					logging.F("metric", out.frame.Metric))
				return nil
			}
		}
		return errNoPacket
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(r.cfg.RetryInterval), uint64(r.cfg.MaxAcquireAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		r.logger.Warn("waiting phase failed, retrying", logging.F("error", err), logging.F("attempt", attempt), logging.F("wait", wait))
	}
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errNoPacket) {
			return fmt.Errorf("%w after %d attempts of %d frames", ErrAcquisitionFailed, attempt, r.cfg.WaitFrames)
		}
		return err
	}
	r.resetCascade()
	return nil
}

// learn walks the three learning phases. Phases 1 and 2 run the fused
// step with decreasing coarse loop bandwidth; phase 3 freezes the carrier
// estimate and runs the block chain.
func (r *Receiver) learn(ctx context.Context) error {
	schedule := []struct {
		phase  Phase
		frames int
		bn     float64
	}{
		{PhaseLearning1, r.cfg.LearnFrames1, r.cfg.CoarseBandwidth1},
		{PhaseLearning2, r.cfg.LearnFrames2, r.cfg.CoarseBandwidth2},
	}
	for _, s := range schedule {
		r.enterPhase(s.phase)
		r.tuneCoarse(s.bn)
		for i := 0; i < s.frames; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := r.learnFrame(ctx)
			if err != nil {
				return err
			}
			r.report(out)
		}
	}

	r.enterPhase(PhaseLearning3)
	r.coarse.DisableUpdate()
	for i := 0; i < r.cfg.LearnFrames3; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := r.trackFrame(ctx)
		if err != nil {
			return err
		}
		r.report(out)
	}
	return nil
}

func (r *Receiver) enterPhase(p Phase) {
	r.phase = p
	r.logger.Info("entering phase", logging.F("phase", p.String()), logging.F("frame", r.frameIdx))
}

func (r *Receiver) tuneCoarse(bn float64) {
	t, ok := r.coarse.(loopTuner)
	if !ok {
		return
	}
	if err := t.SetLoopParams(1, math.Sqrt(0.5), bn); err != nil {
		r.logger.Warn("coarse loop not retuned", logging.F("error", err))
	}
}

func (r *Receiver) resetCascade() {
	r.step.Reset()
	r.frame.Reset()
	r.coarse.EnableUpdate()
	for _, f := range r.fines {
		f.sync.Reset()
	}
	r.frameDelay = 0
	r.lock.reset()
}

// nextBlock fills r.block with the next InputSize samples.
func (r *Receiver) nextBlock(ctx context.Context) error {
	n := len(r.block)
	for len(r.pending) < n {
		buf, err := r.sdr.RX(ctx)
		if err != nil {
			return fmt.Errorf("receive samples: %w", err)
		}
		if len(buf) == 0 {
			r.logger.Warn("received empty buffer")
			continue
		}
		r.pending = append(r.pending, buf...)
	}
	copy(r.block, r.pending[:n])
	r.pending = append(r.pending[:0], r.pending[n:]...)

	if r.sink != nil && r.cfg.SpectrumEvery > 0 && r.frameIdx%r.cfg.SpectrumEvery == 0 {
		if size := r.sink.SpectrumSize(); r.spectrum == nil || r.spectrum.Size() != size {
			r.spectrum = dsp.NewSpectrum(size)
		}
		r.sink.UpdateSpectrumSnapshot(r.spectrum.DBFS(r.block), "rx")
	}
	return nil
}

// frontAGC scales a block to unit power per symbol.
func (r *Receiver) frontAGC() {
	dsp.Normalize(r.block, r.agc)
	g := float32(1 / math.Sqrt(float64(r.cfg.OSF)))
	for i, x := range r.agc {
		r.agc[i] = complex(real(x)*g, imag(x)*g)
	}
}

// learnFrame runs one block through the fused step and the frame
// synchronizer, feeding the frame delay back into the step.
func (r *Receiver) learnFrame(ctx context.Context) (frameOutcome, error) {
	out := frameOutcome{ser: noSER}
	if err := r.nextBlock(ctx); err != nil {
		return out, err
	}
	r.frontAGC()

	res, err := r.step.Synchronize(r.frameDelay, r.agc, r.symbols)
	out.mu, out.coarseFreq = res.Mu, res.Freq
	if errors.Is(err, synchronizer.ErrAborted) {
		out.aborted = true
		r.logger.Debug("step aborted", logging.F("frame", r.frameIdx), logging.F("shortfall", res.Shortfall))
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("step synchronize: %w", err)
	}

	dsp.Normalize(r.symbols, r.symbols)
	if out.frame, err = r.frame.Synchronize(r.symbols, r.aligned); err != nil {
		return out, fmt.Errorf("frame synchronize: %w", err)
	}
	r.frameDelay = out.frame.Delay
	return out, nil
}

// trackFrame runs one block through the full chain with the carrier
// estimate frozen and delivers the frame's data symbols.
func (r *Receiver) trackFrame(ctx context.Context) (frameOutcome, error) {
	out := frameOutcome{ser: noSER}
	if err := r.nextBlock(ctx); err != nil {
		return out, err
	}
	r.frontAGC()

	if err := r.coarse.Synchronize(r.agc, r.agc); err != nil {
		return out, fmt.Errorf("coarse synchronize: %w", err)
	}
	out.coarseFreq = r.coarse.EstimatedFreq()
	r.mf.Filter(r.agc, r.agc)

	_, err := r.timing.Synchronize(r.agc, r.symbols)
	out.mu = r.timing.Mu()
	if errors.Is(err, synchronizer.ErrAborted) {
		out.aborted = true
		r.logger.Debug("timing aborted", logging.F("frame", r.frameIdx))
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("timing synchronize: %w", err)
	}

	dsp.Normalize(r.symbols, r.symbols)
	if out.frame, err = r.frame.Synchronize(r.symbols, r.aligned); err != nil {
		return out, fmt.Errorf("frame synchronize: %w", err)
	}
	r.frameDelay = out.frame.Delay

	cur := r.fineBufs[0]
	if err := r.framer.Descramble(r.aligned, cur); err != nil {
		return out, err
	}
	for i, f := range r.fines {
		next := r.fineBufs[(i+1)%2]
		if err := f.sync.Synchronize(cur, next); err != nil {
			return out, fmt.Errorf("fine synchronize %s: %w", f.kind, err)
		}
		switch f.kind {
		case synchronizer.FineLuiseReggiannini:
			out.fineFreq = f.sync.EstimatedFreq()
		default:
			out.pilotFreq = f.sync.EstimatedFreq()
			out.pilotPhase = f.sync.EstimatedPhase()
		}
		cur = next
	}

	out.ser = r.pilotSER(cur)
	pls, _ := dvbs2.DecodePLS(cur[dvbs2.SOFSize:dvbs2.HeaderSize])
	if m, ok := dvbs2.LookupPLS(pls); ok {
		out.modcod = m.Name
		r.lastModCod = m.Name
	}

	if r.onFrame != nil {
		data, err := r.framer.RemoveHeader(cur)
		if err != nil {
			return out, err
		}
		r.onFrame(r.frameIdx, data)
	}
	return out, nil
}

// pilotSER is the fraction of pilot symbols outside the pilot quadrant.
func (r *Receiver) pilotSER(frame []complex64) float64 {
	total, errs := 0, 0
	for _, block := range r.framer.Pilots(frame) {
		for _, x := range block {
			total++
			if real(x) <= 0 || imag(x) <= 0 {
				errs++
			}
		}
	}
	if total == 0 {
		return noSER
	}
	return float64(errs) / float64(total)
}

func (r *Receiver) report(out frameOutcome) {
	state := r.lock.state
	if !out.aborted {
		state = r.lock.update(out.frame.Detected, out.ser)
	}
	s := telemetry.Sample{
		Timestamp:  time.Now(),
		RunID:      r.runID,
		Frame:      r.frameIdx,
		Phase:      int(r.phase),
		ModCod:     out.modcod,
		Mu:         out.mu,
		TEDError:   r.timing.TEDError(),
		CoarseFreq: out.coarseFreq,
		FineFreq:   out.fineFreq,
		PilotFreq:  out.pilotFreq,
		PilotPhase: out.pilotPhase,
		FrameDelay: out.frame.Delay,
		Detected:   out.frame.Detected,
		Metric:     out.frame.Metric,
		Underflows: r.timing.UnderflowCount(),
		Overflows:  r.timing.OverflowCount(),
		PilotSER:   math.Max(out.ser, 0),
		LockState:  state,
	}
	r.frameIdx++
	if r.reporter != nil {
		r.reporter.Report(s)
	}
}
