package telemetry

import (
	"github.com/rjboer/GoDVBS2/internal/dsp"
	"github.com/rjboer/GoDVBS2/internal/logging"
)

// StdoutReporter prints per frame synchronizer state through the logger.
type StdoutReporter struct {
	logger logging.Logger
	every  int
}

// NewStdoutReporter builds a reporter that logs every n-th frame; n < 1
// logs all of them.
func NewStdoutReporter(logger logging.Logger, every int) StdoutReporter {
	if every < 1 {
		every = 1
	}
	return StdoutReporter{logger: logging.OrDefault(logger), every: every}
}

func (r StdoutReporter) Report(s Sample) {
	if s.Frame%r.every != 0 && s.LockState == LockStateLocked {
		return
	}
	fields := []logging.Field{
		{Key: "subsystem", Value: "telemetry"},
		{Key: "frame", Value: s.Frame},
		{Key: "phase", Value: s.Phase},
		{Key: "mu", Value: s.Mu},
		{Key: "ted_error", Value: s.TEDError},
		{Key: "coarse_freq", Value: s.CoarseFreq},
		{Key: "frame_delay", Value: s.FrameDelay},
		{Key: "metric", Value: s.Metric},
	}
	if s.RunID != "" {
		fields = append(fields, logging.Field{Key: "run_id", Value: s.RunID})
	}
	if s.FineFreq != 0 || s.PilotFreq != 0 {
		fields = append(fields,
			logging.Field{Key: "fine_freq", Value: s.FineFreq},
			logging.Field{Key: "pilot_freq", Value: s.PilotFreq},
			logging.Field{Key: "pilot_phase_deg", Value: dsp.RadToDeg(s.PilotPhase)},
		)
	}
	if s.Underflows != 0 {
		fields = append(fields, logging.Field{Key: "underflows", Value: s.Underflows})
	}
	if s.LockState != "" {
		fields = append(fields, logging.Field{Key: "lock_state", Value: s.LockState})
	}
	r.logger.Info("telemetry sample", fields...)
}
