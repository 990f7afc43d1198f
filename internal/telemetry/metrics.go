package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exports the per frame synchronizer state as Prometheus
// collectors. It implements Reporter.
type Metrics struct {
	frames     *prometheus.CounterVec // frames processed (by detected)
	mu         prometheus.Gauge       // fractional timing offset
	tedError   prometheus.Gauge       // last Gardner detector output
	coarseFreq prometheus.Gauge       // coarse CFO estimate, cycles per sample
	fineFreq   *prometheus.GaugeVec   // fine CFO estimates (by estimator)
	pilotPhase prometheus.Gauge       // pilot fit phase, radians
	frameDelay prometheus.Gauge       // frame start inside the block
	metric     prometheus.Gauge       // smoothed header correlation peak
	underflows prometheus.Gauge       // cumulative timing underflows
	overflows  prometheus.Gauge       // cumulative timing overflows
	pilotSER   prometheus.Gauge       // pilot symbol error rate
	phase      prometheus.Gauge       // acquisition phase
	lockState  *prometheus.GaugeVec   // 1 for the current lock state
}

// NewMetrics registers the collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Name: "dvbs2_frames_total",
			Help: "PL frames processed by the receiver",
		}, []string{"detected"}),
		mu: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_timing_mu",
			Help: "Fractional timing offset of the last strobe",
		}),
		tedError: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_timing_error",
			Help: "Last Gardner timing error detector output",
		}),
		coarseFreq: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_coarse_freq_cycles_per_sample",
			Help: "Coarse carrier frequency offset estimate",
		}),
		fineFreq: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvbs2_fine_freq_cycles_per_symbol",
			Help: "Fine carrier frequency offset estimate",
		}, []string{"estimator"}),
		pilotPhase: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_pilot_phase_radians",
			Help: "Carrier phase from the pilot fit",
		}),
		frameDelay: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_frame_delay_symbols",
			Help: "Frame start inside the symbol block",
		}),
		metric: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_frame_correlation",
			Help: "Smoothed SOF/PLSC correlation peak",
		}),
		underflows: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_timing_underflows",
			Help: "Short symbol extractions since start",
		}),
		overflows: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_timing_overflows",
			Help: "Symbols dropped on a full timing buffer since start",
		}),
		pilotSER: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_pilot_symbol_error_rate",
			Help: "Symbol error rate measured on the pilots",
		}),
		phase: f.NewGauge(prometheus.GaugeOpts{
			Name: "dvbs2_acquisition_phase",
			Help: "Receiver phase: 0 waiting, 1-3 learning, 4 tracking",
		}),
		lockState: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dvbs2_lock_state",
			Help: "1 for the current lock state, 0 otherwise",
		}, []string{"state"}),
	}
}

// Report implements Reporter.
func (m *Metrics) Report(s Sample) {
	detected := "false"
	if s.Detected {
		detected = "true"
	}
	m.frames.WithLabelValues(detected).Inc()
	m.mu.Set(s.Mu)
	m.tedError.Set(s.TEDError)
	m.coarseFreq.Set(s.CoarseFreq)
	m.fineFreq.WithLabelValues("lr").Set(s.FineFreq)
	m.fineFreq.WithLabelValues("pilot_fit").Set(s.PilotFreq)
	m.pilotPhase.Set(s.PilotPhase)
	m.frameDelay.Set(float64(s.FrameDelay))
	m.metric.Set(s.Metric)
	m.underflows.Set(float64(s.Underflows))
	m.overflows.Set(float64(s.Overflows))
	m.pilotSER.Set(s.PilotSER)
	m.phase.Set(float64(s.Phase))
	for _, st := range []LockState{LockStateSearching, LockStateTracking, LockStateLocked} {
		v := 0.0
		if st == s.LockState {
			v = 1
		}
		m.lockState.WithLabelValues(string(st)).Set(v)
	}
}
