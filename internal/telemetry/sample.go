package telemetry

import "time"

// LockState describes how far the receiver got in acquiring the signal.
type LockState string

const (
	LockStateSearching LockState = "searching"
	LockStateTracking  LockState = "tracking"
	LockStateLocked    LockState = "locked"
)

// Sample captures the synchronizer state after one PL frame.
type Sample struct {
	Timestamp  time.Time `json:"timestamp"`
	RunID      string    `json:"runId"`
	Frame      int       `json:"frame"`
	Phase      int       `json:"phase"`
	ModCod     string    `json:"modcod"`
	Mu         float64   `json:"mu"`
	TEDError   float64   `json:"tedError"`
	CoarseFreq float64   `json:"coarseFreq"` // cycles per sample
	FineFreq   float64   `json:"fineFreq"`   // cycles per symbol
	PilotFreq  float64   `json:"pilotFreq"`  // cycles per symbol
	PilotPhase float64   `json:"pilotPhase"` // radians
	FrameDelay int       `json:"frameDelay"`
	Detected   bool      `json:"detected"`
	Metric     float64   `json:"metric"`
	Underflows int       `json:"underflows"`
	Overflows  int       `json:"overflows"`
	PilotSER   float64   `json:"pilotSer"`
	LockState  LockState `json:"lockState"`
}

// Reporter captures telemetry events.
type Reporter interface {
	Report(sample Sample)
}

// MultiReporter fans out telemetry to multiple destinations.
type MultiReporter []Reporter

// Report forwards telemetry to each configured reporter.
func (m MultiReporter) Report(sample Sample) {
	for _, r := range m {
		if r != nil {
			r.Report(sample)
		}
	}
}
