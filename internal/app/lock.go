package app

import "github.com/rjboer/GoDVBS2/internal/telemetry"

// Phase is a step of the acquisition schedule.
type Phase int

const (
	PhaseWaiting Phase = iota
	PhaseLearning1
	PhaseLearning2
	PhaseLearning3
	PhaseTracking
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseLearning1:
		return "learning-1"
	case PhaseLearning2:
		return "learning-2"
	case PhaseLearning3:
		return "learning-3"
	case PhaseTracking:
		return "tracking"
	}
	return "unknown"
}

// noSER marks frames whose pilot symbol error rate was not measured.
const noSER = -1.0

// lockTracker turns per frame detection and pilot error rates into a
// debounced lock state.
type lockTracker struct {
	lockSER   float64
	dropSER   float64
	state     telemetry.LockState
	stableCnt int
	dropCnt   int
}

func newLockTracker(lockSER, dropSER float64) *lockTracker {
	return &lockTracker{lockSER: lockSER, dropSER: dropSER, state: telemetry.LockStateSearching}
}

// update consumes one frame. ser < 0 means the pilots were not checked,
// which can keep but never establish the locked state.
func (l *lockTracker) update(detected bool, ser float64) telemetry.LockState {
	const (
		stableNeeded = 3
		dropNeeded   = 2
	)
	measured := ser >= 0

	switch l.state {
	case telemetry.LockStateLocked:
		if !detected || (measured && ser > l.dropSER) {
			l.dropCnt++
			if l.dropCnt >= dropNeeded {
				l.state = telemetry.LockStateTracking
				l.stableCnt = 0
				l.dropCnt = 0
			}
		} else {
			l.dropCnt = 0
		}
	case telemetry.LockStateTracking:
		if detected && measured && ser <= l.lockSER {
			l.stableCnt++
			if l.stableCnt >= stableNeeded {
				l.state = telemetry.LockStateLocked
				l.dropCnt = 0
			}
		} else if !detected {
			l.dropCnt++
			if l.dropCnt >= dropNeeded {
				l.state = telemetry.LockStateSearching
				l.stableCnt = 0
			}
		} else {
			l.stableCnt = 0
			l.dropCnt = 0
		}
	default:
		if detected {
			l.state = telemetry.LockStateTracking
			l.stableCnt = 0
			l.dropCnt = 0
		}
	}
	return l.state
}

func (l *lockTracker) reset() {
	l.state = telemetry.LockStateSearching
	l.stableCnt = 0
	l.dropCnt = 0
}
