package synchronizer

import (
	"math"
	"testing"
)

func TestLoopFilterDelaysIntegrator(t *testing.T) {
	l := loopFilter{kp: 0.5, ki: 0.1}

	// An impulse reaches the integrator one sample later.
	steps := []struct{ in, want float64 }{
		{1, 0.5},
		{0, 0.1},
		{0, 0.1},
		{2, 1.1},
		{0, 0.3},
	}
	for i, s := range steps {
		if got := l.step(s.in); math.Abs(got-s.want) > 1e-12 {
			t.Fatalf("step %d: expected %.3f got %.3f", i, s.want, got)
		}
	}

	l.step(3)
	l.reset()
	if got := l.step(0); got != 0 {
		t.Fatalf("expected zero output after reset, got %g", got)
	}
}
