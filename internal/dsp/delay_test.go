package dsp

import "testing"

func TestVariableDelay(t *testing.T) {
	d := NewVariableDelay(8)
	d.SetDelay(3)
	in := []complex64{1, 2, 3, 4, 5, 6, 7}
	out := make([]complex64, len(in))
	d.Filter(in, out)
	want := []complex64{0, 0, 0, 1, 2, 3, 4}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: expected %v got %v", i, want[i], out[i])
		}
	}

	// Shortening the delay replays more recent history.
	d.SetDelay(0)
	if y := d.Step(8); y != 8 {
		t.Fatalf("expected undelayed sample, got %v", y)
	}
}

func TestVariableDelayClamps(t *testing.T) {
	d := NewVariableDelay(4)
	d.SetDelay(10)
	if d.Delay() != 4 {
		t.Fatalf("expected clamp to 4, got %d", d.Delay())
	}
	d.SetDelay(-2)
	if d.Delay() != 0 {
		t.Fatalf("expected clamp to 0, got %d", d.Delay())
	}
	d.SetDelay(2)
	d.Step(5)
	d.Reset()
	if d.Delay() != 0 {
		t.Fatalf("reset must clear the delay")
	}
}
