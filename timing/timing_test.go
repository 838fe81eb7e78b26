package timing

import (
	"testing"
	"time"
)

func TestCardETU(t *testing.T) {
	cases := []struct {
		hz   int
		want time.Duration
	}{
		{1_000_000, 372 * time.Microsecond},
		{4_000_000, 93 * time.Microsecond},
		{0, 0},
	}

	for _, c := range cases {
		if got := CardETU(c.hz); got != c.want {
			t.Errorf("CardETU(%d) = %v, want %v", c.hz, got, c.want)
		}
	}
}

func TestEndpointRoundHalfETU(t *testing.T) {
	e := &Endpoint{Clock: FixedClock(100 * time.Microsecond)}

	got := e.Round(HalfETU)
	want := 50 * time.Microsecond

	if got != want {
		t.Errorf("Round(HalfETU) = %v, want %v", got, want)
	}
}

func TestEndpointGuardTimes(t *testing.T) {
	e := &Endpoint{TC1: 0, Clock: FixedClock(10 * time.Microsecond)}

	if got, want := e.OutgoingGuard(), 20*time.Microsecond; got != want {
		t.Errorf("OutgoingGuard() = %v, want %v", got, want)
	}
	if got, want := e.IncomingGuard(), 10*time.Microsecond; got != want {
		t.Errorf("IncomingGuard() = %v, want %v", got, want)
	}

	e.TC1 = 5
	if got, want := e.OutgoingGuard(), 70*time.Microsecond; got != want {
		t.Errorf("OutgoingGuard() with TC1=5 = %v, want %v", got, want)
	}
}

func TestEndpointTC1Reserved(t *testing.T) {
	e := &Endpoint{TC1: 0xFF, Clock: FixedClock(10 * time.Microsecond)}

	if got, want := e.OutgoingGuard(), 20*time.Microsecond; got != want {
		t.Errorf("TC1=0xFF should fold to 0 extra guard, got %v want %v", got, want)
	}
}

func TestEndpointDeadlineIndefinite(t *testing.T) {
	e := &Endpoint{Clock: FixedClock(time.Microsecond)}

	if _, indefinite := e.Deadline(0); !indefinite {
		t.Fatal("Deadline(0) should be indefinite")
	}
	if _, indefinite := e.Deadline(5); indefinite {
		t.Fatal("Deadline(5) should not be indefinite")
	}
}

type fakeEdgeCounter struct{ edges int64 }

func (f *fakeEdgeCounter) CountAndReset() int64 {
	e := f.edges
	f.edges = 0
	return e
}

func TestMeasureTerminalFrequencyNoClock(t *testing.T) {
	ec := &fakeEdgeCounter{edges: 1}

	hz, present := MeasureTerminalFrequency(ec, 1_000_000)
	if present || hz != 0 {
		t.Errorf("expected no clock for a single edge, got hz=%d present=%v", hz, present)
	}

	ec.edges = 0
	hz, present = MeasureTerminalFrequency(ec, 1_000_000)
	if present || hz != 0 {
		t.Errorf("expected no clock for zero edges, got hz=%d present=%v", hz, present)
	}
}

func TestMeasureTerminalFrequencyPresent(t *testing.T) {
	ec := &fakeEdgeCounter{edges: 3_579_545}

	hz, present := MeasureTerminalFrequency(ec, 1_000_000_000)
	if !present {
		t.Fatal("expected clock present")
	}
	if hz != 3_579_545 {
		t.Errorf("hz = %d, want 3579545", hz)
	}
}
