package timing

// EdgeCounter accumulates external clock edges during a fixed CPU interval.
// The terminal side wires its clock pin to a hardware edge counter (C1
// "Terminal-clock reception"); the Defender never drives this pin itself.
type EdgeCounter interface {
	// CountAndReset returns the number of edges seen since the counter was last
	// reset, and resets it.
	CountAndReset() int64
}

// MeasureTerminalFrequency samples ec for one interval and derives the
// terminal clock frequency in Hz. Per §4.1, if exactly one edge is counted
// the terminal clock is considered absent (f_t = 0): a genuinely running
// clock always advances by more than one edge over any interval long
// enough to be scheduled, so a lone edge is indistinguishable from line
// noise on an idle pin and is treated the same as silence.
func MeasureTerminalFrequency(ec EdgeCounter, intervalNS int64) (hz int64, present bool) {
	edges := ec.CountAndReset()

	if edges <= 1 {
		return 0, false
	}

	hz = edges * 1_000_000_000 / intervalNS
	return hz, true
}
