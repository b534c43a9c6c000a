package main

const (
	// RRHistory is the depth of the RR sliding windows.
	RRHistory = 8

	// RRSkip is the number of initial RR intervals discarded: the filter
	// transient and the threshold warm-up make them unreliable.
	RRSkip = 7
)

// rrTracker keeps two sliding windows over the RR intervals: rr1 holds
// the last RRHistory intervals, rr2 only those inside the normal range.
// When both averages agree the rhythm counts as regular. Intervals are
// integer sample counts, and so are the averages.
type rrTracker struct {
	rr1 [RRHistory]int
	rr2 [RRHistory]int

	avg1 int
	avg2 int

	// Acceptance bounds and miss timeout, derived from avg2:
	// 0.92x, 1.16x and 1.66x.
	low       int
	high      int
	missLimit int

	validCount int // observed intervals, saturates at RRHistory
	count2     int // populated entries of rr2
	skipped    int

	regular     bool
	prevRegular bool
}

func newRRTracker() *rrTracker {
	return &rrTracker{low: 100, high: 200, regular: true}
}

// rrReport is what one observed interval did to the tracker.
type rrReport struct {
	recorded bool
	avg1     int
	avg2     int
	regular  bool

	// becameIrregular is set on the regular-to-irregular transition,
	// the cue for the detector to halve its primary thresholds.
	becameIrregular bool
}

// observe folds a new RR interval into the windows. The first RRSkip
// intervals (and the meaningless gap before the very first beat) are
// discarded.
func (t *rrTracker) observe(interval int) rrReport {
	if t.skipped <= RRSkip {
		t.skipped++
		return rrReport{regular: t.regular}
	}

	n := t.validCount + 1
	if n > RRHistory {
		n = RRHistory
	}

	copy(t.rr1[:], t.rr1[1:])
	t.rr1[RRHistory-1] = interval
	sum := 0
	for _, v := range t.rr1[RRHistory-n:] {
		sum += v
	}
	t.avg1 = sum / n

	if interval >= t.low && interval <= t.high {
		copy(t.rr2[:], t.rr2[1:])
		t.rr2[RRHistory-1] = interval
		if t.count2 < RRHistory {
			t.count2++
		}
		sum = 0
		for _, v := range t.rr2[RRHistory-t.count2:] {
			sum += v
		}
		t.avg2 = sum / t.count2

		t.low = int(0.92 * float64(t.avg2))
		t.high = int(1.16 * float64(t.avg2))
		t.missLimit = int(1.66 * float64(t.avg2))
	}

	t.prevRegular = t.regular
	diff := t.avg1 - t.avg2
	t.regular = diff <= 2 && diff >= -2

	if t.validCount < RRHistory {
		t.validCount++
	}

	return rrReport{
		recorded:        true,
		avg1:            t.avg1,
		avg2:            t.avg2,
		regular:         t.regular,
		becameIrregular: t.prevRegular && !t.regular,
	}
}

// average is the latest rr1 mean, 0 until the first interval has been
// recorded.
func (t *rrTracker) average() int {
	if t.validCount == 0 {
		return 0
	}
	return t.avg1
}

func (t *rrTracker) miss() int {
	return t.missLimit
}

// beatsPerMinute converts an average RR interval to a display heart
// rate.
func beatsPerMinute(rrAverage int) int {
	if rrAverage <= 0 {
		return 0
	}
	return 60 * SamplingFrequency / rrAverage
}
