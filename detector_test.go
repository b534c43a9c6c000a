package main

import (
	"testing"
)

// constantStream is n samples pinned to v.
func constantStream(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// impulseStream is a flat baseline with single-sample spikes at start,
// start+period, start+2*period, ...
func impulseStream(n int, baseline, spike uint16, start, period int) []uint16 {
	out := constantStream(n, baseline)
	for i := start; i < n; i += period {
		out[i] = spike
	}
	return out
}

func runStream(t *testing.T, d *Detector, stream []uint16) (beats []int64, last Result) {
	t.Helper()
	for i, s := range stream {
		res := d.Process(int64(i), s)
		if res.IsQRS {
			beats = append(beats, res.QRSSample)
		}
		if int64(i) < Warmup && res.IsQRS {
			t.Fatalf("QRS during warm-up at sample %d", i)
		}
		if d.lastQRS > int64(i) {
			t.Fatalf("lastQRS %d ahead of sample %d", d.lastQRS, i)
		}
		if res.ThresholdI1 != 0 && d.thresholdI2 != 0.5*d.thresholdI1 {
			t.Fatalf("thresholdI2 = %v, want half of %v", d.thresholdI2, d.thresholdI1)
		}
		if d.thresholdF2 != 0.5*d.thresholdF1 {
			t.Fatalf("thresholdF2 = %v, want half of %v", d.thresholdF2, d.thresholdF1)
		}
		last = res
	}
	return beats, last
}

func TestProcessPanicsOutOfOrder(t *testing.T) {
	d := NewDetector(Config{})
	d.Process(0, 2048)
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic on out-of-order sample")
		}
	}()
	d.Process(2, 2048)
}

// A flat signal must never produce a beat, no matter how long it runs.
func TestConstantInputNoQRS(t *testing.T) {
	d := NewDetector(Config{})
	beats, last := runStream(t, d, constantStream(5000, 2048))
	if len(beats) != 0 {
		t.Fatalf("flat input produced %d beats: %v", len(beats), beats)
	}
	if last.RRAverage != 0 {
		t.Fatalf("RRAverage = %d, want 0", last.RRAverage)
	}
	if last.Evaluation != 0 {
		t.Fatalf("Evaluation = %d, want 0", last.Evaluation)
	}
}

// Periodic impulses one second apart: every beat is found, the RR
// average settles at 200 samples (60 bpm) and the rhythm reads regular.
func TestPeriodicImpulses(t *testing.T) {
	const n = 5000
	d := NewDetector(Config{})
	beats, last := runStream(t, d, impulseStream(n, 2048, 3600, 600, 200))

	// One detection per impulse from the first one on. The filter delay
	// puts the detection a little after the impulse itself, and the
	// threshold transient may wobble the offset over the first beats.
	wantBeats := (n - 600 + 199) / 200
	if len(beats) < wantBeats-1 || len(beats) > wantBeats {
		t.Fatalf("detected %d beats, want ~%d: %v", len(beats), wantBeats, beats)
	}
	if beats[0] < 600 || beats[0] > 660 {
		t.Fatalf("first beat at %d, want within [600, 660]", beats[0])
	}
	for i := 1; i < len(beats); i++ {
		if gap := beats[i] - beats[i-1]; gap <= T200 {
			t.Fatalf("beats %d and %d only %d samples apart", beats[i-1], beats[i], gap)
		}
	}
	// By the tail of the run the offsets have settled: strictly
	// periodic detections.
	for i := len(beats) - 5; i < len(beats); i++ {
		gap := beats[i] - beats[i-1]
		if gap < 199 || gap > 201 {
			t.Fatalf("settled RR gap %d, want 200", gap)
		}
	}

	if last.RRAverage < 198 || last.RRAverage > 202 {
		t.Fatalf("RRAverage = %d, want ~200", last.RRAverage)
	}
	if !last.IsRegular {
		t.Fatalf("rhythm not regular")
	}
	if last.Evaluation != 1 {
		t.Fatalf("Evaluation = %d, want 1", last.Evaluation)
	}
	if bpm := beatsPerMinute(last.RRAverage); bpm < 59 || bpm > 61 {
		t.Fatalf("heart rate = %d bpm, want ~60", bpm)
	}
}

// The RR average stays zero until enough intervals have been recorded,
// then appears fully formed.
func TestRRAverageAppearsAfterSkip(t *testing.T) {
	d := NewDetector(Config{})
	sawZero := false
	var firstRR int
	for i, s := range impulseStream(4000, 2048, 3600, 600, 200) {
		res := d.Process(int64(i), s)
		if res.IsQRS && res.RRAverage == 0 {
			sawZero = true
		}
		if firstRR == 0 && res.RRAverage > 0 {
			firstRR = res.RRAverage
		}
	}
	if !sawZero {
		t.Fatalf("expected the early beats to report no RR average")
	}
	if firstRR < 190 || firstRR > 210 {
		t.Fatalf("first RR average = %d, want ~200", firstRR)
	}
}

// Running the same stream through a fresh detector must reproduce the
// result records exactly.
func TestReplayDeterminism(t *testing.T) {
	stream := impulseStream(3000, 2048, 3600, 600, 200)

	d1 := NewDetector(Config{})
	d2 := NewDetector(Config{})
	for i, s := range stream {
		r1 := d1.Process(int64(i), s)
		r2 := d2.Process(int64(i), s)
		if r1 != r2 {
			t.Fatalf("replay diverged at sample %d: %+v vs %+v", i, r1, r2)
		}
	}
}

// newWarmDetector fakes a detector mid-run with settled thresholds, for
// driving the qualifier directly.
func newWarmDetector() *Detector {
	d := NewDetector(Config{})
	d.sampleCount = 1000
	d.lastQRS = 900
	d.lastSlope = 400
	d.signalPeakI, d.signalPeakF = 100, 200
	d.noisePeakI, d.noisePeakF = 10, 20
	d.refreshThresholds() // thresholdI1 = 32.5, thresholdF1 = 65
	return d
}

// A peak inside the hard refractory is noise: rejected, folded into the
// noise estimate twice (once by the refractory rule, once as a spent
// candidate).
func TestHardRefractoryRejectsAsNoise(t *testing.T) {
	d := newWarmDetector()
	i := d.lastQRS + 30 // twin peak, 150 ms after the last beat
	d.chain.integral.Store(i, 150)
	d.chain.highpass.Store(i, 250)
	d.chain.sqderiv.Store(i, 500)

	qrs, _ := d.qualify(i)
	if qrs {
		t.Fatalf("peak inside hard refractory accepted as QRS")
	}
	// 0.125/0.875 applied twice to noisePeakI starting from 10.
	if want := float32(0.125*150 + 0.875*(0.125*150+0.875*10)); d.noisePeakI != want {
		t.Fatalf("noisePeakI = %v, want %v", d.noisePeakI, want)
	}
	if d.thresholdI2 != 0.5*d.thresholdI1 {
		t.Fatalf("thresholdI2 = %v, want half of %v", d.thresholdI2, d.thresholdI1)
	}
	if d.lastQRS != 900 {
		t.Fatalf("lastQRS moved to %d on a noise peak", d.lastQRS)
	}
}

// A shallow peak in the soft refractory window is a T-wave: no beat and
// no state change at all.
func TestSoftRefractoryRejectsTWave(t *testing.T) {
	d := newWarmDetector()
	i := d.lastQRS + 50 // 250 ms after the last beat
	d.chain.integral.Store(i, 150)
	d.chain.highpass.Store(i, 250)
	d.chain.sqderiv.Store(i, 150) // slope 150 <= lastSlope/2 = 200

	before := *d
	qrs, _ := d.qualify(i)
	if qrs {
		t.Fatalf("T-wave accepted as QRS")
	}
	if d.noisePeakI != before.noisePeakI || d.noisePeakF != before.noisePeakF {
		t.Fatalf("T-wave rejection touched the noise estimates")
	}
	if d.thresholdI1 != before.thresholdI1 || d.thresholdF1 != before.thresholdF1 {
		t.Fatalf("T-wave rejection moved the thresholds")
	}
	if d.lastSlope != before.lastSlope {
		t.Fatalf("T-wave rejection updated lastSlope")
	}
}

// A steep peak in the soft refractory window is a genuine beat.
func TestSoftRefractoryAcceptsSteepSlope(t *testing.T) {
	d := newWarmDetector()
	i := d.lastQRS + 50
	d.chain.integral.Store(i, 150)
	d.chain.highpass.Store(i, 250)
	d.chain.sqderiv.Store(i, 300) // slope 300 > lastSlope/2 = 200

	qrs, at := d.qualify(i)
	if !qrs || at != i {
		t.Fatalf("steep peak in soft refractory not accepted: qrs=%v at=%d", qrs, at)
	}
	if d.lastSlope != 300 {
		t.Fatalf("lastSlope = %v, want 300", d.lastSlope)
	}
	if want := float32(0.125*150 + 0.875*100); d.signalPeakI != want {
		t.Fatalf("signalPeakI = %v, want %v", d.signalPeakI, want)
	}
}

// A lone candidate (above only one threshold) feeds the noise estimate
// once.
func TestLoneCandidateIsNoise(t *testing.T) {
	d := newWarmDetector()
	i := d.lastQRS + 100
	d.chain.integral.Store(i, 150) // above thresholdI1
	d.chain.highpass.Store(i, 30)  // below thresholdF1

	qrs, _ := d.qualify(i)
	if qrs {
		t.Fatalf("lone candidate accepted as QRS")
	}
	if want := float32(0.125*150 + 0.875*10); d.noisePeakI != want {
		t.Fatalf("noisePeakI = %v, want %v (one update)", d.noisePeakI, want)
	}
}

// Back-search recovers a beat that only cleared the half threshold,
// once the miss timeout has expired.
func TestBackSearchRecoversMissedBeat(t *testing.T) {
	d := newWarmDetector()
	d.cfg.BackSearch = true
	d.rr.missLimit = 332

	k := d.lastQRS + 80
	d.chain.integral.Store(k, 20) // above thresholdI2 = 16.25, below thresholdI1
	d.chain.highpass.Store(k, 70) // above thresholdF1 = 65
	d.chain.sqderiv.Store(k, 300)

	i := d.lastQRS + 340 // beyond the miss timeout
	qrs, at := d.qualify(i)
	if !qrs || at != k {
		t.Fatalf("back-search missed the beat: qrs=%v at=%d, want %d", qrs, at, k)
	}
	if d.lastSlope != 300 {
		t.Fatalf("lastSlope = %v, want 300", d.lastSlope)
	}
}

// With back-search disabled the same situation stays a miss.
func TestBackSearchOffByDefault(t *testing.T) {
	d := newWarmDetector()
	d.rr.missLimit = 332

	k := d.lastQRS + 80
	d.chain.integral.Store(k, 20)
	d.chain.highpass.Store(k, 70)
	d.chain.sqderiv.Store(k, 300)

	if qrs, _ := d.qualify(d.lastQRS + 340); qrs {
		t.Fatalf("beat recovered with back-search disabled")
	}
}

// The regular-to-irregular transition halves the primary thresholds.
func TestIrregularTransitionHalvesThresholds(t *testing.T) {
	d := newWarmDetector()
	// Fast-forward the tracker past the startup skip and fill it with
	// one-second intervals.
	d.rr.skipped = RRSkip + 1
	for i := 0; i < RRHistory; i++ {
		d.rr.observe(200)
	}
	if !d.rr.regular {
		t.Fatalf("tracker not regular after uniform intervals")
	}

	ti1, tf1 := d.thresholdI1, d.thresholdF1
	d.lastQRS = 2000
	d.recordBeat(2180) // 180-sample interval, outside [184, 231]

	if d.rr.regular {
		t.Fatalf("tracker still regular after the short interval")
	}
	if d.thresholdI1 != 0.5*ti1 || d.thresholdF1 != 0.5*tf1 {
		t.Fatalf("thresholds not halved: %v/%v, want %v/%v", d.thresholdI1, d.thresholdF1, 0.5*ti1, 0.5*tf1)
	}
	if d.thresholdI2 != 0.5*d.thresholdI1 {
		t.Fatalf("thresholdI2 = %v, want half of %v", d.thresholdI2, d.thresholdI1)
	}
}

// The synthetic waveform end to end: every simulated beat is picked up
// and the derived heart rate lands on the simulator's.
func TestSimulatedWaveform(t *testing.T) {
	const n = 8000
	sim := NewECGSim(SamplingFrequency, 72, 0.01)
	d := NewDetector(Config{})

	var beats []int64
	var last Result
	for i := int64(0); i < n; i++ {
		res := d.Process(i, sim.Next())
		if res.IsQRS {
			beats = append(beats, res.QRSSample)
		}
		last = res
	}

	// 72 bpm is one beat every ~167 samples; warm-up eats the first
	// three.
	expected := (n - Warmup) * 72 / (60 * SamplingFrequency)
	if len(beats) < expected-3 || len(beats) > expected+3 {
		t.Fatalf("detected %d beats, want ~%d", len(beats), expected)
	}
	for i := 1; i < len(beats); i++ {
		if gap := beats[i] - beats[i-1]; gap <= T200 {
			t.Fatalf("beats %d and %d only %d samples apart", beats[i-1], beats[i], gap)
		}
	}
	if bpm := beatsPerMinute(last.RRAverage); bpm < 68 || bpm > 76 {
		t.Fatalf("heart rate = %d bpm, want ~72", bpm)
	}
	if last.Evaluation != 1 {
		t.Fatalf("Evaluation = %d, want 1 (regular)", last.Evaluation)
	}
}
