package main

import (
	"fmt"
)

const (
	// T200 is the hard refractory period, in samples: a second peak this
	// close to the previous QRS is necessarily a T-wave or noise.
	T200 = 40

	// T360 is the soft refractory period, in samples: a peak this close
	// must also pass the slope check to count as a QRS.
	T360 = 72

	// Warmup is the number of initial samples with detection suppressed,
	// covering the filter transient while the thresholds settle.
	Warmup = 600
)

// Config holds the optional detector features.
type Config struct {
	// BackSearch rescans recent history with the halved thresholds when
	// no QRS has been seen for longer than the miss timeout. Off in the
	// stock build.
	BackSearch bool
}

// Result is written once per processed sample.
type Result struct {
	PeakI       float32 `json:"peak_i"`
	SignalPeakI float32 `json:"signal_peak_i"`
	NoisePeakI  float32 `json:"noise_peak_i"`
	ThresholdI1 float32 `json:"threshold_i1"`

	// Diagnostic taps of the filter chain at the processed sample.
	Filtered          float32 `json:"filtered"`
	Derivative        float32 `json:"derivative"`
	SquaredDerivative float32 `json:"squared_derivative"`

	IsQRS bool `json:"is_qrs"`

	// QRSSample is the sample index of the confirmed beat when IsQRS is
	// set. It equals the processed index except for beats recovered by
	// back-search, which land earlier.
	QRSSample int64 `json:"qrs_sample,omitempty"`

	// RRAverage is the latest average RR interval in samples, 0 until
	// enough intervals have been observed.
	RRAverage int  `json:"rr_average"`
	IsRegular bool `json:"is_regular"`

	// Evaluation is 0 with no RR data, 1 for a regular rhythm, 2 for an
	// irregular one.
	Evaluation int `json:"evaluation"`
}

// Detector is the Pan-Tompkins decision engine: the filter chain, the
// adaptive thresholds and the RR tracker bundled into one owned value.
// It is created once, mutated only by Process, and performs no I/O.
type Detector struct {
	cfg   Config
	chain *filterChain
	rr    *rrTracker

	sampleCount int64
	lastQRS     int64
	lastSlope   float32

	peakI, peakF             float32
	signalPeakI, signalPeakF float32
	noisePeakI, noisePeakF   float32
	thresholdI1, thresholdI2 float32
	thresholdF1, thresholdF2 float32
}

func NewDetector(cfg Config) *Detector {
	return &Detector{
		cfg:   cfg,
		chain: newFilterChain(),
		rr:    newRRTracker(),
	}
}

// Process runs the pipeline for one newly arrived sample. It must be
// called exactly once per sample in strict index order; anything else is
// a wiring bug and panics.
func (d *Detector) Process(i int64, sample uint16) Result {
	if i != d.sampleCount {
		panic(fmt.Sprintf("Process(%d) out of order, expected sample %d", i, d.sampleCount))
	}
	d.sampleCount = i + 1

	d.chain.step(i, sample)

	if i < Warmup {
		return d.result(i, false, 0)
	}

	qrs, qrsAt := d.qualify(i)
	if qrs {
		d.recordBeat(qrsAt)
	}

	return d.result(i, qrs, qrsAt)
}

// qualify classifies the sample at index i as QRS or not and applies
// the matching threshold updates. It reads the integral, high-pass and
// squared-derivative rings and mutates only the threshold state.
func (d *Detector) qualify(i int64) (bool, int64) {
	vi := d.chain.integral.At(i)
	vf := d.chain.highpass.At(i)

	// A sample above either threshold is a peak candidate.
	candidate := vi >= d.thresholdI1 || vf >= d.thresholdF1
	if candidate {
		d.peakI = vi
		d.peakF = vf
	}

	qrs := false
	qrsAt := int64(0)

	// Above both thresholds: probably a signal peak, unless the timing
	// or the slope says otherwise.
	if vi >= d.thresholdI1 && vf >= d.thresholdF1 {
		switch {
		case i <= d.lastQRS+T200:
			// Inside the hard refractory period: noise.
			d.noiseUpdate(vi, vf)

		case i <= d.lastQRS+T360:
			slope := d.chain.slopeMax(i)
			if slope <= d.lastSlope/2 {
				// A shallow peak this soon after a QRS is a T-wave.
				// Leave every estimate untouched.
				return false, 0
			}
			d.signalUpdate()
			d.lastSlope = slope
			qrs, qrsAt = true, i

		default:
			// A peak has no slope on a flat signal; with the thresholds
			// still at zero that is the only way this branch fires
			// without a real beat.
			if slope := d.chain.slopeMax(i); slope > 0 {
				d.signalUpdate()
				d.lastSlope = slope
				qrs, qrsAt = true, i
			}
		}
	}

	if !qrs && d.cfg.BackSearch {
		qrs, qrsAt = d.backSearch(i)
	}

	// A candidate that was not promoted to a beat feeds the noise
	// estimates. A candidate rejected inside the hard refractory gets
	// folded in a second time.
	if !qrs && candidate {
		d.noiseUpdate(vi, vf)
	}

	return qrs, qrsAt
}

// signalUpdate applies the signal-accepted threshold rule to the stored
// peak candidate.
func (d *Detector) signalUpdate() {
	d.signalPeakI = 0.125*d.peakI + 0.875*d.signalPeakI
	d.signalPeakF = 0.125*d.peakF + 0.875*d.signalPeakF
	d.refreshThresholds()
}

// noiseUpdate demotes a peak candidate into the noise estimates.
func (d *Detector) noiseUpdate(vi, vf float32) {
	d.peakI = vi
	d.noisePeakI = 0.125*d.peakI + 0.875*d.noisePeakI
	d.peakF = vf
	d.noisePeakF = 0.125*d.peakF + 0.875*d.noisePeakF
	d.refreshThresholds()
}

func (d *Detector) refreshThresholds() {
	d.thresholdI1 = d.noisePeakI + 0.25*(d.signalPeakI-d.noisePeakI)
	d.thresholdI2 = 0.5 * d.thresholdI1
	d.thresholdF1 = d.noisePeakF + 0.25*(d.signalPeakF-d.noisePeakF)
	d.thresholdF2 = 0.5 * d.thresholdF1
}

// backSearch rescans (lastQRS+T200, i) with the halved integral
// threshold once the miss timeout has run out. It honors the same
// refractory and slope rules as the forward pass.
func (d *Detector) backSearch(i int64) (bool, int64) {
	miss := int64(d.rr.miss())
	if miss == 0 || i-d.lastQRS <= miss {
		return false, 0
	}
	start := d.lastQRS + T200 + 1
	if lo := i - int64(BufferSize) + 1; start < lo {
		// Anything older has been overwritten in the rings.
		start = lo
	}
	for k := start; k < i; k++ {
		if d.chain.integral.At(k) <= d.thresholdI2 || d.chain.highpass.At(k) <= d.thresholdF1 {
			continue
		}
		slope := d.chain.slopeMax(k)
		if slope <= 0 {
			continue
		}
		if k <= d.lastQRS+T360 && slope <= d.lastSlope/2 {
			continue
		}
		d.peakI = d.chain.integral.At(k)
		d.peakF = d.chain.highpass.At(k)
		d.signalUpdate()
		d.lastSlope = slope
		return true, k
	}
	return false, 0
}

// recordBeat feeds the accepted beat into the RR tracker and halves the
// primary thresholds when the rhythm turns irregular, so weaker peaks
// become easier to pick up.
func (d *Detector) recordBeat(i int64) {
	rep := d.rr.observe(int(i - d.lastQRS))
	if rep.becameIrregular {
		d.thresholdI1 *= 0.5
		d.thresholdI2 = 0.5 * d.thresholdI1
		d.thresholdF1 *= 0.5
		d.thresholdF2 = 0.5 * d.thresholdF1
	}
	d.lastQRS = i
}

func (d *Detector) result(i int64, qrs bool, qrsAt int64) Result {
	res := Result{
		PeakI:             d.peakI,
		SignalPeakI:       d.signalPeakI,
		NoisePeakI:        d.noisePeakI,
		ThresholdI1:       d.thresholdI1,
		Filtered:          d.chain.highpass.At(i),
		Derivative:        d.chain.deriv.At(i),
		SquaredDerivative: d.chain.sqderiv.At(i),
		IsQRS:             qrs,
		QRSSample:         qrsAt,
		RRAverage:         d.rr.average(),
		IsRegular:         d.rr.regular,
	}
	if res.RRAverage > 0 {
		if res.IsRegular {
			res.Evaluation = 1
		} else {
			res.Evaluation = 2
		}
	}
	return res
}
