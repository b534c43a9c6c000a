package main

// Tunables of the detection pipeline. Changing any of them requires
// re-tuning: the filter coefficients below are designed for 200 Hz.
const (
	// SamplingFrequency is the sample rate the ADC front-end delivers.
	SamplingFrequency = 200

	// BufferSize is the capacity of every signal ring, in samples. It
	// must fit more than 1.66 times the longest expected RR interval,
	// which is typically around one second.
	BufferSize = 500

	// WindowSize is the moving-window integration width, ~150 ms.
	WindowSize = 30
)

// filterChain runs the Pan-Tompkins filter cascade one sample at a time
// and owns the ring buffers of every intermediate signal. The raw input
// is an unsigned 12-bit ADC value; everything downstream is float32.
//
// Expected dynamic range on ECG-scale inputs: raw <= 4095, squared
// derivative below ~1e8, integral below ~1e7. Everything fits a float32
// comfortably; no saturation is applied.
type filterChain struct {
	raw      *Ring[uint16]
	dcblock  *Ring[float32]
	lowpass  *Ring[float32]
	highpass *Ring[float32]
	deriv    *Ring[float32]
	sqderiv  *Ring[float32]
	integral *Ring[float32]
}

func newFilterChain() *filterChain {
	return &filterChain{
		raw:      NewRing[uint16](BufferSize),
		dcblock:  NewRing[float32](BufferSize),
		lowpass:  NewRing[float32](BufferSize),
		highpass: NewRing[float32](BufferSize),
		deriv:    NewRing[float32](BufferSize),
		sqderiv:  NewRing[float32](BufferSize),
		integral: NewRing[float32](BufferSize),
	}
}

// step feeds one raw sample through the cascade and stores every
// intermediate value at counter i. Taps older than the data read as
// zero; the warm-up gate in the detector suppresses the transient this
// produces.
func (f *filterChain) step(i int64, sample uint16) {
	f.raw.Store(i, sample)

	// DC block. Not part of the 1985 paper; removes baseline offset
	// from the ADC.
	// y(n) = x(n) - x(n-1) + 0.995*y(n-1)
	var dc float32
	if i >= 1 {
		dc = float32(sample) - float32(f.raw.At(i-1)) + 0.995*f.dcblock.At(i-1)
	}
	f.dcblock.Store(i, dc)

	// Low pass at 15 Hz, the integer filter from the paper.
	// y(nT) = 2y(nT-T) - y(nT-2T) + x(nT) - 2x(nT-6T) + x(nT-12T)
	lp := 2*f.lowpass.At(i-1) - f.lowpass.At(i-2) + dc - 2*f.dcblock.At(i-6) + f.dcblock.At(i-12)
	f.lowpass.Store(i, lp)

	// High pass at 5 Hz.
	// y(nT) = 32x(nT-16T) - [y(nT-T) + x(nT) - x(nT-32T)]
	hp := -lp - f.highpass.At(i-1) + 32*f.lowpass.At(i-16) + f.lowpass.At(i-32)
	f.highpass.Store(i, hp)

	// Derivative, central-difference simplification.
	d := hp - f.highpass.At(i-1)
	f.deriv.Store(i, d)

	// Squaring removes sign and emphasizes the high frequencies of the
	// QRS slope.
	sd := d * d
	f.sqderiv.Store(i, sd)

	// Moving-window integration broadens the squared slope spikes into
	// plateaus wide enough to threshold.
	var sum float32
	for k := int64(0); k < WindowSize; k++ {
		sum += f.sqderiv.At(i - k)
	}
	f.integral.Store(i, sum/WindowSize)
}

// Filtered is the signal exposed for tracing: the output of the
// high-pass stage.
func (f *filterChain) Filtered(i int64) float32 {
	return f.highpass.At(i)
}

// slopeMax scans the squared derivative over [i-10, i] for its peak.
// The squared slope is M-shaped around a QRS, so nearby samples have to
// be checked to land on the true maximum.
func (f *filterChain) slopeMax(i int64) float32 {
	var max float32
	for j := i - 10; j <= i; j++ {
		if v := f.sqderiv.At(j); v > max {
			max = v
		}
	}
	return max
}
