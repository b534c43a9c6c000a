package main

import (
	"math"
)

// ECGSim generates a synthetic single-lead waveform: a baseline wander
// plus gaussian P, QRS and T bumps, with a little deterministic noise.
// Not a clinical signal, but it exercises the whole pipeline and keeps
// replay runs reproducible.
type ECGSim struct {
	fs    float64
	phase float64
	hrBPM float64
	noise float64
}

// NewECGSim returns a simulator at fs samples per second. Typical
// arguments: hrBPM 60-120, noise 0.0-0.05.
func NewECGSim(fs, hrBPM, noise float64) *ECGSim {
	return &ECGSim{fs: fs, hrBPM: hrBPM, noise: noise}
}

// Next advances one sample period and returns the waveform as a 12-bit
// ADC code centered on half scale.
func (s *ECGSim) Next() uint16 {
	cycleHz := s.hrBPM / 60.0
	s.phase += cycleHz / s.fs
	if s.phase >= 1.0 {
		s.phase -= 1.0
	}

	t := s.phase // position in the cycle, 0..1

	// One full period per cycle keeps the wander continuous across the
	// phase wrap.
	baseline := 0.05 * math.Sin(2*math.Pi*t)

	p := 0.08 * gauss(t, 0.18, 0.03)
	q := -0.12 * gauss(t, 0.30, 0.01)
	r := 1.00 * gauss(t, 0.32, 0.008)
	sw := -0.25 * gauss(t, 0.35, 0.012)
	tw := 0.25 * gauss(t, 0.60, 0.06)

	n := s.noise * (2*fract(math.Sin(12345.678*t)*9876.543) - 1)

	v := baseline + p + q + r + sw + tw + n

	code := 2048 + int(1024*v)
	if code < 0 {
		code = 0
	}
	if code > 4095 {
		code = 4095
	}
	return uint16(code)
}

func gauss(x, mu, sigma float64) float64 {
	z := (x - mu) / sigma
	return math.Exp(-0.5 * z * z)
}

func fract(x float64) float64 { return x - math.Floor(x) }
