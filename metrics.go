package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricSamples = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrsd_samples_processed_total",
		Help: "Raw samples run through the detection pipeline.",
	})

	metricBeats = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qrsd_beats_detected_total",
		Help: "QRS complexes accepted by the peak qualifier.",
	})

	metricTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qrsd_rhythm_transitions_total",
		Help: "Rhythm state machine transitions, by entered state.",
	}, []string{"state"})

	metricBPM = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrsd_heart_rate_bpm",
		Help: "Heart rate derived from the latest RR average.",
	})

	metricRRAverage = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrsd_rr_average_samples",
		Help: "Latest average RR interval, in samples.",
	})

	metricRegular = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "qrsd_rhythm_regular",
		Help: "1 while the rhythm is regular, 0 while irregular.",
	})
)
