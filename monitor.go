package main

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
)

// Event is one entry of a monitor's history: a detected beat or a
// rhythm-state change.
type Event struct {
	Event     string `json:"event"`
	Sample    int64  `json:"sample,omitempty"`
	BPM       int    `json:"bpm,omitempty"`
	RRAverage int    `json:"rr_average,omitempty"`
	Timestamp string `json:"timestamp"`
}

// LeadEvent is an Event tagged with the lead it came from, as published
// on the broker.
type LeadEvent struct {
	Lead  string `json:"lead"`
	Event Event  `json:"event"`
}

var bogusTimestamp *string

func makeTimeBogus() {
	bogus := "bogustime"
	bogusTimestamp = &bogus
}

func NewEvent(event string) Event {
	ev := Event{
		Event: event,
	}

	if bogusTimestamp == nil {
		ev.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	} else {
		ev.Timestamp = *bogusTimestamp
	}

	return ev
}

// Monitor ties one lead's detector to the event history, the rhythm
// state machine and the broker, and runs the consumer side of the
// acquisition loop.
type Monitor struct {
	Lead string

	mu     sync.Mutex
	det    *Detector
	fsm    *fsm.FSM
	events *Ring[Event]
	broker *Broker
	beats  int64
	last   Result
}

// Status is the snapshot handed to a freshly connected SSE client.
type Status struct {
	Lead       string  `json:"lead"`
	Beats      int64   `json:"beats"`
	BPM        int     `json:"bpm"`
	RRAverage  int     `json:"rr_average"`
	Regular    bool    `json:"regular"`
	Evaluation int     `json:"evaluation"`
	Rhythm     string  `json:"rhythm"`
	Events     []Event `json:"events"`
}

func NewMonitor(lead string, cfg Config, broker *Broker) *Monitor {
	monitor := &Monitor{
		Lead:   lead,
		det:    NewDetector(cfg),
		broker: broker,
		events: NewRing[Event](50),
	}

	monitor.fsm = fsm.NewFSM(
		"warmup",
		fsm.Events{
			{Name: "learning", Src: []string{"warmup"}, Dst: "learning"},

			{Name: "regular", Src: []string{"learning", "irregular"}, Dst: "regular"},
			{Name: "irregular", Src: []string{"learning", "regular"}, Dst: "irregular"},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				monitor.events.Push(NewEvent(e.Dst))
			},
		},
	)

	init := NewEvent("init")
	monitor.events.Push(init)
	broker.Publish(LeadEvent{
		Lead:  lead,
		Event: init,
	})

	return monitor
}

// Run is the consumer side of the acquisition: it polls the acquirer's
// fill index and drives the detector over every published sample, in
// strict order. It returns when ctx is done.
func (m *Monitor) Run(ctx context.Context, acq *Acquirer) error {
	var current int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		fill := acq.Fill()
		if fill-current >= int64(acq.Cap()) {
			// The producer lapped us; samples were lost. The system is
			// sized so this cannot happen at 200 Hz.
			panic("acquisition overrun: consumer fell behind by a full buffer")
		}
		if current == fill {
			time.Sleep(time.Millisecond)
			continue
		}

		m.mu.Lock()
		for current < fill {
			res := m.det.Process(current, acq.At(current))
			m.observe(ctx, res)
			current++
		}
		m.mu.Unlock()
	}
}

// Step processes one sample synchronously. Run is the production path;
// Step exists for feeding known streams.
func (m *Monitor) Step(ctx context.Context, i int64, sample uint16) Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.det.Process(i, sample)
	m.observe(ctx, res)
	return res
}

func (m *Monitor) observe(ctx context.Context, res Result) {
	m.last = res
	metricSamples.Inc()

	if !res.IsQRS {
		return
	}

	m.beats++
	metricBeats.Inc()
	m.transition(ctx, "learning")

	beat := NewEvent("beat")
	beat.Sample = res.QRSSample
	beat.RRAverage = res.RRAverage
	beat.BPM = beatsPerMinute(res.RRAverage)
	m.events.Push(beat)
	m.broker.Publish(LeadEvent{Lead: m.Lead, Event: beat})

	metricRRAverage.Set(float64(res.RRAverage))
	metricBPM.Set(float64(beat.BPM))
	if res.IsRegular {
		metricRegular.Set(1)
	} else {
		metricRegular.Set(0)
	}

	switch res.Evaluation {
	case 1:
		m.transition(ctx, "regular")
	case 2:
		m.transition(ctx, "irregular")
	}
}

// transition moves the rhythm machine and publishes the change. Staying
// in the current state is not an event.
func (m *Monitor) transition(ctx context.Context, state string) {
	if m.fsm.Is(state) || m.fsm.Cannot(state) {
		return
	}

	if err := m.fsm.Event(ctx, state); err == nil {
		metricTransitions.WithLabelValues(state).Inc()
		m.broker.Publish(LeadEvent{
			Lead:  m.Lead,
			Event: NewEvent(state),
		})
	}
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Lead:       m.Lead,
		Beats:      m.beats,
		BPM:        beatsPerMinute(m.last.RRAverage),
		RRAverage:  m.last.RRAverage,
		Regular:    m.last.IsRegular,
		Evaluation: m.last.Evaluation,
		Rhythm:     m.fsm.Current(),
		Events:     m.events.Slice(),
	}
}

// Trace returns up to k of the most recent filtered samples, oldest
// first, for the renderer.
func (m *Monitor) Trace(k int) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.det.chain.highpass.Tail(k)
}
