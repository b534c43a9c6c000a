package main

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// Acquirer is the single-producer single-consumer hand-off between the
// sample source and the monitor loop. The producer writes raw samples
// into a ring and publishes them by advancing the fill index; the
// consumer reads only indices the producer has published, which gives
// the happens-before edge that makes the slot reads safe.
type Acquirer struct {
	buf  []uint16
	fill atomic.Int64
}

func NewAcquirer() *Acquirer {
	return &Acquirer{buf: make([]uint16, BufferSize)}
}

func (a *Acquirer) Cap() int {
	return len(a.buf)
}

// Put appends one raw sample. Only a single goroutine may call Put.
func (a *Acquirer) Put(sample uint16) {
	i := a.fill.Load()
	a.buf[i%int64(len(a.buf))] = sample
	a.fill.Store(i + 1)
}

// Fill is the count of published samples.
func (a *Acquirer) Fill() int64 {
	return a.fill.Load()
}

// At reads the sample at index i. The caller must only pass indices
// below Fill() and within Cap() of it.
func (a *Acquirer) At(i int64) uint16 {
	return a.buf[i%int64(len(a.buf))]
}

// subscribeSamples feeds the acquirer from a NATS subject carrying
// frames of little-endian uint16 ADC codes.
func subscribeSamples(nc *nats.Conn, subject string, acq *Acquirer) (*nats.Subscription, error) {
	return nc.Subscribe(subject, func(msg *nats.Msg) {
		for off := 0; off+2 <= len(msg.Data); off += 2 {
			acq.Put(binary.LittleEndian.Uint16(msg.Data[off:]))
		}
	})
}

// readSamples loads a replay file: whitespace-separated ASCII integers,
// one per sample, the way reference ECG fragments are distributed.
func readSamples(path string) ([]uint16, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var samples []uint16
	sc := bufio.NewScanner(f)
	sc.Split(bufio.ScanWords)
	for sc.Scan() {
		v, err := strconv.Atoi(sc.Text())
		if err != nil {
			return nil, fmt.Errorf("replay sample %d: %w", len(samples), err)
		}
		if v < 0 || v > 4095 {
			return nil, fmt.Errorf("replay sample %d: %d outside the 12-bit ADC range", len(samples), v)
		}
		samples = append(samples, uint16(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// produce pushes samples from next into the acquirer at the given rate
// in samples per second, until next returns false or ctx is done.
// Pacing matters: a producer running faster than the consumer drains
// would eventually lap the ring.
func produce(ctx context.Context, acq *Acquirer, rate int, next func() (uint16, bool)) {
	if rate <= 0 {
		rate = SamplingFrequency
	}
	tick := time.NewTicker(time.Second / time.Duration(rate))
	defer tick.Stop()

	for {
		sample, ok := next()
		if !ok {
			return
		}
		acq.Put(sample)

		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}
