package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
)

var (
	listenAddr  = flag.String("listen", ":8080", "Address for the SSE, trace and metrics endpoints")
	leadName    = flag.String("lead", "MLII", "Lead label attached to published events")
	natsURL     = flag.String("nats", "", "NATS url to pull samples from (empty to disable)")
	natsSubject = flag.String("subject", "ecg.wave", "NATS subject carrying little-endian uint16 ADC frames")
	natsPublish = flag.String("publish", "", "NATS subject to publish beat events to (empty to disable)")
	replayPath  = flag.String("replay", "", "File of ASCII integer samples to replay")
	simulate    = flag.Bool("sim", false, "Generate a synthetic waveform instead of using an external source")
	simBPM      = flag.Float64("sim-bpm", 72, "Heart rate of the synthetic waveform")
	simNoise    = flag.Float64("sim-noise", 0.02, "Noise amplitude of the synthetic waveform")
	rate        = flag.Int("rate", SamplingFrequency, "Replay/simulator sample rate in Hz")
	backSearch  = flag.Bool("backsearch", false, "Enable back-search for beats missed past the RR timeout")
)

// connectNATS retries forever: detector state is all local, so the
// monitor rides out a server restart. The reconnect buffer is
// disabled; a beat event that could not be sent live is stale by the
// time the connection comes back.
func connectNATS(url string) (*nats.Conn, error) {
	return nats.Connect(
		url,
		nats.Name("qrsd"),
		nats.Timeout(3*time.Second),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(-1),
	)
}

func main() {
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	acq := NewAcquirer()
	broker := NewBroker()
	monitor := NewMonitor(*leadName, Config{BackSearch: *backSearch}, broker)

	var nc *nats.Conn
	if *natsURL != "" || *natsPublish != "" {
		url := *natsURL
		if url == "" {
			url = nats.DefaultURL
		}
		var err error
		nc, err = connectNATS(url)
		if err != nil {
			log.Fatalf("connecting to NATS at %s: %s", url, err)
		}
		defer nc.Drain()
	}

	switch {
	case *simulate:
		sim := NewECGSim(SamplingFrequency, *simBPM, *simNoise)
		go produce(ctx, acq, *rate, func() (uint16, bool) { return sim.Next(), true })
		log.Printf("simulating a %g bpm waveform at %d Hz", *simBPM, *rate)

	case *replayPath != "":
		samples, err := readSamples(*replayPath)
		if err != nil {
			log.Fatalf("loading replay %s: %s", *replayPath, err)
		}
		next := 0
		go produce(ctx, acq, *rate, func() (uint16, bool) {
			if next >= len(samples) {
				return 0, false
			}
			s := samples[next]
			next++
			return s, true
		})
		log.Printf("replaying %d samples from %s at %d Hz", len(samples), *replayPath, *rate)

	case *natsURL != "":
		sub, err := subscribeSamples(nc, *natsSubject, acq)
		if err != nil {
			log.Fatalf("subscribing to %s: %s", *natsSubject, err)
		}
		defer sub.Unsubscribe()
		log.Printf("pulling samples from %s on %s", *natsSubject, *natsURL)

	default:
		log.Fatalf("no sample source: pass -sim, -replay or -nats")
	}

	if *natsPublish != "" {
		ch, unsubscribe := broker.Subscribe("beat")
		defer unsubscribe()
		go func() {
			for ev := range ch {
				data, err := json.Marshal(ev)
				if err != nil {
					log.Println("JSON marshalling error: ", err)
					continue
				}
				nc.Publish(*natsPublish, data)
			}
		}()
	}

	go func() {
		if err := webserver(*listenAddr, broker, monitor); err != nil {
			log.Fatalf("webserver: %s", err)
		}
	}()

	monitor.Run(ctx, acq)
}
