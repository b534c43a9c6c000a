package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func webserver(addr string, b *Broker, m *Monitor) error {
	http.Handle("/metrics", promhttp.Handler())

	// Recent filtered signal, for tracing the waveform.
	http.HandleFunc("/trace", func(w http.ResponseWriter, r *http.Request) {
		n := BufferSize
		if s := r.URL.Query().Get("n"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v <= 0 {
				http.Error(w, "n must be a positive integer", http.StatusBadRequest)
				return
			}
			n = v
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(m.Trace(n)); err != nil {
			log.Println("JSON marshalling error: ", err)
		}
	})

	// SSE endpoint
	http.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		// Mandatory SSE headers
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		// CORS (optional; useful when testing from other origins)
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("X-Accel-Buffering", "no")

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		// Tell client to retry in 3s if disconnected
		if _, err := fmt.Fprint(w, "retry: 3000\n\n"); err != nil {
			return
		}

		// Open with a snapshot of the monitor, then stream events.
		data, err := json.Marshal(m.Status())
		if err != nil {
			log.Println("JSON marshalling error: ", err)
		} else {
			if _, err := fmt.Fprintf(w, "data: %s\n\n", string(data)); err != nil {
				return
			}
		}

		flusher.Flush()

		// Subscribe this client
		ch, unsubscribe := b.Subscribe()
		defer unsubscribe()

		// Heartbeats to keep connections alive through proxies
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()

		ctx := r.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				// comment lines are ignored by EventSource but keep the pipe warm
				if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
					return
				}
				flusher.Flush()
			case msg, ok := <-ch:
				if !ok {
					return
				}

				data, err := json.Marshal(msg)
				if err != nil {
					log.Println("JSON marshalling error: ", err)
					continue
				}
				if _, err := fmt.Fprintf(w, "data: %s\n\n", string(data)); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	})

	log.Printf("SSE server listening on %s", addr)
	return http.ListenAndServe(addr, nil)
}
