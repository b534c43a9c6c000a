package main

import (
	"sync"
)

// Broker fans monitor events out to the SSE clients and other sinks.
// A subscription can be narrowed to specific event kinds, so a sink
// that only forwards beats is not woken for rhythm-state changes.
type Broker struct {
	mu      sync.RWMutex
	clients map[chan LeadEvent][]string // subscribed kinds, empty = all
}

func NewBroker() *Broker {
	return &Broker{clients: make(map[chan LeadEvent][]string)}
}

// Subscribe registers a client for the named event kinds, or for every
// event if none are given. The channel holds a few beats' worth of
// events; a client that stops draining loses events rather than
// stalling the monitor loop.
func (b *Broker) Subscribe(kinds ...string) (ch chan LeadEvent, unsubscribe func()) {
	ch = make(chan LeadEvent, 16)
	b.mu.Lock()
	b.clients[ch] = kinds
	b.mu.Unlock()
	return ch, func() {
		b.mu.Lock()
		delete(b.clients, ch)
		b.mu.Unlock()
		close(ch)
	}
}

func (b *Broker) Publish(msg LeadEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, kinds := range b.clients {
		if !wantsKind(kinds, msg.Event.Event) {
			continue
		}
		select {
		case ch <- msg:
		default:
			// lagging client; it keeps its subscription but loses this event
		}
	}
}

func wantsKind(kinds []string, kind string) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}
