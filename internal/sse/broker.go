// Package sse streams generation progress and source changes as Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/dossier/internal/generation"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/writer"
)

// Event types.
const (
	TypeSectionStarted   = "section.started"
	TypeSectionCompleted = "section.completed"
	TypeSectionFailed    = "section.failed"
	TypeRunProgress      = "run.progress"
	TypeRunFinished      = "run.finished"
	TypeSourcePrefix     = "source."
)

// Event is one message to broadcast. RunID scopes it for filtered subscribers;
// events without a RunID go to every client that did not ask for a single run.
type Event struct {
	Type  string `json:"type"`
	RunID string `json:"-"`
	Data  any    `json:"data"`
}

var keepAlive = 15 * time.Second

type progress struct {
	RunID     string `json:"run_id"`
	Completed int    `json:"completed_sections"`
}

type subscriber struct {
	ch    chan []byte
	runID string
}

// Broker fans events out to SSE clients.
//
// A single event loop owns the client set and the per-run progress counters;
// public methods talk to it over channels, so no mutexes are needed.
type Broker struct {
	progressMin time.Duration

	subscribeCh   chan subscriber
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits run.progress at most once per
// progressThrottle for each run.
func NewBroker(progressThrottle time.Duration) *Broker {
	if progressThrottle <= 0 {
		progressThrottle = time.Second
	}
	b := &Broker{
		progressMin:   progressThrottle,
		subscribeCh:   make(chan subscriber),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

type runProgress struct {
	completed int
	lastSent  time.Time
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	runs := make(map[string]*runProgress)
	var seq uint64

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", event.Type, seq, payload))
		for ch, only := range clients {
			if only != "" && only != event.RunID {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than stall the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.runID

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)
			switch event.Type {
			case TypeRunFinished:
				delete(runs, event.RunID)
			case TypeSectionCompleted, TypeSectionFailed:
				p, ok := runs[event.RunID]
				if !ok {
					p = &runProgress{}
					runs[event.RunID] = p
				}
				p.completed++
				if now := time.Now(); now.Sub(p.lastSent) >= b.progressMin {
					p.lastSent = now
					broadcast(Event{Type: TypeRunProgress, RunID: event.RunID, Data: progress{RunID: event.RunID, Completed: p.completed}})
				}
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the loop and closes every client channel.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. A non-empty runID limits it to that run's events.
func (b *Broker) Subscribe(runID string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscriber{ch: ch, runID: runID}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to the matching clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// SectionStarted implements writer.Notifier.
func (b *Broker) SectionStarted(ev generation.SectionEvent) {
	b.Publish(Event{Type: TypeSectionStarted, RunID: ev.RunID, Data: ev})
}

// SectionCompleted implements writer.Notifier. It also drives the throttled
// run.progress event.
func (b *Broker) SectionCompleted(ev generation.SectionEvent) {
	typ := TypeSectionCompleted
	if ev.Status == models.StatusFailed {
		typ = TypeSectionFailed
	}
	b.Publish(Event{Type: typ, RunID: ev.RunID, Data: ev})
}

// RunFinished implements writer.Notifier.
func (b *Broker) RunFinished(run writer.RunSummary) {
	b.Publish(Event{Type: TypeRunFinished, RunID: run.ID, Data: run})
}

// PublishSourceEvent reports a watcher-driven source change; it matches ingest.EventCallback.
func (b *Broker) PublishSourceEvent(kind, path string) {
	b.Publish(Event{Type: TypeSourcePrefix + kind, Data: map[string]string{"path": path}})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events[?run_id=...]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("run_id"))
	defer b.Unsubscribe(ch)

	// Comment lines keep proxies from closing idle streams during long sections.
	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

var _ writer.Notifier = (*Broker)(nil)
