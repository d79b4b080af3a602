// Package sse implements a Server-Sent Events broker for live forest updates.
package sse

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
)

// Event types sent to clients.
const (
	TypeForestUpdated = "forest.updated"
	TypeTreeChanged   = "tree.changed"
	TypeGraphUpdated  = "graph.updated"
	TypeViewUpdated   = "view.updated"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// GraphInfo is the payload of graph.updated.
type GraphInfo struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal event loop owns the mutable state (clients and the
// graph throttle). Public methods talk to the loop through channels.
type Broker struct {
	graphMin time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	graphCh       chan GraphInfo
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given graph throttle interval.
func NewBroker(graphThrottle time.Duration) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphMin:      graphThrottle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		graphCh:       make(chan GraphInfo, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastGraph    time.Time
		pending      *GraphInfo
		trailing     *time.Timer
		trailingFire <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	sendGraph := func(info GraphInfo) {
		lastGraph = time.Now()
		pending = nil
		broadcast(Event{Type: TypeGraphUpdated, Data: info})
	}

	for {
		select {
		case <-b.stopCh:
			if trailing != nil {
				trailing.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case info := <-b.graphCh:
			// At most one graph.updated per interval; the latest skipped
			// update is delivered when the interval ends.
			wait := b.graphMin - time.Since(lastGraph)
			if wait <= 0 {
				sendGraph(info)
				continue
			}
			pending = &info
			if trailing == nil {
				trailing = time.NewTimer(wait)
				trailingFire = trailing.C
			} else if trailingFire == nil {
				trailing.Reset(wait)
				trailingFire = trailing.C
			}

		case <-trailingFire:
			trailingFire = nil
			if pending != nil {
				sendGraph(*pending)
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
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

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishForestUpdated announces a new forest snapshot.
func (b *Broker) PublishForestUpdated(trees int, status string) {
	b.Publish(Event{Type: TypeForestUpdated, Data: map[string]any{"trees": trees, "status": status}})
}

// PublishTreeChanged announces a file change reported by the watcher.
func (b *Broker) PublishTreeChanged(kind, path string) {
	b.Publish(Event{Type: TypeTreeChanged, Data: map[string]string{"kind": kind, "path": path}})
}

// PublishViewUpdated announces a view state change caused by gesture.
func (b *Broker) PublishViewUpdated(gesture, id string) {
	b.Publish(Event{Type: TypeViewUpdated, Data: map[string]string{"gesture": gesture, "id": id}})
}

// PublishGraphUpdated announces a rebuilt graph, throttled.
func (b *Broker) PublishGraphUpdated(info GraphInfo) {
	if b.closed.Load() {
		return
	}
	select {
	case b.graphCh <- info:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
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

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
