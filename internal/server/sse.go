package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/safespace/narratives/internal/convo"
)

// Broadcaster fans out engine events to multiple SSE clients. One
// Broadcaster per conversation. Thread-safe.
type Broadcaster struct {
	mu      sync.Mutex
	history []convo.Event
	clients map[uint64]chan convo.Event
	nextID  uint64
	closed  bool
	doneCh  chan struct{} // closed only on Close, not on slow-client drops
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[uint64]chan convo.Event),
		doneCh:  make(chan struct{}),
	}
}

// Send records the event and delivers it to every subscriber. A
// subscriber that cannot keep up is dropped so the event pump never
// blocks on a slow connection.
func (b *Broadcaster) Send(ev convo.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.history = append(b.history, ev)
	for id, ch := range b.clients {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(b.clients, id)
		}
	}
}

// Subscribe returns an events channel, a done channel, and an
// unsubscribe func. The events channel replays all history first, then
// carries live events. The done channel closes only when the
// conversation's pump finishes, never on a slow-client drop.
func (b *Broadcaster) Subscribe() (<-chan convo.Event, <-chan struct{}, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan convo.Event, len(b.history)+256)
	id := b.nextID
	b.nextID++

	// Sized to hold all history plus live headroom, so replay never
	// blocks while the mutex is held.
	for _, ev := range b.history {
		ch <- ev
	}

	if b.closed {
		close(ch)
		return ch, b.doneCh, func() {}
	}

	b.clients[id] = ch
	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.clients[id]; ok {
			delete(b.clients, id)
			close(ch)
		}
	}
	return ch, b.doneCh, unsub
}

// Close signals that no more events will arrive and releases all clients.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.doneCh)
	for id, ch := range b.clients {
		close(ch)
		delete(b.clients, id)
	}
}

// History returns a copy of every event seen so far.
func (b *Broadcaster) History() []convo.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]convo.Event, len(b.history))
	copy(out, b.history)
	return out
}

// WriteSSE streams a conversation's events to an HTTP response as
// Server-Sent Events, replaying history before going live.
func WriteSSE(w http.ResponseWriter, r *http.Request, b *Broadcaster) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx proxy compatibility
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	events, doneCh, unsub := b.Subscribe()
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Emit "done" only when the conversation actually finished,
				// not when this client was dropped for slowness.
				select {
				case <-doneCh:
					fmt.Fprintf(w, "event: done\ndata: {}\n\n")
					flusher.Flush()
				default:
				}
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
			flusher.Flush()
		}
	}
}
