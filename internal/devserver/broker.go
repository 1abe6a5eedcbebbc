package devserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Change is published to live reload clients after a successful rebuild
type Change struct {
	Target string `json:"target"`
	Time   int64  `json:"time"`
}

// Broker fans rebuild notifications out to server-sent-event subscribers
type Broker struct {
	mu          sync.Mutex
	subscribers map[chan Change]struct{}
	keepAlive   time.Duration
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan Change]struct{}),
		keepAlive:   30 * time.Second,
	}
}

// Subscribe registers a listener. The returned function unsubscribes it.
func (b *Broker) Subscribe() (<-chan Change, func()) {
	ch := make(chan Change, 4)

	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subscribers[ch]; ok {
			delete(b.subscribers, ch)
			close(ch)
		}
	}
}

// Publish delivers change to every subscriber. Slow subscribers that have
// not drained their buffer miss the notification.
func (b *Broker) Publish(change Change) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subscribers {
		select {
		case ch <- change:
		default:
		}
	}
}

// Subscribers returns the number of connected clients
func (b *Broker) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// ServeHTTP streams change events until the client disconnects
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	changes, unsubscribe := b.Subscribe()
	defer unsubscribe()

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case change, ok := <-changes:
			if !ok {
				return
			}
			data, err := json.Marshal(change)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode change event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: change\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
