// Package sse implements a Server-Sent Events broker for real-time updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// Event types broadcast by the broker.
const (
	TypeNoteCreated = "note.created"
	TypeNoteUpdated = "note.updated"
	TypeNoteDeleted = "note.deleted"
	TypeNoteMoved   = "note.moved"
	TypeTagsUpdated = "tags.updated"
	TypeMemoryEvent = "memory.event"
	TypeMemoryDone  = "memory.done"
	TypeMemoryError = "memory.error"
)

const (
	defaultHistory   = 128
	defaultKeepAlive = 25 * time.Second
	// retryMillis is the reconnect delay suggested to EventSource clients.
	retryMillis = 3000
)

var noteEventTypes = map[string]string{
	"created": TypeNoteCreated,
	"updated": TypeNoteUpdated,
	"deleted": TypeNoteDeleted,
	"moved":   TypeNoteMoved,
}

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// frame is one encoded event with its sequence number.
type frame struct {
	id  uint64
	raw []byte
}

type subscribeReq struct {
	ch    chan []byte
	after uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistory sets how many recent events are kept for replay to clients that
// reconnect with Last-Event-ID. Zero disables replay.
func WithHistory(n int) Option {
	return func(b *Broker) {
		if n >= 0 {
			b.history = n
		}
	}
}

// WithKeepAlive sets the interval of comment frames sent to idle streams.
// Zero disables them.
func WithKeepAlive(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.keepAlive = d
		}
	}
}

// Broker manages SSE client connections and broadcasts events.
//
// A single internal loop owns the clients, the replay history and the
// tags.updated throttle state. Public methods talk to it over channels.
type Broker struct {
	tagsMin   time.Duration
	history   int
	keepAlive time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	tagsCh        chan []string
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a new SSE broker with the given tags.updated throttle
// interval.
func NewBroker(tagsThrottle time.Duration, opts ...Option) *Broker {
	if tagsThrottle <= 0 {
		tagsThrottle = 2 * time.Second
	}

	b := &Broker{
		tagsMin:       tagsThrottle,
		history:       defaultHistory,
		keepAlive:     defaultKeepAlive,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		tagsCh:        make(chan []string, 16),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64
	var recent []frame

	// tags.updated is throttled on both edges: the first change goes out at
	// once, later ones within the window collapse into the latest value,
	// delivered when the window closes.
	var lastTags time.Time
	var pendingTags []string
	var hasPending bool
	var tagsTimer *time.Timer
	var tagsFire <-chan time.Time

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		seq++
		f := frame{id: seq, raw: fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload)}
		if b.history > 0 {
			if len(recent) == b.history {
				recent = append(recent[:0], recent[1:]...)
			}
			recent = append(recent, f)
		}

		for ch := range clients {
			select {
			case ch <- f.raw:
			default:
				// Slow client; it can catch up through Last-Event-ID.
			}
		}
	}

	sendTags := func(tags []string) {
		lastTags = time.Now()
		broadcast(Event{Type: TypeTagsUpdated, Data: map[string][]string{"tags": tags}})
	}

	for {
		select {
		case <-b.stopCh:
			if tagsTimer != nil {
				tagsTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = struct{}{}
			if req.after == 0 {
				continue
			}
			for _, f := range recent {
				if f.id <= req.after {
					continue
				}
				select {
				case req.ch <- f.raw:
				default:
				}
			}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case tags := <-b.tagsCh:
			if wait := b.tagsMin - time.Since(lastTags); wait > 0 {
				pendingTags, hasPending = tags, true
				if tagsFire == nil {
					tagsTimer = time.NewTimer(wait)
					tagsFire = tagsTimer.C
				}
				continue
			}
			sendTags(tags)

		case <-tagsFire:
			tagsFire = nil
			if hasPending {
				sendTags(pendingTags)
				pendingTags, hasPending = nil, false
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
	return b.SubscribeAfter(0)
}

// SubscribeAfter adds a new client and first delivers the retained events
// whose id is greater than lastID.
func (b *Broker) SubscribeAfter(lastID uint64) chan []byte {
	ch := make(chan []byte, max(64, b.history))
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, after: lastID}:
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

// PublishNoteEvent publishes a note change (created, updated, deleted, moved).
// Unknown kinds are dropped.
func (b *Broker) PublishNoteEvent(kind, id string) {
	typ, ok := noteEventTypes[kind]
	if !ok {
		return
	}
	b.Publish(Event{Type: typ, Data: map[string]string{"id": id}})
}

// PublishTags publishes the available-tags view, throttled.
func (b *Broker) PublishTags(tags []string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.tagsCh <- tags:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events). A reconnecting
// client's Last-Event-ID header (or lastEventId query parameter) replays the
// events it missed, as far as the history reaches.
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
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", retryMillis)
	flusher.Flush()

	ch := b.SubscribeAfter(lastEventID(r))
	defer b.Unsubscribe(ch)

	var tick <-chan time.Time
	if b.keepAlive > 0 {
		t := time.NewTicker(b.keepAlive)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
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

func lastEventID(r *http.Request) uint64 {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		v = r.URL.Query().Get("lastEventId")
	}
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
