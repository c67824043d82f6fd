package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: TypeNoteCreated, Data: map[string]string{"id": "a.md"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: note.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"id":"a.md"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishNoteEvent(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent("moved", "/store/work/a.md")

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: note.moved") || !strings.Contains(s, `"id":"/store/work/a.md"`) {
			t.Errorf("unexpected message %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishTags_Throttle(t *testing.T) {
	b := NewBroker(200 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// First change goes out at once; the next two collapse into the latest.
	b.PublishTags([]string{"a"})
	b.PublishTags([]string{"a", "b"})
	b.PublishTags([]string{"a", "b", "c"})

	var got []string
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case msg := <-ch:
			got = append(got, string(msg))
		case <-deadline:
			t.Fatalf("got %d tags events, want 2: %q", len(got), got)
		}
	}

	if !strings.Contains(got[0], `"tags":["a"]`) {
		t.Errorf("first event = %q", got[0])
	}
	if !strings.Contains(got[1], `"tags":["a","b","c"]`) {
		t.Errorf("trailing event = %q, want latest tags", got[1])
	}

	select {
	case msg := <-ch:
		t.Errorf("unexpected extra event %q", msg)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100*time.Millisecond, WithKeepAlive(0))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	waitClients(t, b, 1)
	b.Publish(Event{Type: TypeMemoryEvent, Data: map[string]string{"state": "saving"}})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 3000\n\n") {
		t.Errorf("stream should start with a retry hint: %q", body)
	}
	if !strings.Contains(body, "id: 1\nevent: memory.event\n") {
		t.Errorf("handler output missing event: %q", body)
	}

	waitClients(t, b, 0)
}

func TestSSEHandler_ReplaysAfterLastEventID(t *testing.T) {
	b := NewBroker(time.Second, WithKeepAlive(0))
	defer b.Close()

	// A subscriber keeps the loop ordered before the handler connects.
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)
	for _, id := range []string{"a.md", "b.md", "c.md"} {
		b.PublishNoteEvent("updated", id)
		<-ch
	}

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Last-Event-ID", "1")
	w := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()
	waitClients(t, b, 2)
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if strings.Contains(body, "a.md") {
		t.Errorf("event 1 was already seen: %q", body)
	}
	b2 := strings.Index(body, `"id":"b.md"`)
	c3 := strings.Index(body, `"id":"c.md"`)
	if b2 < 0 || c3 < 0 || b2 > c3 {
		t.Errorf("missed events not replayed in order: %q", body)
	}
}

func TestSubscribeAfter_HistoryBounded(t *testing.T) {
	b := NewBroker(time.Second, WithHistory(2))
	defer b.Close()

	sub := b.Subscribe()
	for i := range 5 {
		b.Publish(Event{Type: "test", Data: map[string]int{"i": i}})
		<-sub
	}
	b.Unsubscribe(sub)

	ch := b.SubscribeAfter(1)
	defer b.Unsubscribe(ch)

	var got []string
	for len(got) < 2 {
		select {
		case msg := <-ch:
			got = append(got, string(msg))
		case <-time.After(time.Second):
			t.Fatalf("got %d replayed events, want 2", len(got))
		}
	}
	if !strings.HasPrefix(got[0], "id: 4\n") || !strings.HasPrefix(got[1], "id: 5\n") {
		t.Errorf("replayed = %q, want ids 4 and 5", got)
	}
}

func TestKeepAlive(t *testing.T) {
	b := NewBroker(time.Second, WithKeepAlive(20*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Errorf("no keepalive in %q", w.Body.String())
	}
}

func TestPublishNoteEvent_UnknownKind(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent("renamed", "a.md")
	b.PublishNoteEvent("deleted", "a.md")

	select {
	case msg := <-ch:
		if !strings.Contains(string(msg), "event: note.deleted") {
			t.Errorf("unknown kind leaked: %q", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second, WithHistory(0))
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// Nobody reads ch; publishing past its capacity must not block the loop.
	for range 100 {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
	deadline := time.Now().Add(time.Second)
	for len(ch) != cap(ch) {
		if time.Now().After(deadline) {
			t.Fatalf("buffer = %d/%d, want full", len(ch), cap(ch))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if n := b.ClientCount(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}

func waitClients(t *testing.T, b *Broker, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", b.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Should be safe no-op after close.
	b.Publish(Event{Type: TypeNoteUpdated, Data: map[string]string{"id": "x.md"}})
	b.PublishNoteEvent("updated", "x.md")
	b.PublishTags([]string{"x"})
}
