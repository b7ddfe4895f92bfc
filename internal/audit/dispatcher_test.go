package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

type blockingSink struct {
	release chan struct{}
	mu      sync.Mutex
	seen    []Event
}

func (s *blockingSink) Emit(_ context.Context, event Event) {
	<-s.release
	s.mu.Lock()
	s.seen = append(s.seen, event)
	s.mu.Unlock()
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	defer d.Close()

	ctx := context.Background()
	for _, name := range []string{"login.success", "logout", "refresh.success"} {
		d.Emit(ctx, Event{EventType: name, Timestamp: time.Now()})
	}

	for _, want := range []string{"login.success", "logout", "refresh.success"} {
		select {
		case event := <-sink.Events():
			if event.EventType != want {
				t.Errorf("got %q, want %q", event.EventType, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestDispatcherDisabledIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, NewChannelSink(1))
	if d != nil {
		t.Fatal("disabled config must yield a nil dispatcher")
	}

	// Nil receivers are safe on all methods.
	d.Emit(context.Background(), Event{EventType: "x"})
	d.Close()
	if d.Dropped() != 0 {
		t.Error("nil dispatcher reported drops")
	}
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	ctx := context.Background()
	// One event is taken by the worker and blocks in the sink, one fills the
	// buffer; everything after that must drop instead of stalling the caller.
	for i := 0; i < 5; i++ {
		d.Emit(ctx, Event{EventType: "burst"})
	}

	if d.Dropped() == 0 {
		t.Error("overflow did not count drops")
	}

	close(sink.release)
	d.Close()

	if got := sink.count(); got == 0 || got > 2 {
		t.Errorf("delivered %d events, want 1 or 2", got)
	}
}

func TestDispatcherCloseDrainsBuffer(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		d.Emit(ctx, Event{EventType: "queued"})
	}
	d.Close()

	delivered := 0
	for {
		select {
		case <-sink.Events():
			delivered++
		default:
			if delivered != 4 {
				t.Errorf("delivered %d events after close, want 4", delivered)
			}
			return
		}
	}
}

func TestDispatcherEmitAfterClose(t *testing.T) {
	sink := NewChannelSink(2)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 2}, sink)
	d.Close()

	d.Emit(context.Background(), Event{EventType: "late"})

	select {
	case event := <-sink.Events():
		t.Errorf("closed dispatcher delivered %q", event.EventType)
	default:
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)

	sink.Emit(context.Background(), Event{
		EventType: "login.failure",
		UserID:    "u1",
		Success:   false,
		Error:     "invalid credentials",
	})

	line := strings.TrimSpace(buf.String())
	var decoded Event
	if err := json.Unmarshal([]byte(line), &decoded); err != nil {
		t.Fatalf("bad json line %q: %v", line, err)
	}
	if decoded.EventType != "login.failure" || decoded.UserID != "u1" {
		t.Errorf("round trip lost fields: %+v", decoded)
	}
}
