package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/dossier/internal/generation"
	"github.com/starford/dossier/internal/models"
	"github.com/starford/dossier/internal/writer"
)

func drain(ch chan []byte) []string {
	time.Sleep(50 * time.Millisecond)
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func countType(msgs []string, typ string) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m, "event: "+typ+"\n") {
			n++
		}
	}
	return n
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestSectionEvents(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.SectionStarted(generation.SectionEvent{RunID: "r1", NodeID: "intro", Title: "Introduction"})
	b.SectionCompleted(generation.SectionEvent{RunID: "r1", NodeID: "intro", Status: models.StatusSucceeded})
	b.SectionCompleted(generation.SectionEvent{RunID: "r1", NodeID: "methods", Status: models.StatusFailed, Reason: "timeout"})

	msgs := drain(ch)
	if countType(msgs, TypeSectionStarted) != 1 || countType(msgs, TypeSectionCompleted) != 1 || countType(msgs, TypeSectionFailed) != 1 {
		t.Fatalf("messages = %q", msgs)
	}
	if !strings.Contains(msgs[0], `"node_id":"intro"`) {
		t.Errorf("missing data in %q", msgs[0])
	}
	// Two completions inside the throttle window yield one progress event.
	if n := countType(msgs, TypeRunProgress); n != 1 {
		t.Errorf("progress events = %d, want 1", n)
	}
}

func TestProgressThrottlePerRun(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.SectionCompleted(generation.SectionEvent{RunID: "r1", Status: models.StatusSucceeded})
	b.SectionCompleted(generation.SectionEvent{RunID: "r2", Status: models.StatusSucceeded})
	b.SectionCompleted(generation.SectionEvent{RunID: "r1", Status: models.StatusSucceeded})

	if n := countType(drain(ch), TypeRunProgress); n != 2 {
		t.Errorf("progress events = %d, want one per run", n)
	}
}

func TestRunFilter(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	only := b.Subscribe("r2")
	defer b.Unsubscribe(only)

	b.SectionStarted(generation.SectionEvent{RunID: "r1"})
	b.RunFinished(writer.RunSummary{ID: "r2", State: writer.RunFinished})
	b.PublishSourceEvent("created", "a.pdf")

	msgs := drain(only)
	if len(msgs) != 1 || countType(msgs, TypeRunFinished) != 1 {
		t.Errorf("filtered messages = %q", msgs)
	}
}

func TestSourceEvent(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishSourceEvent("deleted", "guides/a.pdf")
	msgs := drain(ch)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "event: source.deleted") || !strings.Contains(msgs[0], `"path":"guides/a.pdf"`) {
		t.Errorf("messages = %q", msgs)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?run_id=r1", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.RunFinished(writer.RunSummary{ID: "r1", State: writer.RunFinished})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: run.finished") || !strings.Contains(body, `"run_id":"r1"`) {
		t.Errorf("handler output missing event: %q", body)
	}
	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.PublishSourceEvent("updated", "x.pdf")
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
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
	b.SectionCompleted(generation.SectionEvent{RunID: "r1"})
	b.PublishSourceEvent("updated", "x.pdf")
}

func TestSSEHandlerKeepAlive(t *testing.T) {
	old := keepAlive
	keepAlive = 10 * time.Millisecond
	defer func() { keepAlive = old }()

	b := NewBroker(time.Second)
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), ": ping\n\n") {
		t.Errorf("expected keep-alive comment, got %q", w.Body.String())
	}
}
