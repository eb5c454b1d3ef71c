package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/metrics"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// sseServer serves one scripted SSE response per request.
func sseServer(t *testing.T, script func(w http.ResponseWriter, flush func())) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing Accept header")
		}
		if r.Header.Get("X-Plan-Schema") != SchemaVersion {
			t.Errorf("missing schema header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		script(w, flusher.Flush)
	}))
}

func event(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
}

type recorder struct {
	mu      sync.Mutex
	texts   []string
	flights [][]models.Flight
	days    [][]models.ItineraryDay
	summary string
	finals  int
	errs    []error
	closed  bool
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnTextChunk: func(s string) { r.mu.Lock(); r.texts = append(r.texts, s); r.mu.Unlock() },
		OnFlights:   func(f []models.Flight) { r.mu.Lock(); r.flights = append(r.flights, f); r.mu.Unlock() },
		OnItinerary: func(d []models.ItineraryDay) { r.mu.Lock(); r.days = append(r.days, d); r.mu.Unlock() },
		OnSummary:   func(s string) { r.mu.Lock(); r.summary = s; r.mu.Unlock() },
		OnFinal:     func() { r.mu.Lock(); r.finals++; r.mu.Unlock() },
		OnError:     func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		OnClose:     func() { r.mu.Lock(); r.closed = true; r.mu.Unlock() },
	}
}

func TestStreamRoutesEvents(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		event(w, "open", "{}")
		event(w, "text", `{"text":"Searching for flights..."}`)
		event(w, "flights", `[{"id":"f1","airline":"ANA"},null]`)
		event(w, "itinerary", `{"days":[{"date":"2026-04-01","city":"Tokyo"}]}`)
		event(w, "summary", `{"summary":"A five day trip"}`)
		event(w, "final", "{}")
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	_, done := c.Open(context.Background(), OpenOptions{
		ThreadID: "t1", Message: "plan a trip", Callbacks: rec.callbacks(),
	})
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.texts) != 1 || rec.texts[0] != "Searching for flights..." {
		t.Fatalf("expected one text chunk, got %v", rec.texts)
	}
	if len(rec.flights) != 1 || len(rec.flights[0]) != 1 || rec.flights[0][0].ID != "f1" {
		t.Fatalf("expected null-filtered flights, got %v", rec.flights)
	}
	if len(rec.days) != 1 || rec.days[0][0].City != "Tokyo" {
		t.Fatalf("expected itinerary days, got %v", rec.days)
	}
	if rec.summary != "A five day trip" {
		t.Fatalf("expected summary, got %q", rec.summary)
	}
	if rec.finals != 1 {
		t.Fatalf("expected exactly one final, got %d", rec.finals)
	}
	if !rec.closed {
		t.Fatal("expected close after stream end")
	}
	if len(rec.errs) != 0 {
		t.Fatalf("unexpected errors: %v", rec.errs)
	}
}

func TestStreamBareDataIsText(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		fmt.Fprint(w, "data: plain chunk\n\n")
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	_, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: rec.callbacks()})
	<-done

	if len(rec.texts) != 1 || rec.texts[0] != "plain chunk" {
		t.Fatalf("expected bare data as text, got %v", rec.texts)
	}
}

func TestStreamUnknownEventIgnored(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		event(w, "telemetry", `{"x":1}`)
		event(w, "final", "{}")
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	_, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: rec.callbacks()})
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.texts) != 0 {
		t.Fatalf("unknown event must not route anywhere, got %v", rec.texts)
	}
	if rec.finals != 1 {
		t.Fatalf("stream must survive unknown events, finals=%d", rec.finals)
	}
}

func TestStreamDuplicateFinalFiresOnce(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		event(w, "text", `"done..."`)
		event(w, "final", "{}")
		event(w, "final", "{}")
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	_, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: rec.callbacks()})
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.finals != 1 {
		t.Fatalf("final must fire at most once, got %d", rec.finals)
	}
}

func TestStreamCancelAfterCompletionNotCounted(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		event(w, "final", "{}")
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	cancel, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: rec.callbacks()})
	<-done

	before := testutil.ToFloat64(metrics.StreamsCancelled)
	cancel()
	after := testutil.ToFloat64(metrics.StreamsCancelled)
	if after != before {
		t.Fatalf("cancel after natural completion counted as cancellation: %v -> %v", before, after)
	}
}

func TestStreamCancelDropsLateEvents(t *testing.T) {
	release := make(chan struct{})
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		event(w, "text", `"first..."`)
		flush()
		<-release
		event(w, "flights", `[{"id":"late"}]`)
		event(w, "final", "{}")
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	gotFirst := make(chan struct{})
	cb := rec.callbacks()
	inner := cb.OnTextChunk
	cb.OnTextChunk = func(s string) { inner(s); close(gotFirst) }

	cancel, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: cb})
	<-gotFirst
	cancel()
	cancel() // idempotent
	close(release)
	<-done

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.flights) != 0 {
		t.Fatalf("late flights after cancel must be dropped, got %v", rec.flights)
	}
	if rec.finals != 0 {
		t.Fatal("cancel must never fire final")
	}
	if rec.closed {
		t.Fatal("cancelled stream must not fire close")
	}
}

func TestStreamErrorEvent(t *testing.T) {
	srv := sseServer(t, func(w http.ResponseWriter, flush func()) {
		event(w, "error", `{"error":"assistant unavailable"}`)
		flush()
	})
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	_, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: rec.callbacks()})
	<-done

	if len(rec.errs) != 1 || rec.errs[0].Error() != "assistant unavailable" {
		t.Fatalf("expected one error, got %v", rec.errs)
	}
	if rec.finals != 0 {
		t.Fatal("error stream must not fire final")
	}
}

func TestStreamNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	rec := &recorder{}
	_, done := c.Open(context.Background(), OpenOptions{ThreadID: "t1", Callbacks: rec.callbacks()})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not finish")
	}
	if len(rec.errs) != 1 {
		t.Fatalf("expected status error, got %v", rec.errs)
	}
	if !rec.closed {
		t.Fatal("expected close after error")
	}
}
