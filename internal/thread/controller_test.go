package thread

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/chatapi"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/store"
	"github.com/RohitAchyutuni/PlanGenie/internal/stream"
)

// fakeStream is one scripted plan stream. Tests drive its callbacks directly.
type fakeStream struct {
	opts      stream.OpenOptions
	done      chan struct{}
	once      sync.Once
	cancelled atomic.Bool
}

func (f *fakeStream) finish() { f.once.Do(func() { close(f.done) }) }

// fakeBackend satisfies Backend with scripted responses.
type fakeBackend struct {
	mu         sync.Mutex
	plan       models.PlanViewModel
	records    []models.ChatRecord
	title      string
	fetchCount int
	fetchDone  chan struct{}
	streams    []*fakeStream

	// cancelDelay defers done-channel closure after cancel, emulating a
	// stream goroutine that takes a while to drain.
	cancelDelay time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{title: "Generated Title", fetchDone: make(chan struct{}, 16)}
}

func (b *fakeBackend) FetchPlan(ctx context.Context, threadID string, cb chatapi.PlanCallbacks) error {
	b.mu.Lock()
	b.fetchCount++
	p := b.plan
	b.mu.Unlock()

	if cb.OnFlights != nil {
		cb.OnFlights(p.Flights)
	}
	if cb.OnHotels != nil {
		cb.OnHotels(p.Hotels)
	}
	if cb.OnItinerary != nil {
		cb.OnItinerary(p.ItineraryDays)
	}
	if cb.OnSummary != nil {
		cb.OnSummary(p.Summary)
	}
	b.fetchDone <- struct{}{}
	return nil
}

func (b *fakeBackend) GenerateChatTitle(ctx context.Context, firstMessage string) (string, error) {
	return b.title, nil
}

func (b *fakeBackend) UpdateChatTitle(ctx context.Context, threadID, title string) error {
	return nil
}

func (b *fakeBackend) GetUserChats(ctx context.Context) ([]models.ChatRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.records, nil
}

func (b *fakeBackend) OpenPlanStream(ctx context.Context, opts stream.OpenOptions) (func(), <-chan struct{}) {
	f := &fakeStream{opts: opts, done: make(chan struct{})}
	b.mu.Lock()
	b.streams = append(b.streams, f)
	b.mu.Unlock()

	delay := b.cancelDelay
	cancel := func() {
		f.cancelled.Store(true)
		if delay > 0 {
			time.AfterFunc(delay, f.finish)
		} else {
			f.finish()
		}
	}
	return cancel, f.done
}

func (b *fakeBackend) lastStream(t *testing.T) *fakeStream {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.streams) == 0 {
		t.Fatal("no stream opened")
	}
	return b.streams[len(b.streams)-1]
}

func (b *fakeBackend) awaitFetch(t *testing.T) {
	t.Helper()
	select {
	case <-b.fetchDone:
	case <-time.After(5 * time.Second):
		t.Fatal("plan fetch never ran")
	}
}

func newTestController(t *testing.T) (*Controller, *store.MemoryStore, *fakeBackend) {
	t.Helper()
	threads := store.NewMemoryStore()
	backend := newFakeBackend()
	c := NewController(threads, nil, backend, zerolog.Nop())
	return c, threads, backend
}

func seedThread(t *testing.T, threads *store.MemoryStore, th *models.ChatThread) {
	t.Helper()
	if err := threads.SaveThread(context.Background(), th); err != nil {
		t.Fatal(err)
	}
}

// longContent is prose long enough to be treated as message content rather
// than progress narration.
var longContent = "Here is the full picture of the trip. " +
	strings.Repeat("Each day pairs one museum with one neighborhood walk. ", 5)

func TestSwitchExtractsBeforeReconcile(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{
		ID: "t1", Title: "Tokyo", UpdatedAt: "2026-04-01T00:00:00Z",
		Messages: []models.Message{
			{ID: "a", Role: models.RoleAssistant, Content: []models.ContentBlock{{
				Type:    models.BlockFlights,
				Flights: []models.Flight{{ID: "f-local"}},
			}}},
		},
	})

	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready, got %v", c.State())
	}

	p := c.Plans().Snapshot()
	if len(p.Flights) != 1 || p.Flights[0].ID != "f-local" {
		t.Fatalf("expected locally derived flights, got %+v", p.Flights)
	}
	backend.awaitFetch(t)
	if got := backend.fetchCount; got != 1 {
		t.Fatalf("expected exactly one reconciliation fetch, got %d", got)
	}
}

func TestReconcileNonEmptySlicesOnly(t *testing.T) {
	c, threads, backend := newTestController(t)
	backend.plan = models.PlanViewModel{
		Flights: []models.Flight{},
		Hotels:  []models.Hotel{{ID: "h-backend"}},
	}
	seedThread(t, threads, &models.ChatThread{
		ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z",
		Messages: []models.Message{
			{ID: "a", Role: models.RoleAssistant, Content: []models.ContentBlock{{
				Type:    models.BlockFlights,
				Flights: []models.Flight{{ID: "f-local"}},
			}}},
		},
	})

	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	p := c.Plans().Snapshot()
	if len(p.Flights) != 1 || p.Flights[0].ID != "f-local" {
		t.Fatalf("empty backend flights must not erase local ones, got %+v", p.Flights)
	}
	if len(p.Hotels) != 1 || p.Hotels[0].ID != "h-backend" {
		t.Fatalf("non-empty backend hotels must apply, got %+v", p.Hotels)
	}
}

func TestSwitchFallsBackToBackendList(t *testing.T) {
	c, threads, backend := newTestController(t)
	backend.records = []models.ChatRecord{
		{ID: "t-remote", Title: "Remote", CreatedAt: "2026-04-01T00:00:00Z"},
	}

	if err := c.Switch(context.Background(), "t-remote"); err != nil {
		t.Fatal(err)
	}
	active := c.ActiveThread()
	if active == nil || active.Title != "Remote" {
		t.Fatalf("expected remote thread activated, got %+v", active)
	}

	saved, err := threads.GetThread(context.Background(), "t-remote")
	if err != nil || saved == nil {
		t.Fatalf("remote thread must be persisted, got %v, %v", saved, err)
	}
	backend.awaitFetch(t)
}

func TestSwitchUnknownThread(t *testing.T) {
	c, _, _ := newTestController(t)
	err := c.Switch(context.Background(), "missing")
	if err != ErrThreadNotFound {
		t.Fatalf("expected ErrThreadNotFound, got %v", err)
	}
	if c.State() != StateNotFound {
		t.Fatalf("expected not_found state, got %v", c.State())
	}
}

func TestSendWithoutActiveThread(t *testing.T) {
	c, _, _ := newTestController(t)
	if err := c.Send(context.Background(), "hi"); err != ErrNoActiveThread {
		t.Fatalf("expected ErrNoActiveThread, got %v", err)
	}
}

func TestSendAppendsAndStreams(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	if err := c.Send(context.Background(), "plan me a trip"); err != nil {
		t.Fatal(err)
	}
	if c.State() != StateStreaming {
		t.Fatalf("expected streaming, got %v", c.State())
	}

	saved, _ := threads.GetThread(context.Background(), "t1")
	if len(saved.Messages) != 2 {
		t.Fatalf("expected user + assistant messages persisted, got %d", len(saved.Messages))
	}
	if saved.Messages[0].Role != models.RoleUser || saved.Messages[0].TextBlock().Text != "plan me a trip" {
		t.Fatalf("user message wrong: %+v", saved.Messages[0])
	}
	if !saved.Messages[1].Streaming {
		t.Fatal("assistant message must start streaming")
	}

	s := backend.lastStream(t)
	if s.opts.ThreadID != "t1" || s.opts.Message != "plan me a trip" {
		t.Fatalf("stream opened with wrong options: %+v", s.opts)
	}
}

func TestStreamLifecycle(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)
	if err := c.Send(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	s := backend.lastStream(t)
	cb := s.opts.Callbacks

	cb.OnTextChunk("Searching for flights...")
	cb.OnTextChunk("Building your itinerary...")
	steps := c.Steps()
	if len(steps) != 2 {
		t.Fatalf("expected 2 progress steps, got %d", len(steps))
	}
	if !steps[0].Completed || steps[1].Completed {
		t.Fatalf("earlier step completes when a new one arrives: %+v", steps)
	}

	// Duplicate narration must not add a step.
	cb.OnTextChunk("Searching for flights...")
	if got := len(c.Steps()); got != 2 {
		t.Fatalf("duplicate step added, now %d", got)
	}

	cb.OnFlights([]models.Flight{{ID: "f1"}})
	steps = c.Steps()
	if !steps[0].Completed {
		t.Fatal("flight step must complete on flights event")
	}
	if p := c.Plans().Snapshot(); len(p.Flights) != 1 {
		t.Fatalf("flights not applied: %+v", p.Flights)
	}

	cb.OnItinerary([]models.ItineraryDay{{Date: "2026-04-01"}})
	if !c.Steps()[1].Completed {
		t.Fatal("itinerary step must complete on itinerary event")
	}

	cb.OnTextChunk(longContent)
	cb.OnSummary("Short summary")
	cb.OnFinal()
	s.finish()

	if c.State() != StateReady {
		t.Fatalf("expected ready after final, got %v", c.State())
	}
	saved, _ := threads.GetThread(context.Background(), "t1")
	asst := saved.Messages[len(saved.Messages)-1]
	if asst.Streaming {
		t.Fatal("assistant message must stop streaming on final")
	}
	if asst.TextBlock() == nil || !strings.Contains(asst.TextBlock().Text, "full picture") {
		t.Fatalf("content chunk lost: %+v", asst.Content)
	}
	if fb := asst.Block(models.BlockFlights); fb == nil || len(fb.Flights) != 1 {
		t.Fatalf("flights block not mirrored into message: %+v", asst.Content)
	}
	if p := c.Plans().Snapshot(); p.Summary != "Short summary" {
		t.Fatalf("summary not applied: %q", p.Summary)
	}
}

func TestSecondSendCancelsFirst(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	if err := c.Send(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	first := backend.lastStream(t)

	if err := c.Send(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	if !first.cancelled.Load() {
		t.Fatal("first stream must be cancelled before the second opens")
	}

	// Late events from the superseded stream must be dropped.
	first.opts.Callbacks.OnFlights([]models.Flight{{ID: "stale"}})
	if p := c.Plans().Snapshot(); len(p.Flights) != 0 {
		t.Fatalf("stale stream wrote into fresh plan: %+v", p.Flights)
	}

	second := backend.lastStream(t)
	if second == first {
		t.Fatal("no second stream opened")
	}
	if second.opts.Message != "second" {
		t.Fatalf("wrong message on second stream: %q", second.opts.Message)
	}
}

func TestConcurrentSendsKeepOneLiveStream(t *testing.T) {
	c, threads, backend := newTestController(t)
	backend.cancelDelay = 20 * time.Millisecond
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	if err := c.Send(context.Background(), "one"); err != nil {
		t.Fatal(err)
	}

	// Two more sends race while the first stream drains slowly.
	var wg sync.WaitGroup
	for _, msg := range []string{"two", "three"} {
		wg.Add(1)
		msg := msg
		go func() {
			defer wg.Done()
			if err := c.Send(context.Background(), msg); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	backend.mu.Lock()
	streams := append([]*fakeStream{}, backend.streams...)
	backend.mu.Unlock()

	if len(streams) != 3 {
		t.Fatalf("expected 3 streams opened, got %d", len(streams))
	}
	live := 0
	for i, s := range streams {
		if s.cancelled.Load() {
			continue
		}
		live++
		if i != len(streams)-1 {
			t.Fatalf("superseded stream %d left uncancelled", i)
		}
	}
	if live != 1 {
		t.Fatalf("expected exactly one live stream, got %d", live)
	}

	saved, _ := threads.GetThread(context.Background(), "t1")
	if len(saved.Messages) != 6 {
		t.Fatalf("expected 6 persisted messages, got %d", len(saved.Messages))
	}
	for i, m := range saved.Messages[:len(saved.Messages)-1] {
		if m.Streaming {
			t.Fatalf("superseded message %d still marked streaming", i)
		}
	}
	if !saved.Messages[len(saved.Messages)-1].Streaming {
		t.Fatal("latest assistant message should be streaming")
	}
}

func TestStopFreezesPartial(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)
	if err := c.Send(context.Background(), "go"); err != nil {
		t.Fatal(err)
	}

	s := backend.lastStream(t)
	s.opts.Callbacks.OnTextChunk(longContent)
	s.opts.Callbacks.OnFlights([]models.Flight{{ID: "f-partial"}})

	c.Stop(context.Background())

	if !s.cancelled.Load() {
		t.Fatal("stop must cancel the stream")
	}
	if c.State() != StateReady {
		t.Fatalf("expected ready after stop, got %v", c.State())
	}

	saved, _ := threads.GetThread(context.Background(), "t1")
	asst := saved.Messages[len(saved.Messages)-1]
	if asst.Streaming {
		t.Fatal("partial message must be frozen")
	}
	if asst.TextBlock() == nil || asst.TextBlock().Text == "" {
		t.Fatal("partial content must survive stop")
	}
	if p := c.Plans().Snapshot(); len(p.Flights) != 1 {
		t.Fatalf("partial plan must survive stop: %+v", p.Flights)
	}

	// Stop with nothing in flight is a no-op.
	c.Stop(context.Background())
}

func TestFirstSendGeneratesTitle(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", Title: "New Trip", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)
	if err := c.Send(context.Background(), "weekend in Lisbon"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if active := c.ActiveThread(); active != nil && active.Title == "Generated Title" {
			saved, _ := threads.GetThread(context.Background(), "t1")
			if saved.Title != "Generated Title" {
				t.Fatalf("title not persisted: %q", saved.Title)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("title never generated")
}

func TestDeleteClearsActive(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	if err := c.Delete(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	if c.ActiveThread() != nil {
		t.Fatal("active thread must be cleared on delete")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after delete, got %v", c.State())
	}
	if saved, _ := threads.GetThread(context.Background(), "t1"); saved != nil {
		t.Fatal("thread must be gone from storage")
	}
}

func TestThreadListChangePrunesOnMembership(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	// Active id still present: no reset.
	c.HandleThreadListChange([]string{"t1", "t2"})
	if c.ActiveThread() == nil {
		t.Fatal("active thread pruned while still listed")
	}

	// Same membership again: no-op.
	c.HandleThreadListChange([]string{"t1", "t2"})
	if c.ActiveThread() == nil {
		t.Fatal("unchanged membership must not reset")
	}

	// Active id gone: prune.
	c.HandleThreadListChange([]string{"t2"})
	if c.ActiveThread() != nil {
		t.Fatal("active thread must be pruned when delisted")
	}
	if c.State() != StateIdle {
		t.Fatalf("expected idle after prune, got %v", c.State())
	}
}

func TestSendResetsPlanAndSteps(t *testing.T) {
	c, threads, backend := newTestController(t)
	seedThread(t, threads, &models.ChatThread{ID: "t1", UpdatedAt: "2026-04-01T00:00:00Z"})
	if err := c.Switch(context.Background(), "t1"); err != nil {
		t.Fatal(err)
	}
	backend.awaitFetch(t)

	if err := c.Send(context.Background(), "first"); err != nil {
		t.Fatal(err)
	}
	s := backend.lastStream(t)
	s.opts.Callbacks.OnTextChunk("Searching hotels...")
	s.opts.Callbacks.OnHotels([]models.Hotel{{ID: "h1"}})
	s.opts.Callbacks.OnFinal()
	s.finish()

	if err := c.Send(context.Background(), "second"); err != nil {
		t.Fatal(err)
	}
	if p := c.Plans().Snapshot(); len(p.Hotels) != 0 {
		t.Fatalf("plan must reset on new send, got %+v", p.Hotels)
	}
	if len(c.Steps()) != 0 {
		t.Fatalf("steps must reset on new send, got %+v", c.Steps())
	}
}
