package thread

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/chatapi"
	"github.com/RohitAchyutuni/PlanGenie/internal/metrics"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/plan"
	"github.com/RohitAchyutuni/PlanGenie/internal/store"
	"github.com/RohitAchyutuni/PlanGenie/internal/stream"
)

// State is the controller's position in the active-thread lifecycle.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateStreaming
	StateNotFound
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateStreaming:
		return "streaming"
	case StateNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

var (
	// ErrNoActiveThread is returned by Send when no thread is loaded.
	ErrNoActiveThread = errors.New("no active thread")
	// ErrThreadNotFound is returned by Switch when neither local storage
	// nor the backend knows the requested id.
	ErrThreadNotFound = store.ErrThreadNotFound
)

// Backend is the assistant API surface the controller depends on.
// *chatapi.Client satisfies it.
type Backend interface {
	FetchPlan(ctx context.Context, threadID string, cb chatapi.PlanCallbacks) error
	GenerateChatTitle(ctx context.Context, firstMessage string) (string, error)
	UpdateChatTitle(ctx context.Context, threadID, title string) error
	GetUserChats(ctx context.Context) ([]models.ChatRecord, error)
	OpenPlanStream(ctx context.Context, opts stream.OpenOptions) (cancel func(), done <-chan struct{})
}

// Controller owns the active thread and its plan view model. All public
// methods serialize on one mutex, the cooperative-scheduling analog of the
// browser event loop: stream callbacks, sends and switches never interleave
// mid-mutation. Nothing else writes the active thread or the plan store.
type Controller struct {
	// opMu serializes the lifecycle operations: switch, send, stop, delete,
	// prune. mu alone is not enough for them, because it is released while a
	// cancelled stream drains; without opMu two operations could both pass
	// that window and each open a stream, leaving one uncancellable.
	opMu sync.Mutex
	mu   sync.Mutex

	threads store.ThreadStore
	cache   *store.RedisCache
	backend Backend
	plans   *plan.Store
	logger  zerolog.Logger

	// Notify surfaces live-stream errors to the user. Optional; assigned
	// once before use.
	Notify func(err error)

	state       State
	active      *models.ChatThread
	activeMsgID string // id of the in-flight assistant message
	steps       []models.ThoughtStep

	cancelStream func()
	streamDone   <-chan struct{}
	// streamGen increments on every send and switch; callbacks from a
	// superseded stream compare generations and drop themselves.
	streamGen uint64

	extracted  versionToken // last applied extraction token
	fetchedFor string       // thread id the one-shot reconciliation ran for
	knownIDs   string       // membership fingerprint of the thread list
}

// NewController wires a controller around its collaborators. The plan store
// is created here and lives for the controller's session; cache may be nil.
func NewController(threads store.ThreadStore, cache *store.RedisCache, backend Backend, logger zerolog.Logger) *Controller {
	return &Controller{
		threads: threads,
		cache:   cache,
		backend: backend,
		plans:   plan.NewStore(),
		logger:  logger,
		state:   StateIdle,
	}
}

// Plans returns the controller-owned plan store. Consumers subscribe to it;
// they never mutate it.
func (c *Controller) Plans() *plan.Store { return c.plans }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ActiveThread returns a copy of the active thread, or nil.
func (c *Controller) ActiveThread() *models.ChatThread {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	clone := *c.active
	clone.Messages = append([]models.Message{}, c.active.Messages...)
	return &clone
}

// Steps returns a copy of the current progress steps.
func (c *Controller) Steps() []models.ThoughtStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ThoughtStep{}, c.steps...)
}

// Switch makes threadID the active thread. Any in-flight stream for the
// previous thread is cancelled and awaited first, the plan store is cleared,
// and the plan is re-derived from the new thread's history before any
// network call so the UI never renders another thread's data. Exactly one
// backend reconciliation fetch is issued per load. An empty id parks the
// controller in Idle.
func (c *Controller) Switch(ctx context.Context, threadID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopStreamLocked()
	c.finalizeActiveMessageLocked(true)
	c.clearActiveLocked()

	if threadID == "" {
		c.state = StateIdle
		return nil
	}
	c.state = StateLoading

	loaded, err := c.lookupLocked(ctx, threadID)
	if err != nil {
		c.state = StateIdle
		return err
	}
	if loaded == nil {
		loaded = c.fetchFromBackendLocked(ctx, threadID)
	}
	if loaded == nil {
		c.state = StateNotFound
		return ErrThreadNotFound
	}

	c.active = loaded
	c.state = StateReady

	// Local derivation first, reconciliation second.
	c.extractAndApplyLocked()
	c.reconcileOnceLocked(threadID)
	return nil
}

// lookupLocked finds a thread synchronously: persisted storage first.
func (c *Controller) lookupLocked(ctx context.Context, threadID string) (*models.ChatThread, error) {
	thread, err := c.threads.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return thread, nil
}

// fetchFromBackendLocked is the miss path: one backend chat-list fetch,
// converting and persisting the record when found.
func (c *Controller) fetchFromBackendLocked(ctx context.Context, threadID string) *models.ChatThread {
	records, err := c.backend.GetUserChats(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("backend chat list fetch failed")
		return nil
	}
	for _, rec := range records {
		if rec.ID != threadID {
			continue
		}
		thread := rec.ToThread()
		if err := c.threads.SaveThread(ctx, thread); err != nil {
			c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("failed to persist backend thread")
		}
		return thread
	}
	return nil
}

// extractAndApplyLocked derives the plan from the active thread's history
// and pushes it into the plan store. Skipped when the thread's version
// token is unchanged since the last derivation.
func (c *Controller) extractAndApplyLocked() {
	if c.active == nil {
		return
	}
	token := tokenFor(c.active)
	if token == c.extracted {
		return
	}
	c.extracted = token

	derived := ExtractPlan(c.active)
	c.plans.SetFlights(derived.Flights)
	c.plans.SetHotels(derived.Hotels)
	c.plans.SetItineraryDays(derived.ItineraryDays)
	if derived.Summary != "" {
		c.plans.SetSummary(derived.Summary)
	}
}

// reconcileOnceLocked issues the per-load backend plan fetch. A slice is
// only overwritten when the fetched slice is non-empty, so a transient or
// incomplete backend response can never erase locally derived state.
func (c *Controller) reconcileOnceLocked(threadID string) {
	if c.fetchedFor == threadID {
		return
	}
	c.fetchedFor = threadID

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		applied := false
		err := c.backend.FetchPlan(ctx, threadID, chatapi.PlanCallbacks{
			OnFlights: func(flights []models.Flight) {
				if c.applySliceIfActive(threadID, len(flights) > 0, func() { c.plans.SetFlights(flights) }) {
					applied = true
				}
			},
			OnHotels: func(hotels []models.Hotel) {
				if c.applySliceIfActive(threadID, len(hotels) > 0, func() { c.plans.SetHotels(hotels) }) {
					applied = true
				}
			},
			OnItinerary: func(days []models.ItineraryDay) {
				if c.applySliceIfActive(threadID, len(days) > 0, func() { c.plans.SetItineraryDays(days) }) {
					applied = true
				}
			},
			OnSummary: func(summary string) {
				if c.applySliceIfActive(threadID, summary != "", func() { c.plans.SetSummary(summary) }) {
					applied = true
				}
			},
		})
		if err != nil {
			// Use existing data; a failed reconciliation is never fatal.
			metrics.PlanReconciliations.WithLabelValues("failed").Inc()
			c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("plan reconciliation failed, using locally derived plan")
			c.applyCachedSnapshot(threadID)
			return
		}
		if applied {
			metrics.PlanReconciliations.WithLabelValues("applied").Inc()
		} else {
			metrics.PlanReconciliations.WithLabelValues("empty").Inc()
		}
	}()
}

// applySliceIfActive runs apply under the controller lock, but only when the
// slice is non-empty and the thread is still the active one. Returns whether
// it applied.
func (c *Controller) applySliceIfActive(threadID string, nonEmpty bool, apply func()) bool {
	if !nonEmpty {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil || c.active.ID != threadID {
		return false
	}
	apply()
	return true
}

// applyCachedSnapshot falls back to the redis plan snapshot after a failed
// reconciliation, under the same non-empty-only rule.
func (c *Controller) applyCachedSnapshot(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	snapshot, err := c.cache.GetPlanSnapshot(ctx, threadID)
	if err != nil || snapshot == nil {
		return
	}
	c.applySliceIfActive(threadID, len(snapshot.Flights) > 0, func() { c.plans.SetFlights(snapshot.Flights) })
	c.applySliceIfActive(threadID, len(snapshot.Hotels) > 0, func() { c.plans.SetHotels(snapshot.Hotels) })
	c.applySliceIfActive(threadID, len(snapshot.ItineraryDays) > 0, func() { c.plans.SetItineraryDays(snapshot.ItineraryDays) })
	c.applySliceIfActive(threadID, snapshot.Summary != "", func() { c.plans.SetSummary(snapshot.Summary) })
}

// Send appends the user's message, persists it, and opens the plan stream
// for the assistant's reply. A prior in-flight stream is cancelled and
// awaited first so two streams never write into the same message.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == nil {
		return ErrNoActiveThread
	}

	c.stopStreamLocked()
	if c.active == nil {
		return ErrNoActiveThread
	}
	// Freeze any partial reply the superseded turn accumulated.
	c.finalizeActiveMessageLocked(true)
	threadID := c.active.ID
	firstMessage := len(c.active.Messages) == 0

	now := time.Now().UTC().Format(time.RFC3339)
	userMsg := models.Message{
		ID:        ulid.Make().String(),
		Role:      models.RoleUser,
		CreatedAt: now,
		Content:   []models.ContentBlock{{Type: models.BlockText, Text: text}},
	}
	c.active.Messages = append(c.active.Messages, userMsg)
	c.active.UpdatedAt = now
	c.saveActiveLocked(ctx)
	metrics.MessagesSent.Inc()

	if firstMessage {
		go c.generateTitle(threadID, text)
	}

	// Fresh plan and progress state for the new turn.
	c.plans.ResetPlan()
	c.steps = nil
	c.extracted = versionToken{}

	assistantMsg := models.Message{
		ID:        ulid.Make().String(),
		Role:      models.RoleAssistant,
		CreatedAt: now,
		Content:   []models.ContentBlock{{Type: models.BlockText}},
		Streaming: true,
	}
	c.active.Messages = append(c.active.Messages, assistantMsg)
	c.activeMsgID = assistantMsg.ID
	c.saveActiveLocked(ctx)

	c.streamGen++
	gen := c.streamGen
	cancel, done := c.backend.OpenPlanStream(context.Background(), stream.OpenOptions{
		ThreadID:  threadID,
		Message:   text,
		Callbacks: c.streamCallbacks(gen, threadID),
	})
	c.cancelStream = cancel
	c.streamDone = done
	c.state = StateStreaming
	return nil
}

// streamCallbacks binds stream events to controller side effects. Every
// callback re-checks the stream generation under the lock so a superseded
// stream can never touch newer state.
func (c *Controller) streamCallbacks(gen uint64, threadID string) stream.Callbacks {
	return stream.Callbacks{
		OnOpen: func() {
			c.withStream(gen, func() { c.state = StateStreaming })
		},
		OnTextChunk: func(text string) {
			c.withStream(gen, func() { c.handleTextChunkLocked(text) })
		},
		OnFlights: func(flights []models.Flight) {
			c.withStream(gen, func() {
				c.plans.SetFlights(flights)
				c.completeStepsLocked("flight")
				c.mirrorBlockLocked(models.BlockFlights, func(b *models.ContentBlock) { b.Flights = flights })
			})
		},
		OnHotels: func(hotels []models.Hotel) {
			c.withStream(gen, func() {
				c.plans.SetHotels(hotels)
				c.completeStepsLocked("hotel")
				c.mirrorBlockLocked(models.BlockHotels, func(b *models.ContentBlock) { b.Hotels = hotels })
			})
		},
		OnItinerary: func(days []models.ItineraryDay) {
			c.withStream(gen, func() {
				c.plans.SetItineraryDays(days)
				c.completeStepsLocked("itinerary", "plan", "schedule")
				c.mirrorBlockLocked(models.BlockItinerary, func(b *models.ContentBlock) { b.Itinerary = days })
			})
		},
		OnSummary: func(summary string) {
			c.withStream(gen, func() {
				c.plans.SetSummary(summary)
				c.completeStepsLocked()
			})
		},
		OnError: func(err error) {
			c.withStream(gen, func() {
				c.logger.Error().Err(err).Str("thread_id", threadID).Msg("stream error")
				if c.Notify != nil {
					go c.Notify(err)
				}
				c.finalizeActiveMessageLocked(false)
				c.state = StateReady
			})
		},
		OnClose: func() {
			c.withStream(gen, func() {
				if c.state == StateStreaming {
					c.state = StateReady
				}
			})
		},
		OnFinal: func() {
			c.withStream(gen, func() {
				c.finalizeActiveMessageLocked(true)
				c.completeStepsLocked()
				c.state = StateReady
				c.cancelStream = nil
				c.streamDone = nil
				go c.cacheSnapshot(threadID)
			})
		},
	}
}

// withStream runs fn under the lock only while gen is still the live stream.
func (c *Controller) withStream(gen uint64, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.streamGen || c.active == nil {
		return
	}
	fn()
}

// handleTextChunkLocked routes one text chunk: progress narration feeds the
// thought steps, content is appended verbatim to the active message's text
// block. Never both.
func (c *Controller) handleTextChunkLocked(text string) {
	if stream.IsProgressNarration(text) {
		c.addStepLocked(strings.TrimSpace(text))
		return
	}

	msg := c.activeMessageLocked()
	if msg == nil {
		return
	}
	if block := msg.TextBlock(); block != nil {
		block.Text += text
	} else {
		msg.Content = append(msg.Content, models.ContentBlock{Type: models.BlockText, Text: text})
	}
	c.touchAndSaveLocked()
}

// addStepLocked appends one progress step, suppressing duplicates of an
// existing step's text and marking earlier steps completed.
func (c *Controller) addStepLocked(text string) {
	if text == "" {
		return
	}
	for i := range c.steps {
		if c.steps[i].Text == text {
			c.steps[i].Completed = false
			return
		}
	}
	for i := range c.steps {
		c.steps[i].Completed = true
	}
	c.steps = append(c.steps, models.ThoughtStep{
		ID:        uuid.New().String(),
		Text:      text,
		Completed: false,
		Timestamp: time.Now().UnixMilli(),
	})
}

// completeStepsLocked marks steps completed. With no keywords every step is
// completed; otherwise only steps mentioning one of the keywords.
func (c *Controller) completeStepsLocked(keywords ...string) {
	for i := range c.steps {
		if len(keywords) == 0 {
			c.steps[i].Completed = true
			continue
		}
		lower := strings.ToLower(c.steps[i].Text)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				c.steps[i].Completed = true
				break
			}
		}
	}
}

// mirrorBlockLocked writes a structured payload into the active assistant
// message's matching content block so persisted history matches live state.
func (c *Controller) mirrorBlockLocked(t models.BlockType, set func(*models.ContentBlock)) {
	msg := c.activeMessageLocked()
	if msg == nil {
		return
	}
	if block := msg.Block(t); block != nil {
		set(block)
	} else {
		block := models.ContentBlock{Type: t}
		set(&block)
		msg.Content = append(msg.Content, block)
	}
	c.touchAndSaveLocked()
}

// activeMessageLocked returns the in-flight assistant message, or nil.
func (c *Controller) activeMessageLocked() *models.Message {
	if c.active == nil || c.activeMsgID == "" {
		return nil
	}
	for i := range c.active.Messages {
		if c.active.Messages[i].ID == c.activeMsgID {
			return &c.active.Messages[i]
		}
	}
	return nil
}

// finalizeActiveMessageLocked clears the streaming flag and persists. When
// completed is false the accumulated partial content is kept as-is.
func (c *Controller) finalizeActiveMessageLocked(completed bool) {
	msg := c.activeMessageLocked()
	if msg == nil {
		return
	}
	msg.Streaming = false
	c.touchAndSaveLocked()
	if completed {
		c.activeMsgID = ""
	}
}

// touchAndSaveLocked bumps the thread timestamp and writes it through.
func (c *Controller) touchAndSaveLocked() {
	if c.active == nil {
		return
	}
	c.active.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	c.saveActiveLocked(context.Background())
}

// saveActiveLocked persists the active thread synchronously; storage is
// last-writer-wins, so writing before yielding keeps our writes ordered.
func (c *Controller) saveActiveLocked(ctx context.Context) {
	if c.active == nil {
		return
	}
	if err := c.threads.SaveThread(ctx, c.active); err != nil {
		c.logger.Error().Err(err).Str("thread_id", c.active.ID).Msg("failed to persist thread")
	}
}

// generateTitle asks the backend for a title after the first message. Local
// state updates first; the backend title write trails and its failure never
// rolls anything back.
func (c *Controller) generateTitle(threadID, firstMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	title, err := c.backend.GenerateChatTitle(ctx, strings.TrimSpace(firstMessage))
	if err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("title generation failed")
		return
	}

	c.mu.Lock()
	if c.active != nil && c.active.ID == threadID {
		c.active.Title = title
		c.touchAndSaveLocked()
	}
	c.mu.Unlock()

	if err := c.backend.UpdateChatTitle(ctx, threadID, title); err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("backend title update failed")
	}
}

// Stop cancels the in-flight stream, freezes the partial assistant message,
// and persists it. Safe to call when nothing is streaming.
func (c *Controller) Stop(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelStream == nil {
		return
	}
	c.stopStreamLocked()
	c.finalizeActiveMessageLocked(true)
	c.completeStepsLocked()
	if c.state == StateStreaming {
		c.state = StateReady
	}
}

// stopStreamLocked cancels the live stream and waits for its goroutine to
// exit. mu is released while waiting so an in-flight callback that already
// passed the cancelled check can drain; the generation bump makes it a
// no-op either way. Callers must hold opMu, which keeps other lifecycle
// operations out of the unlock window.
func (c *Controller) stopStreamLocked() {
	cancel, done := c.cancelStream, c.streamDone
	c.cancelStream, c.streamDone = nil, nil
	c.streamGen++
	if cancel == nil {
		return
	}

	c.mu.Unlock()
	cancel()
	if done != nil {
		<-done
	}
	c.mu.Lock()
}

// cacheSnapshot writes the current plan into the redis snapshot cache.
func (c *Controller) cacheSnapshot(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.cache.SetPlanSnapshot(ctx, threadID, c.plans.Snapshot()); err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("plan snapshot cache write failed")
	}
}

// Delete removes a thread everywhere and clears active state when it was the
// active one. It returns only after the deletion and the dependent state
// updates are applied, so callers can navigate without racing a stale view.
func (c *Controller) Delete(ctx context.Context, threadID string) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active != nil && c.active.ID == threadID {
		c.stopStreamLocked()
	}
	if err := c.threads.DeleteThread(ctx, threadID); err != nil {
		return err
	}
	if err := c.cache.DropPlanSnapshot(ctx, threadID); err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("plan snapshot cache drop failed")
	}
	metrics.ThreadOps.WithLabelValues("delete").Inc()

	if c.active != nil && c.active.ID == threadID {
		c.clearActiveLocked()
		c.state = StateIdle
	}
	return nil
}

// RenameActive retitles the active thread locally and on the backend.
func (c *Controller) RenameActive(ctx context.Context, title string) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNoActiveThread
	}
	threadID := c.active.ID
	c.active.Title = title
	c.touchAndSaveLocked()
	c.mu.Unlock()

	if err := c.backend.UpdateChatTitle(ctx, threadID, title); err != nil {
		c.logger.Warn().Err(err).Str("thread_id", threadID).Msg("backend title update failed")
	}
	return nil
}

// HandleThreadListChange prunes active state when the active thread leaves
// the authoritative thread list. Membership is compared by id set, so
// unrelated metadata edits never trigger a reset.
func (c *Controller) HandleThreadListChange(ids []string) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	fingerprint := strings.Join(ids, ",")
	if fingerprint == c.knownIDs {
		return
	}
	c.knownIDs = fingerprint

	if c.active == nil || len(ids) == 0 {
		return
	}
	for _, id := range ids {
		if id == c.active.ID {
			return
		}
	}

	c.stopStreamLocked()
	c.clearActiveLocked()
	c.state = StateIdle
}

// clearActiveLocked drops the active thread, its plan, and its progress
// state.
func (c *Controller) clearActiveLocked() {
	c.active = nil
	c.activeMsgID = ""
	c.steps = nil
	c.extracted = versionToken{}
	c.fetchedFor = ""
	c.plans.ResetPlan()
}
