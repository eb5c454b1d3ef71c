package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RohitAchyutuni/PlanGenie/internal/thread"
)

// sendLimit caps message sends per thread per minute.
const sendLimit = 10

// SendMessage sends one user message on a thread and relays the resulting
// assistant turn as an SSE stream: message text, progress steps and plan
// updates as they land, then a final event. Closing the connection stops the
// upstream assistant stream.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		h.Error(w, http.StatusBadRequest, "message is required")
		return
	}

	ok, err := h.cache.CheckRateLimit(r.Context(), id, sendLimit)
	if err == nil && !ok {
		h.Error(w, http.StatusTooManyRequests, "too many messages, slow down")
		return
	}
	_ = h.cache.IncrementRateLimit(r.Context(), id, time.Minute)

	if active := h.ctrl.ActiveThread(); active == nil || active.ID != id {
		if err := h.ctrl.Switch(r.Context(), id); err != nil {
			if errors.Is(err, thread.ErrThreadNotFound) {
				h.Error(w, http.StatusNotFound, "thread not found")
				return
			}
			h.Error(w, http.StatusInternalServerError, "failed to load thread")
			return
		}
	}

	if err := h.ctrl.Send(r.Context(), req.Message); err != nil {
		h.logger.Error().Err(err).Str("thread_id", id).Msg("send failed")
		h.Error(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	h.relayTurn(w, r, id)
}

// relayTurn streams the in-flight assistant turn to the client until the
// controller leaves the streaming state.
func (h *Handler) relayTurn(w http.ResponseWriter, r *http.Request, threadID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	writeEvent := func(event string, payload any) {
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		w.Write([]byte("event: " + event + "\ndata: " + string(data) + "\n\n"))
		flusher.Flush()
	}

	ticker := time.NewTicker(150 * time.Millisecond)
	defer ticker.Stop()

	var lastPlan, lastSteps, lastText string
	emit := func() bool {
		if plan, _ := json.Marshal(h.ctrl.Plans().Snapshot()); string(plan) != lastPlan {
			lastPlan = string(plan)
			writeEvent("plan", json.RawMessage(plan))
		}
		if steps, _ := json.Marshal(h.ctrl.Steps()); string(steps) != lastSteps {
			lastSteps = string(steps)
			writeEvent("steps", json.RawMessage(steps))
		}
		if text := h.currentAssistantText(); text != lastText {
			lastText = text
			writeEvent("message", map[string]string{"text": text})
		}
		return h.ctrl.State() == thread.StateStreaming
	}

	for emit() {
		select {
		case <-r.Context().Done():
			// Client went away: stop generation, keep the partial.
			h.ctrl.Stop(r.Context())
			return
		case <-ticker.C:
		}
	}

	emit()
	writeEvent("final", map[string]string{"threadId": threadID})
}

// currentAssistantText returns the text of the newest assistant message.
func (h *Handler) currentAssistantText() string {
	active := h.ctrl.ActiveThread()
	if active == nil || len(active.Messages) == 0 {
		return ""
	}
	last := active.Messages[len(active.Messages)-1]
	if block := last.TextBlock(); block != nil {
		return block.Text
	}
	return ""
}

// StopStream cancels the in-flight assistant turn, freezing the partial
// message.
func (h *Handler) StopStream(w http.ResponseWriter, r *http.Request) {
	h.ctrl.Stop(r.Context())
	h.JSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// GetPlan returns the current plan for a thread: the live session plan when
// the thread is active, otherwise the plan derived from its stored history.
func (h *Handler) GetPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if active := h.ctrl.ActiveThread(); active != nil && active.ID == id {
		h.JSON(w, http.StatusOK, h.ctrl.Plans().Snapshot())
		return
	}

	t, err := h.threads.GetThread(r.Context(), id)
	if err != nil {
		h.logger.Error().Err(err).Str("thread_id", id).Msg("failed to load thread")
		h.Error(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	if t == nil {
		h.Error(w, http.StatusNotFound, "thread not found")
		return
	}

	h.JSON(w, http.StatusOK, thread.ExtractPlan(t))
}
