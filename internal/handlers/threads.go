package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/RohitAchyutuni/PlanGenie/internal/metrics"
	"github.com/RohitAchyutuni/PlanGenie/internal/models"
	"github.com/RohitAchyutuni/PlanGenie/internal/thread"
)

// threadSummary is the list-view shape of a thread, without message bodies.
type threadSummary struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
	MessageCount int    `json:"messageCount"`
	Archived     bool   `json:"archived,omitempty"`
}

func summarize(t models.ChatThread) threadSummary {
	return threadSummary{
		ID:           t.ID,
		Title:        t.Title,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		MessageCount: len(t.Messages),
		Archived:     t.Archived,
	}
}

// ListThreads returns all threads as summaries. The authoritative id set is
// also pushed to the controller so a thread deleted elsewhere prunes the
// active session.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := h.threads.ListThreads(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list threads")
		h.Error(w, http.StatusInternalServerError, "failed to list threads")
		return
	}

	ids := make([]string, 0, len(threads))
	summaries := make([]threadSummary, 0, len(threads))
	for _, t := range threads {
		ids = append(ids, t.ID)
		summaries = append(summaries, summarize(t))
	}
	h.ctrl.HandleThreadListChange(ids)

	h.JSON(w, http.StatusOK, map[string]any{"threads": summaries})
}

// CreateThread creates a new empty thread.
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	t, err := h.threads.CreateThread(r.Context(), sanitizeTitle(req.Title))
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create thread")
		h.Error(w, http.StatusInternalServerError, "failed to create thread")
		return
	}
	metrics.ThreadOps.WithLabelValues("create").Inc()

	h.JSON(w, http.StatusCreated, t)
}

// GetThread activates a thread and returns it with its current plan. Loading
// a thread is what switches the session to it, mirroring opening a chat.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.ctrl.Switch(r.Context(), id); err != nil {
		if errors.Is(err, thread.ErrThreadNotFound) {
			h.Error(w, http.StatusNotFound, "thread not found")
			return
		}
		h.logger.Error().Err(err).Str("thread_id", id).Msg("failed to switch thread")
		h.Error(w, http.StatusInternalServerError, "failed to load thread")
		return
	}
	metrics.ThreadOps.WithLabelValues("switch").Inc()

	h.JSON(w, http.StatusOK, map[string]any{
		"thread": h.ctrl.ActiveThread(),
		"plan":   h.ctrl.Plans().Snapshot(),
	})
}

// DeleteThread removes a thread. The response is sent only after the delete
// and the session cleanup have fully applied.
func (h *Handler) DeleteThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.ctrl.Delete(r.Context(), id); err != nil {
		h.logger.Error().Err(err).Str("thread_id", id).Msg("failed to delete thread")
		h.Error(w, http.StatusInternalServerError, "failed to delete thread")
		return
	}

	h.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// RenameThread updates a thread title.
func (h *Handler) RenameThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	title := sanitizeTitle(req.Title)
	if title == "" {
		h.Error(w, http.StatusBadRequest, "title is required")
		return
	}

	var err error
	if active := h.ctrl.ActiveThread(); active != nil && active.ID == id {
		err = h.ctrl.RenameActive(r.Context(), title)
	} else {
		err = h.threads.RenameThread(r.Context(), id, title)
	}
	if err != nil {
		h.Error(w, http.StatusNotFound, "thread not found")
		return
	}
	metrics.ThreadOps.WithLabelValues("rename").Inc()

	h.JSON(w, http.StatusOK, map[string]string{"status": "renamed"})
}

// DuplicateThread copies a thread under a new id.
func (h *Handler) DuplicateThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dup, err := h.threads.DuplicateThread(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusNotFound, "thread not found")
		return
	}
	metrics.ThreadOps.WithLabelValues("duplicate").Inc()

	h.JSON(w, http.StatusCreated, dup)
}

// ArchiveThread sets or clears the archived flag.
func (h *Handler) ArchiveThread(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Archived bool `json:"archived"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.threads.ArchiveThread(r.Context(), id, req.Archived); err != nil {
		h.Error(w, http.StatusNotFound, "thread not found")
		return
	}
	metrics.ThreadOps.WithLabelValues("archive").Inc()

	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
