package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/RohitAchyutuni/PlanGenie/internal/store"
	"github.com/RohitAchyutuni/PlanGenie/internal/thread"
)

// Handler contains shared dependencies for all HTTP handlers. The gateway is
// single-session: one controller owns the active thread for the whole
// process.
type Handler struct {
	threads store.ThreadStore
	cache   *store.RedisCache
	ctrl    *thread.Controller
	logger  zerolog.Logger
}

// NewHandler creates a new Handler with the given stores and controller.
func NewHandler(threads store.ThreadStore, cache *store.RedisCache, ctrl *thread.Controller, logger zerolog.Logger) *Handler {
	return &Handler{threads: threads, cache: cache, ctrl: ctrl, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// sanitizeTitle trims and limits a title to 100 characters, removing control
// characters.
func sanitizeTitle(title string) string {
	title = strings.TrimSpace(title)

	title = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, title)

	if len(title) > 100 {
		title = title[:100]
	}

	return title
}
