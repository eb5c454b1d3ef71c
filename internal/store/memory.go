package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// MemoryStore is an in-memory ThreadStore used by tests and by the terminal
// client when no database is configured. Threads are deep-copied on the way
// in and out so callers never alias stored state.
type MemoryStore struct {
	mu      sync.Mutex
	threads map[string]*models.ChatThread
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{threads: make(map[string]*models.ChatThread)}
}

// Close is a no-op.
func (s *MemoryStore) Close() {}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// GetThread retrieves a thread by ID. Returns (nil, nil) when absent.
func (s *MemoryStore) GetThread(ctx context.Context, id string) (*models.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return nil, nil
	}
	return copyThread(thread), nil
}

// SaveThread writes a thread as a full overwrite.
func (s *MemoryStore) SaveThread(ctx context.Context, thread *models.ChatThread) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads[thread.ID] = copyThread(thread)
	return nil
}

// CreateThread creates a new empty thread.
func (s *MemoryStore) CreateThread(ctx context.Context, title string) (*models.ChatThread, error) {
	if title == "" {
		title = "New Trip"
	}
	now := time.Now().UTC().Format(time.RFC3339)
	thread := &models.ChatThread{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  []models.Message{},
	}
	if err := s.SaveThread(ctx, thread); err != nil {
		return nil, err
	}
	return thread, nil
}

// ListThreads retrieves all threads.
func (s *MemoryStore) ListThreads(ctx context.Context) ([]models.ChatThread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	threads := make([]models.ChatThread, 0, len(s.threads))
	for _, thread := range s.threads {
		threads = append(threads, *copyThread(thread))
	}
	return threads, nil
}

// DeleteThread removes a thread.
func (s *MemoryStore) DeleteThread(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, id)
	return nil
}

// DuplicateThread copies a thread under a new id.
func (s *MemoryStore) DuplicateThread(ctx context.Context, id string) (*models.ChatThread, error) {
	s.mu.Lock()
	src, ok := s.threads[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrThreadNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339)
	dup := copyThread(src)
	dup.ID = uuid.New().String()
	dup.Title = src.Title + " (copy)"
	dup.CreatedAt = now
	dup.UpdatedAt = now

	if err := s.SaveThread(ctx, dup); err != nil {
		return nil, err
	}
	return dup, nil
}

// ArchiveThread sets the archived flag.
func (s *MemoryStore) ArchiveThread(ctx context.Context, id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	thread.Archived = archived
	thread.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// RenameThread updates the title.
func (s *MemoryStore) RenameThread(ctx context.Context, id string, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[id]
	if !ok {
		return ErrThreadNotFound
	}
	thread.Title = title
	thread.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return nil
}

// ListInactiveSince returns ids of unarchived threads idle since the cutoff.
func (s *MemoryStore) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cut := cutoff.UTC().Format(time.RFC3339)
	var ids []string
	for id, thread := range s.threads {
		if !thread.Archived && thread.UpdatedAt < cut {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// copyThread deep-copies a thread through its JSON form.
func copyThread(t *models.ChatThread) *models.ChatThread {
	data, err := json.Marshal(t)
	if err != nil {
		clone := *t
		return &clone
	}
	var out models.ChatThread
	if err := json.Unmarshal(data, &out); err != nil {
		clone := *t
		return &clone
	}
	if out.Messages == nil {
		out.Messages = []models.Message{}
	}
	return &out
}
