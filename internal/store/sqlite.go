package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// SQLiteStore persists chat threads in a local SQLite database. It is the
// default store: the durable local record the UI reloads from.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
// If dbPath is empty, defaults to "./data/plangenie.db"
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/plangenie.db"
	}

	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	store := &SQLiteStore{db: db}

	// Initialize schema
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}

	return store, nil
}

// initSchema creates tables if they don't exist. The thread document is a
// JSON blob; the indexed columns exist only for listing and the sweep.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		archived INTEGER DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		doc TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
	CREATE INDEX IF NOT EXISTS idx_threads_archived ON threads(archived);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() {
	s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetThread retrieves a thread by ID. Returns (nil, nil) when absent.
func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*models.ChatThread, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM threads WHERE id = ?`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeThread(doc)
}

// SaveThread writes a thread as a full overwrite.
func (s *SQLiteStore) SaveThread(ctx context.Context, thread *models.ChatThread) error {
	doc, err := json.Marshal(thread)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO threads (id, title, archived, created_at, updated_at, doc)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			archived = excluded.archived,
			updated_at = excluded.updated_at,
			doc = excluded.doc
	`, thread.ID, thread.Title, boolToInt(thread.Archived), thread.CreatedAt, thread.UpdatedAt, string(doc))
	return err
}

// CreateThread creates a new empty thread.
func (s *SQLiteStore) CreateThread(ctx context.Context, title string) (*models.ChatThread, error) {
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

// ListThreads retrieves all threads, most recently updated first.
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]models.ChatThread, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM threads ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	threads := make([]models.ChatThread, 0)
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		thread, err := decodeThread(doc)
		if err != nil {
			continue
		}
		threads = append(threads, *thread)
	}
	return threads, rows.Err()
}

// DeleteThread removes a thread.
func (s *SQLiteStore) DeleteThread(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM threads WHERE id = ?`, id)
	return err
}

// DuplicateThread copies a thread under a new id.
func (s *SQLiteStore) DuplicateThread(ctx context.Context, id string) (*models.ChatThread, error) {
	src, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, ErrThreadNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339)
	copy := *src
	copy.ID = uuid.New().String()
	copy.Title = src.Title + " (copy)"
	copy.CreatedAt = now
	copy.UpdatedAt = now

	if err := s.SaveThread(ctx, &copy); err != nil {
		return nil, err
	}
	return &copy, nil
}

// ArchiveThread sets the archived flag.
func (s *SQLiteStore) ArchiveThread(ctx context.Context, id string, archived bool) error {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if thread == nil {
		return ErrThreadNotFound
	}
	thread.Archived = archived
	thread.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.SaveThread(ctx, thread)
}

// RenameThread updates the title.
func (s *SQLiteStore) RenameThread(ctx context.Context, id string, title string) error {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return err
	}
	if thread == nil {
		return ErrThreadNotFound
	}
	thread.Title = title
	thread.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	return s.SaveThread(ctx, thread)
}

// ListInactiveSince returns ids of unarchived threads idle since the cutoff.
func (s *SQLiteStore) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM threads WHERE archived = 0 AND updated_at < ?
	`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func decodeThread(doc string) (*models.ChatThread, error) {
	var thread models.ChatThread
	if err := json.Unmarshal([]byte(doc), &thread); err != nil {
		return nil, err
	}
	if thread.Messages == nil {
		thread.Messages = []models.Message{}
	}
	return &thread, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
