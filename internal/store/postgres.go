package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// PostgresStore persists chat threads in PostgreSQL. Used for server
// deployments where the gateway outlives a single machine.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL store with a connection pool.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}

	store := &PostgresStore{pool: pool}
	if err := store.initSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// initSchema creates the threads table if it doesn't exist.
func (s *PostgresStore) initSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL DEFAULT '',
			archived BOOLEAN DEFAULT FALSE,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			doc JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_threads_updated ON threads(updated_at);
		CREATE INDEX IF NOT EXISTS idx_threads_archived ON threads(archived);
	`)
	return err
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetThread retrieves a thread by ID. Returns (nil, nil) when absent.
func (s *PostgresStore) GetThread(ctx context.Context, id string) (*models.ChatThread, error) {
	var doc string
	err := s.pool.QueryRow(ctx, `SELECT doc FROM threads WHERE id = $1`, id).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return decodeThread(doc)
}

// SaveThread writes a thread as a full overwrite.
func (s *PostgresStore) SaveThread(ctx context.Context, thread *models.ChatThread) error {
	doc, err := json.Marshal(thread)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO threads (id, title, archived, created_at, updated_at, doc)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			title = EXCLUDED.title,
			archived = EXCLUDED.archived,
			updated_at = EXCLUDED.updated_at,
			doc = EXCLUDED.doc
	`, thread.ID, thread.Title, thread.Archived, thread.CreatedAt, thread.UpdatedAt, string(doc))
	return err
}

// CreateThread creates a new empty thread.
func (s *PostgresStore) CreateThread(ctx context.Context, title string) (*models.ChatThread, error) {
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
func (s *PostgresStore) ListThreads(ctx context.Context) ([]models.ChatThread, error) {
	rows, err := s.pool.Query(ctx, `SELECT doc FROM threads ORDER BY updated_at DESC`)
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
func (s *PostgresStore) DeleteThread(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM threads WHERE id = $1`, id)
	return err
}

// DuplicateThread copies a thread under a new id.
func (s *PostgresStore) DuplicateThread(ctx context.Context, id string) (*models.ChatThread, error) {
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
func (s *PostgresStore) ArchiveThread(ctx context.Context, id string, archived bool) error {
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
func (s *PostgresStore) RenameThread(ctx context.Context, id string, title string) error {
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
func (s *PostgresStore) ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM threads WHERE archived = FALSE AND updated_at < $1
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
