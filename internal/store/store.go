package store

import (
	"context"
	"errors"
	"time"

	"github.com/RohitAchyutuni/PlanGenie/internal/models"
)

// ErrThreadNotFound is returned by collection operations that require an
// existing thread. Plain GetThread reports absence as (nil, nil) instead.
var ErrThreadNotFound = errors.New("thread not found")

// ThreadStore defines the interface for persistent storage of chat threads.
// SQLiteStore, PostgresStore and MemoryStore implement this interface.
// Writes are full overwrites with last-writer-wins semantics; there is no
// locking at this layer. GetThread returns (nil, nil) for an absent id.
type ThreadStore interface {
	// Connection management
	Close()
	Ping(ctx context.Context) error

	// Single-thread contract used by the controller
	GetThread(ctx context.Context, id string) (*models.ChatThread, error)
	SaveThread(ctx context.Context, thread *models.ChatThread) error

	// Collection operations
	CreateThread(ctx context.Context, title string) (*models.ChatThread, error)
	ListThreads(ctx context.Context) ([]models.ChatThread, error)
	DeleteThread(ctx context.Context, id string) error
	DuplicateThread(ctx context.Context, id string) (*models.ChatThread, error)
	ArchiveThread(ctx context.Context, id string, archived bool) error
	RenameThread(ctx context.Context, id string, title string) error

	// ListInactiveSince returns ids of unarchived threads whose last update
	// is older than the cutoff. Used by the archival sweep.
	ListInactiveSince(ctx context.Context, cutoff time.Time) ([]string, error)
}
