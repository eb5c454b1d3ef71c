package models

import "encoding/json"

// ChatThread is one persisted conversation with the assistant.
// The controller owns at most one active thread in memory at a time.
type ChatThread struct {
	ID        string         `json:"id"` // UUID
	Title     string         `json:"title"`
	CreatedAt string         `json:"createdAt"` // RFC 3339
	UpdatedAt string         `json:"updatedAt"` // RFC 3339
	Messages  []Message      `json:"messages"`
	Meta      map[string]any `json:"meta,omitempty"`
	Archived  bool           `json:"archived"`

	// Memory is the backend-side conversation snapshot, kept as a secondary
	// plan source when the messages themselves carry no content blocks.
	Memory *ChatMemory `json:"chat_memory,omitempty"`
}

// ChatMemory mirrors the backend's nested memory object.
type ChatMemory struct {
	Messages        []MemoryMessage `json:"messages,omitempty"`
	Plan            json.RawMessage `json:"plan,omitempty"`
	TripConstraints map[string]any  `json:"trip_constraints,omitempty"`
}

// MemoryMessage is one message as the backend stores it. Content is either
// a bare string or an array of content blocks; it is normalized exactly once
// during conversion to a ChatThread.
type MemoryMessage struct {
	ID        string          `json:"id,omitempty"`
	Role      Role            `json:"role"`
	Content   json.RawMessage `json:"content"`
	Timestamp string          `json:"timestamp,omitempty"`
	CreatedAt string          `json:"createdAt,omitempty"`
}
