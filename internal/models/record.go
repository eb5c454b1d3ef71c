package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// ChatRecord is the shape the backend returns when listing a user's chats.
type ChatRecord struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	CreatedAt string      `json:"created_at"`
	UpdatedAt string      `json:"updated_at,omitempty"`
	Memory    *ChatMemory `json:"chat_memory,omitempty"`
}

// ToThread converts a backend record into a local ChatThread, normalizing
// the string-or-blocks message content the backend produces.
func (r ChatRecord) ToThread() *ChatThread {
	updated := r.UpdatedAt
	if updated == "" {
		updated = r.CreatedAt
	}

	thread := &ChatThread{
		ID:        r.ID,
		Title:     r.Title,
		CreatedAt: r.CreatedAt,
		UpdatedAt: updated,
		Messages:  []Message{},
		Memory:    r.Memory,
	}

	if r.Memory != nil {
		if r.Memory.TripConstraints != nil {
			thread.Meta = r.Memory.TripConstraints
		}
		for _, mm := range r.Memory.Messages {
			if mm.Role != RoleUser && mm.Role != RoleAssistant {
				continue
			}
			thread.Messages = append(thread.Messages, mm.toMessage())
		}
	}

	return thread
}

// toMessage normalizes one backend message into the local shape.
func (mm MemoryMessage) toMessage() Message {
	msg := Message{
		ID:        mm.ID,
		Role:      mm.Role,
		CreatedAt: mm.Timestamp,
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = mm.CreatedAt
	}
	if msg.CreatedAt == "" {
		msg.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if msg.ID == "" {
		msg.ID = ulid.Make().String()
	}

	msg.Content = normalizeContent(mm.Content)
	if len(msg.Content) == 0 {
		msg.Content = []ContentBlock{{Type: BlockText}}
	}
	return msg
}

// normalizeContent accepts a bare string, an array of blocks, or anything
// else, and always yields well-formed content blocks.
func normalizeContent(raw json.RawMessage) []ContentBlock {
	if len(raw) == 0 {
		return nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return []ContentBlock{{Type: BlockText, Text: text}}
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil {
		out := make([]ContentBlock, 0, len(items))
		for _, item := range items {
			var b ContentBlock
			if err := json.Unmarshal(item, &b); err == nil && b.Type != "" {
				out = append(out, b)
				continue
			}
			// Text fields are not always strings in historical data; coerce
			// instead of dropping the block.
			var loose struct {
				Type BlockType       `json:"type"`
				Text json.RawMessage `json:"text"`
			}
			if err := json.Unmarshal(item, &loose); err == nil && loose.Type == BlockText {
				out = append(out, ContentBlock{Type: BlockText, Text: coerceString(loose.Text)})
			}
		}
		return out
	}

	// Unknown scalar or object: keep it visible rather than dropping it.
	if s := coerceString(raw); s != "" {
		return []ContentBlock{{Type: BlockText, Text: s}}
	}
	return nil
}

// coerceString renders any JSON value as a string: strings verbatim,
// null/absent as empty, everything else re-encoded.
func coerceString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil || v == nil {
		return ""
	}
	if data, err := json.Marshal(v); err == nil {
		return string(data)
	}
	return fmt.Sprint(v)
}
