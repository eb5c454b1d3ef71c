package models

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType discriminates the variants of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockFlights    BlockType = "flights"
	BlockHotels     BlockType = "hotels"
	BlockItinerary  BlockType = "itinerary"
	BlockActivities BlockType = "activities"
	BlockError      BlockType = "error"
	BlockInfo       BlockType = "info"
)

// ContentBlock is one tagged segment of a message body. Only the field
// matching Type is populated; everything else stays zero.
type ContentBlock struct {
	Type       BlockType      `json:"type"`
	Text       string         `json:"text,omitempty"`
	Flights    []Flight       `json:"flights,omitempty"`
	Hotels     []Hotel        `json:"hotels,omitempty"`
	Itinerary  []ItineraryDay `json:"itinerary,omitempty"`
	Activities []Activity     `json:"activities,omitempty"`
	Error      string         `json:"error,omitempty"`
	Info       string         `json:"info,omitempty"`
}

// Message represents one turn in a chat thread. A message is mutable only
// while Streaming is true; after finalization the content is frozen.
type Message struct {
	ID        string         `json:"id"`        // ULID
	Role      Role           `json:"role"`
	CreatedAt string         `json:"createdAt"` // RFC 3339
	Content   []ContentBlock `json:"content"`
	Streaming bool           `json:"streaming,omitempty"`
}

// TextBlock returns the message's first text block, or nil.
func (m *Message) TextBlock() *ContentBlock {
	return m.Block(BlockText)
}

// Block returns the message's first content block of the given type, or nil.
func (m *Message) Block(t BlockType) *ContentBlock {
	for i := range m.Content {
		if m.Content[i].Type == t {
			return &m.Content[i]
		}
	}
	return nil
}

// ThoughtStep is one line of ephemeral progress narration shown while the
// assistant is working. Steps are process-local and never persisted.
type ThoughtStep struct {
	ID        string `json:"id"` // UUID
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Timestamp int64  `json:"timestamp"` // Unix ms
}
