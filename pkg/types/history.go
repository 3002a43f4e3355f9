package types

// User is a row in the history store's users table.
type User struct {
	UserID     string `json:"user_id"`
	SpriteName string `json:"sprite_name"`
	CreatedAt  int64  `json:"created_at"`
	LastActive int64  `json:"last_active"`
}

// Conversation groups the messages exchanged between one user and their
// sprite until an explicit new_conversation reset.
type Conversation struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	ResumeID  string `json:"resume_id,omitempty"`
	StartedAt int64  `json:"started_at"`
	EndedAt   *int64 `json:"ended_at,omitempty"`
}

// HistoryMessage is one persisted chat message.
type HistoryMessage struct {
	ID             int64       `json:"id"`
	ConversationID int64       `json:"conversation_id"`
	Role           string      `json:"role"` // "user" | "assistant"
	Content        string      `json:"content"`
	ToolUses       []ToolEvent `json:"tool_uses,omitempty"`
	CreatedAt      int64       `json:"created_at"`
}

// ToolEvent is a recorded tool invocation or result attached to a message.
type ToolEvent struct {
	Type      string         `json:"type"` // "tool_use" | "tool_result"
	ToolUseID string         `json:"tool_use_id"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"is_error,omitempty"`
}
