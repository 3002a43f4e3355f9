package event

import "github.com/sprite-ai/spritegate/pkg/types"

// SessionData is the payload for session lifecycle events.
type SessionData struct {
	UserKey    string `json:"user_key"`
	SpriteName string `json:"sprite_name,omitempty"`
}

// ChannelData is the payload for channel attach/detach events.
type ChannelData struct {
	UserKey   string            `json:"user_key"`
	Kind      types.ChannelKind `json:"kind"`
	Remaining int               `json:"remaining"`
}

// MessageData is the payload for message queued/started/cancelled events.
type MessageData struct {
	UserKey   string `json:"user_key"`
	MessageID string `json:"message_id"`
	Content   string `json:"content,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// MessageResultData is the payload for message completed/failed events. It
// carries everything the history recorder needs to persist the exchange.
type MessageResultData struct {
	UserKey    string            `json:"user_key"`
	MessageID  string            `json:"message_id"`
	Content    string            `json:"content"`
	Response   string            `json:"response,omitempty"`
	ToolEvents []types.ToolEvent `json:"tool_events,omitempty"`
	Err        string            `json:"error,omitempty"`
}

// FileChangedData is the payload for workspace change notifications.
type FileChangedData struct {
	UserKey string          `json:"user_key"`
	Event   types.FileEvent `json:"event"`
}

// WorkspaceReadyData is the payload published when provisioning completes.
type WorkspaceReadyData struct {
	UserKey string `json:"user_key"`
	Dir     string `json:"dir"`
}

// TerminalData is the payload for terminal lifecycle events.
type TerminalData struct {
	UserKey string `json:"user_key"`
	PID     int    `json:"pid,omitempty"`
}
