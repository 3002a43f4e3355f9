// Package types provides the core data types for the spritegate server.
package types

import "encoding/json"

// ChannelKind identifies one of the three multiplexed channel types.
type ChannelKind string

const (
	ChannelChat     ChannelKind = "chat"
	ChannelTerminal ChannelKind = "terminal"
	ChannelFiles    ChannelKind = "files"
)

// Inbound message types shared across channels.
const (
	TypeConnect         = "connect"
	TypeMessage         = "message"
	TypeCancel          = "cancel"
	TypeHistory         = "history"
	TypeNewConversation = "new_conversation"
	TypePing            = "ping"
	TypeResize          = "resize"
	TypeSubscribe       = "subscribe"
	TypeGetTree         = "get_tree"
	TypeRefresh         = "refresh"
)

// ClientFrame is the tagged union for structured inbound frames. A frame
// that does not decode into this shape (or carries an unknown type) is not
// a control frame; on the terminal channel it is raw passthrough.
type ClientFrame struct {
	Type string `json:"type"`

	// connect
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token,omitempty"`

	// message
	Content   string `json:"content,omitempty"`
	MessageID string `json:"message_id,omitempty"`

	// history
	Limit int `json:"limit,omitempty"`

	// resize
	Cols uint16 `json:"cols,omitempty"`
	Rows uint16 `json:"rows,omitempty"`

	// get_tree
	Path string `json:"path,omitempty"`
}

// Outbound chat event types.
const (
	TypeConnected           = "connected"
	TypeQueued              = "queued"
	TypeProcessingStarted   = "processing_started"
	TypeText                = "text"
	TypeToolUse             = "tool_use"
	TypeToolResult          = "tool_result"
	TypeResponse            = "response"
	TypeError               = "error"
	TypeCancelled           = "cancelled"
	TypeStatus              = "status"
	TypePong                = "pong"
	TypeConversationCleared = "conversation_cleared"
	TypeTree                = "tree"
	TypeFileEvent           = "file_event"
	TypeSubscribed          = "subscribed"
)

// StatusQueueFull is the status marker carried by a queued event when
// admission was rejected instead of enqueued.
const StatusQueueFull = "queue_full"

// ConnectedEvent acknowledges a successful connect handshake.
type ConnectedEvent struct {
	Type       string `json:"type"`
	UserID     string `json:"user_id,omitempty"`
	SpriteName string `json:"sprite_name,omitempty"`
}

// QueuedEvent reports message admission. When Status is "queue_full" the
// message was rejected and QueueSize/MaxQueueSize describe the full queue;
// otherwise QueuePosition is the 1-based FIFO position.
type QueuedEvent struct {
	Type          string `json:"type"`
	MessageID     string `json:"message_id"`
	QueuePosition int    `json:"queue_position,omitempty"`
	Status        string `json:"status,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	MaxQueueSize  int    `json:"max_queue_size,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// ProcessingStartedEvent reports that a message left the queue and began
// processing. QueueRemaining counts messages still waiting behind it.
type ProcessingStartedEvent struct {
	Type           string `json:"type"`
	MessageID      string `json:"message_id"`
	QueueRemaining int    `json:"queue_remaining"`
}

// TextEvent carries a streamed text delta for the in-flight message.
type TextEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// ToolUseEvent reports a tool invocation streamed from the executor.
type ToolUseEvent struct {
	Type      string         `json:"type"`
	MessageID string         `json:"message_id"`
	ToolUseID string         `json:"tool_use_id"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

// ToolResultEvent reports the outcome of a tool invocation.
type ToolResultEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error"`
}

// ResponseEvent carries the final response for a completed message.
type ResponseEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Content   string `json:"content"`
}

// ErrorEvent reports a failure. MessageID is set when the error resolves a
// specific queued message rather than the channel itself.
type ErrorEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error"`
}

// CancelledEvent reports that a message reached the cancelled state.
type CancelledEvent struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Reason    string `json:"reason"`
}

// StatusEvent is the queue snapshot replayed on attach and served on demand.
type StatusEvent struct {
	Type         string `json:"type"`
	QueueSize    int    `json:"queue_size"`
	IsProcessing bool   `json:"is_processing"`
}

// PongEvent answers a ping.
type PongEvent struct {
	Type string `json:"type"`
}

// ConversationClearedEvent acknowledges a new_conversation request.
type ConversationClearedEvent struct {
	Type string `json:"type"`
}

// HistoryEvent returns recent conversation messages.
type HistoryEvent struct {
	Type     string           `json:"type"`
	Messages []HistoryMessage `json:"messages"`
}

// TreeEvent carries a full directory tree snapshot.
type TreeEvent struct {
	Type string    `json:"type"`
	Data *TreeNode `json:"data"`
}

// FileEventMsg broadcasts a single filesystem change notification.
type FileEventMsg struct {
	Type        string `json:"type"`
	EventType   string `json:"event_type"`
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	DestPath    string `json:"dest_path,omitempty"`
}

// SubscribedEvent acknowledges a files subscribe request.
type SubscribedEvent struct {
	Type string `json:"type"`
}

// ResizeControl is the terminal resize control frame.
type ResizeControl struct {
	Type string `json:"type"`
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// DecodeClientFrame attempts the structured decode used for control-frame
// disambiguation. It returns false when the bytes are not a JSON object with
// a string type tag, in which case the frame is raw passthrough.
func DecodeClientFrame(data []byte) (ClientFrame, bool) {
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || probe.Type == nil {
		return ClientFrame{}, false
	}
	var frame ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return ClientFrame{}, false
	}
	return frame, true
}
