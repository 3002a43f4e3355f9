package types

// MessageStatus is the admission-queue state of a message.
type MessageStatus string

const (
	StatusQueued     MessageStatus = "queued"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusError      MessageStatus = "error"
	StatusCancelled  MessageStatus = "cancelled"
)

// IsTerminal reports whether no further transition can occur.
func (s MessageStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// QueueStatus is a point-in-time snapshot of a session's admission queue.
type QueueStatus struct {
	QueueSize        int    `json:"queue_size"`
	MaxQueueSize     int    `json:"max_queue_size"`
	IsProcessing     bool   `json:"is_processing"`
	CurrentMessageID string `json:"current_message_id,omitempty"`
	CancelRequested  bool   `json:"cancel_requested"`
}

// SessionStatus is the REST status view of one session.
type SessionStatus struct {
	UserID     string          `json:"user_id"`
	SpriteName string          `json:"sprite_name"`
	CreatedAt  int64           `json:"created_at"`
	Queue      QueueStatus     `json:"queue"`
	Channels   map[string]int  `json:"channels"`
	Workspace  WorkspaceStatus `json:"workspace"`
}

// WorkspaceStatus describes per-session workspace readiness.
type WorkspaceStatus struct {
	Initialized bool   `json:"initialized"`
	Dir         string `json:"dir,omitempty"`
}
