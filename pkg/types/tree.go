package types

// NodeType classifies a tree node.
const (
	NodeFile      = "file"
	NodeDirectory = "directory"
)

// TreeNode is one node of a workspace directory snapshot. Children are
// ordered directories first, then case-insensitive by name.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Type     string      `json:"type"`
	Children []*TreeNode `json:"children,omitempty"`
}

// FlatEntry is one entry of a non-recursive directory listing.
type FlatEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Type        string `json:"type"`
	HasChildren bool   `json:"hasChildren,omitempty"`
}

// FileEvent is a filesystem change notification from the workspace watcher.
type FileEvent struct {
	EventType   string `json:"event_type"` // created | modified | deleted | moved
	Path        string `json:"path"`
	IsDirectory bool   `json:"is_directory"`
	DestPath    string `json:"dest_path,omitempty"`
}

// FileContent is the result of reading a workspace file.
type FileContent struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	IsBinary  bool   `json:"is_binary"`
	Truncated bool   `json:"truncated"`
}
