// Package files serves workspace directory trees and file contents, and
// watches workspaces for changes.
package files

import (
	"errors"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"

	"github.com/sprite-ai/spritegate/pkg/types"
)

var (
	ErrNotFound     = errors.New("file not found")
	ErrNotDirectory = errors.New("not a directory")
	ErrIsDirectory  = errors.New("is a directory")
	ErrAccessDenied = errors.New("access denied")
	// ErrUninitialized marks a request against a workspace that has not
	// finished provisioning. Retryable on the same connection.
	ErrUninitialized = errors.New("workspace not initialized")
)

// DefaultIgnorePatterns is the noise filtered from trees and watch events.
var DefaultIgnorePatterns = []string{
	".git",
	".DS_Store",
	"node_modules",
	"__pycache__",
	".venv",
	"venv",
	".env",
	"*.pyc",
	"*.pyo",
	".pytest_cache",
	".mypy_cache",
	".spritegate-probe",
}

// maxReadSize caps file content responses at 1 MiB.
const maxReadSize = 1024 * 1024

var binaryExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".bmp": {}, ".ico": {}, ".webp": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".exe": {}, ".dll": {}, ".so": {}, ".dylib": {},
	".mp3": {}, ".mp4": {}, ".wav": {}, ".avi": {}, ".mov": {}, ".mkv": {},
	".ttf": {}, ".woff": {}, ".woff2": {}, ".eot": {},
	".pyc": {}, ".pyo": {}, ".class": {},
}

// Service reads one workspace. The filesystem is rooted at the workspace
// directory, so escape attempts resolve inside it or fail.
type Service struct {
	fs       afero.Fs
	rootName string
	ignore   []string
}

// NewService creates a read service for the workspace at root.
func NewService(root string, ignore []string) *Service {
	if len(ignore) == 0 {
		ignore = DefaultIgnorePatterns
	}
	return &Service{
		fs:       afero.NewBasePathFs(afero.NewOsFs(), root),
		rootName: "workspace",
		ignore:   ignore,
	}
}

// Ignored reports whether a name matches the noise patterns.
func (s *Service) Ignored(name string) bool {
	return ignored(s.ignore, name)
}

func ignored(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// clean validates a client-supplied relative path. Empty means the root.
func clean(relPath string) (string, error) {
	if relPath == "" || relPath == "." || relPath == "/" {
		return ".", nil
	}
	cleaned := path.Clean(strings.TrimPrefix(relPath, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrAccessDenied
	}
	return cleaned, nil
}

// Tree returns the recursive directory snapshot rooted at relPath. The root
// node's path is "." so clients can anchor relative paths against it.
func (s *Service) Tree(relPath string) (*types.TreeNode, error) {
	rel, err := clean(relPath)
	if err != nil {
		return nil, err
	}
	info, err := s.fs.Stat(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}
	return s.buildTree(rel)
}

func (s *Service) buildTree(rel string) (*types.TreeNode, error) {
	node := &types.TreeNode{
		Name: path.Base(rel),
		Path: rel,
		Type: types.NodeDirectory,
	}
	if rel == "." {
		node.Name = s.rootName
	}

	entries, err := afero.ReadDir(s.fs, rel)
	if err != nil {
		// Unreadable directories appear as empty rather than failing the
		// whole snapshot.
		node.Children = []*types.TreeNode{}
		return node, nil
	}
	sortEntries(entries)

	node.Children = make([]*types.TreeNode, 0, len(entries))
	for _, entry := range entries {
		if ignored(s.ignore, entry.Name()) {
			continue
		}
		childRel := path.Join(rel, entry.Name())
		if entry.IsDir() {
			child, err := s.buildTree(childRel)
			if err != nil {
				continue
			}
			node.Children = append(node.Children, child)
			continue
		}
		node.Children = append(node.Children, &types.TreeNode{
			Name: entry.Name(),
			Path: childRel,
			Type: types.NodeFile,
		})
	}
	return node, nil
}

// Flat returns the immediate children of relPath, for lazy-loading clients.
func (s *Service) Flat(relPath string) ([]types.FlatEntry, error) {
	rel, err := clean(relPath)
	if err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(s.fs, rel)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	sortEntries(entries)

	out := make([]types.FlatEntry, 0, len(entries))
	for _, entry := range entries {
		if ignored(s.ignore, entry.Name()) {
			continue
		}
		item := types.FlatEntry{
			Name: entry.Name(),
			Path: path.Join(rel, entry.Name()),
			Type: types.NodeFile,
		}
		if entry.IsDir() {
			item.Type = types.NodeDirectory
			if children, err := afero.ReadDir(s.fs, item.Path); err == nil && len(children) > 0 {
				item.HasChildren = true
			}
		}
		out = append(out, item)
	}
	return out, nil
}

// Read returns the contents of a workspace file, capped at 1 MiB with the
// truncated flag set. Binary files (by extension or invalid UTF-8) carry no
// content.
func (s *Service) Read(relPath string) (types.FileContent, error) {
	rel, err := clean(relPath)
	if err != nil {
		return types.FileContent{}, err
	}
	if rel == "." {
		return types.FileContent{}, ErrIsDirectory
	}

	info, err := s.fs.Stat(rel)
	if err != nil {
		if os.IsNotExist(err) {
			return types.FileContent{}, ErrNotFound
		}
		return types.FileContent{}, err
	}
	if info.IsDir() {
		return types.FileContent{}, ErrIsDirectory
	}

	out := types.FileContent{Path: rel, Size: info.Size()}

	ext := strings.ToLower(path.Ext(rel))
	if _, ok := binaryExtensions[ext]; ok {
		out.IsBinary = true
		return out, nil
	}

	f, err := s.fs.Open(rel)
	if err != nil {
		return types.FileContent{}, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxReadSize))
	if err != nil {
		return types.FileContent{}, err
	}
	if !utf8.Valid(data) {
		out.IsBinary = true
		return out, nil
	}

	out.Content = string(data)
	out.Truncated = info.Size() > maxReadSize
	return out, nil
}

// sortEntries orders directories first, then case-insensitive by name.
func sortEntries(entries []os.FileInfo) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return strings.ToLower(entries[i].Name()) < strings.ToLower(entries[j].Name())
	})
}
