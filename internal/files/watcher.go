package files

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/sprite-ai/spritegate/internal/logging"
	"github.com/sprite-ai/spritegate/pkg/types"
)

// Watcher recursively watches one workspace directory and reports changes as
// FileEvents. New subdirectories are added to the watch as they appear.
type Watcher struct {
	root    string
	ignore  []string
	watcher *fsnotify.Watcher
	onEvent func(types.FileEvent)

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
	log    zerolog.Logger
}

// Watch starts watching root. onEvent is called from the watcher goroutine
// for every non-ignored change.
func Watch(root string, ignore []string, onEvent func(types.FileEvent)) (*Watcher, error) {
	if len(ignore) == 0 {
		ignore = DefaultIgnorePatterns
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		root:    root,
		ignore:  ignore,
		watcher: fw,
		onEvent: onEvent,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		log:     logging.Component("watcher"),
	}
	if err := w.addRecursive(root); err != nil {
		fw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// addRecursive registers root and all non-ignored subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && ignored(w.ignore, d.Name()) {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Str("root", w.root).Msg("workspace watcher error")
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if ignored(w.ignore, name) {
		return
	}
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		isDir := false
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			isDir = true
			// New directories join the watch so nested changes are seen.
			if err := w.addRecursive(ev.Name); err != nil {
				w.log.Warn().Err(err).Str("dir", ev.Name).Msg("failed to watch new directory")
			}
		}
		w.emit(types.FileEvent{EventType: "created", Path: rel, IsDirectory: isDir})

	case ev.Op&fsnotify.Write != 0:
		// Directory mtime churn is noise; only file modifications matter.
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			return
		}
		w.emit(types.FileEvent{EventType: "modified", Path: rel})

	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// A rename source looks like a delete here; the destination arrives
		// as its own create event.
		w.emit(types.FileEvent{EventType: "deleted", Path: rel})
	}
}

func (w *Watcher) emit(ev types.FileEvent) {
	if w.onEvent != nil {
		w.onEvent(ev)
	}
}

// Close stops the watcher and waits for the event loop to drain.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.stopCh) })
	err := w.watcher.Close()
	<-w.doneCh
	return err
}
