package store

import (
	"context"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Index keeps the set of artifact names current by watching the store
// directory. It backs tab completion in the shell, where rescanning the
// directory on every keypress would be wasteful.
type Index struct {
	store   *Store
	watcher *fsnotify.Watcher
	log     *zap.Logger

	mu    sync.RWMutex
	names map[string]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewIndex scans the store and starts watching it. If the watcher cannot be
// created the index still works but only reflects the initial scan plus
// explicit Refresh calls.
func NewIndex(s *Store, log *zap.Logger) (*Index, error) {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Index{
		store:  s,
		log:    log,
		names:  make(map[string]struct{}),
		stopCh: make(chan struct{}),
	}
	if err := idx.Refresh(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("command index watcher unavailable", zap.Error(err))
		return idx, nil
	}
	if err := watcher.Add(s.Dir()); err != nil {
		_ = watcher.Close()
		log.Warn("failed to watch store directory", zap.String("dir", s.Dir()), zap.Error(err))
		return idx, nil
	}
	idx.watcher = watcher
	return idx, nil
}

// Run processes watcher events until ctx is cancelled or Close is called.
func (idx *Index) Run(ctx context.Context) {
	if idx.watcher == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-idx.stopCh:
			return
		case event, ok := <-idx.watcher.Events:
			if !ok {
				return
			}
			idx.handleEvent(event)
		case err, ok := <-idx.watcher.Errors:
			if !ok {
				return
			}
			idx.log.Warn("command index watcher error", zap.Error(err))
		}
	}
}

func (idx *Index) handleEvent(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if !isArtifactName(name) {
		return
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		idx.names[name] = struct{}{}
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		delete(idx.names, name)
	}
	idx.log.Debug("command index updated", zap.String("name", name), zap.String("op", event.Op.String()))
}

// Refresh rescans the store directory.
func (idx *Index) Refresh() error {
	names, err := idx.store.List()
	if err != nil {
		return err
	}
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	idx.mu.Lock()
	idx.names = set
	idx.mu.Unlock()
	return nil
}

// Names returns all known artifact names, sorted.
func (idx *Index) Names() []string {
	idx.mu.RLock()
	out := make([]string, 0, len(idx.names))
	for n := range idx.names {
		out = append(out, n)
	}
	idx.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Close stops the watcher. It is safe to call more than once.
func (idx *Index) Close() error {
	var err error
	idx.stopOnce.Do(func() {
		close(idx.stopCh)
		if idx.watcher != nil {
			err = idx.watcher.Close()
		}
	})
	return err
}
