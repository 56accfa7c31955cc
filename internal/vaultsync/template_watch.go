package vaultsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// TemplateWatcher serves a template file and rereads it whenever the file
// changes on disk. Editors that save by rename are handled by watching the
// parent directory.
type TemplateWatcher struct {
	path   string
	logger zerolog.Logger

	mu      sync.RWMutex
	content string
	err     error
}

func NewTemplateWatcher(path string, logger zerolog.Logger) (*TemplateWatcher, error) {
	if path == "" {
		return nil, errors.New("template path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w := &TemplateWatcher{path: abs, logger: logger}
	w.reload()
	return w, w.loadErr()
}

func (w *TemplateWatcher) Template() (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.err != nil {
		return "", w.err
	}
	return w.content, nil
}

// Run watches until ctx is done.
func (w *TemplateWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Str("path", w.path).Msg("template watcher error")
		}
	}
}

func (w *TemplateWatcher) reload() {
	data, err := os.ReadFile(w.path)
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.err = fmt.Errorf("invalid markdown template %s: %w", w.path, err)
		w.logger.Warn().Err(err).Str("path", w.path).Msg("template unavailable")
		return
	}
	w.content = string(data)
	w.err = nil
	w.logger.Debug().Str("path", w.path).Msg("template loaded")
}

func (w *TemplateWatcher) loadErr() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.err
}
