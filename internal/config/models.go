package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jonny5532/wagtail-liveedit/internal/logger"
	"github.com/jonny5532/wagtail-liveedit/pkg/schema"
)

// reloadDelay coalesces the burst of events an editor save produces.
const reloadDelay = 50 * time.Millisecond

// ModelSource serves the content model file and swaps in a new registry
// whenever the file changes. A file that fails to parse leaves the previous
// registry in place.
type ModelSource struct {
	path     string
	current  atomic.Pointer[schema.Registry]
	log      *logger.Logger
	OnReload func(err error) // Called after every reload attempt
}

// NewModelSource loads the content model file.
func NewModelSource(path string, log *logger.Logger) (*ModelSource, error) {
	if log == nil {
		log = logger.Nop()
	}
	s := &ModelSource{path: path, log: log.Component("models")}
	reg, err := schema.Load(path)
	if err != nil {
		return nil, err
	}
	s.current.Store(reg)
	return s, nil
}

// Registry returns the current registry.
func (s *ModelSource) Registry() *schema.Registry {
	return s.current.Load()
}

// Model looks a content type up in the current registry.
func (s *ModelSource) Model(contentTypeID int64) (*schema.Model, bool) {
	return s.current.Load().Model(contentTypeID)
}

// Reload re-reads the file.
func (s *ModelSource) Reload() error {
	reg, err := schema.Load(s.path)
	if err == nil {
		s.current.Store(reg)
		s.log.Info("content models reloaded").Int("models", len(reg.Models())).Send()
	} else {
		s.log.Error("content model reload failed").Err(err).Send()
	}
	if s.OnReload != nil {
		s.OnReload(err)
	}
	return err
}

// Watch reloads the file on change until ctx is cancelled. The directory is
// watched rather than the file so that editors replacing the file by rename
// are followed.
func (s *ModelSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(s.path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			_ = s.Reload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Error("fsnotify error").Err(err).Send()
		}
	}
}
