// Package watcher implements the client CLI's directory watch mode: an
// fsnotify-based monitor that emits one upload job per file created (or
// finished being written) under a root directory. It is grounded on the
// onedrive-go sync client's local observer
// (internal/sync/observer_local.go) — an FsWatcher interface wrapping
// *fsnotify.Watcher so tests can substitute a fake, recursive watch
// registration over the directory tree, and a debounce against editors
// that emit several events for one logical write — reshaped from
// onedrive-go's full create/modify/delete change-event stream into
// CTProto's narrower "new file appeared, upload it once" job queue.
package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ctproto/ctproto-go/internal/logger"
)

// settleDelay is how long a path must go quiet before it is considered
// done being written and is queued for upload. Editors and large copies
// emit several WRITE events per file; without this, the first partial
// write would be uploaded. Tests shrink it via settleDelayOverride.
var settleDelay = 500 * time.Millisecond

// settleDelayOverride lets tests tune settleDelay without touching the
// documented default.
func settleDelayOverride(d time.Duration) {
	settleDelay = d
}

// FsWatcher abstracts filesystem event monitoring, satisfied by
// *fsnotify.Watcher; tests inject a mock implementation.
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct {
	w *fsnotify.Watcher
}

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// Job describes one file ready to be uploaded.
type Job struct {
	Path string
	Size int64
}

// Watcher walks root and monitors it for new or completed files, sending a
// Job to the jobs channel once each settles.
type Watcher struct {
	root           string
	log            *slog.Logger
	watcherFactory func() (FsWatcher, error)
}

// New creates a Watcher rooted at root.
func New(root string) *Watcher {
	return &Watcher{
		root: root,
		log:  logger.Logger(),
		watcherFactory: func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}
			return &fsnotifyWrapper{w: w}, nil
		},
	}
}

// Run blocks monitoring root until ctx is canceled, sending a Job on jobs
// for every file that appears (or is modified and then settles). It never
// closes jobs — the caller owns that once Run returns.
func (w *Watcher) Run(ctx context.Context, jobs chan<- Job) error {
	fw, err := w.watcherFactory()
	if err != nil {
		return fmt.Errorf("watcher: creating filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := w.addWatchesRecursive(fw); err != nil {
		return fmt.Errorf("watcher: adding initial watches: %w", err)
	}

	pending := make(map[string]*time.Timer)
	defer func() {
		for _, t := range pending {
			t.Stop()
		}
	}()

	fire := make(chan string, 16)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}
			w.handleEvent(fw, ev, pending, fire)

		case path := <-fire:
			delete(pending, path)
			info, err := fileInfoIfRegular(path)
			if err != nil {
				w.log.Debug("watch target vanished before settling", "path", path, "error", err)
				continue
			}
			select {
			case jobs <- Job{Path: path, Size: info.Size()}:
			case <-ctx.Done():
				return nil
			}

		case werr, ok := <-fw.Errors():
			if !ok {
				return nil
			}
			w.log.Warn("watcher error", "error", werr)
		}
	}
}

func (w *Watcher) handleEvent(fw FsWatcher, ev fsnotify.Event, pending map[string]*time.Timer, fire chan<- string) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := fileInfoIfRegular(ev.Name); err == nil && info.IsDir() {
			if addErr := fw.Add(ev.Name); addErr != nil {
				w.log.Warn("failed to add watch on new subdirectory", "path", ev.Name, "error", addErr)
			}
			return
		}
	}

	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if t, ok := pending[ev.Name]; ok {
		t.Stop()
	}
	path := ev.Name
	pending[path] = time.AfterFunc(settleDelay, func() {
		select {
		case fire <- path:
		default:
		}
	})
}

func (w *Watcher) addWatchesRecursive(fw FsWatcher) error {
	return filepath.WalkDir(w.root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			w.log.Warn("walk error during watch setup", "path", path, "error", walkErr)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(path); err != nil {
			w.log.Warn("failed to add watch", "path", path, "error", err)
		}
		return nil
	})
}

func fileInfoIfRegular(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}
