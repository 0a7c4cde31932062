// Package stacks maps Primary project identifiers to filesystem paths under
// a configured root. A directory counts when it carries the Local store
// marker; matching is by directory name, case-insensitive.
package stacks

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/stacksync/stacksync/internal/logging"
)

// Index resolves project identifiers to stack directories. It rescans
// lazily: a filesystem event only marks the index dirty, and the next
// lookup pays for the walk.
type Index struct {
	root      string
	markerDir string

	mu    sync.Mutex
	dirty bool
	paths map[string]string // lowercase dir name -> absolute path
}

// NewIndex creates an index over root. The index starts dirty so the first
// lookup scans.
func NewIndex(root, markerDir string) *Index {
	return &Index{
		root:      root,
		markerDir: markerDir,
		dirty:     true,
		paths:     map[string]string{},
	}
}

// PathFor resolves a project identifier to its stack directory. The second
// return is false when no directory carries the marker for that identifier.
func (i *Index) PathFor(identifier string) (string, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.dirty {
		i.rescanLocked()
	}
	path, ok := i.paths[strings.ToLower(identifier)]
	return path, ok
}

// Invalidate marks the index dirty; the next lookup rescans.
func (i *Index) Invalidate() {
	i.mu.Lock()
	i.dirty = true
	i.mu.Unlock()
}

func (i *Index) rescanLocked() {
	i.paths = map[string]string{}
	i.dirty = false

	if i.root == "" {
		return
	}
	entries, err := os.ReadDir(i.root)
	if err != nil {
		logging.Warn("stacks scan failed", "root", i.root, "error", err)
		return
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(i.root, entry.Name())
		marker, err := os.Stat(filepath.Join(path, i.markerDir))
		if err != nil || !marker.IsDir() {
			continue
		}
		i.paths[strings.ToLower(entry.Name())] = path
	}
}

// Watch invalidates the index on filesystem changes under root until the
// context is cancelled. Returns immediately after starting the watcher
// goroutine; watcher setup failure is the only error.
func (i *Index) Watch(ctx context.Context) error {
	if i.root == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(i.root); err != nil {
		_ = watcher.Close()
		return err
	}

	logger := logging.WithComponent("stacks")
	go func() {
		defer func() { _ = watcher.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Debug("stack dir changed", "path", event.Name, "op", event.Op.String())
				i.Invalidate()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("stacks watcher error", "error", err)
			}
		}
	}()
	return nil
}
