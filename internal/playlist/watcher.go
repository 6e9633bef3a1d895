// Package playlist follows a playlist file and submits lines appended to it.
package playlist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/fsnotify/fsnotify"

	"github.com/micro-nova/tabyctl/internal/config"
)

// AddFunc submits one locator for admission.
type AddFunc func(ctx context.Context, locator string)

// Watcher re-reads a playlist file whenever it changes and submits the
// entries appended after the last list it read.
//
// A read that is a prefix of the last list (an empty file included) is a
// rewrite in progress and is ignored. A non-empty list that diverges from the
// last one becomes the new baseline without submitting anything.
type Watcher struct {
	path    string
	seen    []string
	add     AddFunc
	watcher *fsnotify.Watcher
}

// New watches path. seen holds the entries already submitted at startup.
func New(path string, seen []string, add AddFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("playlist: create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are noticed.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("playlist: watch %s: %w", filepath.Dir(path), err)
	}
	return &Watcher{
		path:    filepath.Clean(path),
		seen:    slices.Clone(seen),
		add:     add,
		watcher: fw,
	}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	slog.Info("playlist: watching for new entries", "path", w.path, "seen", len(w.seen))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			if _, err := w.Sync(ctx); err != nil {
				slog.Warn("playlist: failed to re-read playlist", "path", w.path, "err", err)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("playlist: watcher error", "err", err)
		}
	}
}

// Sync re-reads the playlist and submits new entries. It returns how many
// were submitted.
func (w *Watcher) Sync(ctx context.Context) (int, error) {
	f, err := os.Open(w.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	urls, err := config.ParsePlaylist(f)
	f.Close()
	if err != nil {
		return 0, err
	}

	switch {
	case hasPrefix(w.seen, urls):
		// Unchanged, or truncated and not yet rewritten.
		return 0, nil
	case !hasPrefix(urls, w.seen):
		slog.Info("playlist: file was replaced, resetting", "path", w.path, "entries", len(urls))
		w.seen = urls
		return 0, nil
	}

	fresh := urls[len(w.seen):]
	for _, u := range fresh {
		slog.Debug("playlist: new entry", "url", u)
		w.add(ctx, u)
	}
	w.seen = urls
	return len(fresh), nil
}

// hasPrefix reports whether list starts with prefix.
func hasPrefix(list, prefix []string) bool {
	return len(prefix) <= len(list) && slices.Equal(list[:len(prefix)], prefix)
}
