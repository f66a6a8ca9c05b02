package keychain

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// EventOp describes a change observed in a DirBackend.
type EventOp string

const (
	EventCreated EventOp = "created"
	EventRemoved EventOp = "removed"
)

// Event is a credential appearing in or disappearing from a DirBackend.
type Event struct {
	Entry
	Op EventOp
}

// Watch reports credentials created or removed under service, including
// changes made by other processes. It blocks until ctx is cancelled.
func (b *DirBackend) Watch(ctx context.Context, service string, fn func(Event)) error {
	dir := b.serviceDir(service)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating key dir: %w", fsError(err, ErrUnavailable))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	logger := slog.With("component", "keychain", "dir", dir)
	logger.Debug("watching key directory")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			entry, ok := parseFileName(filepath.Base(event.Name))
			if !ok {
				continue
			}
			switch {
			case event.Has(fsnotify.Create):
				fn(Event{Entry: entry, Op: EventCreated})
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				fn(Event{Entry: entry, Op: EventRemoved})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("key directory watcher error", "error", err)
		}
	}
}
