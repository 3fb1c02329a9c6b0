package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/fsnotify/fsnotify"
)

// pauseWatcher reports whether a pause file exists each time it appears or
// disappears.
type pauseWatcher struct {
	path    string
	watcher *fsnotify.Watcher
	changes chan bool
	done    chan struct{}
}

// watchPauseFile watches the parent directory of path, since the file itself
// may not exist yet.
func watchPauseFile(ctx context.Context, path string, log logging.Logger) (*pauseWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create pause watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	p := &pauseWatcher{
		path:    abs,
		watcher: watcher,
		changes: make(chan bool, 1),
		done:    make(chan struct{}),
	}
	go p.run(ctx, log)
	return p, nil
}

func (p *pauseWatcher) Changes() <-chan bool {
	return p.changes
}

func (p *pauseWatcher) Close() error {
	err := p.watcher.Close()
	<-p.done
	return err
}

func (p *pauseWatcher) run(ctx context.Context, log logging.Logger) {
	defer close(p.done)
	defer close(p.changes)
	paused := fileExists(p.path)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			now := fileExists(p.path)
			if now == paused {
				continue
			}
			paused = now
			// Only the latest state matters.
			select {
			case <-p.changes:
			default:
			}
			p.changes <- paused
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			log.Warn(ctx, "pause watcher error", "path", p.path, "error", err)
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
