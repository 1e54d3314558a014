package file

import (
	"context"
	"crypto/sha256"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reports floors whose items changed in the file through another
// program. The directory is watched rather than the file, since editors and
// this collection replace the file by rename.
func (c *Collection) Watch(ctx context.Context, fn func(floor string)) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(c.path), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		defer close(done)
		c.watchLoop(ctx, watcher, fn)
	}()

	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	return func() {
		cancel()
		<-done
	}, nil
}

func (c *Collection) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, fn func(floor string)) {
	defer watcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != c.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(c.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				for _, floor := range c.changedFloors() {
					fn(floor)
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			c.logger.Warn("legacy file watcher error", zap.Error(err))
		}
	}
}

// changedFloors rereads the file and diffs its per-floor hashes against the
// last known content. Content this collection wrote itself compares equal.
func (c *Collection) changedFloors() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, doc, err := c.read()
	if err != nil {
		c.logger.Warn("reloading legacy file", zap.Error(err))
		return nil
	}
	hash := sha256.Sum256(raw)
	if hash == c.lastHash {
		return nil
	}

	next := hashFloors(doc)
	var changed []string
	for floor, h := range next {
		if prev, ok := c.floorHashes[floor]; !ok || prev != h {
			changed = append(changed, floor)
		}
	}
	for floor := range c.floorHashes {
		if _, ok := next[floor]; !ok {
			changed = append(changed, floor)
		}
	}
	c.lastHash = hash
	c.floorHashes = next

	sort.Strings(changed)
	c.logger.Debug("legacy file changed", zap.Strings("floors", changed))
	return changed
}
