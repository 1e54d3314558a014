// Package file keeps the legacy collection in a single YAML document, one
// item list per floor, and watches it for edits made by other programs.
package file

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"airsync/internal/legacy"
)

var _ legacy.Collection = (*Collection)(nil)

const defaultDebounce = 100 * time.Millisecond

type document struct {
	Floors map[string][]legacy.Item `yaml:"floors"`
}

type Options struct {
	// Debounce collapses bursts of file events into one reload.
	Debounce time.Duration
	Logger   *zap.Logger
}

type Collection struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu sync.Mutex
	// lastHash is the hash of the file content this collection last wrote
	// or reported; floorHashes the per-floor hashes of that content.
	lastHash    [sha256.Size]byte
	floorHashes map[string][sha256.Size]byte
	cancels     []context.CancelFunc
	watchers    sync.WaitGroup
}

func New(path string, opts Options) (*Collection, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving legacy file path: %w", err)
	}
	c := &Collection{
		path:        abs,
		debounce:    opts.Debounce,
		logger:      opts.Logger,
		floorHashes: make(map[string][sha256.Size]byte),
	}
	if c.debounce <= 0 {
		c.debounce = defaultDebounce
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("legacy.file")

	raw, doc, err := c.read()
	if err != nil {
		return nil, err
	}
	c.lastHash = sha256.Sum256(raw)
	c.floorHashes = hashFloors(doc)
	return c, nil
}

func (c *Collection) read() ([]byte, document, error) {
	var doc document
	raw, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, document{Floors: map[string][]legacy.Item{}}, nil
	}
	if err != nil {
		return nil, doc, fmt.Errorf("reading legacy file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, doc, fmt.Errorf("parsing legacy file: %w", err)
	}
	if doc.Floors == nil {
		doc.Floors = map[string][]legacy.Item{}
	}
	return raw, doc, nil
}

// writeLocked replaces the file atomically and records its hashes.
func (c *Collection) writeLocked(doc document) error {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling legacy file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(c.path), "."+filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp legacy file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing temp legacy file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing temp legacy file: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replacing legacy file: %w", err)
	}

	c.lastHash = sha256.Sum256(raw)
	c.floorHashes = hashFloors(doc)
	return nil
}

func hashFloors(doc document) map[string][sha256.Size]byte {
	out := make(map[string][sha256.Size]byte, len(doc.Floors))
	for floor, items := range doc.Floors {
		raw, err := yaml.Marshal(items)
		if err != nil {
			continue
		}
		out[floor] = sha256.Sum256(raw)
	}
	return out
}

func (c *Collection) Floors(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, doc, err := c.read()
	if err != nil {
		return nil, err
	}
	floors := make([]string, 0, len(doc.Floors))
	for floor, items := range doc.Floors {
		if len(items) > 0 {
			floors = append(floors, floor)
		}
	}
	sort.Strings(floors)
	return floors, nil
}

func (c *Collection) List(ctx context.Context, floor string) ([]legacy.Item, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, doc, err := c.read()
	if err != nil {
		return nil, err
	}
	items := doc.Floors[floor]
	out := make([]legacy.Item, len(items))
	for i, it := range items {
		out[i] = legacy.CloneItem(it)
	}
	return out, nil
}

func (c *Collection) Upsert(ctx context.Context, floor string, item legacy.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, doc, err := c.read()
	if err != nil {
		return err
	}

	items := doc.Floors[floor]
	replaced := false
	for i, it := range items {
		if it.ID == item.ID {
			items[i] = legacy.CloneItem(item)
			replaced = true
			break
		}
	}
	if !replaced {
		items = append(items, legacy.CloneItem(item))
	}
	doc.Floors[floor] = items
	return c.writeLocked(doc)
}

func (c *Collection) Remove(ctx context.Context, floor, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, doc, err := c.read()
	if err != nil {
		return err
	}

	items := doc.Floors[floor]
	for i, it := range items {
		if it.ID != id {
			continue
		}
		items = append(items[:i:i], items[i+1:]...)
		if len(items) == 0 {
			delete(doc.Floors, floor)
		} else {
			doc.Floors[floor] = items
		}
		return c.writeLocked(doc)
	}
	return nil
}

func (c *Collection) Close(ctx context.Context) error {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.watchers.Wait()
	return nil
}
