package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"airsync/internal/legacy"

	_ "modernc.org/sqlite"
)

var _ legacy.Collection = (*Client)(nil)

const defaultPollInterval = 2 * time.Second

type Options struct {
	// PollInterval is how often Watch checks floor revisions.
	PollInterval time.Duration
	Logger       *zap.Logger
}

type Client struct {
	db     *sql.DB
	poll   time.Duration
	logger *zap.Logger

	// seen holds the last revision per floor this client knows about,
	// either written by itself or already reported to watchers.
	mu      sync.Mutex
	seen    map[string]int64
	cancels []context.CancelFunc

	watchers sync.WaitGroup
}

func New(ctx context.Context, dsn string, opts Options) (*Client, error) {
	driverDSN, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing sqlite DSN: %w", err)
	}

	db, err := sql.Open("sqlite", driverDSN)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	if driverDSN == ":memory:" {
		// every pooled connection would otherwise get its own database
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA busy_timeout = 30000;",
		"PRAGMA journal_mode = WAL;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	c := &Client{
		db:     db,
		poll:   opts.PollInterval,
		logger: opts.Logger,
		seen:   make(map[string]int64),
	}
	if c.poll <= 0 {
		c.poll = defaultPollInterval
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.Named("legacy.sqlite")

	if err := c.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := c.syncRevisions(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close stops every running watch and closes the database.
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.watchers.Wait()
	return c.db.Close()
}
