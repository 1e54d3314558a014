package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"airsync/internal/legacy"
)

var _ legacy.Collection = (*Client)(nil)

type Options struct {
	Logger *zap.Logger
}

type Client struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	// writer tags this client's transactions so its own notifications can
	// be told apart from other writers'.
	writer string

	mu       sync.Mutex
	cancels  []context.CancelFunc
	watchers sync.WaitGroup
}

func New(ctx context.Context, dsn string, opts Options) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		pool:   pool,
		logger: logger.Named("legacy.postgres"),
		writer: uuid.NewString(),
	}
	if err := c.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	c.watchers.Wait()
	c.pool.Close()
	return nil
}
