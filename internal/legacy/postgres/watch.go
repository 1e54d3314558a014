package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const relistenDelay = time.Second

type notification struct {
	Floor  string `json:"floor"`
	Writer string `json:"writer"`
}

// Watch LISTENs on the item channel over a dedicated connection and reports
// floors changed by any writer other than this client.
func (c *Client) Watch(ctx context.Context, fn func(floor string)) (func(), error) {
	conn, err := c.listen(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		defer close(done)
		c.watchLoop(ctx, conn, fn)
	}()

	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	return func() {
		cancel()
		<-done
	}, nil
}

func (c *Client) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("listening on %s: %w", notifyChannel, err)
	}
	return conn, nil
}

func (c *Client) watchLoop(ctx context.Context, conn *pgxpool.Conn, fn func(floor string)) {
	defer func() {
		if conn != nil {
			// the connection may still be subscribed; drop it rather than
			// hand it back to the pool
			conn.Hijack().Close(context.Background())
		}
	}()

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(relistenDelay):
			}
			var err error
			conn, err = c.listen(ctx)
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Warn("re-listening for legacy changes", zap.Error(err))
				}
				conn = nil
				continue
			}
		}

		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("waiting for legacy notification", zap.Error(err))
			conn.Hijack().Close(context.Background())
			conn = nil
			continue
		}

		var msg notification
		if err := json.Unmarshal([]byte(n.Payload), &msg); err != nil {
			c.logger.Warn("decoding legacy notification", zap.String("payload", n.Payload), zap.Error(err))
			continue
		}
		if msg.Writer == c.writer {
			continue
		}
		fn(msg.Floor)
	}
}
