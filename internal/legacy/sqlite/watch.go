package sqlite

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

// Watch polls the floor revision table and reports floors whose revision
// moved past what this client wrote or already reported.
func (c *Client) Watch(ctx context.Context, fn func(floor string)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("starting sqlite watch: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.watchers.Add(1)
	go func() {
		defer c.watchers.Done()
		defer close(done)

		ticker := time.NewTicker(c.poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				floors, err := c.changedFloors(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.logger.Warn("polling legacy revisions", zap.Error(err))
					}
					continue
				}
				for _, floor := range floors {
					fn(floor)
				}
			}
		}
	}()

	c.mu.Lock()
	c.cancels = append(c.cancels, cancel)
	c.mu.Unlock()

	return func() {
		cancel()
		<-done
	}, nil
}

func (c *Client) syncRevisions(ctx context.Context) error {
	revs, err := c.revisions(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.seen = revs
	c.mu.Unlock()
	return nil
}

func (c *Client) changedFloors(ctx context.Context) ([]string, error) {
	revs, err := c.revisions(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var changed []string
	for floor, rev := range revs {
		if rev > c.seen[floor] {
			c.seen[floor] = rev
			changed = append(changed, floor)
		}
	}
	sort.Strings(changed)
	return changed, nil
}
