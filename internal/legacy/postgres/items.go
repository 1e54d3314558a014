package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"airsync/internal/legacy"
)

func (c *Client) Floors(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx, "SELECT DISTINCT floor FROM legacy_air_entries ORDER BY floor")
	if err != nil {
		return nil, fmt.Errorf("query floors: %w", err)
	}
	floors, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collecting floors: %w", err)
	}
	return floors, nil
}

func (c *Client) List(ctx context.Context, floor string) ([]legacy.Item, error) {
	rows, err := c.pool.Query(ctx,
		"SELECT item FROM legacy_air_entries WHERE floor = $1 ORDER BY seq", floor)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]legacy.Item, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		var it legacy.Item
		if err := json.Unmarshal(raw, &it); err != nil {
			return nil, fmt.Errorf("decoding item on floor %q: %w", floor, err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating items: %w", err)
	}
	return items, nil
}

func (c *Client) Upsert(ctx context.Context, floor string, item legacy.Item) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshaling item: %w", err)
	}

	query := `
INSERT INTO legacy_air_entries (floor, id, entry_type, item, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (floor, id) DO UPDATE SET
    entry_type = EXCLUDED.entry_type,
    item = EXCLUDED.item,
    updated_at = now()
`
	return c.write(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, floor, item.ID, item.Type, raw); err != nil {
			return fmt.Errorf("upserting item: %w", err)
		}
		return nil
	})
}

func (c *Client) Remove(ctx context.Context, floor, id string) error {
	return c.write(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"DELETE FROM legacy_air_entries WHERE floor = $1 AND id = $2", floor, id); err != nil {
			return fmt.Errorf("removing item: %w", err)
		}
		return nil
	})
}

// write runs fn in a transaction tagged with this client's writer id, which
// the notify trigger copies into the notification payload.
func (c *Client) write(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT set_config('airsync.writer', $1, true)", c.writer); err != nil {
		return fmt.Errorf("tagging transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing write: %w", err)
	}
	return nil
}
