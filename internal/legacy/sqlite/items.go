package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"airsync/internal/legacy"
)

func (c *Client) Floors(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT DISTINCT floor FROM legacy_air_entries ORDER BY floor")
	if err != nil {
		return nil, fmt.Errorf("query floors: %w", err)
	}
	defer rows.Close()

	var floors []string
	for rows.Next() {
		var floor string
		if err := rows.Scan(&floor); err != nil {
			return nil, fmt.Errorf("scanning floor: %w", err)
		}
		floors = append(floors, floor)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating floors: %w", err)
	}
	return floors, nil
}

func (c *Client) List(ctx context.Context, floor string) ([]legacy.Item, error) {
	rows, err := c.db.QueryContext(ctx,
		"SELECT item FROM legacy_air_entries WHERE floor = ? ORDER BY rowid", floor)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	items := make([]legacy.Item, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning item: %w", err)
		}
		var it legacy.Item
		if err := json.Unmarshal([]byte(raw), &it); err != nil {
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
	VALUES (?, ?, ?, ?, datetime('now'))
	ON CONFLICT (floor, id) DO UPDATE SET
		entry_type = excluded.entry_type,
		item = excluded.item,
		updated_at = datetime('now')
	`
	return c.write(ctx, floor, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, query, floor, item.ID, item.Type, string(raw)); err != nil {
			return fmt.Errorf("upserting item: %w", err)
		}
		return nil
	})
}

func (c *Client) Remove(ctx context.Context, floor, id string) error {
	return c.write(ctx, floor, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM legacy_air_entries WHERE floor = ? AND id = ?", floor, id); err != nil {
			return fmt.Errorf("removing item: %w", err)
		}
		return nil
	})
}

// write runs fn in a transaction and records the floor revision it produced,
// unless another writer touched the floor since this client last looked.
func (c *Client) write(ctx context.Context, floor string, fn func(tx *sql.Tx) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	before, err := floorRevision(ctx, tx, floor)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	after, err := floorRevision(ctx, tx, floor)
	if err != nil {
		return err
	}

	// hold mu across the commit so a concurrent poll cannot report this write
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing write: %w", err)
	}
	if c.seen[floor] == before {
		c.seen[floor] = after
	}
	return nil
}

func floorRevision(ctx context.Context, tx *sql.Tx, floor string) (int64, error) {
	var rev int64
	err := tx.QueryRowContext(ctx,
		"SELECT revision FROM legacy_floor_revisions WHERE floor = ?", floor).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading floor revision: %w", err)
	}
	return rev, nil
}

func (c *Client) revisions(ctx context.Context) (map[string]int64, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT floor, revision FROM legacy_floor_revisions")
	if err != nil {
		return nil, fmt.Errorf("query revisions: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var floor string
		var rev int64
		if err := rows.Scan(&floor, &rev); err != nil {
			return nil, fmt.Errorf("scanning revision: %w", err)
		}
		out[floor] = rev
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating revisions: %w", err)
	}
	return out, nil
}
