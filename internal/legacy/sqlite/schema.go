package sqlite

import (
	"context"
	"fmt"
	"strings"
)

// EnsureSchema creates the item table, the per-floor revision table and the
// triggers that bump a floor's revision on every write.
func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS legacy_air_entries (
		floor      TEXT NOT NULL,
		id         TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		item       TEXT NOT NULL,
		updated_at TEXT DEFAULT (datetime('now')),
		CONSTRAINT pk_legacy_air_entries PRIMARY KEY (floor, id)
	);

	CREATE TABLE IF NOT EXISTS legacy_floor_revisions (
		floor    TEXT PRIMARY KEY,
		revision INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_legacy_air_entries_type ON legacy_air_entries (entry_type);

	CREATE TRIGGER IF NOT EXISTS legacy_air_entries_ai AFTER INSERT ON legacy_air_entries BEGIN
		INSERT OR IGNORE INTO legacy_floor_revisions (floor, revision) VALUES (new.floor, 0);
		UPDATE legacy_floor_revisions SET revision = revision + 1 WHERE floor = new.floor;
	END;

	CREATE TRIGGER IF NOT EXISTS legacy_air_entries_au AFTER UPDATE ON legacy_air_entries BEGIN
		UPDATE legacy_floor_revisions SET revision = revision + 1 WHERE floor = new.floor;
	END;

	CREATE TRIGGER IF NOT EXISTS legacy_air_entries_ad AFTER DELETE ON legacy_air_entries BEGIN
		UPDATE legacy_floor_revisions SET revision = revision + 1 WHERE floor = old.floor;
	END;
	`

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(ddl) {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("executing DDL: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}
	return nil
}

// splitStatements splits on lines ending in ';', keeping trigger bodies
// (BEGIN ... END;) in one statement.
func splitStatements(ddl string) []string {
	var statements []string
	var current strings.Builder
	inTrigger := false

	for _, line := range strings.Split(ddl, "\n") {
		stripped := strings.TrimSpace(line)
		if strings.HasPrefix(stripped, "--") {
			continue
		}
		upper := strings.ToUpper(stripped)
		if strings.HasPrefix(upper, "CREATE TRIGGER") {
			inTrigger = true
		}
		current.WriteString(line)
		current.WriteString("\n")

		if !strings.HasSuffix(stripped, ";") {
			continue
		}
		if inTrigger && upper != "END;" {
			continue
		}
		inTrigger = false
		statements = append(statements, current.String())
		current.Reset()
	}

	if strings.TrimSpace(current.String()) != "" {
		statements = append(statements, current.String())
	}
	return statements
}
