package postgres

import (
	"context"
	"fmt"
)

const notifyChannel = "legacy_air_entries"

func (c *Client) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS legacy_air_entries (
    seq        BIGINT GENERATED ALWAYS AS IDENTITY,
    floor      TEXT NOT NULL,
    id         TEXT NOT NULL,
    entry_type TEXT NOT NULL,
    item       JSONB NOT NULL,
    updated_at TIMESTAMPTZ DEFAULT now(),
    CONSTRAINT pk_legacy_air_entries PRIMARY KEY (floor, id)
);

CREATE INDEX IF NOT EXISTS idx_legacy_air_entries_type ON legacy_air_entries (entry_type);
CREATE INDEX IF NOT EXISTS idx_legacy_air_entries_seq ON legacy_air_entries (floor, seq);

CREATE OR REPLACE FUNCTION legacy_air_entries_notify() RETURNS trigger AS $$
DECLARE
    changed_floor TEXT;
BEGIN
    IF TG_OP = 'DELETE' THEN
        changed_floor := OLD.floor;
    ELSE
        changed_floor := NEW.floor;
    END IF;
    PERFORM pg_notify('legacy_air_entries', json_build_object(
        'floor', changed_floor,
        'writer', COALESCE(current_setting('airsync.writer', true), '')
    )::text);
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS legacy_air_entries_notify ON legacy_air_entries;
CREATE TRIGGER legacy_air_entries_notify
    AFTER INSERT OR UPDATE OR DELETE ON legacy_air_entries
    FOR EACH ROW EXECUTE FUNCTION legacy_air_entries_notify();
`
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensuring schema: %w", err)
	}
	return nil
}
