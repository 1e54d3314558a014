package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"airsync/internal/legacy"
)

func openTestClient(t *testing.T, path string) *Client {
	t.Helper()
	c, err := New(context.Background(), "sqlite://"+path, Options{PollInterval: 10 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close(context.Background()) })
	return c
}

func item(id string, x float64) legacy.Item {
	return legacy.Item{
		ID:         id,
		Type:       "window",
		Position:   legacy.Position{X: x, Y: 2},
		Dimensions: legacy.Dimensions{Width: 100, Height: 80},
		Line:       legacy.Line{End: legacy.Point{X: 50}},
		Properties: map[string]any{"state": "open", "flow": 1.5},
	}
}

func TestClientItems(t *testing.T) {
	ctx := context.Background()
	c := openTestClient(t, filepath.Join(t.TempDir(), "legacy.db"))

	require.NoError(t, c.Upsert(ctx, "ground", item("w1", 1)))
	require.NoError(t, c.Upsert(ctx, "ground", item("w2", 2)))
	require.NoError(t, c.Upsert(ctx, "first", item("w3", 3)))
	require.NoError(t, c.Upsert(ctx, "ground", item("w1", 10)))

	floors, err := c.Floors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "ground"}, floors)

	items, err := c.List(ctx, "ground")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "w1", items[0].ID)
	assert.Equal(t, 10.0, items[0].Position.X)
	assert.Equal(t, "open", items[0].Properties["state"])
	assert.Equal(t, "w2", items[1].ID)

	require.NoError(t, c.Remove(ctx, "first", "w3"))
	require.NoError(t, c.Remove(ctx, "first", "missing"))
	floors, err = c.Floors(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ground"}, floors)

	empty, err := c.List(ctx, "attic")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestClientMemoryDSN(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, "sqlite://:memory:", Options{})
	require.NoError(t, err)
	defer c.Close(ctx)

	require.NoError(t, c.Upsert(ctx, "ground", item("w1", 1)))
	items, err := c.List(ctx, "ground")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestClientWatch(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "legacy.db")
	own := openTestClient(t, path)
	external := openTestClient(t, path)

	var mu sync.Mutex
	var reported []string
	stop, err := own.Watch(ctx, func(floor string) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, floor)
	})
	require.NoError(t, err)
	defer stop()

	require.NoError(t, own.Upsert(ctx, "ground", item("w1", 1)))
	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, reported, "own writes must not be reported")
	mu.Unlock()

	require.NoError(t, external.Upsert(ctx, "first", item("w9", 9)))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 1 && reported[0] == "first"
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, external.Remove(ctx, "ground", "w1"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reported) == 2 && reported[1] == "ground"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSplitStatements(t *testing.T) {
	ddl := `
	CREATE TABLE a (id INTEGER);
	-- comment;
	CREATE TRIGGER t AFTER INSERT ON a BEGIN
		UPDATE a SET id = 1;
		UPDATE a SET id = 2;
	END;
	CREATE INDEX i ON a (id);
	`
	stmts := splitStatements(ddl)
	require.Len(t, stmts, 3)
	assert.Contains(t, stmts[1], "UPDATE a SET id = 2;")
	assert.Contains(t, stmts[1], "END;")
}
