package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.StoreMutation("create", nil)
		c.SetEntries(3)
		c.ObserverPanic()
		c.ViewUpdate("position", "view")
		c.LockDenied()
		c.EditSession(true)
		c.BatchCommit(2)
		c.BridgeMirror("store_to_legacy", "upsert")
		c.MigrationItem(errors.New("bad"))
	})
	assert.Nil(t, c.Registry())
}

func TestCollector(t *testing.T) {
	c := New()

	c.StoreMutation("create", nil)
	c.StoreMutation("create", nil)
	c.StoreMutation("update", errors.New("invalid"))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.storeMutations.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storeMutations.WithLabelValues("update", "error")))

	c.SetEntries(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(c.entries))

	c.EditSession(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.editSessionsOpen))
	c.EditSession(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.editSessionsOpen))

	c.BatchCommit(3)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.batchCommits))

	c.MigrationItem(nil)
	c.MigrationItem(errors.New("bad"))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.migrationItems.WithLabelValues("migrated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.migrationItems.WithLabelValues("failed")))

	n, err := testutil.GatherAndCount(c.Registry())
	assert.NoError(t, err)
	assert.Positive(t, n)
}
