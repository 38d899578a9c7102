package db

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockdb/file"
	"blockdb/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Directory = t.TempDir()
	cfg.MaxWait = 200 * time.Millisecond
	return cfg
}

func TestOpen(t *testing.T) {
	t.Run("invalid config", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.BufferCount = 0
		_, err := Open(cfg)
		assert.Error(t, err)
	})

	t.Run("fresh database", func(t *testing.T) {
		cfg := testConfig(t)
		db, err := Open(cfg)
		require.NoError(t, err)
		defer db.Close()

		assert.NotEqual(t, uuid.Nil, db.ID())
		assert.Equal(t, cfg.BlockSize, db.FileManager().BlockSize())
		assert.Equal(t, cfg.BufferCount, db.BufferManager().Available())

		size, err := db.FileManager().Size(cfg.LogFile)
		require.NoError(t, err)
		assert.Equal(t, int32(1), size)
	})

	t.Run("metrics registration", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		db, err := Open(testConfig(t), WithRegisterer(reg))
		require.NoError(t, err)
		defer db.Close()

		tx, err := db.NewTx()
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		n, err := testutil.GatherAndCount(reg, "blockdb_tx_commits_total")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = Open(testConfig(t), WithRegisterer(reg))
		assert.Error(t, err, "a registry holds the metrics of one database")
	})
}

// TestScenario checks that a rolled back write never hides the last
// committed value.
func TestScenario(t *testing.T) {
	db, err := Open(testConfig(t))
	require.NoError(t, err)
	defer db.Close()

	block := file.NewBlock("testfile", 1)

	tx1, err := db.NewTx()
	require.NoError(t, err)
	require.NoError(t, tx1.Pin(block))
	require.NoError(t, tx1.WriteInt32(block, 80, 1, false))
	require.NoError(t, tx1.Commit())

	tx2, err := db.NewTx()
	require.NoError(t, err)
	require.NoError(t, tx2.Pin(block))
	v, err := tx2.ReadInt32(block, 80)
	require.NoError(t, err)
	require.Equal(t, int32(1), v)
	require.NoError(t, tx2.WriteInt32(block, 80, 2, true))
	require.NoError(t, tx2.Commit())

	tx3, err := db.NewTx()
	require.NoError(t, err)
	require.NoError(t, tx3.Pin(block))
	v, err = tx3.ReadInt32(block, 80)
	require.NoError(t, err)
	require.Equal(t, int32(2), v)
	require.NoError(t, tx3.WriteInt32(block, 80, 9999, true))
	require.NoError(t, tx3.Rollback())

	tx4, err := db.NewTx()
	require.NoError(t, err)
	require.NoError(t, tx4.Pin(block))
	v, err = tx4.ReadInt32(block, 80)
	require.NoError(t, err)
	assert.Equal(t, int32(2), v)
	require.NoError(t, tx4.Commit())
}

func TestReopen(t *testing.T) {
	cfg := testConfig(t)
	block := file.NewBlock("testfile", 0)

	db, err := Open(cfg)
	require.NoError(t, err)

	committed, err := db.NewTx()
	require.NoError(t, err)
	require.NoError(t, committed.Pin(block))
	require.NoError(t, committed.WriteString(block, 0, "committed", true))
	require.NoError(t, committed.Commit())

	unfinished, err := db.NewTx()
	require.NoError(t, err)
	require.NoError(t, unfinished.Pin(block))
	require.NoError(t, unfinished.WriteString(block, 0, "unfinished", true))
	require.NoError(t, db.BufferManager().FlushAll(unfinished.Number()))
	require.NoError(t, db.Close())

	db, err = Open(cfg)
	require.NoError(t, err)
	defer db.Close()

	tx, err := db.NewTx()
	require.NoError(t, err)
	assert.Greater(t, tx.Number(), unfinished.Number())
	require.NoError(t, tx.Pin(block))
	s, err := tx.ReadString(block, 0)
	require.NoError(t, err)
	assert.Equal(t, "committed", s)
	require.NoError(t, tx.Commit())
}
