package transaction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"blockdb/buffer"
	"blockdb/file"
	"blockdb/log"
)

const testLogFile = "testlogfile"

type env struct {
	dir       string
	fm        *file.Manager
	lm        *log.Manager
	bm        *buffer.Manager
	lockTable *LockTable
}

func newEnv(t *testing.T, numBufs int32) *env {
	t.Helper()
	return openEnv(t, t.TempDir(), numBufs)
}

// openEnv opens the managers on dir, the way a database does at startup.
func openEnv(t *testing.T, dir string, numBufs int32) *env {
	t.Helper()

	fm, err := file.NewManager(dir, 400)
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })

	lm, err := log.NewManager(fm, testLogFile)
	require.NoError(t, err)

	return &env{
		dir:       dir,
		fm:        fm,
		lm:        lm,
		bm:        buffer.NewManager(fm, lm, numBufs, buffer.WithMaxWait(100*time.Millisecond)),
		lockTable: NewLockTable(WithMaxWait(100 * time.Millisecond)),
	}
}

func (e *env) newTx(t *testing.T) *Transaction {
	t.Helper()
	tx, err := NewTransaction(e.fm, e.lm, e.bm, e.lockTable)
	require.NoError(t, err)
	return tx
}

// recover runs restart recovery the same way db.Open does.
func (e *env) recover(t *testing.T) {
	t.Helper()
	highest, err := HighestNumber(e.lm)
	require.NoError(t, err)
	AdvanceNumber(highest)
	require.NoError(t, e.newTx(t).Recover())
}
