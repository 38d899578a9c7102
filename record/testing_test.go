package record

import (
	"testing"

	"github.com/stretchr/testify/require"

	"blockdb/buffer"
	"blockdb/file"
	"blockdb/log"
	"blockdb/transaction"
)

type env struct {
	fm *file.Manager
	lm *log.Manager
	bm *buffer.Manager
	lt *transaction.LockTable
}

func newEnv(t *testing.T) *env {
	t.Helper()
	fm, err := file.NewManager(t.TempDir(), 400)
	require.NoError(t, err)
	t.Cleanup(func() { fm.Close() })
	lm, err := log.NewManager(fm, "testlogfile")
	require.NoError(t, err)
	return &env{
		fm: fm,
		lm: lm,
		bm: buffer.NewManager(fm, lm, 8),
		lt: transaction.NewLockTable(),
	}
}

func (e *env) newTx(t *testing.T) *transaction.Transaction {
	t.Helper()
	tx, err := transaction.NewTransaction(e.fm, e.lm, e.bm, e.lt)
	require.NoError(t, err)
	return tx
}

func testLayout() *Layout {
	schema := NewSchema()
	schema.AddIntField("A")
	schema.AddStringField("B", 9)
	return NewLayout(schema)
}
