package buffer

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blockdb/file"
	"blockdb/internal/metrics"
	"blockdb/log"
)

// setup creates a temporary directory and initializes file and log managers for testing.
func setup(t *testing.T) (*file.Manager, *log.Manager) {
	t.Helper()
	const blockSize = 400
	const logFile = "testlogfile"

	fm, err := file.NewManager(t.TempDir(), blockSize)
	require.NoError(t, err)
	lm, err := log.NewManager(fm, logFile)
	require.NoError(t, err)
	return fm, lm
}

func blockOf(t *testing.T, buf *Buffer) file.Block {
	t.Helper()
	b, ok := buf.Block()
	require.True(t, ok, "buffer is not assigned to a block")
	return b
}

func TestManager_FlushAll(t *testing.T) {
	fm, lm := setup(t)
	bm := NewManager(fm, lm, 3)

	const txNum1 = 10
	const txNum2 = 20

	blk1 := file.NewBlock("testfile", 0)
	blk2 := file.NewBlock("testfile", 1)
	blk3 := file.NewBlock("testfile", 2)

	// blk2 holds data that the flush of tx1 must not overwrite.
	pInitial := file.NewPage(fm.BlockSize())
	require.NoError(t, pInitial.WriteStringAt(0, "initial data"))
	require.NoError(t, fm.Write(blk2, pInitial))

	modify := func(blk file.Block, offset int32, s string, txNum int32, lsn log.LSN) *Buffer {
		buf, err := bm.Pin(blk)
		require.NoError(t, err)
		require.NoError(t, buf.Contents().WriteStringAt(offset, s))
		buf.SetModified(txNum, lsn)
		return buf
	}
	buf1 := modify(blk1, 10, "data for tx1-a", txNum1, 1)
	buf2 := modify(blk2, 20, "data for tx2", txNum2, 2)
	buf3 := modify(blk3, 30, "data for tx1-b", txNum1, 3)

	require.NoError(t, bm.FlushAll(txNum1))

	assert.Equal(t, int32(-1), buf1.ModifyingTx())
	assert.Equal(t, int32(-1), buf3.ModifyingTx())
	assert.Equal(t, int32(txNum2), buf2.ModifyingTx())

	pCheck := file.NewPage(fm.BlockSize())
	readString := func(blk file.Block, offset int32) string {
		require.NoError(t, fm.Read(blk, pCheck))
		s, err := pCheck.ReadStringAt(offset)
		require.NoError(t, err)
		return s
	}
	assert.Equal(t, "data for tx1-a", readString(blk1, 10))
	assert.Equal(t, "data for tx1-b", readString(blk3, 30))
	assert.Equal(t, "initial data", readString(blk2, 0))
	assert.Equal(t, "", readString(blk2, 20), "tx2 was not flushed")
}

func TestManager_Pin(t *testing.T) {
	t.Run("Pin new blocks when buffers are available", func(t *testing.T) {
		fm, lm := setup(t)
		const numBufs = 1
		bm := NewManager(fm, lm, numBufs)

		blk := file.NewBlock("testfile", 1)

		buf, err := bm.Pin(blk)
		require.NoError(t, err)
		assert.Equal(t, blk, blockOf(t, buf))
		assert.Equal(t, int32(numBufs-1), bm.Available())
	})

	t.Run("Pin an already pinned block", func(t *testing.T) {
		fm, lm := setup(t)
		m := metrics.NewUnregistered()
		bm := NewManager(fm, lm, 1, WithMetrics(m))

		blk := file.NewBlock("testfile", 1)

		buf, err := bm.Pin(blk)
		require.NoError(t, err)
		bufAgain, err := bm.Pin(blk)
		require.NoError(t, err)

		assert.Same(t, buf, bufAgain)
		assert.Equal(t, int32(0), bm.Available())
		assert.Equal(t, 2.0, testutil.ToFloat64(m.BufferPins))
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BufferHits))

		// One unpin is not enough to release a buffer pinned twice.
		bm.Unpin(buf)
		assert.True(t, buf.IsPinned())
		assert.Equal(t, int32(0), bm.Available())

		bm.Unpin(buf)
		assert.False(t, buf.IsPinned())
		assert.Equal(t, int32(1), bm.Available())
	})

	t.Run("Pin waits and succeeds when another client unpins a buffer", func(t *testing.T) {
		fm, lm := setup(t)
		bm := NewManager(fm, lm, 1, WithMaxWait(5*time.Second))

		blk1 := file.NewBlock("testfile", 1)
		blk2 := file.NewBlock("testfile", 2)

		buf1, err := bm.Pin(blk1)
		require.NoError(t, err)

		type pinResult struct {
			buf *Buffer
			err error
		}
		results := make(chan pinResult, 1)
		go func() {
			buf, err := bm.Pin(blk2)
			results <- pinResult{buf, err}
		}()

		// Give the goroutine a moment to block on the condition variable.
		time.Sleep(20 * time.Millisecond)
		bm.Unpin(buf1)

		select {
		case result := <-results:
			require.NoError(t, result.err)
			assert.Equal(t, blk2, blockOf(t, result.buf))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for the second client to acquire the buffer")
		}
	})

	t.Run("Pin fails with an abort when all buffers are pinned", func(t *testing.T) {
		fm, lm := setup(t)
		m := metrics.NewUnregistered()
		bm := NewManager(fm, lm, 1, WithMaxWait(50*time.Millisecond), WithMetrics(m))

		_, err := bm.Pin(file.NewBlock("testfile", 1))
		require.NoError(t, err)
		assert.Equal(t, int32(0), bm.Available())

		start := time.Now()
		_, err = bm.Pin(file.NewBlock("testfile", 2))
		assert.ErrorIs(t, err, ErrBufferAbort)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
		assert.Equal(t, 1.0, testutil.ToFloat64(m.BufferAborts))
	})
}

func TestManager_PoolAccounting(t *testing.T) {
	fm, lm := setup(t)
	bm := NewManager(fm, lm, 3, WithMaxWait(50*time.Millisecond))

	b0 := file.NewBlock("testfile", 0)
	b1 := file.NewBlock("testfile", 1)
	b2 := file.NewBlock("testfile", 2)
	b3 := file.NewBlock("testfile", 3)

	var bufs []*Buffer
	pin := func(blk file.Block) {
		buf, err := bm.Pin(blk)
		require.NoError(t, err)
		bufs = append(bufs, buf)
	}

	pin(b0)
	pin(b1)
	pin(b2)
	assert.Equal(t, int32(0), bm.Available())

	bm.Unpin(bufs[1])
	assert.Equal(t, int32(1), bm.Available())

	pin(b0) // block 0 pinned twice
	assert.Equal(t, int32(1), bm.Available())

	pin(b1) // block 1 repinned from the unpinned buffer
	assert.Equal(t, int32(0), bm.Available())

	_, err := bm.Pin(b3)
	require.ErrorIs(t, err, ErrBufferAbort, "no buffers left")

	bm.Unpin(bufs[2])
	pin(b3)

	assert.Equal(t, int32(0), blockOf(t, bufs[0]).Number())
	assert.Equal(t, int32(0), blockOf(t, bufs[3]).Number())
	assert.Equal(t, int32(1), blockOf(t, bufs[4]).Number())
	assert.Equal(t, int32(3), blockOf(t, bufs[5]).Number())
	assert.Same(t, bufs[2], bufs[5], "block 3 reuses the buffer of block 2")
}

func TestManager_ReplacementFlushes(t *testing.T) {
	fm, lm := setup(t)
	bm := NewManager(fm, lm, 1)

	blk1 := file.NewBlock("testfile", 1)
	blk2 := file.NewBlock("testfile", 2)

	b1, err := bm.Pin(blk1)
	require.NoError(t, err)
	n, err := b1.Contents().ReadUint64At(80)
	require.NoError(t, err)
	require.NoError(t, b1.Contents().WriteUint64At(80, n+1))
	b1.SetModified(1, 0)
	bm.Unpin(b1)

	// Replacing b1 writes its modification to disk.
	b2, err := bm.Pin(blk2)
	require.NoError(t, err)
	require.NoError(t, b2.Contents().WriteUint64At(80, 9999))
	b2.SetModified(1, 0)

	p := file.NewPage(fm.BlockSize())
	require.NoError(t, fm.Read(blk1, p))
	got, err := p.ReadUint64At(80)
	require.NoError(t, err)
	assert.Equal(t, n+1, got)

	require.NoError(t, fm.Read(blk2, p))
	got, err = p.ReadUint64At(80)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got, "b2 is still only in memory")
}
