package log

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIterator_Next(t *testing.T) {
	t.Run("empty log", func(t *testing.T) {
		_, lm := setup(t, 400)

		it, err := lm.Iterator()
		require.NoError(t, err)
		assert.False(t, it.HasNext())

		_, err = it.Next()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("iterates within a single block", func(t *testing.T) {
		_, lm := setup(t, 400)

		logs := [][]byte{
			[]byte("log one"),
			[]byte("log two"),
			[]byte("log three"),
		}
		for _, rec := range logs {
			_, err := lm.Append(rec)
			require.NoError(t, err)
		}

		it, err := lm.Iterator()
		require.NoError(t, err)
		assert.Equal(t, lm.LatestLSN(), lm.LastSavedLSN(), "creating an iterator flushes the log")

		for i := len(logs) - 1; i >= 0; i-- {
			require.True(t, it.HasNext(), "log %d", i)
			got, err := it.Next()
			require.NoError(t, err)
			assert.Equal(t, logs[i], got)
		}
		assert.False(t, it.HasNext())
	})

	t.Run("iterates across multiple blocks", func(t *testing.T) {
		_, lm := setup(t, 100)

		log1 := make([]byte, 80)
		log1[0] = 'A'
		log2 := make([]byte, 30) // overflows into block 1
		log2[0] = 'B'
		log3 := make([]byte, 25) // shares block 1 with log2
		log3[0] = 'C'
		log4 := make([]byte, 40) // overflows into block 2
		log4[0] = 'D'

		logs := [][]byte{log1, log2, log3, log4}
		for _, rec := range logs {
			_, err := lm.Append(rec)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(2), lm.currentBlock.Number())

		it, err := lm.Iterator()
		require.NoError(t, err)

		for i := len(logs) - 1; i >= 0; i-- {
			require.True(t, it.HasNext(), "log %d", i)
			got, err := it.Next()
			require.NoError(t, err)
			assert.Equal(t, logs[i], got, "log %d", i)
		}
		assert.False(t, it.HasNext())
	})
}
