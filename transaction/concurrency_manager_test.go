package transaction

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"blockdb/file"
)

// TestConcurrencyManager runs three clients that contend for the same two
// blocks. Each waits at most as long as the others hold their locks, so all
// three commit.
func TestConcurrencyManager(t *testing.T) {
	e := newEnv(t, 8)
	e.lockTable = NewLockTable(WithMaxWait(5 * time.Second))

	const pause = 100 * time.Millisecond
	block1 := file.NewBlock("testfile", 1)
	block2 := file.NewBlock("testfile", 2)

	type step func(tx *Transaction) error
	read := func(b file.Block) step {
		return func(tx *Transaction) error {
			_, err := tx.ReadInt32(b, 0)
			return err
		}
	}
	write := func(b file.Block) step {
		return func(tx *Transaction) error {
			return tx.WriteInt32(b, 0, 0, false)
		}
	}
	sleep := func(d time.Duration) step {
		return func(*Transaction) error {
			time.Sleep(d)
			return nil
		}
	}

	client := func(name string, steps ...step) func() error {
		return func() error {
			tx, err := NewTransaction(e.fm, e.lm, e.bm, e.lockTable)
			if err != nil {
				return fmt.Errorf("%s: failed to create transaction: %w", name, err)
			}
			if err := tx.Pin(block1); err != nil {
				return fmt.Errorf("%s: failed to pin block1: %w", name, err)
			}
			if err := tx.Pin(block2); err != nil {
				return fmt.Errorf("%s: failed to pin block2: %w", name, err)
			}
			for i, s := range steps {
				if err := s(tx); err != nil {
					_ = tx.Rollback()
					return fmt.Errorf("%s: step %d: %w", name, i, err)
				}
			}
			if err := tx.Commit(); err != nil {
				return fmt.Errorf("%s: failed to commit: %w", name, err)
			}
			return nil
		}
	}

	var eg errgroup.Group
	eg.Go(client("clientA", read(block1), sleep(2*pause), read(block2)))
	eg.Go(client("clientB", write(block2), sleep(2*pause), read(block1)))
	eg.Go(client("clientC", sleep(pause), write(block1), sleep(2*pause), read(block2)))
	require.NoError(t, eg.Wait())

	require.Empty(t, e.lockTable.locks)
	require.Equal(t, int32(8), e.bm.Available())
}
