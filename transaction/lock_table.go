package transaction

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"blockdb/file"
	"blockdb/internal/metrics"
	"blockdb/internal/syncutil"
)

// ErrLockAbort is returned when a lock request times out. The transaction
// that made the request should roll back.
var ErrLockAbort = errors.New("transaction: lock request timed out")

// LockTable grants shared and exclusive locks on blocks. There is one lock
// table per database, shared by every transaction.
//
// The value stored for a block is the number of shared holders, or -1 when
// the block is exclusively locked. Blocks without locks have no entry.
type LockTable struct {
	mu      sync.Mutex
	locks   map[file.Block]int32
	cond    *sync.Cond // signalled whenever a lock is released
	maxWait time.Duration
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func NewLockTable(opts ...Option) *LockTable {
	o := newOptions(opts)
	lt := &LockTable{
		locks:   make(map[file.Block]int32),
		maxWait: o.maxWait,
		logger:  o.logger,
		metrics: o.metrics,
	}
	lt.cond = sync.NewCond(&lt.mu)
	return lt
}

// SLock grants a shared (read) lock on the specified block.
// It will wait for at most maxWait while another transaction holds an
// exclusive lock on it.
func (lt *LockTable) SLock(block file.Block) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if err := lt.wait(block, "slock", func() bool { return !lt.hasXLock(block) }); err != nil {
		return err
	}
	lt.locks[block]++
	return nil
}

// XLock grants an exclusive (write) lock on the specified block.
//
// The caller must already hold a shared lock on the block, which is how the
// concurrency manager always asks. A count above 1 therefore means that some
// other transaction also has a lock on the block.
func (lt *LockTable) XLock(block file.Block) error {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if err := lt.wait(block, "xlock", func() bool { return !lt.hasOtherSLocks(block) }); err != nil {
		return err
	}
	lt.locks[block] = -1
	return nil
}

// Unlock releases a lock on the specified block and wakes up waiting
// transactions. Waiters are woken even when shared holders remain, because
// an xlock request only needs its own slock to be left.
func (lt *LockTable) Unlock(block file.Block) {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	if lt.locks[block] > 1 {
		lt.locks[block]--
	} else {
		delete(lt.locks, block)
	}
	lt.cond.Broadcast()
}

// wait blocks until granted reports true or maxWait elapses.
// This method must be called with the mutex lock already held.
func (lt *LockTable) wait(block file.Block, kind string, granted func() bool) error {
	if granted() {
		return nil
	}

	lt.metrics.LockWaits.Inc()
	if syncutil.WaitUntil(lt.cond, time.Now().Add(lt.maxWait), granted) {
		return nil
	}

	lt.metrics.LockAborts.Inc()
	lt.logger.Warn("lock request timed out",
		zap.String("kind", kind),
		zap.Stringer("block", block),
		zap.Duration("max_wait", lt.maxWait))
	return fmt.Errorf("%w: %s on %s", ErrLockAbort, kind, block)
}

func (lt *LockTable) hasXLock(block file.Block) bool {
	return lt.locks[block] < 0
}

func (lt *LockTable) hasOtherSLocks(block file.Block) bool {
	return lt.locks[block] > 1
}
