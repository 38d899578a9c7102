// Package transaction provides ACID transactions over the buffer pool:
// strict two-phase locking on blocks through a shared LockTable, and undo
// logging for rollback and restart recovery.
package transaction

import (
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"blockdb/buffer"
	"blockdb/file"
	"blockdb/internal/metrics"
	"blockdb/log"
)

var transactionNumber atomic.Int32

// AdvanceNumber makes sure transactions created from now on get numbers
// above n. It is used after restart, so new transactions never reuse a
// number found in the log.
func AdvanceNumber(n int32) {
	for {
		cur := transactionNumber.Load()
		if cur >= n || transactionNumber.CompareAndSwap(cur, n) {
			return
		}
	}
}

var (
	// ErrTxDone is returned when a committed or rolled back transaction is
	// used again.
	ErrTxDone = errors.New("transaction: transaction has already been committed or rolled back")

	// ErrNotPinned is returned when a transaction reads or writes a block it
	// has not pinned.
	ErrNotPinned = errors.New("transaction: block is not pinned")
)

// IsAbort reports whether err means the transaction could not get a lock or
// a buffer in time. Such a transaction should be rolled back, and may then
// be retried.
func IsAbort(err error) bool {
	return errors.Is(err, ErrLockAbort) || errors.Is(err, buffer.ErrBufferAbort)
}

type state int8

const (
	active state = iota
	committed
	rolledBack
)

// Transaction is a unit of work over blocks. A transaction is used by one
// goroutine at a time.
type Transaction struct {
	txNum              int32
	state              state
	fileManager        *file.Manager
	logManager         *log.Manager
	bufferManager      *buffer.Manager
	recoveryManager    *RecoveryManager
	concurrencyManager *ConcurrencyManager
	bufferList         *BufferList
	logger             *zap.Logger
	metrics            *metrics.Metrics
}

// NewTransaction starts a transaction and logs its Start record. Every
// transaction of a database must share the same lockTable.
func NewTransaction(fileManager *file.Manager, logManager *log.Manager, bufferManager *buffer.Manager, lockTable *LockTable, opts ...Option) (*Transaction, error) {
	o := newOptions(opts)
	txNum := transactionNumber.Add(1)

	tx := &Transaction{
		txNum:              txNum,
		fileManager:        fileManager,
		logManager:         logManager,
		bufferManager:      bufferManager,
		concurrencyManager: NewConcurrencyManager(lockTable),
		bufferList:         NewBufferList(bufferManager),
		logger:             o.logger.With(zap.Int32("tx", txNum)),
		metrics:            o.metrics,
	}

	recoveryManager, err := NewRecoveryManager(logManager, bufferManager, tx, txNum)
	if err != nil {
		return nil, fmt.Errorf("transaction: start %d: %w", txNum, err)
	}
	tx.recoveryManager = recoveryManager

	tx.logger.Debug("transaction started")
	return tx, nil
}

func (tx *Transaction) Number() int32 {
	return tx.txNum
}

// Commit makes the transaction's changes durable, then releases its locks
// and pins. If it fails the transaction stays active and can be rolled
// back.
func (tx *Transaction) Commit() error {
	if err := tx.checkActive(); err != nil {
		return err
	}

	if err := tx.recoveryManager.Commit(); err != nil {
		return fmt.Errorf("transaction: commit %d: %w", tx.txNum, err)
	}

	tx.finish(committed)
	tx.metrics.Commits.Inc()
	tx.logger.Info("transaction committed")
	return nil
}

// Rollback undoes the transaction's logged changes, then releases its locks
// and pins.
func (tx *Transaction) Rollback() error {
	if err := tx.checkActive(); err != nil {
		return err
	}

	if err := tx.recoveryManager.Rollback(); err != nil {
		return fmt.Errorf("transaction: rollback %d: %w", tx.txNum, err)
	}

	tx.finish(rolledBack)
	tx.metrics.Rollbacks.Inc()
	tx.logger.Info("transaction rolled back")
	return nil
}

// Recover rolls back every transaction the log shows as unfinished. It is
// run at startup, before any other transaction, and ends tx.
func (tx *Transaction) Recover() error {
	if err := tx.checkActive(); err != nil {
		return err
	}

	if err := tx.bufferManager.FlushAll(tx.txNum); err != nil {
		return err
	}
	if err := tx.recoveryManager.Recover(); err != nil {
		return fmt.Errorf("transaction: recover: %w", err)
	}

	tx.finish(rolledBack)
	return nil
}

func (tx *Transaction) Pin(block file.Block) error {
	if err := tx.checkActive(); err != nil {
		return err
	}
	return tx.bufferList.Pin(block)
}

func (tx *Transaction) Unpin(block file.Block) {
	tx.bufferList.Unpin(block)
}

func (tx *Transaction) ReadInt32(block file.Block, offset int32) (int32, error) {
	buf, err := tx.buffer(block)
	if err != nil {
		return 0, err
	}
	if err := tx.concurrencyManager.SLock(block); err != nil {
		return 0, err
	}
	return buf.Contents().ReadInt32At(offset)
}

func (tx *Transaction) ReadString(block file.Block, offset int32) (string, error) {
	buf, err := tx.buffer(block)
	if err != nil {
		return "", err
	}
	if err := tx.concurrencyManager.SLock(block); err != nil {
		return "", err
	}
	return buf.Contents().ReadStringAt(offset)
}

// WriteInt32 stores val at offset of block. With log set, the old value is
// logged first so that rollback can restore it, and the block stays pinned
// until the transaction ends.
func (tx *Transaction) WriteInt32(block file.Block, offset int32, val int32, log bool) error {
	buf, err := tx.buffer(block)
	if err != nil {
		return err
	}
	if err := tx.concurrencyManager.XLock(block); err != nil {
		return err
	}

	lsn := noLSN
	if log {
		if lsn, err = tx.recoveryManager.SetInt(buf, offset); err != nil {
			return err
		}
		tx.bufferList.Hold(block)
	}

	if err := buf.Contents().WriteInt32At(offset, val); err != nil {
		return err
	}

	buf.SetModified(tx.txNum, lsn)
	return nil
}

func (tx *Transaction) WriteString(block file.Block, offset int32, val string, log bool) error {
	buf, err := tx.buffer(block)
	if err != nil {
		return err
	}
	if err := tx.concurrencyManager.XLock(block); err != nil {
		return err
	}

	lsn := noLSN
	if log {
		if lsn, err = tx.recoveryManager.SetString(buf, offset); err != nil {
			return err
		}
		tx.bufferList.Hold(block)
	}

	if err := buf.Contents().WriteStringAt(offset, val); err != nil {
		return err
	}

	buf.SetModified(tx.txNum, lsn)
	return nil
}

const noLSN log.LSN = -1

// endOfFile returns the lock target standing for the end of filename. Size
// locks it shared and Append exclusive, so a transaction that read the size
// of a file does not see it grow.
func endOfFile(filename string) file.Block {
	return file.NewBlock(filename, -1)
}

func (tx *Transaction) Size(filename string) (int32, error) {
	if err := tx.checkActive(); err != nil {
		return 0, err
	}
	if err := tx.concurrencyManager.SLock(endOfFile(filename)); err != nil {
		return 0, err
	}
	return tx.fileManager.Size(filename)
}

func (tx *Transaction) Append(filename string) (file.Block, error) {
	if err := tx.checkActive(); err != nil {
		return file.Block{}, err
	}
	if err := tx.concurrencyManager.XLock(endOfFile(filename)); err != nil {
		return file.Block{}, err
	}
	return tx.fileManager.Append(filename)
}

func (tx *Transaction) BlockSize() int32 {
	return tx.fileManager.BlockSize()
}

func (tx *Transaction) AvailableBuffers() int32 {
	return tx.bufferManager.Available()
}

func (tx *Transaction) buffer(block file.Block) (*buffer.Buffer, error) {
	if err := tx.checkActive(); err != nil {
		return nil, err
	}
	buf := tx.bufferList.Buffer(block)
	if buf == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotPinned, block)
	}
	return buf, nil
}

func (tx *Transaction) checkActive() error {
	if tx.state != active {
		return fmt.Errorf("%w: %d", ErrTxDone, tx.txNum)
	}
	return nil
}

func (tx *Transaction) finish(s state) {
	tx.concurrencyManager.Release()
	tx.bufferList.UnpinAll()
	tx.state = s
}
