package transaction

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"blockdb/buffer"
	"blockdb/log"
)

// RecoveryManager writes the undo log of one transaction and uses it to
// roll the transaction back. The same machinery recovers the database at
// startup.
type RecoveryManager struct {
	logManager    *log.Manager
	bufferManager *buffer.Manager
	tx            *Transaction
	txNum         int32
	logger        *zap.Logger
}

// NewRecoveryManager logs a Start record for txNum.
func NewRecoveryManager(logManager *log.Manager, bufferManager *buffer.Manager, tx *Transaction, txNum int32) (*RecoveryManager, error) {
	if _, err := (StartRecord{TxNum: txNum}).WriteToLog(logManager); err != nil {
		return nil, err
	}

	return &RecoveryManager{
		logManager:    logManager,
		bufferManager: bufferManager,
		tx:            tx,
		txNum:         txNum,
		logger:        tx.logger,
	}, nil
}

// Commit writes the transaction's modified buffers to disk, then logs a
// Commit record and forces it to disk.
func (m *RecoveryManager) Commit() error {
	if err := m.bufferManager.FlushAll(m.txNum); err != nil {
		return err
	}

	lsn, err := (CommitRecord{TxNum: m.txNum}).WriteToLog(m.logManager)
	if err != nil {
		return err
	}
	return m.logManager.Flush(lsn)
}

// Rollback undoes the transaction's logged modifications, writes the
// restored buffers to disk, and logs a Rollback record.
func (m *RecoveryManager) Rollback() error {
	if err := m.doRollback(); err != nil {
		return err
	}

	if err := m.bufferManager.FlushAll(m.txNum); err != nil {
		return err
	}

	lsn, err := (RollbackRecord{TxNum: m.txNum}).WriteToLog(m.logManager)
	if err != nil {
		return err
	}
	return m.logManager.Flush(lsn)
}

// Recover undoes the modifications of every transaction that has neither a
// Commit nor a Rollback record in the log. Each of them then gets a Rollback
// record, so a later recovery leaves them alone.
func (m *RecoveryManager) Recover() error {
	unfinished, err := m.doRecover()
	if err != nil {
		return err
	}

	if err := m.bufferManager.FlushAll(m.txNum); err != nil {
		return err
	}

	var lsn log.LSN
	for _, txNum := range unfinished {
		if lsn, err = (RollbackRecord{TxNum: txNum}).WriteToLog(m.logManager); err != nil {
			return err
		}
	}
	if err := m.logManager.Flush(lsn); err != nil {
		return err
	}

	m.logger.Info("recovery complete", zap.Int("rolled_back", len(unfinished)-1))
	return nil
}

// SetInt logs the current int32 at offset of buf, before it is overwritten.
func (m *RecoveryManager) SetInt(buf *buffer.Buffer, offset int32) (log.LSN, error) {
	block, ok := buf.Block()
	if !ok {
		return 0, fmt.Errorf("transaction: log write to unassigned buffer")
	}
	oldVal, err := buf.Contents().ReadInt32At(offset)
	if err != nil {
		return 0, err
	}
	return SetIntRecord{TxNum: m.txNum, Block: block, Offset: offset, OldValue: oldVal}.WriteToLog(m.logManager)
}

// SetString logs the current string at offset of buf, before it is
// overwritten.
func (m *RecoveryManager) SetString(buf *buffer.Buffer, offset int32) (log.LSN, error) {
	block, ok := buf.Block()
	if !ok {
		return 0, fmt.Errorf("transaction: log write to unassigned buffer")
	}
	oldVal, err := buf.Contents().ReadStringAt(offset)
	if err != nil {
		return 0, err
	}
	return SetStringRecord{TxNum: m.txNum, Block: block, Offset: offset, OldValue: oldVal}.WriteToLog(m.logManager)
}

// doRollback walks the log from the newest record back to the
// transaction's Start record, undoing its Set records on the way.
func (m *RecoveryManager) doRollback() error {
	iter, err := m.logManager.Iterator()
	if err != nil {
		return err
	}

	for iter.HasNext() {
		b, err := iter.Next()
		if err != nil {
			return err
		}

		record, err := ParseRecord(b)
		if err != nil {
			return err
		}
		if record.TxNumber() != m.txNum {
			continue
		}
		if record.Op() == Start {
			return nil
		}
		if u, ok := record.(undoer); ok {
			if err := u.Undo(m.tx); err != nil {
				return err
			}
		}
	}

	return nil
}

// doRecover undoes, newest first, the Set records of transactions that did
// not finish. It returns the numbers of those transactions in ascending
// order; the recovering transaction itself is one of them.
func (m *RecoveryManager) doRecover() ([]int32, error) {
	finished := make(map[int32]bool)
	unfinished := make(map[int32]bool)

	iter, err := m.logManager.Iterator()
	if err != nil {
		return nil, err
	}

	for iter.HasNext() {
		b, err := iter.Next()
		if err != nil {
			return nil, err
		}

		record, err := ParseRecord(b)
		if err != nil {
			return nil, err
		}

		txNum := record.TxNumber()
		switch record.Op() {
		case Commit, Rollback:
			finished[txNum] = true
			continue
		}
		if finished[txNum] {
			continue
		}

		unfinished[txNum] = true
		if u, ok := record.(undoer); ok {
			if err := u.Undo(m.tx); err != nil {
				return nil, err
			}
		}
	}

	unfinished[m.txNum] = true
	nums := make([]int32, 0, len(unfinished))
	for txNum := range unfinished {
		nums = append(nums, txNum)
	}
	slices.Sort(nums)
	return nums, nil
}

// HighestNumber returns the largest transaction number found in the log, or
// 0 for an empty log.
func HighestNumber(lm *log.Manager) (int32, error) {
	iter, err := lm.Iterator()
	if err != nil {
		return 0, err
	}

	var highest int32
	for iter.HasNext() {
		b, err := iter.Next()
		if err != nil {
			return 0, err
		}
		record, err := ParseRecord(b)
		if err != nil {
			return 0, err
		}
		highest = max(highest, record.TxNumber())
	}
	return highest, nil
}
