package transaction

import "blockdb/file"

type lockMode int8

const (
	shared lockMode = iota + 1
	exclusive
)

// ConcurrencyManager remembers the locks held by one transaction, so that
// each lock is requested from the shared LockTable only once.
type ConcurrencyManager struct {
	lockTable *LockTable
	locks     map[file.Block]lockMode
}

func NewConcurrencyManager(lockTable *LockTable) *ConcurrencyManager {
	return &ConcurrencyManager{
		lockTable: lockTable,
		locks:     make(map[file.Block]lockMode),
	}
}

func (cm *ConcurrencyManager) SLock(block file.Block) error {
	if _, ok := cm.locks[block]; ok {
		return nil
	}

	if err := cm.lockTable.SLock(block); err != nil {
		return err
	}

	cm.locks[block] = shared
	return nil
}

func (cm *ConcurrencyManager) XLock(block file.Block) error {
	if cm.hasXLock(block) {
		return nil
	}

	// Transaction having an xlock on a block also has an implied slock on it.
	if err := cm.SLock(block); err != nil {
		return err
	}

	if err := cm.lockTable.XLock(block); err != nil {
		return err
	}

	cm.locks[block] = exclusive
	return nil
}

// Release gives back every lock of the transaction.
func (cm *ConcurrencyManager) Release() {
	for block := range cm.locks {
		cm.lockTable.Unlock(block)
	}
	clear(cm.locks)
}

func (cm *ConcurrencyManager) hasXLock(block file.Block) bool {
	return cm.locks[block] == exclusive
}
