// Package db opens a blockdb database: it wires the file, log and buffer
// managers and the lock table together, runs restart recovery, and hands
// out transactions.
package db

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"blockdb/buffer"
	"blockdb/file"
	"blockdb/internal/config"
	"blockdb/internal/metrics"
	"blockdb/log"
	"blockdb/transaction"
)

// DB is an open database. It is safe for concurrent use; each transaction
// it returns belongs to one goroutine.
type DB struct {
	id            uuid.UUID
	config        config.Config
	fileManager   *file.Manager
	logManager    *log.Manager
	bufferManager *buffer.Manager
	lockTable     *transaction.LockTable
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

type options struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	noRecovery bool
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRegisterer registers the database metrics with reg. Without it the
// metrics are kept in a private registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithoutRecovery skips restart recovery. It is meant for tools that only
// inspect the log.
func WithoutRecovery() Option {
	return func(o *options) {
		o.noRecovery = true
	}
}

// Open opens the database described by cfg, creating it if needed, and
// recovers it from the log.
func Open(cfg config.Config, opts ...Option) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("db: invalid config: %w", err)
	}

	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	m := metrics.NewUnregistered()
	if o.registerer != nil {
		var err error
		if m, err = metrics.New(o.registerer); err != nil {
			return nil, fmt.Errorf("db: register metrics: %w", err)
		}
	}

	id := uuid.New()
	logger := o.logger.With(zap.String("db_id", id.String()), zap.String("directory", cfg.Directory))

	fm, err := file.NewManager(cfg.Directory, cfg.BlockSize, file.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	lm, err := log.NewManager(fm, cfg.LogFile, log.WithLogger(logger), log.WithMetrics(m))
	if err != nil {
		fm.Close()
		return nil, err
	}

	db := &DB{
		id:          id,
		config:      cfg,
		fileManager: fm,
		logManager:  lm,
		bufferManager: buffer.NewManager(fm, lm, cfg.BufferCount,
			buffer.WithLogger(logger),
			buffer.WithMetrics(m),
			buffer.WithMaxWait(cfg.MaxWait)),
		lockTable: transaction.NewLockTable(
			transaction.WithLogger(logger),
			transaction.WithMetrics(m),
			transaction.WithMaxWait(cfg.MaxWait)),
		logger:  logger,
		metrics: m,
	}

	if !o.noRecovery {
		if err := db.recover(); err != nil {
			fm.Close()
			return nil, err
		}
	}

	logger.Info("database opened",
		zap.Int32("block_size", cfg.BlockSize),
		zap.Int32("buffers", cfg.BufferCount))
	return db, nil
}

// recover moves the transaction counter past every number in the log, then
// rolls back the transactions that were unfinished when the database last
// stopped.
func (db *DB) recover() error {
	highest, err := transaction.HighestNumber(db.logManager)
	if err != nil {
		return fmt.Errorf("db: scan log: %w", err)
	}
	transaction.AdvanceNumber(highest)

	tx, err := db.NewTx()
	if err != nil {
		return err
	}
	if err := tx.Recover(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

// NewTx starts a transaction.
func (db *DB) NewTx() (*transaction.Transaction, error) {
	return transaction.NewTransaction(db.fileManager, db.logManager, db.bufferManager, db.lockTable,
		transaction.WithLogger(db.logger),
		transaction.WithMetrics(db.metrics))
}

func (db *DB) ID() uuid.UUID {
	return db.id
}

func (db *DB) Config() config.Config {
	return db.config
}

func (db *DB) FileManager() *file.Manager {
	return db.fileManager
}

func (db *DB) LogManager() *log.Manager {
	return db.logManager
}

func (db *DB) BufferManager() *buffer.Manager {
	return db.bufferManager
}

// Close closes the database files. Transactions still running lose the
// changes they have not committed; the next Open rolls them back.
func (db *DB) Close() error {
	if err := db.fileManager.Close(); err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	db.logger.Info("database closed")
	return nil
}
