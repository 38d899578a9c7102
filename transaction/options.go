package transaction

import (
	"time"

	"go.uber.org/zap"

	"blockdb/internal/metrics"
)

// DefaultMaxWait is how long a lock request waits before it aborts.
const DefaultMaxWait = 10 * time.Second

type options struct {
	logger  *zap.Logger
	metrics *metrics.Metrics
	maxWait time.Duration
}

// Option configures a LockTable or a Transaction.
type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithMaxWait sets how long a LockTable lets a request wait. Transactions
// ignore it.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		o.maxWait = d
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		maxWait: DefaultMaxWait,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewUnregistered()
	}
	return o
}
