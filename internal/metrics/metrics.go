// Package metrics defines the Prometheus collectors exported by the storage
// kernel. One Metrics value is shared by all managers of a database.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "blockdb"

// Metrics holds every collector of a database instance.
type Metrics struct {
	BufferPins       prometheus.Counter
	BufferHits       prometheus.Counter
	BufferWaits      prometheus.Counter
	BufferAborts     prometheus.Counter
	BuffersAvailable prometheus.Gauge

	LockWaits  prometheus.Counter
	LockAborts prometheus.Counter

	LogAppends     prometheus.Counter
	LogBlockWrites prometheus.Counter

	Commits   prometheus.Counter
	Rollbacks prometheus.Counter
}

func counter(subsystem, name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		BufferPins:   counter("buffer", "pins_total", "Number of successful buffer pins."),
		BufferHits:   counter("buffer", "hits_total", "Pins satisfied by a buffer already assigned to the block."),
		BufferWaits:  counter("buffer", "waits_total", "Pins that had to wait for a buffer to be unpinned."),
		BufferAborts: counter("buffer", "aborts_total", "Pins that gave up after the maximum wait."),
		BuffersAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "buffer",
			Name:      "available",
			Help:      "Number of unpinned buffers in the pool.",
		}),
		LockWaits:      counter("lock", "waits_total", "Lock requests that had to wait."),
		LockAborts:     counter("lock", "aborts_total", "Lock requests that gave up after the maximum wait."),
		LogAppends:     counter("log", "appends_total", "Number of records appended to the log."),
		LogBlockWrites: counter("log", "block_writes_total", "Number of log block writes."),
		Commits:        counter("tx", "commits_total", "Number of committed transactions."),
		Rollbacks:      counter("tx", "rollbacks_total", "Number of rolled back transactions."),
	}

	for _, c := range []prometheus.Collector{
		m.BufferPins, m.BufferHits, m.BufferWaits, m.BufferAborts, m.BuffersAvailable,
		m.LockWaits, m.LockAborts,
		m.LogAppends, m.LogBlockWrites,
		m.Commits, m.Rollbacks,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewUnregistered returns collectors attached to a private registry. It is
// what managers use when the caller does not supply metrics.
func NewUnregistered() *Metrics {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		// A fresh registry cannot hold conflicting collectors.
		panic(err)
	}
	return m
}
