// Package metrics holds the Prometheus collectors of the value log.
//
// Collectors are registered on a caller-supplied registry so that several
// loggers (and tests) can coexist in one process. A nil *Metrics is valid
// and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vlog"

// Metrics groups the logger and replayer collectors. All vectors are
// labelled by shard index.
type Metrics struct {
	TxnsCommitted   *prometheus.CounterVec
	TxnsAborted     *prometheus.CounterVec
	RecordsLogged   *prometheus.CounterVec
	RecordsRejected *prometheus.CounterVec
	Flushes         *prometheus.CounterVec
	BytesFlushed    *prometheus.CounterVec
	FlushFailures   *prometheus.CounterVec
	FlushLatency    *prometheus.HistogramVec

	TxnsReplayed   *prometheus.CounterVec
	RecordsApplied *prometheus.CounterVec
	TornTails      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	shard := []string{"shard"}
	m := &Metrics{
		TxnsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txns_committed_total",
			Help:      "Transactions committed into a log buffer.",
		}, shard),
		TxnsAborted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txns_aborted_total",
			Help:      "Transactions discarded by AbortTransaction.",
		}, shard),
		RecordsLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_logged_total",
			Help:      "Insert, update and delete records appended to a log buffer.",
		}, shard),
		RecordsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_rejected_total",
			Help:      "Records rejected because of size or buffer capacity.",
		}, shard),
		Flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Buffer flushes followed by fsync.",
		}, shard),
		BytesFlushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushed_bytes_total",
			Help:      "Uncompressed log bytes handed to the shard sink.",
		}, shard),
		FlushFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_failures_total",
			Help:      "Flushes that failed to write, compress or fsync.",
		}, shard),
		FlushLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_latency_seconds",
			Help:      "Latency of write plus fsync for one flush.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 16),
		}, shard),
		TxnsReplayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txns_replayed_total",
			Help:      "Transaction blocks parsed from shard files.",
		}, shard),
		RecordsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_applied_total",
			Help:      "Records applied to the storage manager during replay.",
		}, shard),
		TornTails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "torn_tails_total",
			Help:      "Shards whose truncated final block was skipped.",
		}, shard),
	}
	reg.MustRegister(
		m.TxnsCommitted, m.TxnsAborted, m.RecordsLogged, m.RecordsRejected,
		m.Flushes, m.BytesFlushed, m.FlushFailures, m.FlushLatency,
		m.TxnsReplayed, m.RecordsApplied, m.TornTails,
	)
	return m
}

func label(shard int) string {
	return strconv.Itoa(shard)
}

func (m *Metrics) TxnCommitted(shard int) {
	if m == nil {
		return
	}
	m.TxnsCommitted.WithLabelValues(label(shard)).Inc()
}

func (m *Metrics) TxnAborted(shard int) {
	if m == nil {
		return
	}
	m.TxnsAborted.WithLabelValues(label(shard)).Inc()
}

func (m *Metrics) RecordLogged(shard int) {
	if m == nil {
		return
	}
	m.RecordsLogged.WithLabelValues(label(shard)).Inc()
}

func (m *Metrics) RecordRejected(shard int) {
	if m == nil {
		return
	}
	m.RecordsRejected.WithLabelValues(label(shard)).Inc()
}

// Flushed records a successful flush of n raw bytes that took d.
func (m *Metrics) Flushed(shard int, n int, d time.Duration) {
	if m == nil {
		return
	}
	l := label(shard)
	m.Flushes.WithLabelValues(l).Inc()
	m.BytesFlushed.WithLabelValues(l).Add(float64(n))
	m.FlushLatency.WithLabelValues(l).Observe(d.Seconds())
}

func (m *Metrics) FlushFailed(shard int) {
	if m == nil {
		return
	}
	m.FlushFailures.WithLabelValues(label(shard)).Inc()
}

func (m *Metrics) TxnReplayed(shard int) {
	if m == nil {
		return
	}
	m.TxnsReplayed.WithLabelValues(label(shard)).Inc()
}

func (m *Metrics) RecordApplied(shard int) {
	if m == nil {
		return
	}
	m.RecordsApplied.WithLabelValues(label(shard)).Inc()
}

func (m *Metrics) TornTail(shard int) {
	if m == nil {
		return
	}
	m.TornTails.WithLabelValues(label(shard)).Inc()
}
