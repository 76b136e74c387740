// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package metrics wires prometheus gauges for the concurrent execution
// core's two depth-bearing queues: pool.Registry's per-pool submission
// queues, and indexqueue.Queue's per-spec pending dicts. Grounded on the
// teacher's idk/metrics.go (package-level prometheus vars registered once
// via prometheus.MustRegister) and performancecounters.go's
// namespace/subsystem naming convention.
package metrics

import (
	"strconv"

	"github.com/molecula/searchcore/pool"
	"github.com/prometheus/client_golang/prometheus"
)

var poolDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "searchcore",
		Subsystem: "pool",
		Name:      "queue_depth",
		Help:      "Number of work items queued in a thread pool.",
	},
	[]string{"pool_id"},
)

var indexQueueDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "searchcore",
		Subsystem: "indexqueue",
		Name:      "pending_documents",
		Help:      "Number of documents pending for a spec's index queue.",
	},
	[]string{"spec"},
)

func init() {
	prometheus.MustRegister(poolDepth)
	prometheus.MustRegister(indexQueueDepth)
}

// PoolStats adapts the package gauges to pool.Stats, so a pool.Registry
// constructed with this as its stats collaborator reports queue depth on
// every submission.
type PoolStats struct{}

// PoolSize implements pool.Stats.
func (PoolStats) PoolSize(id pool.ID, queued int) {
	poolDepth.WithLabelValues(strconv.Itoa(int(id))).Set(float64(queued))
}

// ReportIndexQueueDepth records the pending document count for a named
// index spec. Callers (typically a periodic reporter goroutine using
// indexqueue.Queue.PendingCount) push samples rather than this package
// pulling them, since indexqueue has no background scrape hook.
func ReportIndexQueueDepth(specName string, depth int) {
	indexQueueDepth.WithLabelValues(specName).Set(float64(depth))
}
