// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package runtime ties the concurrent execution core's two process-global
// pieces of state — the pool registry and the singleton AsyncIndexQueue —
// into a single explicitly-constructed value, per the Design Notes in
// spec.md section 9. Rather than package-level singletons (the shape
// cmd.go's CmdIO and holder.go's Holder avoid, each instead being an
// explicitly constructed value passed down the call chain), a Runtime is
// built once at process startup and threaded through everything that needs
// it.
package runtime

import (
	"github.com/molecula/searchcore/config"
	"github.com/molecula/searchcore/host"
	"github.com/molecula/searchcore/indexqueue"
	"github.com/molecula/searchcore/logger"
	"github.com/molecula/searchcore/pool"
)

// Runtime bundles the core's two process-scoped singletons plus the
// collaborators their construction needs.
type Runtime struct {
	Config *config.Config
	Logger logger.Logger
	Pools  *pool.Registry
	Search pool.ID
	Index  pool.ID
	Queue  *indexqueue.Queue
}

// Options supplies the external collaborators Runtime can't construct for
// itself.
type Options struct {
	Config  *config.Config
	Logger  logger.Logger
	Stats   pool.Stats
	Indexer indexqueue.Indexer
	// QueueHostContext is the thread-safe host context the AsyncIndexQueue
	// worker holds for its entire lifetime, independent of any blocked
	// client. May be nil in tests that never drain a real batch.
	QueueHostContext host.Context
}

// New constructs a Runtime: creates the search and index pools, then the
// AsyncIndexQueue, in that order. Teardown with Close happens in reverse,
// per spec.md section 9 ("queue before pools, since the queue uses no pool
// but its worker joins first").
func New(opts Options) *Runtime {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.NewConfig()
	}
	l := opts.Logger
	if l == nil {
		l = logger.NopLogger
	}

	pools := pool.NewRegistry(l, opts.Stats)
	search, index := pool.StartupPools(pools, cfg)

	queue := indexqueue.New(cfg, opts.Indexer, opts.QueueHostContext, l)

	return &Runtime{
		Config: cfg,
		Logger: l,
		Pools:  pools,
		Search: search,
		Index:  index,
		Queue:  queue,
	}
}

// Close tears down the Runtime in the order spec.md section 9 prescribes:
// the AsyncIndexQueue first (its worker must join before anything else
// shuts down, since it doesn't run on a pool), then the pools. The pool
// registry itself has no graceful-drain API (spec.md section 4.A), so
// closing a Runtime only stops the queue's worker; pool goroutines run
// until process exit.
func (r *Runtime) Close() {
	r.Queue.Close()
}
