// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package dispatch implements the Blocked-Command Dispatcher (spec.md
// section 4.B): the glue between a host command arriving synchronously on
// the event loop and a handler running later on a worker pool, with the
// client detached from the host in between.
//
// It is grounded on api_import_worker.go's job/worker-channel split (a
// small record carrying everything a worker needs, handed off to a pool,
// with errors reported back rather than propagated as a return value) and
// on api.go's importWork wiring of that job to a channel-backed pool. Here
// the pool is pool.Registry rather than a raw channel, and the record
// carries a host context and blocked-client token instead of a transaction
// context, but the shape — own your inputs, submit, report errors via a
// side channel rather than a call stack — is the same.
package dispatch

import (
	"github.com/molecula/searchcore/errors"
	"github.com/molecula/searchcore/host"
	"github.com/molecula/searchcore/pool"
)

// Options is a bitmask of per-call dispatch options.
type Options int

const (
	OptNone Options = 0
	// OptKeepHostContext skips releasing the thread-safe host context after
	// the handler returns; some handler hands it to a downstream owner
	// (e.g. a streaming reply) that takes over its release. Pass it to
	// HandleAsync, or opt in from inside the handler via
	// CommandRecord.KeepHostContext.
	OptKeepHostContext Options = 1 << (iota - 1)
	// OptNoHostLock skips acquiring the host lock before invoking the
	// handler; used by handlers that manage their own locking (e.g. via a
	// SearchContext).
	OptNoHostLock
)

// CommandRecord is the owned, worker-side copy of one dispatched command:
// its argument vector, the handler to run, and the host plumbing needed to
// run it and release the client afterward.
type CommandRecord struct {
	args    []string
	handler Handler
	opts    Options
	hc      host.Context
	token   host.Token
	srv     host.Server

	keepHostContext bool
}

// KeepHostContext is called from inside a Handler to opt out of having the
// dispatcher release the thread-safe host context once the handler
// returns. Mirrors the original's ConcurrentCmdCtx_KeepRedisCtx.
func (r *CommandRecord) KeepHostContext() {
	r.keepHostContext = true
}

// Args returns the worker-owned copy of the command's arguments.
func (r *CommandRecord) Args() []string { return r.args }

// Handler is invoked on the worker thread with the thread-safe host
// context and the owned argument copies. Handler-level errors are the
// handler's own responsibility to report through hc; a returned error is
// discarded by the dispatcher and does not change dispatch's own success
// return to the caller of HandleAsync.
type Handler func(hc host.Context, args []string, rec *CommandRecord) error

// HandleAsync implements spec.md section 4.B steps 1-4: it deep-copies
// args, detaches the client from the host, builds a CommandRecord, and
// submits it to pool id on reg. It returns a non-nil error only for
// host-API/allocation failures in steps 1-3 (e.g. BlockClient failing);
// handler errors surface only via whatever the handler itself writes
// through the host context, per spec.md section 4.B's error semantics.
func HandleAsync(reg *pool.Registry, id pool.ID, srv host.Server, opts Options, h Handler, args []string) error {
	owned := host.CopyArgs(args)

	token, err := srv.BlockClient()
	if err != nil {
		return errors.Wrap(err, "blocking client")
	}

	rec := &CommandRecord{
		args:    owned,
		handler: h,
		opts:    opts,
		token:   token,
		srv:     srv,
	}
	rec.hc = srv.ThreadSafeContext(token)

	reg.Submit(id, func() { runRecord(rec) })
	return nil
}

// runRecord is the worker-side body: lock (unless suppressed), run the
// handler, unlock, release the host context (unless kept), unblock the
// client. This always runs to completion for every dispatched record;
// there is no cancellation path (spec.md section 5).
func runRecord(rec *CommandRecord) {
	defer rec.srv.UnblockClient(rec.token)

	if rec.opts&OptNoHostLock == 0 {
		rec.hc.Lock()
	}

	err := rec.handler(rec.hc, rec.args, rec)

	if rec.opts&OptNoHostLock == 0 {
		rec.hc.Unlock()
	}

	if !rec.keepHostContext && rec.opts&OptKeepHostContext == 0 {
		rec.hc.Close()
	}

	_ = err // handler errors are reported by the handler itself, via hc
}
