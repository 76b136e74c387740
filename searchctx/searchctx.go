// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package searchctx implements SearchContext (spec.md section 4.C): the
// cooperative close-yield-reopen protocol a background task uses to hold
// the host lock for a bounded budget at a time, periodically releasing it
// so the host's event loop can make progress, and transparently reopening
// every host handle the task is tracking across that gap.
//
// It is grounded directly on original_source/src/concurrent_ctx.c
// (ConcurrentSearchCtx), carried into Go idiom per the Design Notes in
// spec.md section 9: tracked handles are not held directly by user code
// across a yield. Instead Track returns a HandleRef, and callers dereference
// the live handle on demand via Context.Handle(ref), which makes "handle is
// nil while unlocked" a property of the API rather than a discipline callers
// must remember.
package searchctx

import (
	"time"

	"github.com/molecula/searchcore/errors"
	"github.com/molecula/searchcore/host"
)

// YieldBudget is the default time a Context holds the host lock before
// CheckTimer releases and reacquires it. Overridable per Context via
// SetYieldBudget; see config.Config.SearchContext.YieldBudget for the
// configured value a caller should pass in.
const YieldBudget = 100 * time.Millisecond

// ReopenFunc is invoked after a tracked handle is reopened following a
// yield, so that whatever held a reference into the old handle (an
// iterator, a cursor) can refresh it or detect that the underlying key is
// gone or has changed shape.
type ReopenFunc func(h host.Handle, privdata interface{})

// TrackOptions are per-entry options supplied to Track.
type TrackOptions struct {
	// SharedHandle marks that this Context does not own the handle; Unlock
	// must not close it. Lock's reopen step still replaces it with a
	// freshly owned handle and clears this option thereafter.
	SharedHandle bool
	// SharedKeyName marks that the key name string must not be freed by
	// Close. (Go strings are garbage collected, so Close ignores this
	// option; it is recorded for fidelity to the original's explicit
	// bookkeeping.)
	SharedKeyName bool
}

// HandleRef is an opaque reference to a tracked handle, returned by Track.
// User code presents it back to Context.Handle to dereference the current
// handle, rather than holding the host.Handle value itself across a yield.
type HandleRef int

type trackedHandle struct {
	handle     host.Handle
	keyName    string
	flags      host.OpenFlags
	reopen     ReopenFunc
	privdata   interface{}
	destroy    func(interface{})
	shared     bool
	sharedName bool
}

// Context tracks host handles opened during a background task, and
// enforces the close-yield-reopen protocol across lock/unlock cycles.
// Ownership: exactly one worker goroutine at a time; never shared across
// goroutines (matching spec.md section 3's SearchContext ownership model).
type Context struct {
	hc     host.Context
	budget time.Duration

	locked   bool
	entries  []*trackedHandle
	lastLock time.Time
	ticks    int
}

// New initializes a Context against a host context. State becomes
// unlocked, with an empty tracked-handles list and the clock reset to now.
func New(hc host.Context) *Context {
	c := &Context{hc: hc, budget: YieldBudget}
	c.ResetClock()
	return c
}

// SetYieldBudget overrides the default 100ms yield budget, e.g. from
// config.Config.SearchContext.YieldBudget.
func (c *Context) SetYieldBudget(d time.Duration) {
	c.budget = d
}

// Track registers a host handle for close-on-yield / reopen-on-resume.
// Must be called while the lock is held, with a handle that was just
// opened. Returns a HandleRef that user code uses to dereference the
// current handle value via Handle.
func (c *Context) Track(handle host.Handle, flags host.OpenFlags, keyName string, cb ReopenFunc, privdata interface{}, destroy func(interface{}), opts TrackOptions) HandleRef {
	if !c.locked {
		panic("searchctx: Track called while unlocked")
	}
	c.entries = append(c.entries, &trackedHandle{
		handle:     handle,
		keyName:    keyName,
		flags:      flags,
		reopen:     cb,
		privdata:   privdata,
		destroy:    destroy,
		shared:     opts.SharedHandle,
		sharedName: opts.SharedKeyName,
	})
	return HandleRef(len(c.entries) - 1)
}

// Handle dereferences the current handle for ref. It is nil whenever the
// Context is unlocked; callers must check before use.
func (c *Context) Handle(ref HandleRef) host.Handle {
	if int(ref) < 0 || int(ref) >= len(c.entries) {
		panic("searchctx: invalid HandleRef")
	}
	return c.entries[ref].handle
}

// Lock acquires the host lock, then reopens every tracked handle: each is
// (re)opened by name and flags, the reopen callback is invoked with the
// fresh handle, and the entry's SharedHandle flag is cleared (a reopened
// handle is freshly owned by this Context, regardless of how it started
// out). It is an assertion failure to call Lock while already locked.
func (c *Context) Lock() {
	if c.locked {
		panic("searchctx: Lock called while already locked")
	}
	c.hc.Lock()
	c.locked = true
	c.reopenAll()
}

func (c *Context) reopenAll() {
	for _, e := range c.entries {
		h, err := c.hc.OpenKey(e.keyName, e.flags)
		if err != nil {
			// The key may be gone or have changed type; the reopen
			// callback is the mechanism by which the tracker finds out.
			h = nil
		}
		e.handle = h
		e.shared = false
		if e.reopen != nil {
			e.reopen(e.handle, e.privdata)
		}
	}
}

// Unlock closes every tracked handle whose SharedHandle flag is clear, then
// releases the host lock.
func (c *Context) Unlock() {
	if !c.locked {
		panic("searchctx: Unlock called while not locked")
	}
	for _, e := range c.entries {
		if e.handle != nil && !e.shared {
			c.hc.CloseKey(e.handle)
		}
		e.handle = nil
	}
	c.hc.Unlock()
	c.locked = false
}

// ResetClock records the current time and zeroes the tick counter.
func (c *Context) ResetClock() {
	c.lastLock = time.Now()
	c.ticks = 0
}

// CheckTimer reports whether the Context's time budget has expired since
// the last ResetClock (performed by New, and by CheckTimer itself whenever
// it yields). If so, it unlocks and immediately relocks — including the
// full reopen sequence — resets the clock, and returns yielded=true.
//
// CheckTimer must only be called while locked.
func (c *Context) CheckTimer() (yielded bool) {
	if !c.locked {
		panic("searchctx: CheckTimer called while not locked")
	}
	c.ticks++
	if time.Since(c.lastLock) <= c.budget {
		return false
	}
	// Releasing and immediately re-requesting the lock lets the scheduler
	// hand it to a waiting goroutine without an explicit yield; absent
	// contention the re-acquisition is cheap.
	c.Unlock()
	c.Lock()
	c.ResetClock()
	return true
}

// Ticks returns how many CheckTimer calls have happened since the last
// ResetClock. Exposed for tests and diagnostics only.
func (c *Context) Ticks() int { return c.ticks }

// Close tears down the Context: closes any still-open non-shared handles
// (if locked), and invokes each entry's destroy callback on its private
// data. Key-name strings need no explicit free in Go; SharedKeyName is
// retained on trackedHandle only for fidelity with the original's
// bookkeeping and is otherwise inert here.
func (c *Context) Close() {
	if c.locked {
		for _, e := range c.entries {
			if e.handle != nil && !e.shared {
				c.hc.CloseKey(e.handle)
			}
		}
	}
	for _, e := range c.entries {
		if e.destroy != nil {
			e.destroy(e.privdata)
		}
	}
	c.entries = nil
}

// errLocked/errUnlocked are sentinel-style coded errors for callers that
// prefer a returned error over relying on these operations panicking; none
// of the Context methods above return them directly (they panic per
// spec.md section 7's "programmer error" taxonomy), but TryLock and
// TryUnlock below return them after recovering from that panic.
var (
	errLocked   = errors.New(errors.ErrAlreadyLocked, "searchctx: already locked")
	errUnlocked = errors.New(errors.ErrNotLocked, "searchctx: not locked")
)

// TryLock is a non-panicking variant of Lock for callers that would rather
// get an error than crash on a double-lock programmer error (e.g. request
// handlers that want to log and abort gracefully instead of taking down the
// worker goroutine).
func (c *Context) TryLock() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errLocked
		}
	}()
	c.Lock()
	return nil
}

// TryUnlock is the Unlock counterpart of TryLock.
func (c *Context) TryUnlock() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errUnlocked
		}
	}()
	c.Unlock()
	return nil
}
