// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package hosttest is a test wrapper for host.Server/host.Context, in the
// style of the project's test.Holder helpers: a minimal but real
// implementation good enough to exercise the concurrency core without an
// actual embedding server.
package hosttest

import (
	"sync"
	"sync/atomic"

	"github.com/molecula/searchcore/host"
)

// Host is a test double for host.Server plus the keyspace a host.Context
// would expose. It is deliberately simple: one real mutex, one map of named
// values. Tests use it to assert on blocked/unblocked clients and key
// churn across a SearchContext yield.
type Host struct {
	mu sync.Mutex

	keysMu sync.Mutex
	keys   map[string]interface{}

	blocked   int64
	unblocked int64

	nextToken int64
}

// New returns a ready-to-use Host.
func New() *Host {
	return &Host{keys: make(map[string]interface{})}
}

// Set installs a value in the keyspace under name, as if some other client
// had written it. Safe to call concurrently with a locked context's work.
func (h *Host) Set(name string, v interface{}) {
	h.keysMu.Lock()
	defer h.keysMu.Unlock()
	h.keys[name] = v
}

// Delete removes a key, simulating another client deleting it out from
// under a yielded SearchContext.
func (h *Host) Delete(name string) {
	h.keysMu.Lock()
	defer h.keysMu.Unlock()
	delete(h.keys, name)
}

// BlockClient implements host.Server.
func (h *Host) BlockClient() (host.Token, error) {
	atomic.AddInt64(&h.blocked, 1)
	id := atomic.AddInt64(&h.nextToken, 1)
	return &token{id: id}, nil
}

// UnblockClient implements host.Server.
func (h *Host) UnblockClient(tok host.Token) {
	atomic.AddInt64(&h.unblocked, 1)
}

// ThreadSafeContext implements host.Server.
func (h *Host) ThreadSafeContext(tok host.Token) host.Context {
	return &ctx{h: h}
}

// Blocked returns how many clients have been blocked so far.
func (h *Host) Blocked() int { return int(atomic.LoadInt64(&h.blocked)) }

// Unblocked returns how many clients have been unblocked so far.
func (h *Host) Unblocked() int { return int(atomic.LoadInt64(&h.unblocked)) }

type token struct{ id int64 }

// ctx implements host.Context against a Host's shared mutex and keyspace.
type ctx struct {
	h      *Host
	closed bool
}

func (c *ctx) Lock()   { c.h.mu.Lock() }
func (c *ctx) Unlock() { c.h.mu.Unlock() }

func (c *ctx) OpenKey(name string, flags host.OpenFlags) (host.Handle, error) {
	c.h.keysMu.Lock()
	defer c.h.keysMu.Unlock()
	v, ok := c.h.keys[name]
	if !ok {
		return nil, nil // key doesn't exist; a nil handle is a valid open-of-missing-key result
	}
	return &keyHandle{name: name, value: v}, nil
}

func (c *ctx) CloseKey(h host.Handle) {}

func (c *ctx) Close() { c.closed = true }

// keyHandle is what OpenKey hands back: a snapshot of the value under name
// at open time. Reopening after a yield gets a fresh snapshot.
type keyHandle struct {
	name  string
	value interface{}
}

func (k *keyHandle) Value() interface{} { return k.value }
