// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package host describes the external collaborator this module assumes: a
// single-threaded host server that owns a coarse mutex over its own data
// structures and can suspend ("block") a client's reply until a background
// worker finishes. None of it is implemented here; this package is the
// abstract surface of spec.md section 6, mirrored as Go interfaces so the
// rest of the module can be built and tested against a fake.
package host

import "context"

// OpenFlags mirrors a host key's open mode.
type OpenFlags int

const (
	KeyRead OpenFlags = 1 << iota
	KeyWrite
)

// Handle is an opaque reference to host-managed data, valid only while the
// host lock is held by the caller that obtained it.
type Handle interface{}

// Token is an opaque reference to a client the host has suspended. It is
// presented back to the host to resume (unblock) that client.
type Token interface{}

// Context is the thread-safe handle a worker goroutine uses to talk back to
// the host: acquire/release the coarse lock, and open/close keys while
// holding it.
type Context interface {
	// Lock acquires the host's coarse mutex. Must be released with Unlock.
	Lock()
	// Unlock releases the host's coarse mutex.
	Unlock()

	// OpenKey opens a host key by name under the given flags. Must only be
	// called while Lock is held. The returned Handle is invalid once Unlock
	// is called.
	OpenKey(name string, flags OpenFlags) (Handle, error)
	// CloseKey releases a handle obtained from OpenKey. Must only be called
	// while Lock is held.
	CloseKey(Handle)

	// Close releases this context itself (the host-side bookkeeping for it,
	// not any key handles). Safe to call once, from the worker that owns it.
	Close()
}

// Server is the subset of host behavior needed to detach a client from the
// event loop and resume it later from a worker goroutine.
type Server interface {
	// BlockClient suspends the calling client and returns a token that can
	// later be used to resume it and to obtain a thread-safe Context.
	BlockClient() (Token, error)
	// UnblockClient resumes a client previously suspended with BlockClient.
	UnblockClient(Token)
	// ThreadSafeContext returns a Context usable from any goroutine, bound
	// to the blocked client identified by tok.
	ThreadSafeContext(tok Token) Context
}

// CopyArgs returns a new slice holding independent copies of each argument
// string. The host frees (or reuses the backing memory of) a command's
// argument vector as soon as the synchronous handler returns; background
// work must not retain any reference into that vector, so every string is
// cloned rather than merely re-sliced.
func CopyArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = cloneString(a)
	}
	return out
}

// cloneString forces a fresh backing array for s, independent of whatever
// buffer the caller's string was built from.
func cloneString(s string) string {
	b := make([]byte, len(s))
	copy(b, s)
	return string(b)
}

// contextKey namespaces values this package stashes on a context.Context,
// for callers wiring handler functions that want access to ambient
// deadline/cancellation alongside the host Context.
type contextKey struct{ name string }

var ctxKeyHost = &contextKey{"host.Context"}

// WithContext returns a copy of ctx carrying hc, retrievable with FromContext.
func WithContext(ctx context.Context, hc Context) context.Context {
	return context.WithValue(ctx, ctxKeyHost, hc)
}

// FromContext extracts a host Context previously stored with WithContext.
func FromContext(ctx context.Context) (Context, bool) {
	hc, ok := ctx.Value(ctxKeyHost).(Context)
	return hc, ok
}
