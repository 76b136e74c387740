// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package indexqueue_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/molecula/searchcore/config"
	"github.com/molecula/searchcore/indexqueue"
	"github.com/molecula/searchcore/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpec struct {
	name    string
	mu      sync.Mutex
	deleted bool
	refs    int
}

func newFakeSpec(name string) *fakeSpec { return &fakeSpec{name: name} }

func (s *fakeSpec) Name() string { return s.name }
func (s *fakeSpec) Deleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleted
}
func (s *fakeSpec) MarkDeleted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = true
}
func (s *fakeSpec) Incref() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs++
}
func (s *fakeSpec) Decref() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refs--
}

// fakeIndexer records every document it was asked to add, and how many
// times each spec was committed or discarded.
type fakeIndexer struct {
	mu        sync.Mutex
	added     map[string][]string // spec name -> keys added, in call order
	committed map[string]int
	discarded map[string]int
}

func newFakeIndexer() *fakeIndexer {
	return &fakeIndexer{
		added:     make(map[string][]string),
		committed: make(map[string]int),
		discarded: make(map[string]int),
	}
}

type fakeCtx struct {
	spec string
	key  string
}

func (fi *fakeIndexer) NewAddDocumentCtx(spec indexqueue.IndexSpec, key string) (indexqueue.AddDocumentCtx, error) {
	return &fakeCtx{spec: spec.Name(), key: key}, nil
}

func (fi *fakeIndexer) AddDocument(ctx indexqueue.AddDocumentCtx, doc *indexqueue.Document) error {
	c := ctx.(*fakeCtx)
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.added[c.spec] = append(fi.added[c.spec], doc.Key)
	return nil
}

func (fi *fakeIndexer) FreeAddDocumentCtx(indexqueue.AddDocumentCtx) {}

func (fi *fakeIndexer) Commit(spec indexqueue.IndexSpec) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.committed[spec.Name()]++
	return nil
}

func (fi *fakeIndexer) DiscardIterate(spec indexqueue.IndexSpec) error {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	fi.discarded[spec.Name()]++
	return nil
}

func (fi *fakeIndexer) addedCount(spec string) int {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return len(fi.added[spec])
}

func (fi *fakeIndexer) committedCount(spec string) int {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.committed[spec]
}

func (fi *fakeIndexer) discardedCount(spec string) int {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	return fi.discarded[spec]
}

func testConfig(interval time.Duration, batchSize int) *config.Config {
	cfg := config.NewConfig()
	cfg.AsyncIndex.Interval = toml.Duration(interval)
	cfg.AsyncIndex.BatchSize = batchSize
	return cfg
}

// TestBatchSizeWakesWorkerImmediately mirrors end-to-end scenario 3 from
// spec.md section 8, here with interval=200ms and batchSize=3. Two
// submissions shouldn't wake the worker before the interval; the third
// should wake it promptly.
func TestBatchSizeWakesWorkerImmediately(t *testing.T) {
	indexer := newFakeIndexer()
	cfg := testConfig(200*time.Millisecond, 3)
	q := indexqueue.New(cfg, indexer, nil, nil)
	defer q.Close()

	// Let the worker reach its first timed wait: a worker that has not yet
	// waited drains a non-empty pending list at once.
	time.Sleep(20 * time.Millisecond)

	spec := newFakeSpec("S")
	q.Submit(spec, map[string]interface{}{"a": 1}, "k1")
	q.Submit(spec, map[string]interface{}{"a": 2}, "k2")

	require.Never(t, func() bool { return indexer.committedCount("S") > 0 }, 80*time.Millisecond, 10*time.Millisecond)

	q.Submit(spec, map[string]interface{}{"a": 3}, "k3")
	require.Eventually(t, func() bool { return indexer.committedCount("S") > 0 }, 100*time.Millisecond, 5*time.Millisecond)

	assert.Equal(t, 3, indexer.addedCount("S"))
	assert.Equal(t, -1, q.PendingCount(newFakeSpec("missing")))
	assert.Equal(t, 0, q.PendingCount(spec))
}

// TestDuplicateKeyCollapses mirrors end-to-end scenario 4: submitting the
// same key twice before drain leaves exactly one live entry.
func TestDuplicateKeyCollapses(t *testing.T) {
	indexer := newFakeIndexer()
	cfg := testConfig(20*time.Millisecond, 100) // large batch size; rely on interval to drain
	q := indexqueue.New(cfg, indexer, nil, nil)
	defer q.Close()

	spec := newFakeSpec("S")
	q.Submit(spec, map[string]interface{}{"v": 1}, "k1")
	q.Submit(spec, map[string]interface{}{"v": 2}, "k1")

	require.Eventually(t, func() bool { return indexer.committedCount("S") > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, indexer.addedCount("S"))
}

// TestDeletedSpecDiscardsInsteadOfCommitting mirrors end-to-end scenario 5.
func TestDeletedSpecDiscardsInsteadOfCommitting(t *testing.T) {
	indexer := newFakeIndexer()
	cfg := testConfig(20*time.Millisecond, 1)
	q := indexqueue.New(cfg, indexer, nil, nil)
	defer q.Close()

	spec := newFakeSpec("S")
	spec.MarkDeleted()
	q.Submit(spec, map[string]interface{}{"v": 1}, "k1")

	require.Eventually(t, func() bool { return indexer.discardedCount("S") > 0 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, indexer.committedCount("S"))
}

// TestDepthPriority mirrors end-to-end scenario 6: given two specs with
// different pending depths, the worker drains the deeper one first.
func TestDepthPriority(t *testing.T) {
	indexer := newFakeIndexer()
	cfg := testConfig(50*time.Millisecond, 100) // batch size high; wait for interval
	q := indexqueue.New(cfg, indexer, nil, nil)
	defer q.Close()

	s1 := newFakeSpec("S1")
	s2 := newFakeSpec("S2")
	for i := 0; i < 5; i++ {
		q.Submit(s1, nil, fmt.Sprintf("s1-%d", i))
	}
	q.Submit(s2, nil, "s2-0")

	require.Eventually(t, func() bool { return indexer.committedCount("S1") > 0 }, time.Second, 5*time.Millisecond)
	// S1 (depth 5) should have been selected before S2 (depth 1) drains, so
	// S2 should still be uncommitted at the moment S1 first commits.
	assert.Equal(t, 0, indexer.committedCount("S2"))
}

func TestPendingCountUnknownSpec(t *testing.T) {
	q := indexqueue.New(testConfig(time.Second, 10), newFakeIndexer(), nil, nil)
	defer q.Close()
	assert.Equal(t, -1, q.PendingCount(newFakeSpec("nope")))
}

func TestCloseIsIdempotentToWaitingWorker(t *testing.T) {
	q := indexqueue.New(testConfig(5*time.Millisecond, 10), newFakeIndexer(), nil, nil)
	done := make(chan struct{})
	go func() {
		q.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
}
