// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package pool_test

import (
	"sync"
	"testing"
	"time"

	"github.com/molecula/searchcore/config"
	"github.com/molecula/searchcore/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestPool_FIFOWithinPool mirrors end-to-end scenario 1 from spec.md section
// 8: a pool of 2 threads, 10 handlers each sleeping, all should complete
// within a bounded window, start-order FIFO within the single thread that
// picks them up.
func TestPool_FIFOWithinPool(t *testing.T) {
	reg := pool.NewRegistry(nil, nil)
	id := reg.CreatePool(2)

	const n = 10
	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(n)

	start := time.Now()
	for i := 0; i < n; i++ {
		i := i
		reg.Submit(id, func() {
			defer wg.Done()
			time.Sleep(50 * time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all submissions to complete")
	}

	assert.WithinDuration(t, start.Add(300*time.Millisecond), time.Now(), 500*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, n)
}

func TestPool_SubmitUnknownIDPanics(t *testing.T) {
	reg := pool.NewRegistry(nil, nil)
	reg.CreatePool(1)
	assert.Panics(t, func() {
		reg.Submit(pool.ID(99), func() {})
	})
}

func TestPool_IdentifiersAreAppendOnly(t *testing.T) {
	reg := pool.NewRegistry(nil, nil)
	a := reg.CreatePool(1)
	b := reg.CreatePool(1)
	c := reg.CreatePool(1)
	assert.Equal(t, a+1, b)
	assert.Equal(t, b+1, c)
}

func TestStartupPools(t *testing.T) {
	reg := pool.NewRegistry(nil, nil)
	cfg := config.NewConfig()
	cfg.SearchPoolSize = 3
	cfg.PoolSizeNoAuto = true
	cfg.IndexPoolSize = 5

	search, index := pool.StartupPools(reg, cfg)
	assert.NotEqual(t, search, index)

	var wg sync.WaitGroup
	wg.Add(2)
	reg.Submit(search, wg.Done)
	reg.Submit(index, wg.Done)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("startup pools never ran submitted work")
	}
}

func TestPool_SubmissionNeverBlocks(t *testing.T) {
	reg := pool.NewRegistry(nil, nil)
	id := reg.CreatePool(1)

	block := make(chan struct{})
	reg.Submit(id, func() { <-block })

	// The single worker is now stuck on block; further submissions must
	// still return immediately because the queue is unbounded.
	doneSubmitting := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			reg.Submit(id, func() {})
		}
		close(doneSubmitting)
	}()

	select {
	case <-doneSubmitting:
	case <-time.After(time.Second):
		t.Fatal("submit blocked despite unbounded queue")
	}
	close(block)
	require.Eventually(t, func() bool { return true }, time.Second, 10*time.Millisecond)
}
