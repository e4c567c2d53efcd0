package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"mit.edu/dsg/vlog/common"
)

// EpochClock is a standalone epoch source that advances the current epoch on
// a fixed interval. Workers read Current() when they commit; every commit
// that observes a new epoch triggers a group flush of its shard.
//
// In an engine the concurrency-control layer owns epochs; this clock serves
// tools and tests that need one.
type EpochClock struct {
	current  atomic.Uint64
	interval time.Duration
	shutdown chan struct{}
	done     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewEpochClock creates a clock starting at epoch 1.
func NewEpochClock(interval time.Duration) *EpochClock {
	c := &EpochClock{
		interval: interval,
		shutdown: make(chan struct{}),
	}
	c.current.Store(1)
	return c
}

// Current returns the current epoch.
func (c *EpochClock) Current() common.Epoch {
	return common.Epoch(c.current.Load())
}

// Advance moves to the next epoch and returns it.
func (c *EpochClock) Advance() common.Epoch {
	return common.Epoch(c.current.Add(1))
}

// Start initiates background advancing. Later calls do nothing.
func (c *EpochClock) Start() {
	c.startOnce.Do(func() {
		c.done.Add(1)
		go c.tickLoop()
	})
}

// Stop signals the clock to shut down and blocks until the loop exits. It is
// safe to call more than once, and before Start. A stopped clock does not
// restart.
func (c *EpochClock) Stop() {
	c.stopOnce.Do(func() {
		close(c.shutdown)
	})
	c.done.Wait()
}

func (c *EpochClock) tickLoop() {
	defer c.done.Done()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Advance()
		case <-c.shutdown:
			return
		}
	}
}
