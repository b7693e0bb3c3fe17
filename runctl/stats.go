package runctl

import (
	"log"
	"sync/atomic"
)

// Counters tracks the query-path statistics USR1/USR2 dump. Every field is
// updated from the single service goroutine, so plain increments would be
// safe; they are atomic anyway because Dump can be called to flush stats
// right before process exit from a different code path in future callers.
type Counters struct {
	Queries   atomic.Uint64
	Answered  atomic.Uint64
	Refused   atomic.Uint64
	NXDomain  atomic.Uint64
	Dropped   atomic.Uint64
	Reloads   atomic.Uint64
	LoadFails atomic.Uint64
}

// Dump logs the current counter values at INFO.
func (c *Counters) Dump() {
	log.Printf("INFO: stats queries=%d answered=%d refused=%d nxdomain=%d dropped=%d reloads=%d load_failures=%d",
		c.Queries.Load(), c.Answered.Load(), c.Refused.Load(), c.NXDomain.Load(), c.Dropped.Load(), c.Reloads.Load(), c.LoadFails.Load())
}

// Reset zeroes every counter (SIGUSR2's behavior; SIGUSR1 dumps without
// resetting).
func (c *Counters) Reset() {
	c.Queries.Store(0)
	c.Answered.Store(0)
	c.Refused.Store(0)
	c.NXDomain.Store(0)
	c.Dropped.Store(0)
	c.Reloads.Store(0)
	c.LoadFails.Store(0)
}
