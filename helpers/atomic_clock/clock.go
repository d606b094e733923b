// Package atomic_clock is a monotonic-enough timestamp safe for concurrent
// Set and read. Zero value means "never".
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func Now() *Clock { return &Clock{v: source()} }

func (c *Clock) IsZero() bool    { return atomic.LoadInt64(&c.v) == 0 }
func (c *Clock) SetNow()         { atomic.StoreInt64(&c.v, source()) }
func (c *Clock) UnixNano() int64 { return atomic.LoadInt64(&c.v) }

func (c *Clock) Time() time.Time {
	v := atomic.LoadInt64(&c.v)
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

// Since returns time passed after c was set, zero if c was never set.
func Since(c *Clock) time.Duration {
	v := atomic.LoadInt64(&c.v)
	if v == 0 {
		return 0
	}
	return time.Duration(source() - v)
}
