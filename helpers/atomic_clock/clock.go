// Package atomic_clock is an int64 nanosecond timestamp safe for concurrent access.
// Use for time accounting between goroutines. Do not use where time zone matters.
package atomic_clock

import (
	"sync/atomic"
	"time"
)

type Clock struct{ v int64 }

func source() int64 { return time.Now().UnixNano() }

func New(v int64) *Clock { return &Clock{v: v} }
func Now() *Clock        { return New(source()) }

func (c *Clock) IsZero() bool { return atomic.LoadInt64(&c.v) == 0 }

func (c *Clock) Set(v int64)         { atomic.StoreInt64(&c.v, v) }
func (c *Clock) SetNow()             { c.Set(source()) }
func (c *Clock) SetTime(t time.Time) { c.Set(t.UnixNano()) }

func (c *Clock) Sub(begin *Clock) time.Duration {
	return time.Duration(c.UnixNano() - begin.UnixNano())
}

func (c *Clock) Time() time.Time { return time.Unix(0, c.UnixNano()) }
func (c *Clock) Unix() int64     { return c.UnixNano() / int64(time.Second) }
func (c *Clock) UnixNano() int64 { return atomic.LoadInt64(&c.v) }

func Since(begin *Clock) time.Duration { return time.Duration(source() - begin.UnixNano()) }
