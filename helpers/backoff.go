package helpers

import (
	"time"
)

// Limited exponential backoff for reconnect delays.
// Not safe for concurrent use, keep it inside one worker goroutine.
// Failure() multiplies next delay by K, Reset() returns to Min.
type Backoff struct {
	next time.Duration

	Min time.Duration
	Max time.Duration
	K   float32
	Res time.Duration // delay resolution for nice logs, default=1ms
}

// Use scenario:
//
//	for {
//	  err := op()
//	  time.Sleep(backoff.DelayAfter(err==nil))
//	}
func (b *Backoff) DelayAfter(success bool) time.Duration {
	if success {
		b.Reset()
		return b.round(b.Min)
	}
	d := b.Delay()
	b.Failure()
	return d
}

// Delay returns current delay without modification.
func (b *Backoff) Delay() time.Duration {
	if b.next == 0 {
		b.next = b.Min
	}
	return b.limit(b.next)
}

func (b *Backoff) Failure() {
	k := b.K
	if k < 1 {
		k = 1
	}
	b.next = b.limit(time.Duration(float32(b.Delay()) * k))
}

func (b *Backoff) Reset() { b.next = b.Min }

func (b *Backoff) limit(d time.Duration) time.Duration {
	if d < b.Min {
		d = b.Min
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	return b.round(d)
}

func (b *Backoff) round(d time.Duration) time.Duration {
	res := b.Res
	if res == 0 {
		res = 1 * time.Millisecond
	}
	return d / res * res
}
