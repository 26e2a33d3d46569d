package acquire

import (
	"sync"
	"time"

	"github.com/temoto/ar844/hardware/ar844"
	"github.com/temoto/ar844/internal/aggregate"
)

// Stat is updated by the loop goroutine and read from anywhere.
type Stat struct { //nolint:maligned
	sync.Mutex
	StatSnapshot
}

type StatSnapshot struct {
	Polls           uint64
	Frames          uint64
	Rejected        uint64
	TransferErrors  uint64
	Snapshots       uint64
	PublishAttempts uint64
	PublishFailures uint64
	PublishDropped  uint64
	Reconnects      uint64

	LastReading     ar844.Reading
	LastReadingAt   time.Time
	LastSnapshot    aggregate.Snapshot
	HasLastSnapshot bool
}

func (self *Stat) Copy() StatSnapshot {
	self.Lock()
	defer self.Unlock()
	return self.StatSnapshot
}

// add increments one of own counters.
func (self *Stat) add(field *uint64) {
	self.Lock()
	*field++
	self.Unlock()
}

func (self *Stat) reading(r ar844.Reading) {
	self.Lock()
	self.Frames++
	self.LastReading = r
	self.LastReadingAt = time.Now()
	self.Unlock()
}

func (self *Stat) snapshot(s aggregate.Snapshot) {
	self.Lock()
	self.Snapshots++
	self.LastSnapshot = s
	self.HasLastSnapshot = true
	self.Unlock()
}

func (self *Stat) delivered(r DeliverResult) {
	self.Lock()
	self.PublishAttempts += uint64(r.Attempts)
	if r.Reconnected {
		self.Reconnects++
	}
	if r.Err != nil {
		self.PublishFailures += uint64(r.Attempts)
		self.PublishDropped++
	} else if r.Attempts > 1 {
		self.PublishFailures++
	}
	self.Unlock()
}
