// Package acquire runs the meter event loop.
//
// Two transfers are kept pending against one device: inbound response read and
// outbound poll write. Each pending transfer is a goroutine blocked in device IO,
// completions arrive on one channel and are processed by the loop goroutine only.
// Inbound is re-armed after every completion, outbound at most once per PollInterval.
package acquire

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/ar844/hardware/ar844"
	"github.com/temoto/ar844/internal/aggregate"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
)

// ErrDeviceUnavailable means a transfer could not be submitted, loop can not continue.
var ErrDeviceUnavailable = errors.New("device unavailable")

type Config struct {
	PollInterval    time.Duration
	TransferTimeout time.Duration
	WaitTimeout     time.Duration
	Topic           string
}

type TransferState uint8

const (
	TransferIdle TransferState = iota
	TransferInFlight
	TransferCompleted
	TransferFailed
)

func (s TransferState) String() string {
	switch s {
	case TransferIdle:
		return "Idle"
	case TransferInFlight:
		return "InFlight"
	case TransferCompleted:
		return "Completed"
	case TransferFailed:
		return "Failed"
	}
	return "TransferState(?)"
}

type transfer struct {
	name         string
	inbound      bool
	state        TransferState
	lastIssuedAt time.Time
	buf          [ar844.FrameLength]byte
}

type completion struct {
	t   *transfer
	n   int
	err error
}

type Scheduler struct {
	Config

	dev    ar844.Device
	log    *log2.Log
	pub    tele.Publisher
	window *aggregate.Window
	now    func() time.Time

	in, out transfer
	done    chan completion
	gone    bool
	stopped bool
	ioctx   context.Context
	iostop  context.CancelFunc
	iowg    sync.WaitGroup

	stat Stat
}

func New(log *log2.Log, c Config, dev ar844.Device, window *aggregate.Window, pub tele.Publisher) *Scheduler {
	if c.PollInterval <= 0 {
		c.PollInterval = ar844.DefaultPollInterval
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = ar844.DefaultTransferTimeout
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = ar844.DefaultWaitTimeout
	}
	return &Scheduler{
		Config: c,
		dev:    dev,
		log:    log,
		pub:    pub,
		window: window,
		now:    time.Now,
		in:     transfer{name: "response", inbound: true},
		out:    transfer{name: "poll"},
		// capacity 2: each transfer posts at most one completion before re-issue
		done: make(chan completion, 2),
	}
}

// SetClock replaces time source, for tests.
func (self *Scheduler) SetClock(now func() time.Time) { self.now = now }

func (self *Scheduler) Stat() StatSnapshot { return self.stat.Copy() }

// Start issues the initial inbound and outbound transfers.
func (self *Scheduler) Start(ctx context.Context) error {
	if self.stopped {
		return errors.Annotate(ErrDeviceUnavailable, "acquire: scheduler stopped")
	}
	self.ioctx, self.iostop = context.WithCancel(ctx)
	err := self.issue(&self.in)
	if err == nil {
		err = self.issue(&self.out)
	}
	if err != nil {
		self.stop()
	}
	return err
}

// Run blocks until ctx is done (returns nil) or device becomes unavailable.
// Cancellation is observed once per iteration, after the bounded wait.
func (self *Scheduler) Run(ctx context.Context) error {
	if self.iostop == nil {
		if err := self.Start(ctx); err != nil {
			return err
		}
	}
	if self.stopped {
		return errors.Annotate(ErrDeviceUnavailable, "acquire: scheduler stopped")
	}
	defer self.stop()

	wait := time.NewTimer(self.WaitTimeout)
	defer wait.Stop()
	for {
		var c *completion
		select {
		case x := <-self.done:
			c = &x
		case <-wait.C:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			return nil
		}
		// go1.23 timers: Reset discards a pending expiration
		wait.Reset(self.WaitTimeout)

		if c != nil {
			if err := self.complete(ctx, c); err != nil {
				return err
			}
		}
		if self.out.state != TransferInFlight && self.now().Sub(self.out.lastIssuedAt) >= self.PollInterval {
			if err := self.issue(&self.out); err != nil {
				return err
			}
		}
	}
}

func (self *Scheduler) complete(ctx context.Context, c *completion) error {
	t := c.t
	if c.err != nil {
		t.state = TransferFailed
		if ar844.IsGone(c.err) {
			self.gone = true
		}
		self.stat.add(&self.stat.TransferErrors)
		self.log.Debugf("acquire: %s transfer err=%v", t.name, c.err)
	} else {
		t.state = TransferCompleted
	}

	if !t.inbound {
		// outbound is re-armed by cadence only
		return nil
	}
	if c.err == nil {
		self.receive(ctx, t.buf[:c.n])
	}
	return self.issue(t)
}

func (self *Scheduler) receive(ctx context.Context, frame []byte) {
	r, err := ar844.Decode(frame)
	if err != nil {
		self.stat.add(&self.stat.Rejected)
		self.log.Debugf("acquire: frame=%x err=%v", frame, err)
		return
	}
	self.stat.reading(r)
	s, ok := self.window.Observe(r, self.now())
	if !ok {
		return
	}
	self.stat.snapshot(s)
	payload, err := s.Payload()
	if err != nil {
		self.log.Error(errors.Annotate(err, "acquire: snapshot payload"))
		return
	}
	self.log.Infof("%s", payload)
	if self.pub == nil {
		return
	}
	dr := Deliver(ctx, self.log, self.pub, self.Topic, payload)
	self.stat.delivered(dr)
}

func (self *Scheduler) issue(t *transfer) error {
	if self.gone {
		t.state = TransferFailed
		return errors.Annotatef(ErrDeviceUnavailable, "acquire: submit %s: device gone", t.name)
	}
	if err := self.ioctx.Err(); err != nil {
		return errors.Annotatef(ErrDeviceUnavailable, "acquire: submit %s err=%v", t.name, err)
	}
	t.state = TransferInFlight
	t.lastIssuedAt = self.now()
	if !t.inbound {
		self.stat.add(&self.stat.Polls)
	}

	self.iowg.Add(1)
	go func() {
		defer self.iowg.Done()
		ctx, cancel := context.WithTimeout(self.ioctx, self.TransferTimeout)
		defer cancel()
		var n int
		var err error
		if t.inbound {
			n, err = self.dev.Read(ctx, t.buf[:])
		} else {
			n, err = self.dev.Write(ctx, ar844.PollFrame[:])
		}
		self.done <- completion{t: t, n: n, err: err}
	}()
	return nil
}

// stop cancels pending transfers and waits for their goroutines.
// Stopped scheduler can not be started again.
func (self *Scheduler) stop() {
	if self.stopped {
		return
	}
	self.stopped = true
	self.iostop()
	go func() {
		// drain so transfer goroutines never block on send
		for range self.done {
		}
	}()
	self.iowg.Wait()
	close(self.done)
}
