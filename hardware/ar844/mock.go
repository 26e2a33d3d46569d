package ar844

// Public API to create meter stubs for tests and hardware-less runs.
import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/errors"
)

var ErrMockOverflow = errors.New("ar844 mock: frame longer than read buffer")

// MockEffect is one scripted inbound transfer result.
type MockEffect struct {
	Frame []byte
	Err   error
	Delay time.Duration
}

// Mock is a scripted Device.
// Read consumes effects in order and blocks until one is available.
// Write records polls and calls OnWrite, which may push responses.
type Mock struct {
	OnWrite  func(m *Mock, p []byte)
	WriteErr error

	mu     sync.Mutex
	rq     chan MockEffect
	gone   chan struct{}
	closed bool
	reads  int
	writes []time.Time
}

var _ Device = &Mock{}

func NewMock() *Mock {
	return &Mock{
		rq:   make(chan MockEffect, 256),
		gone: make(chan struct{}),
	}
}

func (self *Mock) Push(effects ...MockEffect) {
	for _, e := range effects {
		self.rq <- e
	}
}

func (self *Mock) PushFrame(frames ...[]byte) {
	for _, f := range frames {
		self.Push(MockEffect{Frame: f})
	}
}

func (self *Mock) PushReading(rs ...Reading) {
	for _, r := range rs {
		b := Encode(r)
		self.Push(MockEffect{Frame: b[:]})
	}
}

// Unplug makes every pending and future transfer fail with ErrDeviceGone.
func (self *Mock) Unplug() {
	self.mu.Lock()
	defer self.mu.Unlock()
	if !self.closed {
		self.closed = true
		close(self.gone)
	}
}

func (self *Mock) Writes() []time.Time {
	self.mu.Lock()
	defer self.mu.Unlock()
	return append([]time.Time(nil), self.writes...)
}

// Reads is number of started Read calls.
func (self *Mock) Reads() int {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.reads
}

func (self *Mock) Read(ctx context.Context, p []byte) (int, error) {
	self.mu.Lock()
	self.reads++
	self.mu.Unlock()
	select {
	case <-self.gone:
		return 0, ErrDeviceGone
	default:
	}
	select {
	case e := <-self.rq:
		if e.Delay > 0 {
			select {
			case <-time.After(e.Delay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
		if e.Err != nil {
			return 0, e.Err
		}
		n := copy(p, e.Frame)
		if n < len(e.Frame) {
			return n, ErrMockOverflow
		}
		return n, nil
	case <-self.gone:
		return 0, ErrDeviceGone
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (self *Mock) Write(ctx context.Context, p []byte) (int, error) {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return 0, ErrDeviceGone
	}
	self.writes = append(self.writes, time.Now())
	onWrite, err := self.OnWrite, self.WriteErr
	self.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if onWrite != nil {
		onWrite(self, p)
	}
	return len(p), nil
}

func (self *Mock) Close() error {
	self.Unplug()
	return nil
}

// NewSimulator answers every poll with a level wandering around 50 dB(A).
func NewSimulator() *Mock {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	level := 500
	m := NewMock()
	m.OnWrite = func(m *Mock, p []byte) {
		level += rnd.Intn(41) - 20
		if level < 300 {
			level = 300
		} else if level > 1300 {
			level = 1300
		}
		m.PushReading(Reading{LevelTenths: uint16(level), Fast: true, Weighting: WeightingA, Range: 0})
	}
	return m
}
