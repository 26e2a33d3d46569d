package tele

import (
	"context"
	"sync"

	"github.com/temoto/ar844/log2"
)

// Noop logs payloads instead of sending, for runs without broker.
type Noop struct{ Log *log2.Log }

var _ Publisher = Noop{} // compile-time interface test

func (n Noop) Publish(ctx context.Context, topic string, payload []byte) error {
	n.Log.Infof("tele disabled topic=%s payload=%s", topic, payload)
	return nil
}

func (Noop) Reconnect(context.Context) error { return nil }

func (Noop) Close() error { return nil }

// Mock publisher for tests. Results are consumed in order, nil when exhausted.
type Mock struct {
	sync.Mutex
	Results      []error
	Sent         []MockMessage
	Attempts     int
	Reconnects   int
	ReconnectErr error
}

type MockMessage struct {
	Topic   string
	Payload []byte
}

var _ Publisher = &Mock{}

func (m *Mock) Publish(ctx context.Context, topic string, payload []byte) error {
	m.Lock()
	defer m.Unlock()
	m.Attempts++
	var err error
	if len(m.Results) != 0 {
		err, m.Results = m.Results[0], m.Results[1:]
	}
	if err == nil {
		m.Sent = append(m.Sent, MockMessage{Topic: topic, Payload: append([]byte(nil), payload...)})
	}
	return err
}

func (m *Mock) Reconnect(context.Context) error {
	m.Lock()
	defer m.Unlock()
	m.Reconnects++
	return m.ReconnectErr
}

func (m *Mock) Close() error { return nil }
