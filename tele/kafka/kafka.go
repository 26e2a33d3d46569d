// Package kafka is tele.Publisher on segmentio/kafka-go Writer.
// MQTT style topic "tele/host/ar844/data" becomes "tele.host.ar844.data".
package kafka

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/segmentio/kafka-go"
	"github.com/temoto/ar844/helpers"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_config "github.com/temoto/ar844/tele/config"
)

const DefaultNetworkTimeout = 10 * time.Second

type Publisher struct {
	sync.Mutex
	brokers []string
	log     *log2.Log
	tc      tele_config.Config
	timeout time.Duration
	w       *kafka.Writer
}

var _ tele.Publisher = &Publisher{}

func New(log *log2.Log, c tele_config.Config) (*Publisher, error) {
	if len(c.KafkaBrokers) == 0 {
		return nil, errors.NotValidf("tele kafka_brokers empty")
	}
	self := &Publisher{
		brokers: c.KafkaBrokers,
		log:     log,
		tc:      c,
		timeout: helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout),
	}
	w, err := self.newWriter()
	if err != nil {
		return nil, err
	}
	self.w = w
	return self, nil
}

func Topic(mqttTopic string) string { return strings.ReplaceAll(mqttTopic, "/", ".") }

func (self *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	self.Lock()
	w := self.w
	self.Unlock()

	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()
	err := w.WriteMessages(ctx, kafka.Message{Topic: Topic(topic), Value: payload})
	return self.classify(err, topic)
}

// Reconnect drops pooled connections and probes one broker.
func (self *Publisher) Reconnect(ctx context.Context) error {
	w, err := self.newWriter()
	if err != nil {
		return err
	}
	self.Lock()
	old := self.w
	self.w = w
	self.Unlock()
	if err := old.Close(); err != nil {
		self.log.Debugf("kafka close old writer err=%v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, self.timeout)
	defer cancel()
	dialer := &kafka.Dialer{Timeout: self.timeout, TLS: w.Transport.(*kafka.Transport).TLS}
	var lastErr error
	for _, addr := range self.brokers {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		lastErr = err
	}
	return errors.Annotatef(tele.ErrNotConnected, "kafka reconnect err=%v", lastErr)
}

func (self *Publisher) Close() error {
	self.Lock()
	defer self.Unlock()
	return errors.Annotate(self.w.Close(), "kafka close")
}

func (self *Publisher) newWriter() (*kafka.Writer, error) {
	tlsconf, err := tele.TLSConfig(self.tc)
	if err != nil {
		return nil, errors.Annotate(err, "kafka")
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(self.brokers...),
		AllowAutoTopicCreation: true,
		Async:                  false,
		MaxAttempts:            1,
		ReadTimeout:            self.timeout,
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           self.timeout,
		ErrorLogger:            kafka.LoggerFunc(self.log.Errorf),
		Transport: &kafka.Transport{
			DialTimeout: self.timeout,
			TLS:         tlsconf,
		},
	}, nil
}

// Broker protocol errors are returned as is, everything else is transport failure.
func (self *Publisher) classify(err error, topic string) error {
	if err == nil {
		return nil
	}
	var werrs kafka.WriteErrors
	if stderrors.As(err, &werrs) && len(werrs) == 1 && werrs[0] != nil {
		err = werrs[0]
	}
	var kerr kafka.Error
	if stderrors.As(err, &kerr) {
		return errors.Annotatef(err, "kafka publish topic=%s", topic)
	}
	return errors.Annotatef(tele.ErrNotConnected, "kafka publish topic=%s err=%v", topic, err)
}
