// Package paho is tele.Publisher on Eclipse Paho client.
// Paho auto reconnect is disabled, Reconnect is explicit.
package paho

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/ar844/helpers"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_config "github.com/temoto/ar844/tele/config"
	tele_mqtt "github.com/temoto/ar844/tele/mqtt"
)

const DefaultNetworkTimeout = 30 * time.Second

var setLoggerOnce sync.Once

type Publisher struct {
	log     *log2.Log
	m       mqtt.Client
	qos     byte
	retain  bool
	timeout time.Duration
}

var _ tele.Publisher = &Publisher{}

func New(log *log2.Log, c tele_config.Config, host string) (*Publisher, error) {
	if c.MqttQos < 0 || c.MqttQos > 1 {
		return nil, errors.NotSupportedf("paho QOS=%d", c.MqttQos)
	}
	tlsconf, err := tele.TLSConfig(c)
	if err != nil {
		return nil, errors.Annotate(err, "paho")
	}
	setLoggerOnce.Do(func() {
		mqtt.ERROR = log
		mqtt.CRITICAL = log
		if c.MqttLogDebug {
			mqtt.DEBUG = log
		}
	})

	self := &Publisher{
		log:     log,
		qos:     byte(c.MqttQos),
		retain:  c.MqttRetain,
		timeout: helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout),
	}
	keepalive := c.KeepaliveSec
	if keepalive <= 0 {
		keepalive = tele.DefaultKeepalive
	}
	broker := c.MqttBroker
	if broker == "" {
		broker = tele.DefaultBroker
	}
	clientID := c.ClientID
	if clientID == "" {
		clientID = tele_mqtt.ClientID(tele.DefaultClientTag, host)
	}
	mopt := mqtt.NewClientOptions().
		AddBroker(broker).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetClientID(clientID).
		SetConnectTimeout(self.timeout).
		SetConnectionLostHandler(self.onConnectionLost).
		SetKeepAlive(time.Duration(keepalive) * time.Second).
		SetOnConnectHandler(self.onConnect).
		SetPingTimeout(self.timeout).
		SetUsername(c.MqttUsername).
		SetPassword(c.MqttPassword).
		SetWriteTimeout(self.timeout)
	if tlsconf != nil {
		mopt.SetTLSConfig(tlsconf)
	}
	self.m = mqtt.NewClient(mopt)
	// first connect error is only logged, daemon starts without broker
	if err := self.connect(context.Background()); err != nil {
		log.Error(err)
	}
	return self, nil
}

func (self *Publisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !self.m.IsConnected() {
		return errors.Annotatef(tele.ErrNotConnected, "paho publish topic=%s", topic)
	}
	token := self.m.Publish(topic, self.qos, self.retain, payload)
	if err := self.wait(ctx, token); err != nil {
		if !self.m.IsConnected() {
			return errors.Annotatef(tele.ErrNotConnected, "paho publish topic=%s err=%v", topic, err)
		}
		return errors.Annotatef(err, "paho publish topic=%s", topic)
	}
	return nil
}

func (self *Publisher) Reconnect(ctx context.Context) error {
	if self.m.IsConnected() {
		return nil
	}
	return self.connect(ctx)
}

func (self *Publisher) Close() error {
	if self.m.IsConnected() {
		self.m.Disconnect(uint(self.timeout / time.Millisecond))
	}
	return nil
}

func (self *Publisher) connect(ctx context.Context) error {
	if err := self.wait(ctx, self.m.Connect()); err != nil {
		return errors.Annotatef(tele.ErrNotConnected, "paho connect err=%v", err)
	}
	return nil
}

func (self *Publisher) wait(ctx context.Context, token mqtt.Token) error {
	timeout := self.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if !token.WaitTimeout(timeout) {
		return errors.Timeoutf("paho network timeout=%v", timeout)
	}
	return token.Error()
}

func (self *Publisher) onConnect(mqtt.Client) { self.log.Infof("paho connected") }

func (self *Publisher) onConnectionLost(_ mqtt.Client, err error) {
	self.log.Errorf("paho connection lost err=%v", err)
}
