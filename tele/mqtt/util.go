package mqtt

import (
	"fmt"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/ar844/helpers"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_config "github.com/temoto/ar844/tele/config"
)

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

func keepaliveAndHalf(sec uint16) time.Duration {
	d := time.Duration(sec) * time.Second
	return d + d/2
}

// ClientID is "<tag>-<host>-<8 random hex>", brokers drop older session on duplicate id.
func ClientID(tag, host string) string {
	return fmt.Sprintf("%s-%s-%s", tag, host, uuid.New().String()[:8])
}

// NewClientConfig maps tele config onto ClientOptions.
func NewClientConfig(log *log2.Log, c tele_config.Config, host string) (*Client, error) {
	tlsconf, err := tele.TLSConfig(c)
	if err != nil {
		return nil, errors.Annotate(err, "mqtt")
	}
	if !c.MqttLogDebug && log.Enabled(log2.LDebug) {
		log = log.Clone(log2.LInfo)
	}
	keepalive := c.KeepaliveSec
	if keepalive <= 0 {
		keepalive = tele.DefaultKeepalive
	}
	opt := ClientOptions{
		BrokerURL:      defaultString(c.MqttBroker, tele.DefaultBroker),
		TLS:            tlsconf,
		NetworkTimeout: helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout),
		KeepaliveSec:   uint16(keepalive),
		ClientID:       defaultString(c.ClientID, ClientID(tele.DefaultClientTag, host)),
		Username:       c.MqttUsername,
		Password:       c.MqttPassword,
		QOS:            packet.QOS(c.MqttQos),
		Retain:         c.MqttRetain,
		Log:            log,
	}
	return NewClient(opt)
}
