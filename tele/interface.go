// Package tele delivers window summaries to a message broker.
package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/juju/errors"
	tele_config "github.com/temoto/ar844/tele/config"
)

const (
	DefaultTopic     = "tele/%s/ar844/data"
	DefaultBroker    = "tcp://server:1883"
	DefaultKeepalive = 90
	DefaultClientTag = "ar844"
	DriverMqtt       = "mqtt"
	DriverPaho       = "paho"
	DriverKafka      = "kafka"
	DriverNoop       = "noop"
)

// ErrNotConnected is returned by Publish when the broker connection is down.
// Caller may Reconnect and try again.
var ErrNotConnected = errors.New("tele: not connected")

// Publisher contract:
// - Publish delivers or fails within network timeout, never queues
// - ErrNotConnected (as errors.Cause) means Reconnect may help
// - Reconnect blocks at most network timeout or ctx
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Reconnect(ctx context.Context) error
	Close() error
}

func IsNotConnected(err error) bool { return err != nil && errors.Cause(err) == ErrNotConnected }

// Topic resolves template once at startup.
func Topic(template, host string) (string, error) {
	if template == "" {
		template = DefaultTopic
	}
	if n := strings.Count(template, "%s"); n != 1 || strings.Count(template, "%") != 1 {
		return "", errors.NotValidf("tele topic template=%q must contain exactly one %%s", template)
	}
	if host == "" {
		return "", errors.NotValidf("tele topic host empty")
	}
	return fmt.Sprintf(template, host), nil
}

// Host returns configured host or os.Hostname.
func Host(c tele_config.Config) (string, error) {
	if c.Host != "" {
		return c.Host, nil
	}
	h, err := os.Hostname()
	return h, errors.Annotate(err, "tele hostname")
}

func TLSConfig(c tele_config.Config) (*tls.Config, error) {
	if c.TlsCaFile == "" {
		return nil, nil
	}
	cabytes, err := os.ReadFile(c.TlsCaFile)
	if err != nil {
		return nil, errors.Annotatef(err, "tele TLS ca file=%s", c.TlsCaFile)
	}
	tlsconf := new(tls.Config)
	tlsconf.RootCAs = x509.NewCertPool()
	if !tlsconf.RootCAs.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("tele TLS ca file=%s no certificates", c.TlsCaFile)
	}
	return tlsconf, nil
}
