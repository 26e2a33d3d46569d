package paho

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_config "github.com/temoto/ar844/tele/config"
)

func TestPublish(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	defer ln.Close()
	received := make(chan *packet.Publish, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
		b := transport.NewNetConn(conn)
		for {
			pkt, err := b.Receive()
			if err != nil {
				return
			}
			switch p := pkt.(type) {
			case *packet.Connect:
				connack := packet.NewConnack()
				connack.ReturnCode = packet.ConnectionAccepted
				_ = b.Send(connack, false)
			case *packet.Publish:
				puback := packet.NewPuback()
				puback.ID = p.ID
				_ = b.Send(puback, false)
				received <- p
			case *packet.Pingreq:
				_ = b.Send(packet.NewPingresp(), false)
			case *packet.Disconnect:
				return
			}
		}
	}()

	log := log2.NewStderr(log2.LDebug) // paho loggers are global, must outlive test
	p, err := New(log, tele_config.Config{
		MqttBroker:        "tcp://" + ln.Addr().String(),
		MqttQos:           1,
		NetworkTimeoutSec: 5,
	}, "host1")
	require.NoError(t, err)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Reconnect(ctx))
	require.NoError(t, p.Publish(ctx, "tele/host1/ar844/data", []byte(`{"avg":45.2}`)))
	pub := <-received
	assert.Equal(t, "tele/host1/ar844/data", pub.Message.Topic)
	assert.Equal(t, `{"avg":45.2}`, string(pub.Message.Payload))
	assert.Equal(t, packet.QOSAtLeastOnce, pub.Message.QOS)
}

func TestNotConnected(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	log := log2.NewStderr(log2.LDebug) // paho loggers are global, must outlive test
	p, err := New(log, tele_config.Config{MqttBroker: "tcp://" + addr, NetworkTimeoutSec: 1}, "host1")
	require.NoError(t, err)
	defer p.Close()

	err = p.Publish(context.Background(), "t", []byte("x"))
	assert.True(t, tele.IsNotConnected(err), "err=%v", err)
	err = p.Reconnect(context.Background())
	assert.True(t, tele.IsNotConnected(err), "err=%v", err)
}

func TestQosNotSupported(t *testing.T) {
	t.Parallel()

	_, err := New(nil, tele_config.Config{MqttQos: 2}, "host1")
	assert.Error(t, err)
}
