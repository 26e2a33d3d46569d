package mqtt

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_config "github.com/temoto/ar844/tele/config"
)

const testTimeout = 5 * time.Second

type testBroker struct {
	addr    string
	alive   *alive.Alive
	ln      net.Listener
	accepts uint32
}

// serve calls handle for each accepted connection, n counts from 1
func newTestBroker(t testing.TB, handle func(t testing.TB, n int, b *transport.NetConn)) *testBroker {
	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	tb := &testBroker{addr: ln.Addr().String(), alive: alive.NewAlive(), ln: ln}
	tb.alive.Add(1)
	go func() {
		defer tb.alive.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			n := int(atomic.AddUint32(&tb.accepts, 1))
			_ = conn.SetDeadline(time.Now().Add(testTimeout))
			if !tb.alive.Add(1) {
				_ = conn.Close()
				return
			}
			go func() {
				defer tb.alive.Done()
				defer conn.Close()
				handle(t, n, transport.NewNetConn(conn))
			}()
		}
	}()
	return tb
}

func (tb *testBroker) URL() string { return fmt.Sprintf("tcp://%s", tb.addr) }

func (tb *testBroker) Close() {
	tb.alive.Stop()
	_ = tb.ln.Close()
	tb.alive.Wait()
}

func acceptConnect(t testing.TB, b *transport.NetConn) *packet.Connect {
	pkt, err := b.Receive()
	require.NoError(t, err)
	connect, ok := pkt.(*packet.Connect)
	require.True(t, ok, "expected CONNECT pkt=%s", PacketString(pkt))
	connack := packet.NewConnack()
	connack.ReturnCode = packet.ConnectionAccepted
	require.NoError(t, b.Send(connack, false))
	return connect
}

func testOptions(t testing.TB, url string) ClientOptions {
	return ClientOptions{
		BrokerURL:      url,
		ClientID:       "ar844-test",
		Log:            log2.NewTest(t, log2.LDebug),
		NetworkTimeout: testTimeout,
		ReconnectDelay: 10 * time.Second,
	}
}

func waitReady(t testing.TB, c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.WaitReady(ctx))
}

func TestPublish(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		qos  packet.QOS
	}{
		{"qos0", packet.QOSAtMostOnce},
		{"qos1", packet.QOSAtLeastOnce},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			received := make(chan *packet.Publish, 1)
			tb := newTestBroker(t, func(t testing.TB, n int, b *transport.NetConn) {
				connect := acceptConnect(t, b)
				assert.Equal(t, "ar844-test", connect.ClientID)
				assert.True(t, connect.CleanSession)
				pkt, err := b.Receive()
				require.NoError(t, err)
				pub, ok := pkt.(*packet.Publish)
				require.True(t, ok, "expected PUBLISH pkt=%s", PacketString(pkt))
				if pub.Message.QOS == packet.QOSAtLeastOnce {
					puback := packet.NewPuback()
					puback.ID = pub.ID
					require.NoError(t, b.Send(puback, false))
				}
				received <- pub
				_, _ = b.Receive() // DISCONNECT or EOF
			})
			defer tb.Close()

			opt := testOptions(t, tb.URL())
			opt.QOS = c.qos
			mc, err := NewClient(opt)
			require.NoError(t, err)
			waitReady(t, mc)

			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()
			payload := []byte(`{"time":"2019-12-29T13:45:00Z","avg":45.2,"min":13.2,"max":72.4,"weight":"A"}`)
			require.NoError(t, mc.Publish(ctx, "tele/host1/ar844/data", payload))
			pub := <-received
			assert.Equal(t, "tele/host1/ar844/data", pub.Message.Topic)
			assert.Equal(t, payload, pub.Message.Payload)
			assert.Equal(t, c.qos, pub.Message.QOS)
			assert.False(t, pub.Message.Retain)
			assert.NoError(t, mc.Close())
		})
	}
}

func TestPublishNotConnected(t *testing.T) {
	t.Parallel()

	// reserve free port, nobody listens there
	ln, err := net.Listen("tcp", "127.0.0.1:")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	mc, err := NewClient(testOptions(t, "tcp://"+addr))
	require.NoError(t, err)
	defer mc.Close()

	start := time.Now()
	err = mc.Publish(context.Background(), "t", []byte("x"))
	require.Error(t, err)
	assert.True(t, tele.IsNotConnected(err), err.Error())
	assert.True(t, time.Since(start) < time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	err = mc.Reconnect(ctx)
	require.Error(t, err)
	assert.True(t, tele.IsNotConnected(err), err.Error())
}

func TestReconnect(t *testing.T) {
	t.Parallel()

	received := make(chan string, 1)
	tb := newTestBroker(t, func(t testing.TB, n int, b *transport.NetConn) {
		acceptConnect(t, b)
		if n == 1 { // drop first session right after CONNACK
			return
		}
		pkt, err := b.Receive()
		require.NoError(t, err)
		if pub, ok := pkt.(*packet.Publish); ok {
			received <- string(pub.Message.Payload)
		}
		_, _ = b.Receive()
	})
	defer tb.Close()

	mc, err := NewClient(testOptions(t, tb.URL()))
	require.NoError(t, err)
	defer mc.Close()
	waitReady(t, mc)

	// reader notices closed connection
	for i := 0; i < 100 && mc.clientConn(false).ready(); i++ {
		time.Sleep(10 * time.Millisecond)
	}
	err = mc.Publish(context.Background(), "t", []byte("lost"))
	require.Error(t, err)
	assert.True(t, tele.IsNotConnected(err), err.Error())

	// ReconnectDelay is long, Reconnect must skip it
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, mc.Reconnect(ctx))
	require.NoError(t, mc.Publish(ctx, "t", []byte("second")))
	assert.Equal(t, "second", <-received)
}

func TestNewClientConfig(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	c, err := NewClientConfig(log, tele_config.Config{MqttBroker: "tcp://127.0.0.1:1", MqttQos: 1, KeepaliveSec: 0}, "host1")
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, uint16(tele.DefaultKeepalive), c.opt.KeepaliveSec)
	assert.Equal(t, packet.QOSAtLeastOnce, c.opt.QOS)
	assert.Regexp(t, `^ar844-host1-[0-9a-f]{8}$`, c.opt.ClientID)

	_, err = NewClientConfig(log, tele_config.Config{MqttQos: 2}, "host1")
	assert.Error(t, err)
	_, err = NewClientConfig(log, tele_config.Config{MqttBroker: "::bad"}, "host1")
	assert.Error(t, err)
}
