package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/ar844/helpers"
	"github.com/temoto/ar844/helpers/atomic_clock"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
)

const (
	DefaultNetworkTimeout    = 30 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultReconnectDelayMax = 1 * time.Minute
)

var ErrClientClosing = fmt.Errorf("MQTT client is closing")

type ClientOptions struct {
	BrokerURL      string
	TLS            *tls.Config
	ReconnectDelay time.Duration
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string
	Username       string
	Password       string
	QOS            packet.QOS
	Retain         bool
	Log            *log2.Log

	conpkt *packet.Connect
	dialer *transport.Dialer
	ondie  func(*clientConn, error)
	onpkt  func(packet.Generic)
}

// Publish-only telemetry MQTT client.
// - NewClient() returns only configuration errors, network IO is done in background
// - Connect with clean session, no subscriptions
// - Reconnect with exponential delay until Close(), Reconnect() skips the delay
// - QOS 0,1
// - Serialized Publish, no in-flight storage
// - Publish while offline returns tele.ErrNotConnected without waiting
type Client struct { //nolint:maligned
	sync.Mutex

	alive   *alive.Alive
	current *clientConn
	kick    chan struct{}
	lastID  uint32
	opt     ClientOptions

	publishMu   sync.Mutex
	flowPublish struct {
		sync.Mutex
		fu *future.Future
		id packet.ID
	}
}

var _ tele.Publisher = &Client{}

func NewClient(opt ClientOptions) (*Client, error) {
	if opt.QOS >= packet.QOSExactlyOnce {
		return nil, errors.NotSupportedf("mqtt QOS=%d", opt.QOS)
	}
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if opt.ReconnectDelay == 0 {
		opt.ReconnectDelay = DefaultReconnectDelay
	}
	if u, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt BrokerURL=%s", opt.BrokerURL)
	} else if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	opt.conpkt = packet.NewConnect()
	opt.conpkt.ClientID = defaultString(opt.ClientID, opt.Username)
	opt.conpkt.KeepAlive = opt.KeepaliveSec
	opt.conpkt.CleanSession = true
	opt.conpkt.Username = opt.Username
	opt.conpkt.Password = opt.Password
	opt.dialer = transport.NewDialer(transport.DialConfig{
		TLSConfig: opt.TLS,
		Timeout:   opt.NetworkTimeout,
	})

	c := &Client{
		alive:  alive.NewAlive(),
		kick:   make(chan struct{}, 1),
		lastID: uint32(time.Now().UnixNano()),
		opt:    opt,
	}
	c.opt.ondie = c.onConnDie
	c.opt.onpkt = c.onPacket
	_ = c.clientConn(true)

	c.alive.Add(1)
	go c.worker()
	return c, nil
}

func (c *Client) Close() error {
	err := c.Disconnect()
	c.alive.Stop()
	c.alive.Wait()
	if errors.Cause(err) == client.ErrClientNotConnected {
		err = nil
	}
	return err
}

func (c *Client) Disconnect() error {
	err := client.ErrClientNotConnected
	if cc := c.clientConn(false); cc != nil && cc.ready() {
		err = cc.send(packet.NewDisconnect())
		_ = cc.die(ErrClientClosing)
	}
	return err
}

func (c *Client) Publish(ctx context.Context, topic string, payload []byte) error {
	return c.PublishMessage(ctx, &packet.Message{Topic: topic, Payload: payload, QOS: c.opt.QOS, Retain: c.opt.Retain})
}

func (c *Client) PublishMessage(ctx context.Context, msg *packet.Message) error {
	if msg.QOS >= packet.QOSExactlyOnce {
		panic("code error QOS ExactlyOnce not implemented")
	}
	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	cc := c.clientConn(false)
	if !cc.ready() {
		return errors.Annotatef(tele.ErrNotConnected, "mqtt publish topic=%s", msg.Topic)
	}

	publish := packet.NewPublish()
	publish.Message = *msg
	var fu *future.Future
	if msg.QOS >= packet.QOSAtLeastOnce {
		publish.ID = c.nextID()
		fu = future.New()
		c.flowPublish.Lock()
		c.flowPublish.fu, c.flowPublish.id = fu, publish.ID
		c.flowPublish.Unlock()
		defer c.flowEnd()
	}
	if err := cc.send(publish); err != nil {
		return errors.Annotatef(tele.ErrNotConnected, "mqtt publish topic=%s send err=%v", msg.Topic, err)
	}
	if fu == nil {
		return nil
	}

	timeout := c.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	switch err := fu.Wait(timeout); err {
	case nil:
		return nil

	case future.ErrCanceled:
		if e, ok := fu.Result().(error); ok {
			return e
		}
		return errors.Annotate(tele.ErrNotConnected, "mqtt publish canceled")

	case future.ErrTimeout:
		err = errors.Timeoutf("mqtt PUBACK id=%d", publish.ID)
		_ = c.disconnect(err)
		return err

	default:
		return fmt.Errorf("code error future.Wait()=%v", err)
	}
}

// Reconnect wakes background worker and waits for CONNACK within network timeout.
func (c *Client) Reconnect(ctx context.Context) error {
	if c.clientConn(false).ready() {
		return nil
	}
	select {
	case c.kick <- struct{}{}:
	default:
	}
	ctx, cancel := context.WithTimeout(ctx, c.opt.NetworkTimeout)
	defer cancel()
	switch err := c.WaitReady(ctx); err {
	case nil:
		return nil
	case context.Canceled:
		return errors.Annotatef(tele.ErrNotConnected, "mqtt reconnect broker=%s", c.opt.BrokerURL)
	default:
		return err
	}
}

// Returns, in this order:
// - ErrClientClosing if client stopped with Close()
// - nil if connected within context limit
// - context.Canceled if context canceled/expired before successful connection
func (c *Client) WaitReady(ctx context.Context) error {
	donech := ctx.Done()
	stopch := c.alive.StopChan()
	for {
		cc := c.clientConn(false)
		if cc == nil {
			select {
			case <-time.After(100 * time.Millisecond):
				continue

			case <-donech:
				return context.Canceled

			case <-stopch:
				return ErrClientClosing
			}
		}

		switch cc.waitReady(ctx) {
		case nil: // success path
			return nil

		case context.Canceled:
			return context.Canceled

		case ErrClientClosing: // current connection is lost, wait for worker to make next
		}
	}
}

func (c *Client) clientConn(create bool) *clientConn {
	c.Lock()
	defer c.Unlock()
	if !c.alive.IsRunning() {
		return nil
	}
	if c.current != nil && !c.current.alive.IsRunning() {
		c.current = nil
	}
	if c.current == nil && create {
		c.current = newClientConn(c.opt)
	}
	return c.current
}

func (c *Client) disconnect(err error) error {
	if cc := c.clientConn(false); cc != nil {
		_ = cc.die(err)
		cc.alive.Wait()
	}
	return err
}

func (c *Client) flowEnd() {
	c.flowPublish.Lock()
	c.flowPublish.fu = nil
	c.flowPublish.Unlock()
}

func (c *Client) nextID() packet.ID {
	u32 := atomic.AddUint32(&c.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

func (c *Client) onConnDie(cc *clientConn, err error) {
	c.flowPublish.Lock()
	defer c.flowPublish.Unlock()
	if c.flowPublish.fu != nil {
		c.flowPublish.fu.Cancel(errors.Annotatef(tele.ErrNotConnected, "mqtt connection lost err=%v", err))
	}
}

func (c *Client) onPacket(p packet.Generic) {
	switch pt := p.(type) {
	case *packet.Puback:
		c.onPuback(pt.ID)
	case *packet.Publish:
		// no subscriptions, broker should not send anything
		c.opt.Log.Errorf("mqtt unexpected %s", PacketString(p))
	default:
		c.opt.Log.Debugf("mqtt unknown packet %s", PacketString(p))
	}
}

func (c *Client) onPuback(id packet.ID) {
	c.flowPublish.Lock()
	defer c.flowPublish.Unlock()
	if c.flowPublish.fu == nil {
		c.opt.Log.Errorf("mqtt unexpected PUBACK id=%d", id)
		return
	}
	if c.flowPublish.id != id {
		c.opt.Log.Errorf("mqtt PUBACK id=%d expected=%d", id, c.flowPublish.id)
		return
	}
	c.flowPublish.fu.Complete(id)
}

func (c *Client) worker() {
	defer c.alive.Done()
	stopch := c.alive.StopChan()
	backoff := helpers.Backoff{
		Min: c.opt.ReconnectDelay,
		Max: DefaultReconnectDelayMax,
		K:   2,
	}
	for {
		cc := c.clientConn(true)
		if cc == nil {
			return
		}
		select {
		case <-cc.alive.WaitChan():

		case <-stopch:
			_ = cc.die(ErrClientClosing)
			return
		}

		delay := backoff.DelayAfter(cc.wasReady())
		c.opt.Log.Debugf("mqtt reconnect delay=%v", delay)
		select {
		case <-time.After(delay):

		case <-c.kick:
			c.opt.Log.Debugf("mqtt reconnect requested")

		case <-stopch:
			return
		}
	}
}

// Single client connection. `transport.Conn` with CONNECT and pings.
// State is set once at creation, except transport.Conn which requires blocking Dial.
type clientConn struct {
	alive  *alive.Alive
	closed uint32
	confu  *future.Future
	conn   atomic.Value // transport.Conn
	opt    ClientOptions
	onpkt  func(packet.Generic)
	pingat *atomic_clock.Clock // timestamp of last outgoing control packet
	pongat *atomic_clock.Clock // timestamp of last incoming control packet
}

func newClientConn(opt ClientOptions) *clientConn {
	cc := &clientConn{
		alive:  alive.NewAlive(),
		confu:  future.New(),
		opt:    opt,
		onpkt:  opt.onpkt,
		pingat: atomic_clock.Now(),
		pongat: atomic_clock.Now(),
	}
	cc.alive.Add(1)
	go cc.connect()
	return cc
}

func (cc *clientConn) die(e error) error {
	if e == nil {
		e = ErrClientClosing
	}
	if !atomic.CompareAndSwapUint32(&cc.closed, 0, 1) {
		return e
	}
	if e != ErrClientClosing {
		cc.opt.Log.Errorf("mqtt broker=%s connection err=%v", cc.opt.BrokerURL, e)
	}
	cc.alive.Stop()
	cc.confu.Cancel(e)
	if conn := cc.getConn(); conn != nil {
		_ = conn.Close()
	}
	if cc.opt.ondie != nil {
		cc.opt.ondie(cc, e)
	}
	return e
}

func (cc *clientConn) getConn() transport.Conn {
	if x := cc.conn.Load(); x != nil {
		return x.(transport.Conn)
	}
	return nil
}

func (cc *clientConn) ready() bool {
	if cc == nil || !cc.alive.IsRunning() {
		return false
	}
	return cc.wasReady()
}

func (cc *clientConn) wasReady() bool {
	connected, _ := cc.confu.Result().(bool)
	return connected
}

// dial, send CONNECT, wait CONNACK, start pinger and reader
func (cc *clientConn) connect() {
	defer cc.alive.Done()

	conn, err := cc.opt.dialer.Dial(cc.opt.BrokerURL)
	if err != nil {
		_ = cc.die(errors.Annotatef(err, "connect: dial broker=%s", cc.opt.BrokerURL))
		return
	}
	cc.conn.Store(conn)
	if err = cc.send(cc.opt.conpkt); err != nil {
		return
	}

	{ // expect CONNACK
		conn.SetReadTimeout(cc.opt.NetworkTimeout)
		pkt, err := conn.Receive()
		if err != nil {
			_ = cc.die(errors.Annotate(err, "connect: expect CONNACK"))
			return
		}
		connack, ok := pkt.(*packet.Connack)
		if !ok {
			err = errors.Annotatef(client.ErrClientExpectedConnack, "connect: server error pkt=%s", PacketString(pkt))
			_ = cc.die(err)
			return
		}
		cc.opt.Log.Debugf("CONNACK=%s", connack.String())
		if connack.ReturnCode != packet.ConnectionAccepted {
			err = errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String())
			_ = cc.die(err)
			return
		}
		conn.SetReadTimeout(0)
	}

	if !cc.alive.Add(2) {
		_ = cc.die(context.Canceled)
		return
	}
	cc.pongat.SetNow()
	cc.confu.Complete(true)
	cc.opt.Log.Infof("mqtt connected broker=%s", cc.opt.BrokerURL)
	go cc.pinger()
	go cc.reader()
}

// Sends ping packets to keep the connection alive.
// PINGREQ is only sent if Keepalive-NetworkTimeout has passed since last command.
func (cc *clientConn) pinger() {
	defer cc.alive.Done()
	if cc.opt.KeepaliveSec == 0 {
		return
	}

	// [MQTT-3.1.2-24] control packets must arrive at most KeepaliveSec*1.5 apart.
	keepalive := keepaliveAndHalf(cc.opt.KeepaliveSec)
	interval := keepalive - cc.opt.NetworkTimeout
	if interval <= 0 {
		interval = keepalive / 2
	}
	stopch := cc.alive.StopChan()
	for cc.alive.IsRunning() {
		now := atomic_clock.Now()
		window := now.Sub(cc.pingat)
		sincePong := now.Sub(cc.pongat)

		if window > 0 && window < interval {
			select {
			case <-time.After(interval - window):
				continue

			case <-stopch:
				return
			}
		} else if window >= interval {
			if err := cc.send(packet.NewPingreq()); err != nil {
				return
			}
		}

		if sincePong > keepalive {
			_ = cc.die(client.ErrClientMissingPong)
			return
		}
	}
}

func (cc *clientConn) reader() {
	defer cc.alive.Done()

	conn := cc.getConn()
	for {
		pkt, err := conn.Receive()
		if !cc.alive.IsRunning() {
			return
		}
		switch err {
		case nil: // success path

		case io.EOF: // server closed connection
			_ = cc.die(errors.Errorf("server closed connection"))
			return

		default:
			_ = cc.die(errors.Annotate(err, "receive"))
			return
		}
		cc.opt.Log.Debugf("received=%s", PacketString(pkt))

		switch pkt.(type) {
		case *packet.Connack:
			_ = cc.die(errors.Errorf("server error duplicate CONNACK pkt=%s", PacketString(pkt)))
			return

		case *packet.Pingresp:
			cc.pongat.SetNow()

		default:
			if cc.onpkt != nil {
				cc.onpkt(pkt)
			}
		}
	}
}

func (cc *clientConn) send(p packet.Generic) error {
	if cc == nil {
		return client.ErrClientNotConnected
	}
	conn := cc.getConn()
	if conn == nil {
		return client.ErrClientNotConnected
	}
	if err := conn.Send(p, false); err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		return cc.die(err)
	}
	cc.pingat.SetNow()
	cc.opt.Log.Debugf("sent %s", PacketString(p))
	return nil
}

// Returns, in this order:
// - ErrClientClosing if clientConn is in final invalid state
// - nil if connected within context limit
// - context.Canceled if context canceled/expired before successful connection
func (cc *clientConn) waitReady(ctx context.Context) error {
	if cc == nil {
		return ErrClientClosing
	}
	donech := ctx.Done()
	select {
	case <-donech:
		return context.Canceled
	default:
	}
	for {
		if cc.wasReady() {
			return nil
		}
		if !cc.alive.IsRunning() {
			return ErrClientClosing
		}
		select {
		case <-time.After(50 * time.Millisecond):

		case <-cc.alive.StopChan():

		case <-donech:
			return context.Canceled
		}
	}
}
