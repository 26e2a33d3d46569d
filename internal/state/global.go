package state

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/ar844/hardware/ar844"
	"github.com/temoto/ar844/internal/acquire"
	"github.com/temoto/ar844/internal/aggregate"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_kafka "github.com/temoto/ar844/tele/kafka"
	tele_mqtt "github.com/temoto/ar844/tele/mqtt"
	tele_paho "github.com/temoto/ar844/tele/paho"
)

type Global struct {
	Alive  *alive.Alive
	Config *Config
	Host   string
	Log    *log2.Log
	Topic  string

	_copy_guard sync.Mutex //nolint:unused
}

const ContextKey = "run/state-global"

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
	}
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// Init resolves host name and topic once, for the whole process lifetime.
// If `Init` fails, consider `Global` is in broken state.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	g.Config = cfg
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	host, err := tele.Host(cfg.Tele)
	if err != nil {
		return err
	}
	g.Host = host
	if g.Topic, err = tele.Topic(cfg.Tele.Topic, host); err != nil {
		return errors.Annotate(err, "config")
	}
	g.Log.Debugf("config: host=%s topic=%s tele.driver=%s device.driver=%s", g.Host, g.Topic, cfg.Tele.Driver, cfg.Device.Driver)
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Fatal(err)
	}
}

func (g *Global) Error(err error, args ...interface{}) {
	if err != nil {
		if len(args) != 0 {
			msg := args[0].(string)
			args = args[1:]
			err = errors.Annotatef(err, msg, args...)
		}
		g.Log.Error(err)
	}
}

func (g *Global) Fatal(err error, args ...interface{}) {
	if err != nil {
		g.Error(err, args...)
		g.StopWait(5 * time.Second)
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) Stop() { g.Alive.Stop() }

func (g *Global) StopWait(timeout time.Duration) bool {
	g.Alive.Stop()
	select {
	case <-g.Alive.WaitChan():
		return true
	case <-time.After(timeout):
		return false
	}
}

// RunContext is canceled when Alive is stopped, SIGINT and SIGTERM stop Alive.
func (g *Global) RunContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigs)
		select {
		case sig := <-sigs:
			g.Log.Infof("signal=%v stopping", sig)
			g.Stop()
		case <-g.Alive.StopChan():
		case <-ctx.Done():
		}
		cancel()
	}()
	return ctx, cancel
}

func (g *Global) NewPublisher() (tele.Publisher, error) {
	c := g.Config.Tele
	log := g.Log.Clone(log2.LInfo)
	if c.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	switch c.Driver {
	case tele.DriverMqtt:
		p, err := tele_mqtt.NewClientConfig(log.Component("mqtt"), c, g.Host)
		return p, errors.Annotate(err, "tele")
	case tele.DriverPaho:
		p, err := tele_paho.New(log.Component("paho"), c, g.Host)
		return p, errors.Annotate(err, "tele")
	case tele.DriverKafka:
		p, err := tele_kafka.New(log.Component("kafka"), c)
		return p, errors.Annotate(err, "tele")
	case tele.DriverNoop:
		return tele.Noop{Log: log}, nil
	default:
		return nil, errors.NotSupportedf("tele.driver=%s", c.Driver)
	}
}

func (g *Global) OpenDevice() (ar844.Device, error) {
	log := g.Log.Clone(log2.LInfo)
	if g.Config.Device.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	dev, err := ar844.Open(log, g.Config.Device)
	return dev, errors.Annotate(err, "device")
}

func (g *Global) NewScheduler(dev ar844.Device, pub tele.Publisher) *acquire.Scheduler {
	d := g.Config.Device
	c := acquire.Config{
		PollInterval:    time.Duration(d.PollIntervalMs) * time.Millisecond,
		TransferTimeout: time.Duration(d.TransferTimeoutMs) * time.Millisecond,
		WaitTimeout:     time.Duration(d.WaitTimeoutMs) * time.Millisecond,
		Topic:           g.Topic,
	}
	window := aggregate.NewWindow(g.Config.Period(), time.Now())
	return acquire.New(g.Log, c, dev, window, pub)
}
