package state

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	ar844_config "github.com/temoto/ar844/hardware/ar844/config"
	"github.com/temoto/ar844/helpers"
	"github.com/temoto/ar844/log2"
	"github.com/temoto/ar844/tele"
	tele_config "github.com/temoto/ar844/tele/config"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include" yaml:"include"`

	Aggregate struct {
		PeriodSec int `hcl:"period_sec" yaml:"period_sec"`
	} `hcl:"aggregate" yaml:"aggregate"`
	Device   ar844_config.Config `hcl:"device" yaml:"device"`
	LogDebug bool                `hcl:"log_debug" yaml:"log_debug"`
	Metrics  struct {
		Listen string `hcl:"listen" yaml:"listen"` // host:port, empty disables
	} `hcl:"metrics" yaml:"metrics"`
	Tele tele_config.Config `hcl:"tele" yaml:"tele"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key" yaml:"name"`
	Optional bool   `hcl:"optional" yaml:"optional"`
}

func (c *Config) Period() time.Duration {
	return helpers.IntSecondDefault(c.Aggregate.PeriodSec, 60*time.Second)
}

// Validate applies defaults and reports every invalid value at once.
func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Aggregate.PeriodSec < 0 {
		errs = append(errs, errors.NotValidf("config aggregate.period_sec=%d", c.Aggregate.PeriodSec))
	}

	d := &c.Device
	switch d.Driver {
	case "":
		d.Driver = "usb"
	case "usb", "mock":
	case "hidraw":
		if d.Path == "" {
			errs = append(errs, errors.NotValidf("config device.driver=hidraw requires device.path"))
		}
	default:
		errs = append(errs, errors.NotValidf("config device.driver=%s", d.Driver))
	}
	for _, x := range []struct {
		name  string
		value int
	}{
		{"poll_interval_ms", d.PollIntervalMs},
		{"transfer_timeout_ms", d.TransferTimeoutMs},
		{"wait_timeout_ms", d.WaitTimeoutMs},
	} {
		if x.value < 0 {
			errs = append(errs, errors.NotValidf("config device.%s=%d", x.name, x.value))
		}
	}

	t := &c.Tele
	switch t.Driver {
	case "":
		t.Driver = tele.DriverMqtt
	case tele.DriverMqtt, tele.DriverPaho, tele.DriverNoop:
	case tele.DriverKafka:
		if len(t.KafkaBrokers) == 0 {
			errs = append(errs, errors.NotValidf("config tele.driver=kafka requires tele.kafka_brokers"))
		}
	default:
		errs = append(errs, errors.NotValidf("config tele.driver=%s", t.Driver))
	}
	if t.Topic == "" {
		t.Topic = tele.DefaultTopic
	}
	if _, err := tele.Topic(t.Topic, "validate"); err != nil {
		errs = append(errs, err)
	}
	if t.MqttQos < 0 || t.MqttQos > 1 {
		errs = append(errs, errors.NotValidf("config tele.mqtt_qos=%d", t.MqttQos))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	switch strings.ToLower(filepath.Ext(norm)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(bs, c)
	default:
		err = hcl.Unmarshal(bs, c)
	}
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		return nil, errors.Errorf("code error ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	if len(errs) == 0 {
		errs = append(errs, c.Validate())
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
