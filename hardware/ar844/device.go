package ar844

import (
	"context"
	"time"

	"github.com/juju/errors"
	ar844_config "github.com/temoto/ar844/hardware/ar844/config"
	"github.com/temoto/ar844/log2"
)

const (
	DefaultVendorID        = 0x1234
	DefaultProductID       = 0x5678
	DefaultConfiguration   = 1
	DefaultInterface       = 0
	DefaultEndpointIn      = 0x81
	DefaultEndpointOut     = 0x02
	DefaultPollInterval    = 500 * time.Millisecond
	DefaultTransferTimeout = 1 * time.Second
	DefaultWaitTimeout     = 1 * time.Second
)

// ErrDeviceGone means the meter is unplugged or the handle is closed,
// no further transfer can be submitted.
var ErrDeviceGone = errors.New("ar844: device gone")

// Device is one exclusively owned meter channel.
// Read and Write may run concurrently with each other,
// but at most one Read and one Write at a time.
// Both block until transfer completes or ctx is done.
type Device interface {
	Read(ctx context.Context, p []byte) (int, error)
	Write(ctx context.Context, p []byte) (int, error)
	Close() error
}

func Open(log *log2.Log, c ar844_config.Config) (Device, error) {
	switch c.Driver {
	case "", "usb":
		return OpenUSB(log, c)
	case "hidraw":
		return OpenHidraw(log, c.Path)
	case "mock":
		log.Infof("ar844: using simulated meter")
		return NewSimulator(), nil
	default:
		return nil, errors.NotSupportedf("config device.driver=%s", c.Driver)
	}
}

func IsGone(err error) bool { return err != nil && errors.Cause(err) == ErrDeviceGone }

func gone(err error, format string, args ...interface{}) error {
	return errors.Annotatef(ErrDeviceGone, format+" err=%v", append(args, err)...)
}
