package ar844

import (
	"context"
	"sync"

	"github.com/google/gousb"
	"github.com/juju/errors"
	ar844_config "github.com/temoto/ar844/hardware/ar844/config"
	"github.com/temoto/ar844/log2"
)

// usbDevice talks to interrupt endpoints through libusb.
type usbDevice struct {
	log  *log2.Log
	mu   sync.Mutex
	uctx *gousb.Context
	dev  *gousb.Device
	cfg  *gousb.Config
	intf *gousb.Interface
	in   *gousb.InEndpoint
	out  *gousb.OutEndpoint
}

func OpenUSB(log *log2.Log, c ar844_config.Config) (Device, error) {
	vid := defaultInt(c.VendorID, DefaultVendorID)
	pid := defaultInt(c.ProductID, DefaultProductID)
	self := &usbDevice{log: log, uctx: gousb.NewContext()}

	dev, err := self.uctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		self.Close()
		return nil, errors.Annotatef(err, "usb open vid=%04x pid=%04x", vid, pid)
	}
	if dev == nil {
		self.Close()
		return nil, errors.NotFoundf("usb device vid=%04x pid=%04x", vid, pid)
	}
	self.dev = dev
	if err = dev.SetAutoDetach(true); err != nil {
		log.Errorf("usb auto detach kernel driver err=%v", err)
	}

	cfgNum := defaultInt(c.Configuration, DefaultConfiguration)
	if self.cfg, err = dev.Config(cfgNum); err != nil {
		self.Close()
		return nil, errors.Annotatef(err, "usb configuration=%d", cfgNum)
	}
	if self.intf, err = self.cfg.Interface(c.Interface, 0); err != nil {
		self.Close()
		return nil, errors.Annotatef(err, "usb claim interface=%d", c.Interface)
	}
	epIn := defaultInt(c.EndpointIn, DefaultEndpointIn) & 0x0f
	if self.in, err = self.intf.InEndpoint(epIn); err != nil {
		self.Close()
		return nil, errors.Annotatef(err, "usb endpoint in=%d", epIn)
	}
	epOut := defaultInt(c.EndpointOut, DefaultEndpointOut) & 0x0f
	if self.out, err = self.intf.OutEndpoint(epOut); err != nil {
		self.Close()
		return nil, errors.Annotatef(err, "usb endpoint out=%d", epOut)
	}
	log.Debugf("usb opened vid=%04x pid=%04x in=%s out=%s", vid, pid, self.in.String(), self.out.String())
	return self, nil
}

func (self *usbDevice) Read(ctx context.Context, p []byte) (int, error) {
	in := self.endpointIn()
	if in == nil {
		return 0, ErrDeviceGone
	}
	n, err := in.ReadContext(ctx, p)
	return n, usbError(err, "usb read")
}

func (self *usbDevice) Write(ctx context.Context, p []byte) (int, error) {
	out := self.endpointOut()
	if out == nil {
		return 0, ErrDeviceGone
	}
	n, err := out.WriteContext(ctx, p)
	return n, usbError(err, "usb write")
}

func (self *usbDevice) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.in, self.out = nil, nil
	if self.intf != nil {
		self.intf.Close()
		self.intf = nil
	}
	var errs []error
	if self.cfg != nil {
		errs = append(errs, self.cfg.Close())
		self.cfg = nil
	}
	if self.dev != nil {
		if err := self.dev.Reset(); err != nil {
			self.log.Debugf("usb reset err=%v", err)
		}
		errs = append(errs, self.dev.Close())
		self.dev = nil
	}
	if self.uctx != nil {
		errs = append(errs, self.uctx.Close())
		self.uctx = nil
	}
	for _, e := range errs {
		if e != nil {
			return errors.Annotate(e, "usb close")
		}
	}
	return nil
}

func (self *usbDevice) endpointIn() *gousb.InEndpoint {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.in
}

func (self *usbDevice) endpointOut() *gousb.OutEndpoint {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.out
}

func usbError(err error, tag string) error {
	switch err {
	case nil:
		return nil
	case gousb.ErrorNoDevice, gousb.TransferNoDevice:
		return gone(err, tag)
	}
	return errors.Annotate(err, tag)
}

func defaultInt(x, def int) int {
	if x == 0 {
		return def
	}
	return x
}
