//go:build linux

package ar844

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/ar844/log2"
	"golang.org/x/sys/unix"
)

// hidrawPollSlice bounds one poll(2) call so ctx cancellation is noticed.
const hidrawPollSlice = 100 * time.Millisecond

// hidrawDevice uses kernel HID driver instead of detaching it, no libusb required.
type hidrawDevice struct {
	fd     int
	path   string
	closed uint32
	log    *log2.Log
}

func OpenHidraw(log *log2.Log, path string) (Device, error) {
	if path == "" {
		return nil, errors.NotValidf("config device.path empty for hidraw driver")
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC|unix.O_NOCTTY, 0)
	if err != nil {
		return nil, errors.Annotatef(err, "hidraw open path=%s", path)
	}
	log.Debugf("hidraw opened path=%s fd=%d", path, fd)
	return &hidrawDevice{fd: fd, path: path, log: log}, nil
}

func (self *hidrawDevice) Read(ctx context.Context, p []byte) (int, error) {
	for {
		if err := self.wait(ctx, unix.POLLIN); err != nil {
			return 0, err
		}
		n, err := unix.Read(self.fd, p)
		switch err {
		case nil:
			return n, nil
		case unix.EAGAIN, unix.EINTR:
			continue
		}
		return 0, hidrawError(err, "hidraw read")
	}
}

// Write prepends report number 0, AR844 does not use numbered reports.
func (self *hidrawDevice) Write(ctx context.Context, p []byte) (int, error) {
	buf := make([]byte, 1+len(p))
	copy(buf[1:], p)
	for {
		if err := self.wait(ctx, unix.POLLOUT); err != nil {
			return 0, err
		}
		n, err := unix.Write(self.fd, buf)
		switch err {
		case nil:
			if n > 0 {
				n--
			}
			return n, nil
		case unix.EAGAIN, unix.EINTR:
			continue
		}
		return 0, hidrawError(err, "hidraw write")
	}
}

func (self *hidrawDevice) Close() error {
	if !atomic.CompareAndSwapUint32(&self.closed, 0, 1) {
		return nil
	}
	return errors.Annotatef(unix.Close(self.fd), "hidraw close path=%s", self.path)
}

func (self *hidrawDevice) wait(ctx context.Context, events int16) error {
	fds := []unix.PollFd{{Fd: int32(self.fd), Events: events}}
	for {
		if atomic.LoadUint32(&self.closed) != 0 {
			return ErrDeviceGone
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		slice := hidrawPollSlice
		if deadline, ok := ctx.Deadline(); ok {
			if left := time.Until(deadline); left < slice {
				slice = left
			}
		}
		if slice < time.Millisecond {
			slice = time.Millisecond
		}
		n, err := unix.Poll(fds, int(slice/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return errors.Annotate(err, "hidraw poll")
		}
		if n == 0 {
			continue
		}
		re := fds[0].Revents
		if re&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return gone(errors.Errorf("revents=%#x", re), "hidraw poll path=%s", self.path)
		}
		if re&events != 0 {
			return nil
		}
	}
}

func hidrawError(err error, tag string) error {
	switch err {
	case unix.ENODEV, unix.ENXIO, unix.EBADF:
		return gone(err, tag)
	}
	return errors.Annotate(err, tag)
}
