//go:build !linux

package ar844

import (
	"github.com/juju/errors"
	"github.com/temoto/ar844/log2"
)

func OpenHidraw(log *log2.Log, path string) (Device, error) {
	return nil, errors.NotSupportedf("hidraw driver on this platform")
}
