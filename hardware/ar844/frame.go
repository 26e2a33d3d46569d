// Package ar844 speaks to the AR844 USB sound level meter.
//
// The meter is polled by an 8 byte output report and answers with an 8 byte input report:
//
//	byte 0-1  sound level, big endian, tenths of dB
//	byte 2    bits 7-6 speed (1=fast), bit 4 weighting (0=A, 1=C), bits 2-0 range
//	byte 3-7  unused
//
// There is no checksum, any 8 byte report decodes.
package ar844

import (
	"fmt"

	"github.com/juju/errors"
)

const FrameLength = 8

// PollFrame content does not matter to the meter, any output report triggers a response.
var PollFrame = [FrameLength]byte{0xb3, 0x50, 0x05, 0x16, 0x24, 0x11, 0x19, 0x00}

var ErrMalformedFrame = errors.New("ar844: malformed frame")

type Weighting uint8

const (
	WeightingA Weighting = iota
	WeightingC
)

func (w Weighting) String() string {
	switch w {
	case WeightingA:
		return "A"
	case WeightingC:
		return "C"
	}
	return fmt.Sprintf("Weighting(%d)", uint8(w))
}

type Reading struct {
	LevelTenths uint16
	Fast        bool
	Weighting   Weighting
	Range       uint8 // 0-7, informational
}

func (r Reading) Decibels() float32 { return float32(r.LevelTenths) / 10 }

func (r Reading) String() string {
	speed := "slow"
	if r.Fast {
		speed = "fast"
	}
	return fmt.Sprintf("%d.%ddB(%s) %s range=%d", r.LevelTenths/10, r.LevelTenths%10, r.Weighting.String(), speed, r.Range)
}

// Decode never panics; wrong length is the only rejection.
func Decode(b []byte) (Reading, error) {
	if len(b) != FrameLength {
		return Reading{}, errors.Annotatef(ErrMalformedFrame, "length=%d expected=%d", len(b), FrameLength)
	}
	status := b[2]
	r := Reading{
		LevelTenths: uint16(b[0])<<8 | uint16(b[1]),
		Fast:        status>>6 == 1,
		Weighting:   WeightingA,
		Range:       status & 0x07,
	}
	if (status>>4)&0x01 != 0 {
		r.Weighting = WeightingC
	}
	return r, nil
}

// Encode is the inverse of Decode, used by the simulated meter and tests.
func Encode(r Reading) [FrameLength]byte {
	var b [FrameLength]byte
	b[0] = byte(r.LevelTenths >> 8)
	b[1] = byte(r.LevelTenths)
	if r.Fast {
		b[2] |= 1 << 6
	}
	if r.Weighting != WeightingA {
		b[2] |= 1 << 4
	}
	b[2] |= r.Range & 0x07
	return b
}
