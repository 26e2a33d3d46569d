package decode

import (
	"fmt"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/ar844/hardware/ar844"
)

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input     string
		expect    string
		expectErr error
	}{
		{"", "", nil},
		{"help", usage, nil},
		{"POLL", "b350051624111900", nil},
		{"05dc400000000000", "150.0dB(A) fast range=0 level=150.0 weight=A", nil},
		{"05:dc:50:00:00:00:00:00", "150.0dB(C) fast range=0 level=150.0 weight=Z", nil},
		{"0x01 f4 03 00 00 00 00 00", "50.0dB(A) slow range=3 level=50.0 weight=A", nil},
		{"05dc40000000", "", ar844.ErrMalformedFrame},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%q", c.input), func(t *testing.T) {
			t.Parallel()
			s, err := decodeLine(c.input)
			if c.expectErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, s)
		})
	}
}

func TestDecodeLineBadHex(t *testing.T) {
	t.Parallel()

	_, err := decodeLine("zz")
	require.Error(t, err)
}
