package helpers

import (
	"encoding/hex"
	"strings"

	"github.com/juju/errors"
)

// ParseHex accepts "05dc400000000000", "05 dc 40 ..", "05:dc:40" and "0x05dc..".
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.NewReplacer(" ", "", ":", "", "-", "", "\t", "").Replace(s)
	b, err := hex.DecodeString(s)
	return b, errors.Annotatef(err, "hex=%q", s)
}

func MustHex(s string) []byte {
	b, err := ParseHex(s)
	if err != nil {
		panic(err)
	}
	return b
}
