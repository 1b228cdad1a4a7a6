package definition

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ardnew/usbemu/pkg"
)

// HexBytes is raw descriptor data written in YAML as a hex string. Spaces,
// colons and a leading "0x" are ignored when reading.
type HexBytes []byte

// ParseHex decodes s in the same forms HexBytes accepts.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "\n", "", "\t", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: bad hex data: %v", pkg.ErrInvalidDefinition, err)
	}
	return data, nil
}

// FormatHex renders data as space-separated hex bytes.
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var b strings.Builder
	b.Grow(len(data) * 3)
	for i, c := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x", c)
	}
	return b.String()
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (h *HexBytes) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	data, err := ParseHex(s)
	if err != nil {
		return err
	}
	*h = data
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (h HexBytes) MarshalYAML() (any, error) {
	return FormatHex(h), nil
}
