package device

import (
	"fmt"
	"strings"

	"github.com/ardnew/usbemu/pkg"
)

// USB Speeds as defined in USB 2.0 specification.
const (
	SpeedLow   Speed = 0 // 1.5 Mbps (USB 1.0)
	SpeedFull  Speed = 1 // 12 Mbps (USB 1.1)
	SpeedHigh  Speed = 2 // 480 Mbps (USB 2.0)
	SpeedSuper Speed = 3 // 5 Gbps (USB 3.0)
)

// Speed represents USB connection speed.
type Speed uint8

var speedNames = map[Speed]string{
	SpeedLow:   "low",
	SpeedFull:  "full",
	SpeedHigh:  "high",
	SpeedSuper: "super",
}

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	case SpeedSuper:
		return "Super Speed (5 Gbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", s)
	}
}

// Name returns the short lowercase name used in definitions.
func (s Speed) Name() string {
	if n, ok := speedNames[s]; ok {
		return n
	}
	return fmt.Sprintf("speed%d", s)
}

// ParseSpeed parses a short speed name such as "full" or "high".
func ParseSpeed(name string) (Speed, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for s, n := range speedNames {
		if n == name {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown speed %q", pkg.ErrInvalidDefinition, name)
}

// MaxPacketSize0 returns the maximum packet size for endpoint 0 at this speed.
func (s Speed) MaxPacketSize0() uint16 {
	switch s {
	case SpeedLow:
		return 8
	case SpeedFull, SpeedHigh:
		return 64
	case SpeedSuper:
		return 512
	default:
		return 8
	}
}

// Device states as defined in USB 2.0 specification section 9.1.
const (
	StateAttached   State = 0 // Device is attached but not powered
	StatePowered    State = 1 // Device is powered
	StateDefault    State = 2 // Device has been reset, using default address
	StateAddress    State = 3 // Device has been assigned a unique address
	StateConfigured State = 4 // Device is configured and operational
	StateSuspended  State = 5 // Device is in suspend mode
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddress:
		return "Address"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}
