package hal

import (
	"context"
	"fmt"
)

// EndpointConfig describes an endpoint configuration for the HAL.
// This is a minimal, platform-agnostic representation used to configure
// hardware endpoints when a configuration or alternate setting is activated.
type EndpointConfig struct {
	Address       uint8  // Endpoint address including direction bit
	Attributes    uint8  // Transfer type and sync/usage flags
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval for interrupt/isochronous
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *EndpointConfig) IsIn() bool {
	return e.Address&0x80 != 0
}

// TransferType returns the transfer type (control, bulk, interrupt, isochronous).
func (e *EndpointConfig) TransferType() uint8 {
	return e.Attributes & 0x03
}

// SetupPacket represents a USB SETUP packet in the HAL layer.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// EventKind identifies non-control endpoint activity.
type EventKind uint8

// Endpoint event kinds.
const (
	EventDataReceived  EventKind = iota + 1 // Host sent data to an OUT endpoint
	EventDataRequested                      // Host polled an IN endpoint
	EventBufferEmpty                        // An endpoint buffer drained
)

// String returns a human-readable event kind.
func (k EventKind) String() string {
	switch k {
	case EventDataReceived:
		return "data-received"
	case EventDataRequested:
		return "data-requested"
	case EventBufferEmpty:
		return "buffer-empty"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

// Event reports activity on a non-control endpoint.
type Event struct {
	Kind    EventKind
	Address uint8  // Endpoint address including direction bit
	Data    []byte // Payload for EventDataReceived
}

// Backend is the transport operation the interface core relies on.
type Backend interface {
	// ClearHalt clears the halt condition of an endpoint and resets its
	// data toggle to DATA0.
	ClearHalt(number, direction uint8) error
}

// DeviceHAL defines the Hardware Abstraction Layer interface for the device
// stack loop.
//
// Implementations must deliver events and SETUP packets in the order they
// occurred. The stack serializes their handling.
type DeviceHAL interface {
	Backend

	// Init initializes the transport.
	// The context can be used to cancel initialization.
	Init(ctx context.Context) error

	// Start attaches to the bus. After Start returns, the device should be
	// visible to the host.
	Start() error

	// Stop detaches from the bus.
	Stop() error

	// SetAddress sets the device address in hardware.
	// Called after the host assigns an address during enumeration.
	SetAddress(address uint8) error

	// ConfigureEndpoints configures hardware endpoints for the active
	// alternate settings. Pass nil to unconfigure all endpoints.
	ConfigureEndpoints(endpoints []EndpointConfig) error

	// ReadSetup reads a SETUP packet from EP0.
	// Blocks until a SETUP packet is available or the context is cancelled.
	// Returns an error wrapping pkg.ErrReset on bus reset.
	ReadSetup(ctx context.Context, out *SetupPacket) error

	// ReadEP0 reads the data stage of a host-to-device control transfer.
	ReadEP0(ctx context.Context, buf []byte) (int, error)

	// WriteEP0 writes the data stage of a device-to-host control transfer.
	WriteEP0(ctx context.Context, data []byte) error

	// AckEP0 sends a zero-length status stage.
	AckEP0() error

	// StallEP0 stalls the control endpoint.
	StallEP0() error

	// ReadEvent blocks until non-control endpoint activity occurs or the
	// context is cancelled.
	ReadEvent(ctx context.Context, out *Event) error

	// Write queues data on an IN endpoint.
	Write(ctx context.Context, address uint8, data []byte) (int, error)
}
