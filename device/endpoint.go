package device

import (
	"fmt"

	"github.com/ardnew/usbemu/pkg"
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// EndpointAddress combines an endpoint number and direction into the
// address byte used on the wire.
func EndpointAddress(number, direction uint8) uint8 {
	return number&0x0F | direction&EndpointDirectionIn
}

// Endpoint represents a non-control USB endpoint owned by an interface.
type Endpoint struct {
	// Descriptor data
	Address       uint8  // Endpoint address including direction
	Attributes    uint8  // Transfer type and sync/usage for isochronous
	MaxPacketSize uint16 // Maximum packet size
	Interval      uint8  // Polling interval (interrupt/isochronous)

	// Name labels the endpoint in logs and definition errors.
	Name string

	// Descriptors are emitted right after the endpoint descriptor, in order.
	Descriptors []DescriptorSource

	// Event callbacks. A nil callback drops the event.
	OnDataReceived  func(ep *Endpoint, data []byte)
	OnDataRequested func(ep *Endpoint)
	OnBufferEmpty   func(ep *Endpoint)

	// Runtime state
	stalled    bool
	dataToggle bool

	iface *Interface
}

// NewEndpoint creates a new endpoint from a descriptor.
func NewEndpoint(desc *EndpointDescriptor) *Endpoint {
	return &Endpoint{
		Address:       desc.EndpointAddress,
		Attributes:    desc.Attributes,
		MaxPacketSize: desc.MaxPacketSize,
		Interval:      desc.Interval,
	}
}

// Number returns the endpoint number (0-15).
func (e *Endpoint) Number() uint8 {
	return e.Address & 0x0F
}

// Direction returns the endpoint direction (EndpointDirectionIn or EndpointDirectionOut).
func (e *Endpoint) Direction() uint8 {
	return e.Address & 0x80
}

// IsIn returns true if this is an IN endpoint (device to host).
func (e *Endpoint) IsIn() bool {
	return e.Direction() == EndpointDirectionIn
}

// TransferType returns the transfer type (Control, Isochronous, Bulk, or Interrupt).
func (e *Endpoint) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsInterrupt returns true if this is an interrupt endpoint.
func (e *Endpoint) IsInterrupt() bool {
	return e.TransferType() == EndpointTypeInterrupt
}

// IsIsochronous returns true if this is an isochronous endpoint.
func (e *Endpoint) IsIsochronous() bool {
	return e.TransferType() == EndpointTypeIsochronous
}

// Interface returns the interface the endpoint was added to, or nil.
func (e *Endpoint) Interface() *Interface {
	return e.iface
}

// String names the endpoint for logs and errors.
func (e *Endpoint) String() string {
	if e.Name != "" {
		return e.Name
	}
	return fmt.Sprintf("%s %s endpoint 0x%02X",
		TransferTypeName(e.TransferType()), DirectionName(e.Direction()), e.Address)
}

// SetStall sets or clears the halt condition.
func (e *Endpoint) SetStall(stalled bool) {
	e.stalled = stalled
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt changed",
		"address", fmt.Sprintf("0x%02X", e.Address),
		"halted", stalled)
}

// IsStalled returns true if the endpoint is halted.
func (e *Endpoint) IsStalled() bool {
	return e.stalled
}

// DataToggle returns the current data toggle state.
func (e *Endpoint) DataToggle() bool {
	return e.dataToggle
}

// ToggleData flips the data toggle state.
func (e *Endpoint) ToggleData() {
	e.dataToggle = !e.dataToggle
}

// ResetDataToggle resets the data toggle to DATA0.
func (e *Endpoint) ResetDataToggle() {
	e.dataToggle = false
}

// Descriptor returns the endpoint descriptor.
func (e *Endpoint) Descriptor() EndpointDescriptor {
	return EndpointDescriptor{
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSize,
		Interval:        e.Interval,
	}
}

// AppendTo appends the endpoint descriptor and the endpoint's own
// descriptors to buf.
func (e *Endpoint) AppendTo(buf []byte) []byte {
	var raw [EndpointDescriptorSize]byte
	desc := e.Descriptor()
	desc.MarshalTo(raw[:])
	buf = append(buf, raw[:]...)
	for _, src := range e.Descriptors {
		buf = src.AppendTo(buf)
	}
	return buf
}

// HandleDataReceived delivers data the host sent to this endpoint.
func (e *Endpoint) HandleDataReceived(data []byte) {
	if e.OnDataReceived == nil {
		pkg.LogDebug(pkg.ComponentEndpoint, "data received without handler",
			"address", fmt.Sprintf("0x%02X", e.Address),
			"length", len(data))
		return
	}
	e.OnDataReceived(e, data)
}

// HandleDataRequested signals that the host is polling this endpoint.
func (e *Endpoint) HandleDataRequested() {
	if e.OnDataRequested == nil {
		pkg.LogDebug(pkg.ComponentEndpoint, "data requested without handler",
			"address", fmt.Sprintf("0x%02X", e.Address))
		return
	}
	e.OnDataRequested(e)
}

// HandleBufferEmpty signals that the endpoint's buffer drained. It fires
// once per emptied buffer.
func (e *Endpoint) HandleBufferEmpty() {
	if e.OnBufferEmpty != nil {
		e.OnBufferEmpty(e)
	}
}

// TransferTypeName returns a human-readable transfer type name.
func TransferTypeName(t uint8) string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}

// DirectionName returns a human-readable direction name.
func DirectionName(dir uint8) string {
	if dir&EndpointDirectionIn != 0 {
		return "IN"
	}
	return "OUT"
}

// DuplicateEndpointError reports an endpoint whose address is already taken
// within an interface.
type DuplicateEndpointError struct {
	Address  uint8
	Added    string
	Existing string
}

func (e *DuplicateEndpointError) Error() string {
	return fmt.Sprintf("%s cannot be added: %s already uses address 0x%02X",
		e.Added, e.Existing, e.Address)
}

func (e *DuplicateEndpointError) Unwrap() error {
	return pkg.ErrDuplicateEndpointAddress
}
