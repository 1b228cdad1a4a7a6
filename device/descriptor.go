package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbemu/pkg"
)

// USB Descriptor Types (USB 2.0 Spec Table 9-5).
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfacePower       = 0x08
	DescriptorTypeOTG                  = 0x09
	DescriptorTypeDebug                = 0x0A
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeDeviceCapability     = 0x10
	DescriptorTypeHID                  = 0x21
	DescriptorTypeHIDReport            = 0x22
	DescriptorTypeHIDPhysical          = 0x23
	DescriptorTypeCSInterface          = 0x24 // Class-specific interface
	DescriptorTypeCSEndpoint           = 0x25 // Class-specific endpoint
)

// USB Class Codes.
const (
	ClassPerInterface = 0x00 // Class defined at interface level
	ClassAudio        = 0x01 // Audio class
	ClassCDC          = 0x02 // Communications Device Class
	ClassHID          = 0x03 // Human Interface Device
	ClassPhysical     = 0x05 // Physical
	ClassImage        = 0x06 // Still Imaging
	ClassPrinter      = 0x07 // Printer
	ClassMassStorage  = 0x08 // Mass Storage
	ClassHub          = 0x09 // Hub
	ClassCDCData      = 0x0A // CDC-Data
	ClassSmartCard    = 0x0B // Smart Card
	ClassVideo        = 0x0E // Video
	ClassMisc         = 0xEF // Miscellaneous
	ClassAppSpecific  = 0xFE // Application Specific
	ClassVendor       = 0xFF // Vendor Specific
)

// DescriptorSource supplies the bytes of a descriptor. It is either a static
// blob or a producer that is invoked each time the descriptor is emitted.
type DescriptorSource struct {
	static []byte
	lazy   func() []byte
}

// StaticDescriptor returns a source that always yields data.
// The slice is stored by reference.
func StaticDescriptor(data []byte) DescriptorSource {
	return DescriptorSource{static: data}
}

// LazyDescriptor returns a source that calls produce at emit time.
func LazyDescriptor(produce func() []byte) DescriptorSource {
	return DescriptorSource{lazy: produce}
}

// IsLazy reports whether the source is resolved by a producer.
func (s DescriptorSource) IsLazy() bool {
	return s.lazy != nil
}

// Bytes resolves the source.
func (s DescriptorSource) Bytes() []byte {
	if s.lazy != nil {
		return s.lazy()
	}
	return s.static
}

// AppendTo appends the resolved source to buf.
func (s DescriptorSource) AppendTo(buf []byte) []byte {
	return append(buf, s.Bytes()...)
}

// DescriptorID identifies a requestable descriptor by the wValue of the
// GET_DESCRIPTOR request that fetches it.
type DescriptorID struct {
	Type   uint8
	Number uint8
}

// String returns the identifier in wValue notation.
func (id DescriptorID) String() string {
	return fmt.Sprintf("0x%02X:%d", id.Type, id.Number)
}

// Descriptor is a class- or vendor-specific descriptor owned by an
// interface or a device.
//
// A descriptor with IncludeInConfig set is emitted inline in the
// configuration descriptor block. Any other descriptor is fetched on its own
// with GET_DESCRIPTOR and must carry a Number.
type Descriptor struct {
	Name            string
	Type            uint8
	Number          *uint8
	IncludeInConfig bool
	Source          DescriptorSource

	owner any
}

// DescriptorNumber returns a pointer to n for use as Descriptor.Number.
func DescriptorNumber(n uint8) *uint8 {
	return &n
}

// ID returns the descriptor's request identifier. Unnumbered descriptors
// report number zero.
func (d *Descriptor) ID() DescriptorID {
	id := DescriptorID{Type: d.Type}
	if d.Number != nil {
		id.Number = *d.Number
	}
	return id
}

// Bytes resolves the descriptor's source.
func (d *Descriptor) Bytes() []byte {
	return d.Source.Bytes()
}

// Owner returns the interface or device the descriptor was attached to.
func (d *Descriptor) Owner() any {
	return d.owner
}

// String returns the descriptor name, or a name derived from its type.
func (d *Descriptor) String() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("descriptor 0x%02X", d.Type)
}

// DuplicateDescriptorError reports a requestable descriptor whose identifier
// is already taken.
type DuplicateDescriptorError struct {
	ID       DescriptorID
	Added    string
	Existing string
}

func (e *DuplicateDescriptorError) Error() string {
	return fmt.Sprintf("%s cannot be added: %s already uses type 0x%02X number %d",
		e.Added, e.Existing, e.ID.Type, e.ID.Number)
}

func (e *DuplicateDescriptorError) Unwrap() error {
	return pkg.ErrDuplicateDescriptor
}

// descriptorRegistry is the requestable half of a descriptor registry,
// shared by interfaces and devices.
type descriptorRegistry map[DescriptorID]*Descriptor

// add validates and inserts d. It does not touch the registry on failure.
func (r descriptorRegistry) add(d *Descriptor) error {
	if d.Number == nil {
		return fmt.Errorf("%w: %s is excluded from the configuration block and has no number",
			pkg.ErrMissingDescriptorNumber, d)
	}
	id := d.ID()
	if other, ok := r[id]; ok {
		return &DuplicateDescriptorError{ID: id, Added: d.String(), Existing: other.String()}
	}
	r[id] = d
	return nil
}

// DeviceDescriptor represents a USB device descriptor (18 bytes).
type DeviceDescriptor struct {
	Length            uint8  // Size of this descriptor (18)
	DescriptorType    uint8  // Device descriptor type (0x01)
	USBVersion        uint16 // USB specification version (BCD)
	DeviceClass       uint8  // Class code
	DeviceSubClass    uint8  // Subclass code
	DeviceProtocol    uint8  // Protocol code
	MaxPacketSize0    uint8  // Max packet size for EP0
	VendorID          uint16 // Vendor ID
	ProductID         uint16 // Product ID
	DeviceVersion     uint16 // Device release number (BCD)
	ManufacturerIndex uint8  // Index of manufacturer string
	ProductIndex      uint8  // Index of product string
	SerialNumberIndex uint8  // Index of serial number string
	NumConfigurations uint8  // Number of configurations
}

// DeviceDescriptorSize is the size of a device descriptor in bytes.
const DeviceDescriptorSize = 18

// MarshalTo serializes the device descriptor to buf.
// Returns the number of bytes written (always 18 if buf is large enough).
func (d *DeviceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < DeviceDescriptorSize {
		return 0
	}
	buf[0] = DeviceDescriptorSize
	buf[1] = DescriptorTypeDevice
	binary.LittleEndian.PutUint16(buf[2:4], d.USBVersion)
	buf[4] = d.DeviceClass
	buf[5] = d.DeviceSubClass
	buf[6] = d.DeviceProtocol
	buf[7] = d.MaxPacketSize0
	binary.LittleEndian.PutUint16(buf[8:10], d.VendorID)
	binary.LittleEndian.PutUint16(buf[10:12], d.ProductID)
	binary.LittleEndian.PutUint16(buf[12:14], d.DeviceVersion)
	buf[14] = d.ManufacturerIndex
	buf[15] = d.ProductIndex
	buf[16] = d.SerialNumberIndex
	buf[17] = d.NumConfigurations
	return DeviceDescriptorSize
}

// ConfigurationDescriptor represents a USB configuration descriptor (9 bytes).
type ConfigurationDescriptor struct {
	Length             uint8  // Size of this descriptor (9)
	DescriptorType     uint8  // Configuration descriptor type (0x02)
	TotalLength        uint16 // Total length of configuration data
	NumInterfaces      uint8  // Number of interfaces
	ConfigurationValue uint8  // Configuration value for SET_CONFIGURATION
	ConfigurationIndex uint8  // Index of string descriptor
	Attributes         uint8  // Configuration attributes
	MaxPower           uint8  // Maximum power consumption (2mA units)
}

// Configuration attribute bits.
const (
	ConfigAttrBusPowered   = 0x80 // Bus-powered (required)
	ConfigAttrSelfPowered  = 0x40 // Self-powered
	ConfigAttrRemoteWakeup = 0x20 // Remote wakeup capable
)

// ConfigurationDescriptorSize is the size of a configuration descriptor in bytes.
const ConfigurationDescriptorSize = 9

// MarshalTo serializes the configuration descriptor to buf.
// Returns the number of bytes written (always 9 if buf is large enough).
func (c *ConfigurationDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < ConfigurationDescriptorSize {
		return 0
	}
	buf[0] = ConfigurationDescriptorSize
	buf[1] = DescriptorTypeConfiguration
	binary.LittleEndian.PutUint16(buf[2:4], c.TotalLength)
	buf[4] = c.NumInterfaces
	buf[5] = c.ConfigurationValue
	buf[6] = c.ConfigurationIndex
	buf[7] = c.Attributes
	buf[8] = c.MaxPower
	return ConfigurationDescriptorSize
}

// InterfaceDescriptor represents a USB interface descriptor (9 bytes,
// USB 2.0 Spec Table 9-12).
type InterfaceDescriptor struct {
	InterfaceNumber   uint8 // Interface number
	AlternateSetting  uint8 // Alternate setting number
	NumEndpoints      uint8 // Number of endpoints (excluding EP0)
	InterfaceClass    uint8 // Class code
	InterfaceSubClass uint8 // Subclass code
	InterfaceProtocol uint8 // Protocol code
	InterfaceIndex    uint8 // Index of string descriptor
}

// InterfaceDescriptorSize is the size of an interface descriptor in bytes.
const InterfaceDescriptorSize = 9

// MarshalTo serializes the interface descriptor to buf.
// Returns the number of bytes written (always 9 if buf is large enough).
func (i *InterfaceDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < InterfaceDescriptorSize {
		return 0
	}
	buf[0] = InterfaceDescriptorSize
	buf[1] = DescriptorTypeInterface
	buf[2] = i.InterfaceNumber
	buf[3] = i.AlternateSetting
	buf[4] = i.NumEndpoints
	buf[5] = i.InterfaceClass
	buf[6] = i.InterfaceSubClass
	buf[7] = i.InterfaceProtocol
	buf[8] = i.InterfaceIndex
	return InterfaceDescriptorSize
}

// ParseInterfaceDescriptor parses an interface descriptor from bytes into out.
// The length and type bytes are redundant for a 9-byte blob and are not
// checked; only the blob size is.
func ParseInterfaceDescriptor(data []byte, out *InterfaceDescriptor) error {
	if len(data) < InterfaceDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	out.InterfaceNumber = data[2]
	out.AlternateSetting = data[3]
	out.NumEndpoints = data[4]
	out.InterfaceClass = data[5]
	out.InterfaceSubClass = data[6]
	out.InterfaceProtocol = data[7]
	out.InterfaceIndex = data[8]
	return nil
}

// EndpointDescriptor represents a USB endpoint descriptor (7 bytes).
type EndpointDescriptor struct {
	EndpointAddress uint8  // Endpoint address (including direction)
	Attributes      uint8  // Endpoint attributes (transfer type, etc.)
	MaxPacketSize   uint16 // Maximum packet size
	Interval        uint8  // Polling interval (for interrupt/isochronous)
}

// EndpointDescriptorSize is the size of an endpoint descriptor in bytes.
const EndpointDescriptorSize = 7

// MarshalTo serializes the endpoint descriptor to buf.
// Returns the number of bytes written (always 7 if buf is large enough).
func (e *EndpointDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < EndpointDescriptorSize {
		return 0
	}
	buf[0] = EndpointDescriptorSize
	buf[1] = DescriptorTypeEndpoint
	buf[2] = e.EndpointAddress
	buf[3] = e.Attributes
	binary.LittleEndian.PutUint16(buf[4:6], e.MaxPacketSize)
	buf[6] = e.Interval
	return EndpointDescriptorSize
}

// ParseEndpointDescriptor parses an endpoint descriptor from bytes into out.
// Returns an error if the data is too short or the descriptor type is wrong.
func ParseEndpointDescriptor(data []byte, out *EndpointDescriptor) error {
	if len(data) < EndpointDescriptorSize {
		return pkg.ErrDescriptorTooShort
	}
	if data[1] != DescriptorTypeEndpoint {
		return pkg.ErrDescriptorTypeMismatch
	}
	out.EndpointAddress = data[2]
	out.Attributes = data[3]
	out.MaxPacketSize = binary.LittleEndian.Uint16(data[4:6])
	out.Interval = data[6]
	return nil
}
