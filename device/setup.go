package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbemu/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Feature selectors (USB 2.0 Spec Table 9-6).
const (
	FeatureEndpointHalt       = 0x00 // Endpoint halt feature
	FeatureDeviceRemoteWakeup = 0x01 // Device remote wakeup
	FeatureTestMode           = 0x02 // Test mode
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00 // Host to device
	RequestDirectionDeviceToHost = 0x80 // Device to host
)

// Request type values.
const (
	RequestTypeStandard = 0x00 // Standard request
	RequestTypeClass    = 0x20 // Class-specific request
	RequestTypeVendor   = 0x40 // Vendor-specific request
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00 // Device recipient
	RequestRecipientInterface = 0x01 // Interface recipient
	RequestRecipientEndpoint  = 0x02 // Endpoint recipient
	RequestRecipientOther     = 0x03 // Other recipient
)

// SetupPacket represents an 8-byte USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // bmRequestType: direction, type, recipient
	Request     uint8  // bRequest: specific request code
	Value       uint16 // wValue: request-specific parameter
	Index       uint16 // wIndex: request-specific index
	Length      uint16 // wLength: number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses a setup packet from 8 bytes into out.
// Returns an error if the data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return pkg.ErrSetupPacketTooShort
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = binary.LittleEndian.Uint16(data[2:4])
	out.Index = binary.LittleEndian.Uint16(data[4:6])
	out.Length = binary.LittleEndian.Uint16(data[6:8])
	return nil
}

// MarshalTo serializes the setup packet to buf.
// Returns the number of bytes written (always 8 if buf is large enough).
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	binary.LittleEndian.PutUint16(buf[2:4], s.Value)
	binary.LittleEndian.PutUint16(buf[4:6], s.Index)
	binary.LittleEndian.PutUint16(buf[6:8], s.Length)
	return SetupPacketSize
}

// Direction returns the transfer direction.
func (s *SetupPacket) Direction() uint8 {
	return s.RequestType & RequestTypeDirectionMask
}

// IsDeviceToHost returns true if this is a device-to-host transfer.
func (s *SetupPacket) IsDeviceToHost() bool {
	return s.Direction() == RequestDirectionDeviceToHost
}

// Type returns the request type (Standard, Class, or Vendor).
func (s *SetupPacket) Type() uint8 {
	return s.RequestType & RequestTypeTypeMask
}

// IsStandard returns true if this is a standard request.
func (s *SetupPacket) IsStandard() bool {
	return s.Type() == RequestTypeStandard
}

// Recipient returns the request recipient.
func (s *SetupPacket) Recipient() uint8 {
	return s.RequestType & RequestTypeRecipientMask
}

// ValueLow returns the low byte of wValue.
func (s *SetupPacket) ValueLow() uint8 {
	return uint8(s.Value)
}

// ValueHigh returns the high byte of wValue.
func (s *SetupPacket) ValueHigh() uint8 {
	return uint8(s.Value >> 8)
}

// IndexLow returns the low byte of wIndex. For interface recipients this is
// the interface number; for endpoint recipients, the endpoint address.
func (s *SetupPacket) IndexLow() uint8 {
	return uint8(s.Index)
}

// DescriptorType returns the descriptor type from wValue high byte.
func (s *SetupPacket) DescriptorType() uint8 {
	return s.ValueHigh()
}

// DescriptorIndex returns the descriptor index from wValue low byte.
func (s *SetupPacket) DescriptorIndex() uint8 {
	return s.ValueLow()
}

// String returns a human-readable representation of the setup packet.
func (s *SetupPacket) String() string {
	dir := "OUT"
	if s.IsDeviceToHost() {
		dir = "IN"
	}
	reqType := "Standard"
	switch s.Type() {
	case RequestTypeClass:
		reqType = "Class"
	case RequestTypeVendor:
		reqType = "Vendor"
	}
	recip := "Device"
	switch s.Recipient() {
	case RequestRecipientInterface:
		recip = "Interface"
	case RequestRecipientEndpoint:
		recip = "Endpoint"
	case RequestRecipientOther:
		recip = "Other"
	}
	return fmt.Sprintf("SETUP[%s %s %s] Request=0x%02X Value=0x%04X Index=0x%04X Length=%d",
		dir, reqType, recip, s.Request, s.Value, s.Index, s.Length)
}

// GetDescriptorSetup returns a GET_DESCRIPTOR setup packet for the given
// recipient. index is the interface number for interface recipients.
func GetDescriptorSetup(recipient, descType, descIndex uint8, index, length uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | recipient,
		Request:     RequestGetDescriptor,
		Value:       uint16(descType)<<8 | uint16(descIndex),
		Index:       index,
		Length:      length,
	}
}

// SetAddressSetup returns a SET_ADDRESS setup packet.
func SetAddressSetup(address uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetAddress,
		Value:       uint16(address),
	}
}

// SetConfigurationSetup returns a SET_CONFIGURATION setup packet.
func SetConfigurationSetup(config uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetConfiguration,
		Value:       uint16(config),
	}
}

// GetConfigurationSetup returns a GET_CONFIGURATION setup packet.
func GetConfigurationSetup() SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestGetConfiguration,
		Length:      1,
	}
}

// GetStatusSetup returns a GET_STATUS setup packet.
func GetStatusSetup(recipient uint8, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | recipient,
		Request:     RequestGetStatus,
		Index:       index,
		Length:      2,
	}
}

// SetFeatureSetup returns a SET_FEATURE setup packet.
func SetFeatureSetup(recipient uint8, feature uint16, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     RequestSetFeature,
		Value:       feature,
		Index:       index,
	}
}

// ClearFeatureSetup returns a CLEAR_FEATURE setup packet.
func ClearFeatureSetup(recipient uint8, feature uint16, index uint16) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | recipient,
		Request:     RequestClearFeature,
		Value:       feature,
		Index:       index,
	}
}

// SetInterfaceSetup returns a SET_INTERFACE setup packet.
func SetInterfaceSetup(interfaceNum, alternateSetting uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestSetInterface,
		Value:       uint16(alternateSetting),
		Index:       uint16(interfaceNum),
	}
}

// GetInterfaceSetup returns a GET_INTERFACE setup packet.
func GetInterfaceSetup(interfaceNum uint8) SetupPacket {
	return SetupPacket{
		RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface,
		Request:     RequestGetInterface,
		Index:       uint16(interfaceNum),
		Length:      1,
	}
}
