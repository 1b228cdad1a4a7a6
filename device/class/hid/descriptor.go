package hid

import (
	"encoding/binary"

	"github.com/ardnew/usbemu/device"
)

// HID class codes.
const (
	ClassHID = device.ClassHID
)

// HID subclass codes.
const (
	SubclassNone = 0x00 // No subclass
	SubclassBoot = 0x01 // Boot Interface Subclass
)

// HID protocol codes (for boot interface).
const (
	ProtocolNone     = 0x00
	ProtocolKeyboard = 0x01
	ProtocolMouse    = 0x02
)

// HID descriptor types.
const (
	DescriptorTypeHID      = device.DescriptorTypeHID
	DescriptorTypeReport   = device.DescriptorTypeHIDReport
	DescriptorTypePhysical = device.DescriptorTypeHIDPhysical
)

// CountryNone marks a device that is not localized.
const CountryNone = 0x00

// HIDDescriptor is the HID class descriptor emitted after the interface
// descriptor.
type HIDDescriptor struct {
	HIDVersion    uint16 // bcdHID, 0x0111 for 1.11
	CountryCode   uint8
	ReportDescLen uint16
}

// HIDDescriptorSize is the size of the HID descriptor.
const HIDDescriptorSize = 9

// MarshalTo writes the HID descriptor to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (d *HIDDescriptor) MarshalTo(buf []byte) int {
	if len(buf) < HIDDescriptorSize {
		return 0
	}
	buf[0] = HIDDescriptorSize
	buf[1] = DescriptorTypeHID
	binary.LittleEndian.PutUint16(buf[2:4], d.HIDVersion)
	buf[4] = d.CountryCode
	buf[5] = 1 // bNumDescriptors
	buf[6] = DescriptorTypeReport
	binary.LittleEndian.PutUint16(buf[7:9], d.ReportDescLen)
	return HIDDescriptorSize
}

// KeyboardReportDescriptor describes the 8-byte boot keyboard report:
// [modifiers, reserved, key1..key6], with a 5-bit LED output report.
var KeyboardReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x06, // Usage (Keyboard)
	0xA1, 0x01, // Collection (Application)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0xE0, //   Usage Minimum (Left Control)
	0x29, 0xE7, //   Usage Maximum (Right GUI)
	0x15, 0x00, //   Logical Minimum (0)
	0x25, 0x01, //   Logical Maximum (1)
	0x75, 0x01, //   Report Size (1)
	0x95, 0x08, //   Report Count (8)
	0x81, 0x02, //   Input (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x08, //   Report Size (8)
	0x81, 0x01, //   Input (Constant)
	0x95, 0x05, //   Report Count (5)
	0x75, 0x01, //   Report Size (1)
	0x05, 0x08, //   Usage Page (LEDs)
	0x19, 0x01, //   Usage Minimum (Num Lock)
	0x29, 0x05, //   Usage Maximum (Kana)
	0x91, 0x02, //   Output (Data, Variable, Absolute)
	0x95, 0x01, //   Report Count (1)
	0x75, 0x03, //   Report Size (3)
	0x91, 0x01, //   Output (Constant)
	0x95, 0x06, //   Report Count (6)
	0x75, 0x08, //   Report Size (8)
	0x15, 0x00, //   Logical Minimum (0)
	0x26, 0xFF, 0x00, // Logical Maximum (255)
	0x05, 0x07, //   Usage Page (Keyboard/Keypad)
	0x19, 0x00, //   Usage Minimum (0)
	0x2A, 0xFF, 0x00, // Usage Maximum (255)
	0x81, 0x00, //   Input (Data, Array)
	0xC0, // End Collection
}

// MouseReportDescriptor describes the 4-byte boot mouse report:
// [buttons, X, Y, wheel].
var MouseReportDescriptor = []byte{
	0x05, 0x01, // Usage Page (Generic Desktop)
	0x09, 0x02, // Usage (Mouse)
	0xA1, 0x01, // Collection (Application)
	0x09, 0x01, //   Usage (Pointer)
	0xA1, 0x00, //   Collection (Physical)
	0x05, 0x09, //     Usage Page (Button)
	0x19, 0x01, //     Usage Minimum (Button 1)
	0x29, 0x03, //     Usage Maximum (Button 3)
	0x15, 0x00, //     Logical Minimum (0)
	0x25, 0x01, //     Logical Maximum (1)
	0x95, 0x03, //     Report Count (3)
	0x75, 0x01, //     Report Size (1)
	0x81, 0x02, //     Input (Data, Variable, Absolute)
	0x95, 0x01, //     Report Count (1)
	0x75, 0x05, //     Report Size (5)
	0x81, 0x01, //     Input (Constant)
	0x05, 0x01, //     Usage Page (Generic Desktop)
	0x09, 0x30, //     Usage (X)
	0x09, 0x31, //     Usage (Y)
	0x09, 0x38, //     Usage (Wheel)
	0x15, 0x81, //     Logical Minimum (-127)
	0x25, 0x7F, //     Logical Maximum (127)
	0x75, 0x08, //     Report Size (8)
	0x95, 0x03, //     Report Count (3)
	0x81, 0x06, //     Input (Data, Variable, Relative)
	0xC0, //   End Collection
	0xC0, // End Collection
}
