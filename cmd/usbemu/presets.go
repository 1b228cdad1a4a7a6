package main

import (
	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/device/class/hid"
)

// presets are the built-in devices selectable with --preset.
var presets = map[string]func() (*device.Device, error){
	"keyboard": func() (*device.Device, error) {
		return hidPreset(0x0001, "Keyboard", hid.KeyboardReportDescriptor, hid.ProtocolKeyboard)
	},
	"mouse": func() (*device.Device, error) {
		return hidPreset(0x0002, "Mouse", hid.MouseReportDescriptor, hid.ProtocolMouse)
	},
}

func hidPreset(productID uint16, product string, report []byte, protocol uint8) (*device.Device, error) {
	builder := device.NewDeviceBuilder().
		WithVendorProduct(0x1209, productID).
		WithStrings("usbemu", product, "0001").
		AddConfiguration(1)

	h := hid.New(report)
	h.ConfigureDevice(builder, 0, 0x81, hid.SubclassBoot, protocol)
	builder.WithInterfaceString(product)

	return builder.Build()
}
