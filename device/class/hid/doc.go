// Package hid describes USB Human Interface Device (HID) interfaces for the
// usbemu device core.
//
// A HID interface consists of:
//
//   - An Interrupt IN endpoint for sending input reports to the host
//   - An optional Interrupt OUT endpoint for receiving output reports
//   - The HID class descriptor, encoded inline after the interface descriptor
//   - The report descriptor, fetched by the host with GET_DESCRIPTOR
//
// Class-specific requests (GET_REPORT, SET_IDLE and so on) are not answered;
// the device stalls them.
//
// # Usage
//
//	keyboard := hid.New(hid.KeyboardReportDescriptor)
//	keyboard.SetOnOutputReport(func(data []byte) {
//	    // LED state from host
//	})
//
//	builder := device.NewDeviceBuilder().
//	    WithVendorProduct(0xCAFE, 0xBABE).
//	    WithStrings("Manufacturer", "HID Keyboard", "12345").
//	    AddConfiguration(1)
//	keyboard.ConfigureDevice(builder, 0, 0x81, hid.SubclassBoot, hid.ProtocolKeyboard)
//
//	dev, _ := builder.Build()
//	stack := device.NewStack(dev, hal)
//	keyboard.SetStack(stack)
//	stack.Start(ctx)
//
//	keyboard.SendKeyboardReport(ctx, &report)
package hid
