// Package device implements the device side of an emulated USB 1.1/2.0
// peripheral.
//
// It is transport-agnostic and moves packets through the [hal.DeviceHAL]
// interface defined in the [github.com/ardnew/usbemu/device/hal] package.
// A transport only carries SETUP packets, control data and endpoint
// activity; every protocol decision is made here.
//
// # Architecture
//
//   - [Device] holds the device descriptor, the string table, the
//     configurations and the bus state, and routes control requests.
//   - [Configuration] keeps every alternate setting of every interface and
//     which alternate is active per interface number.
//   - [Interface] is one alternate setting. It owns an endpoint registry and
//     a descriptor registry, encodes its descriptor block and answers
//     GET_DESCRIPTOR, SET_INTERFACE and GET_INTERFACE.
//   - [Endpoint] is a non-control endpoint with its event callbacks.
//   - [Stack] connects a Device to a transport and feeds it one request or
//     event at a time.
//
// # Descriptors
//
// A [Descriptor] attached to an interface is either emitted inline in the
// configuration descriptor block (IncludeInConfig) or registered under its
// (type, number) pair and fetched with GET_DESCRIPTOR. Inline descriptors
// keep attach order. Descriptor bytes come from a [DescriptorSource], which
// is either a fixed slice or a function evaluated at encode time:
//
//	iface.AddDescriptor(&device.Descriptor{
//	    Type:   device.DescriptorTypeHIDReport,
//	    Number: device.DescriptorNumber(0),
//	    Source: device.StaticDescriptor(report),
//	})
//
// Duplicate endpoint addresses, duplicate descriptor identifiers and
// requestable descriptors without a number are definition errors and abort
// construction.
//
// # Request Handling
//
// Interface-recipient requests go to the active alternate for the
// interface number in wIndex. Requests nobody answers, requests made before
// the device is configured, and requests naming an unknown interface or
// alternate are stalled. A [ControlRequest] is answered exactly once.
//
// # Device States
//
// The device follows the USB 2.0 state machine:
//
//	Attached → Powered → Default → Address → Configured
//
// # Example
//
//	dev, err := device.NewDeviceBuilder().
//	    WithVendorProduct(0x1209, 0x0001).
//	    WithStrings("Acme", "Widget", "").
//	    AddConfiguration(1).
//	    AddInterface(0, 0, device.ClassVendor, 0, 0).
//	    AddEndpoint(0x81, device.EndpointTypeBulk, 64).
//	    Build()
//	if err != nil {
//	    return err
//	}
//	stack := device.NewStack(dev, transport)
//	if err := stack.Start(ctx); err != nil {
//	    return err
//	}
//	defer stack.Stop()
package device
