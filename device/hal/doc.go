// Package hal defines the transport contract between the usbemu device core
// and whatever moves packets: a USB gadget controller, a USB/IP socket, or a
// test double.
//
// The device core implements all protocol logic. A backend only moves
// packets and reports endpoint activity.
//
// # Interface Overview
//
// [Backend] is the narrow contract the interface core depends on: clearing
// the halt condition (and data toggle) of one endpoint when the host selects
// an alternate setting.
//
// [DeviceHAL] extends it with what the device stack loop needs:
//
//   - Lifecycle: Init, Start, Stop
//   - Control endpoint (EP0): ReadSetup, ReadEP0, WriteEP0, AckEP0, StallEP0
//   - Enumeration follow-up: SetAddress, ConfigureEndpoints
//   - Endpoint activity: ReadEvent, Write
//
// # Events
//
// ReadEvent reports non-control endpoint activity as an [Event]. Each
// physical occurrence is reported once; in particular [EventBufferEmpty]
// fires once per drained buffer, not while the buffer stays empty.
//
// # Example
//
//	type loopback struct{ events chan hal.Event }
//
//	func (l *loopback) ReadEvent(ctx context.Context, out *hal.Event) error {
//	    select {
//	    case <-ctx.Done():
//	        return ctx.Err()
//	    case *out = <-l.events:
//	        return nil
//	    }
//	}
//
//	// ... implement remaining DeviceHAL methods
package hal
