package hid

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/pkg"
)

// MaxReportSize is the maximum HID report size.
const MaxReportSize = 64

// DefaultInterval is the polling interval, in frames, of the interrupt
// endpoints added by ConfigureDevice.
const DefaultInterval = 10

// HID describes a HID interface: its class descriptor, its report
// descriptor, and the interrupt endpoints that carry reports.
type HID struct {
	iface *device.Interface

	inEP  *device.Endpoint // Interrupt IN for input reports
	outEP *device.Endpoint // Interrupt OUT for output reports (optional)

	stack *device.Stack

	reportDescriptor []byte
	hidDescriptor    HIDDescriptor

	onOutputReport func(data []byte)
	onPoll         func()

	reportBuf [MaxReportSize]byte
	mutex     sync.RWMutex
}

// New creates a HID helper for the given report descriptor. The report
// descriptor is stored by reference.
func New(reportDescriptor []byte) *HID {
	return &HID{
		reportDescriptor: reportDescriptor,
		hidDescriptor: HIDDescriptor{
			HIDVersion:  0x0111,
			CountryCode: CountryNone,
		},
	}
}

// ReportDescriptor returns the report descriptor.
func (h *HID) ReportDescriptor() []byte {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.reportDescriptor
}

// SetReportDescriptor replaces the report descriptor. The class descriptor
// reports the new length the next time it is encoded.
func (h *HID) SetReportDescriptor(desc []byte) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.reportDescriptor = desc
}

// ClassDescriptor returns the HID class descriptor, encoded inline after the
// interface descriptor. It is produced at encode time so that it always
// carries the current report descriptor length.
func (h *HID) ClassDescriptor() *device.Descriptor {
	return &device.Descriptor{
		Name:            "HID",
		Type:            DescriptorTypeHID,
		IncludeInConfig: true,
		Source: device.LazyDescriptor(func() []byte {
			h.mutex.RLock()
			desc := h.hidDescriptor
			desc.ReportDescLen = uint16(len(h.reportDescriptor))
			h.mutex.RUnlock()

			buf := make([]byte, HIDDescriptorSize)
			desc.MarshalTo(buf)
			return buf
		}),
	}
}

// ReportDescriptorEntry returns the report descriptor as fetched by
// GET_DESCRIPTOR with type 0x22 and index 0.
func (h *HID) ReportDescriptorEntry() *device.Descriptor {
	return &device.Descriptor{
		Name:   "HID report",
		Type:   DescriptorTypeReport,
		Number: device.DescriptorNumber(0),
		Source: device.LazyDescriptor(h.ReportDescriptor),
	}
}

// ConfigureDevice adds a HID interface with an interrupt IN endpoint to the
// builder's current configuration and attaches h to it.
func (h *HID) ConfigureDevice(builder *device.DeviceBuilder, number, inEPAddr, subclass, protocol uint8) *device.DeviceBuilder {
	builder.AddInterface(number, 0, ClassHID, subclass, protocol).
		AddDescriptor(h.ClassDescriptor()).
		AddDescriptor(h.ReportDescriptorEntry()).
		AddEndpoint(inEPAddr|device.EndpointDirectionIn, device.EndpointTypeInterrupt, 8).
		WithInterval(DefaultInterval)
	return h.attachTo(builder)
}

// ConfigureDeviceWithOutEP adds a HID interface with an interrupt OUT
// endpoint for output reports as well.
func (h *HID) ConfigureDeviceWithOutEP(builder *device.DeviceBuilder, number, inEPAddr, outEPAddr, subclass, protocol uint8) *device.DeviceBuilder {
	builder.AddInterface(number, 0, ClassHID, subclass, protocol).
		AddDescriptor(h.ClassDescriptor()).
		AddDescriptor(h.ReportDescriptorEntry()).
		AddEndpoint(inEPAddr|device.EndpointDirectionIn, device.EndpointTypeInterrupt, 8).
		WithInterval(DefaultInterval).
		AddEndpoint(outEPAddr&0x0F, device.EndpointTypeInterrupt, 8).
		WithInterval(DefaultInterval)
	return h.attachTo(builder)
}

// attachTo attaches h to the builder's current interface and records any
// failure on the builder.
func (h *HID) attachTo(builder *device.DeviceBuilder) *device.DeviceBuilder {
	iface := builder.Interface()
	if iface == nil {
		return builder
	}
	if err := h.Attach(iface); err != nil {
		return builder.Fail(fmt.Errorf("attach HID to interface %s: %w", iface.Identifier(), err))
	}
	return builder
}

// Attach binds h to iface and hooks the interrupt endpoints' callbacks.
// iface must carry an interrupt IN endpoint; otherwise h is left unchanged.
func (h *HID) Attach(iface *device.Interface) error {
	var inEP, outEP *device.Endpoint
	for _, ep := range iface.Endpoints() {
		if !ep.IsInterrupt() {
			continue
		}
		if ep.IsIn() {
			inEP = ep
		} else {
			outEP = ep
		}
	}
	if inEP == nil {
		return pkg.ErrInvalidEndpoint
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	h.iface, h.inEP, h.outEP = iface, inEP, outEP
	inEP.OnDataRequested = h.handlePoll
	if outEP != nil {
		outEP.OnDataReceived = h.handleOutputReport
	}

	pkg.LogDebug(pkg.ComponentInterface, "HID attached",
		"interface", iface.Identifier().String(),
		"inEP", inEP.Address,
		"reportDescLen", len(h.reportDescriptor))

	return nil
}

// Interface returns the attached interface, or nil.
func (h *HID) Interface() *device.Interface {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.iface
}

// SetStack sets the device stack used to send input reports.
func (h *HID) SetStack(stack *device.Stack) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.stack = stack
}

// SetOnOutputReport sets the callback for output reports from the host.
func (h *HID) SetOnOutputReport(cb func(data []byte)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onOutputReport = cb
}

// SetOnPoll sets the callback run when the host polls the IN endpoint.
func (h *HID) SetOnPoll(cb func()) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onPoll = cb
}

func (h *HID) handleOutputReport(ep *device.Endpoint, data []byte) {
	h.mutex.RLock()
	cb := h.onOutputReport
	h.mutex.RUnlock()

	pkg.LogDebug(pkg.ComponentInterface, "HID output report",
		"endpoint", ep.String(),
		"len", len(data))

	if cb != nil {
		cb(data)
	}
}

func (h *HID) handlePoll(ep *device.Endpoint) {
	h.mutex.RLock()
	cb := h.onPoll
	h.mutex.RUnlock()
	if cb != nil {
		cb()
	}
}

// SendReport sends an input report to the host.
func (h *HID) SendReport(ctx context.Context, data []byte) error {
	h.mutex.RLock()
	stack := h.stack
	ep := h.inEP
	h.mutex.RUnlock()

	if stack == nil || ep == nil {
		return pkg.ErrNotConfigured
	}

	_, err := stack.Write(ctx, ep, data)
	return err
}

// SendKeyboardReport sends a keyboard report to the host.
func (h *HID) SendKeyboardReport(ctx context.Context, report *KeyboardReport) error {
	var buf [KeyboardReportSize]byte
	report.MarshalTo(buf[:])
	return h.SendReport(ctx, buf[:])
}

// SendMouseReport sends a mouse report to the host.
func (h *HID) SendMouseReport(ctx context.Context, report *MouseReport) error {
	var buf [MouseReportSize]byte
	report.MarshalTo(buf[:])
	return h.SendReport(ctx, buf[:])
}
