package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbemu/device/hal"
	"github.com/ardnew/usbemu/pkg"
)

// Device represents an emulated USB device.
//
// All request and traffic handling on a Device is serialized: one handler
// runs to completion before the next begins. Devices are independent of one
// another and may be driven concurrently.
type Device struct {
	// Device descriptor
	Descriptor DeviceDescriptor

	Manufacturer StringRef
	Product      StringRef
	SerialNumber StringRef

	configurations []*Configuration
	activeConfig   *Configuration

	strings     *StringTable
	requestable descriptorRegistry
	backend     hal.Backend

	// Device state
	state   State
	address uint8
	speed   Speed

	// Remote wakeup enabled
	remoteWakeupEnabled bool

	// mutex guards the fields above for accessors called outside a handler.
	mutex sync.RWMutex

	// dispatch serializes handler frames.
	dispatch sync.Mutex

	// Event callbacks
	onStateChange       func(old, new State)
	onSetAddress        func(address uint8)
	onSetConfiguration  func(config *Configuration)
	onUnexpectedData    func(number uint8, data []byte)
	onUnexpectedRequest func(number uint8)
}

// NewDevice creates a new USB device.
func NewDevice(desc DeviceDescriptor) *Device {
	return &Device{
		Descriptor:  desc,
		state:       StateAttached,
		speed:       SpeedFull,
		strings:     NewStringTable(),
		requestable: make(descriptorRegistry),
	}
}

// Strings returns the device string table.
func (d *Device) Strings() *StringTable {
	return d.strings
}

// SetBackend sets the transport used to clear endpoint halts.
func (d *Device) SetBackend(b hal.Backend) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.backend = b
}

// Backend returns the transport, or nil.
func (d *Device) Backend() hal.Backend {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.backend
}

// AddConfiguration adds a configuration to the device.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	for _, c := range d.configurations {
		if c.Value == config.Value {
			return fmt.Errorf("%w: %d", pkg.ErrDuplicateConfiguration, config.Value)
		}
	}

	d.configurations = append(d.configurations, config)
	d.Descriptor.NumConfigurations = uint8(len(d.configurations))
	config.device = d

	pkg.LogDebug(pkg.ComponentDevice, "configuration added",
		"value", config.Value)

	return nil
}

// GetConfiguration returns the configuration with the given value.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	for _, c := range d.configurations {
		if c.Value == value {
			return c
		}
	}
	return nil
}

// Configurations returns the configurations in the order added.
func (d *Device) Configurations() []*Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configurations
}

// ActiveConfiguration returns the currently active configuration.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// AddDescriptor registers a device-level descriptor for GET_DESCRIPTOR.
func (d *Device) AddDescriptor(desc *Descriptor) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if err := d.requestable.add(desc); err != nil {
		return err
	}
	desc.owner = d
	return nil
}

// RequestableDescriptor returns the device-level descriptor with the given
// type and number, or nil.
func (d *Device) RequestableDescriptor(descType, number uint8) *Descriptor {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.requestable[DescriptorID{Type: descType, Number: number}]
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// setState changes the device state and triggers callback.
func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", oldState.String(),
			"to", newState.String())
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Speed returns the device speed.
func (d *Device) Speed() Speed {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.speed
}

// SetSpeed sets the device speed.
func (d *Device) SetSpeed(speed Speed) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.speed = speed
}

// IsConfigured returns true if the device is configured.
func (d *Device) IsConfigured() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state == StateConfigured
}

// Reset handles a bus reset.
func (d *Device) Reset() {
	d.mutex.Lock()
	d.address = 0
	d.activeConfig = nil
	d.remoteWakeupEnabled = false
	d.mutex.Unlock()

	d.setState(StateDefault)

	pkg.LogDebug(pkg.ComponentDevice, "device reset")
}

// SetAddress handles SET_ADDRESS request.
func (d *Device) SetAddress(address uint8) error {
	d.mutex.Lock()
	if d.state != StateDefault && d.state != StateAddress {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}
	d.address = address
	callback := d.onSetAddress
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}

	if callback != nil {
		callback(address)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device address set",
		"address", address)

	return nil
}

// SetConfiguration handles SET_CONFIGURATION request. Selecting a
// configuration makes alternate setting 0 of each of its interfaces active.
func (d *Device) SetConfiguration(value uint8) error {
	d.mutex.Lock()
	if d.state != StateAddress && d.state != StateConfigured {
		d.mutex.Unlock()
		return pkg.ErrInvalidState
	}

	if value == 0 {
		d.activeConfig = nil
		callback := d.onSetConfiguration
		d.mutex.Unlock()
		d.setState(StateAddress)
		if callback != nil {
			callback(nil)
		}
		return nil
	}

	var config *Configuration
	for _, c := range d.configurations {
		if c.Value == value {
			config = c
			break
		}
	}
	if config == nil {
		d.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}

	config.ResetAlternates()
	d.activeConfig = config
	callback := d.onSetConfiguration
	d.mutex.Unlock()

	d.setState(StateConfigured)

	if callback != nil {
		callback(config)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device configured",
		"configuration", value)

	return nil
}

// EnableRemoteWakeup enables remote wakeup capability.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// IsRemoteWakeupEnabled returns true if remote wakeup is enabled.
func (d *Device) IsRemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeupEnabled
}

// targetInterface resolves the interface that handles a request addressed to
// interface number. The active alternate is preferred; without one, any
// alternate with that number may answer, since SET_INTERFACE and
// GET_INTERFACE consult the configuration rather than the receiver.
func (d *Device) targetInterface(number uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	if iface := config.ActiveInterface(number); iface != nil {
		return iface
	}
	for _, iface := range config.Interfaces() {
		if iface.Matches(number) {
			return iface
		}
	}
	return nil
}

// FindEndpoint returns the endpoint with the given address among the active
// alternate settings.
func (d *Device) FindEndpoint(address uint8) *Endpoint {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.ActiveInterfaces() {
		if ep := iface.EndpointByAddress(address); ep != nil {
			return ep
		}
	}
	return nil
}

// HandleSetup handles one control request. Requests no handler answers are
// stalled.
func (d *Device) HandleSetup(req *ControlRequest) {
	d.dispatch.Lock()
	defer d.dispatch.Unlock()

	pkg.LogDebug(pkg.ComponentRequest, "setup received",
		"request", req.String())

	d.route(req)

	if !req.Responded() {
		pkg.LogDebug(pkg.ComponentRequest, "request not handled",
			"request", req.String())
		req.Stall()
	}
}

func (d *Device) route(req *ControlRequest) {
	if req.Recipient() == RequestRecipientInterface {
		iface := d.targetInterface(req.IndexLow())
		if iface == nil {
			return
		}
		iface.HandleSetup(req)
		return
	}
	if !req.IsStandard() {
		return
	}
	if handle, ok := lookupRoute(deviceRoutes, &req.SetupPacket); ok {
		handle(d, req)
	}
}

// HandleGenericGetDescriptor answers GET_DESCRIPTOR from container's
// requestable descriptors: wValue high byte selects the type and the low
// byte the number. Missing descriptors are stalled.
func (d *Device) HandleGenericGetDescriptor(container DescriptorContainer, req *ControlRequest) {
	desc := container.RequestableDescriptor(req.DescriptorType(), req.DescriptorIndex())
	if desc == nil {
		pkg.LogDebug(pkg.ComponentRequest, "descriptor not found",
			"descriptor", DescriptorID{Type: req.DescriptorType(), Number: req.DescriptorIndex()}.String())
		req.Stall()
		return
	}
	req.Reply(desc.Bytes())
}

// DescriptorContainer owns descriptors retrievable with GET_DESCRIPTOR.
type DescriptorContainer interface {
	RequestableDescriptor(descType, number uint8) *Descriptor
}

// HandleDataReceived routes data received on a non-control endpoint to the
// active alternate setting that owns it.
func (d *Device) HandleDataReceived(address uint8, data []byte) {
	d.dispatch.Lock()
	defer d.dispatch.Unlock()

	number, direction := address&0x0F, address&EndpointDirectionIn
	if iface := d.ownerOf(number, direction); iface != nil {
		iface.HandleDataReceived(number, direction, data)
		return
	}
	d.ReportUnexpectedDataReceived(number, data)
}

// HandleDataRequested routes a host poll of a non-control endpoint.
func (d *Device) HandleDataRequested(address uint8) {
	d.dispatch.Lock()
	defer d.dispatch.Unlock()

	number, direction := address&0x0F, address&EndpointDirectionIn
	if iface := d.ownerOf(number, direction); iface != nil {
		iface.HandleDataRequested(number, direction)
		return
	}
	d.ReportUnexpectedDataRequested(number)
}

// HandleBufferEmpty routes a buffer-empty event. Events for unknown
// endpoints are ignored.
func (d *Device) HandleBufferEmpty(address uint8) {
	d.dispatch.Lock()
	defer d.dispatch.Unlock()

	number, direction := address&0x0F, address&EndpointDirectionIn
	if iface := d.ownerOf(number, direction); iface != nil {
		iface.HandleBufferEmpty(number, direction)
	}
}

func (d *Device) ownerOf(number, direction uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.ActiveInterfaces() {
		if iface.HasEndpoint(number, direction) {
			return iface
		}
	}
	return nil
}

// ReportUnexpectedDataReceived reports data on an endpoint no active
// interface owns.
func (d *Device) ReportUnexpectedDataReceived(number uint8, data []byte) {
	d.mutex.RLock()
	callback := d.onUnexpectedData
	d.mutex.RUnlock()

	pkg.LogWarn(pkg.ComponentDevice, "unexpected data received",
		"endpoint", number,
		"length", len(data))

	if callback != nil {
		callback(number, data)
	}
}

// ReportUnexpectedDataRequested reports a poll of an endpoint no active
// interface owns.
func (d *Device) ReportUnexpectedDataRequested(number uint8) {
	d.mutex.RLock()
	callback := d.onUnexpectedRequest
	d.mutex.RUnlock()

	pkg.LogWarn(pkg.ComponentDevice, "unexpected data requested",
		"endpoint", number)

	if callback != nil {
		callback(number)
	}
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnSetAddress sets the set address callback.
func (d *Device) SetOnSetAddress(cb func(address uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetAddress = cb
}

// SetOnSetConfiguration sets the set configuration callback. It receives
// nil when the device is unconfigured.
func (d *Device) SetOnSetConfiguration(cb func(config *Configuration)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// SetOnUnexpectedData sets the callback for data on unowned endpoints.
func (d *Device) SetOnUnexpectedData(cb func(number uint8, data []byte)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onUnexpectedData = cb
}

// SetOnUnexpectedRequest sets the callback for polls of unowned endpoints.
func (d *Device) SetOnUnexpectedRequest(cb func(number uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onUnexpectedRequest = cb
}

// DeviceStatus represents the device status bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0 // Device is self-powered
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1 // Remote wakeup enabled
)

// GetStatus returns the device status.
func (d *Device) GetStatus() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}
