package device

import (
	"github.com/ardnew/usbemu/pkg"
)

// DeviceBuilder provides a fluent API for building devices. The first error
// encountered is reported by Build; later calls are still recorded.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	ep     *Endpoint
	errors []error
}

// NewDeviceBuilder creates a new device builder.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

// WithDescriptor sets the device descriptor.
func (b *DeviceBuilder) WithDescriptor(desc DeviceDescriptor) *DeviceBuilder {
	b.device = NewDevice(desc)
	return b
}

// WithVendorProduct sets vendor and product IDs.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	if b.device == nil {
		b.device = NewDevice(DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: 64,
		})
	}
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithStrings sets the manufacturer, product, and serial strings. They take
// indices 1, 2 and 3 when set before any other string is referenced.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrNoDevice)
		return b
	}
	for _, s := range []struct {
		text string
		ref  *StringRef
	}{
		{manufacturer, &b.device.Manufacturer},
		{product, &b.device.Product},
		{serial, &b.device.SerialNumber},
	} {
		if s.text == "" {
			continue
		}
		*s.ref = Str(s.text)
		if _, err := b.device.strings.Add(s.text); err != nil {
			b.errors = append(b.errors, err)
		}
	}
	return b
}

// WithSpeed sets the device speed.
func (b *DeviceBuilder) WithSpeed(speed Speed) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrNoDevice)
		return b
	}
	b.device.SetSpeed(speed)
	return b
}

// AddConfiguration adds a new configuration.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrNoDevice)
		return b
	}
	b.config = NewConfiguration(value)
	b.iface, b.ep = nil, nil
	if err := b.device.AddConfiguration(b.config); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// WithConfigurationString sets the string of the current configuration.
func (b *DeviceBuilder) WithConfigurationString(s string) *DeviceBuilder {
	if b.config == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.config.ConfigurationString = Str(s)
	return b
}

// AddInterface adds an alternate setting of an interface to the current
// configuration.
func (b *DeviceBuilder) AddInterface(number, alternate, class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	iface, err := NewInterface(InterfaceConfig{
		Number:    number,
		Alternate: alternate,
		Class:     class,
		SubClass:  subClass,
		Protocol:  protocol,
	})
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.iface, b.ep = iface, nil
	if err := b.config.AddInterface(iface); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// WithInterfaceString sets the string of the current interface.
func (b *DeviceBuilder) WithInterfaceString(s string) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.iface.InterfaceString = Str(s)
	return b
}

// AddEndpoint adds an endpoint to the current interface.
func (b *DeviceBuilder) AddEndpoint(address uint8, transferType uint8, maxPacketSize uint16) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	ep := &Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
	}
	if err := b.iface.AddEndpoint(ep); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.ep = ep
	return b
}

// WithInterval sets the polling interval of the last endpoint added.
func (b *DeviceBuilder) WithInterval(interval uint8) *DeviceBuilder {
	if b.ep == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.ep.Interval = interval
	return b
}

// AddDescriptor attaches a descriptor to the current interface.
func (b *DeviceBuilder) AddDescriptor(d *Descriptor) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	if err := b.iface.AddDescriptor(d); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// Fail records err so that Build reports it. Helpers that extend the
// builder use it to surface their own errors. A nil err is ignored.
func (b *DeviceBuilder) Fail(err error) *DeviceBuilder {
	if err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// Interface returns the interface most recently added, or nil.
func (b *DeviceBuilder) Interface() *Interface {
	return b.iface
}

// Endpoint returns the endpoint most recently added to the current
// interface, or nil.
func (b *DeviceBuilder) Endpoint() *Endpoint {
	return b.ep
}

// Build returns the constructed device.
func (b *DeviceBuilder) Build() (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.device == nil {
		return nil, pkg.ErrNoDevice
	}
	return b.device, nil
}
