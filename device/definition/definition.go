package definition

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/pkg"
)

// Definition is the YAML description of an emulated device.
type Definition struct {
	Device DeviceDef `yaml:"device"`
}

// DeviceDef describes the device descriptor and its configurations.
type DeviceDef struct {
	VendorID       uint16 `yaml:"vendor_id"`
	ProductID      uint16 `yaml:"product_id"`
	USBVersion     uint16 `yaml:"usb_version,omitempty"`
	DeviceVersion  uint16 `yaml:"device_version,omitempty"`
	Class          uint8  `yaml:"class,omitempty"`
	SubClass       uint8  `yaml:"subclass,omitempty"`
	Protocol       uint8  `yaml:"protocol,omitempty"`
	MaxPacketSize0 uint8  `yaml:"max_packet_size0,omitempty"`
	Speed          string `yaml:"speed,omitempty"`

	Manufacturer string `yaml:"manufacturer,omitempty"`
	Product      string `yaml:"product,omitempty"`
	SerialNumber string `yaml:"serial_number,omitempty"`

	Configurations []ConfigurationDef `yaml:"configurations"`
}

// ConfigurationDef describes one configuration.
type ConfigurationDef struct {
	Value        uint8  `yaml:"value"`
	String       string `yaml:"string,omitempty"`
	SelfPowered  bool   `yaml:"self_powered,omitempty"`
	RemoteWakeup bool   `yaml:"remote_wakeup,omitempty"`
	MaxPower     uint8  `yaml:"max_power,omitempty"` // 2mA units

	Interfaces []InterfaceDef `yaml:"interfaces"`
}

// InterfaceDef describes one alternate setting of an interface.
type InterfaceDef struct {
	Number    uint8  `yaml:"number"`
	Alternate uint8  `yaml:"alternate,omitempty"`
	Class     uint8  `yaml:"class"`
	SubClass  uint8  `yaml:"subclass,omitempty"`
	Protocol  uint8  `yaml:"protocol,omitempty"`
	Name      string `yaml:"name,omitempty"`
	String    string `yaml:"string,omitempty"`

	Endpoints   []EndpointDef   `yaml:"endpoints,omitempty"`
	Descriptors []DescriptorDef `yaml:"descriptors,omitempty"`
}

// EndpointDef describes one endpoint.
type EndpointDef struct {
	Name          string     `yaml:"name,omitempty"`
	Address       uint8      `yaml:"address"`
	Type          string     `yaml:"type"`
	MaxPacketSize uint16     `yaml:"max_packet_size"`
	Interval      uint8      `yaml:"interval,omitempty"`
	Descriptors   []HexBytes `yaml:"descriptors,omitempty"`
}

// DescriptorDef describes a class- or vendor-specific descriptor owned by an
// interface. Descriptors with include_in_config are emitted inline; the rest
// are fetched with GET_DESCRIPTOR and need a number.
type DescriptorDef struct {
	Name            string   `yaml:"name,omitempty"`
	Type            uint8    `yaml:"type"`
	Number          *uint8   `yaml:"number,omitempty"`
	IncludeInConfig bool     `yaml:"include_in_config,omitempty"`
	Data            HexBytes `yaml:"data"`
}

var transferTypes = map[string]uint8{
	"control":     device.EndpointTypeControl,
	"isochronous": device.EndpointTypeIsochronous,
	"bulk":        device.EndpointTypeBulk,
	"interrupt":   device.EndpointTypeInterrupt,
}

var transferTypeNames = lo.Invert(transferTypes)

// Parse decodes a definition from YAML.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.UnmarshalStrict(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", pkg.ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Load decodes a definition read from r.
func Load(r io.Reader) (*Definition, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// LoadFile decodes the definition stored at path.
func LoadFile(path string) (*Definition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Marshal encodes def as YAML.
func Marshal(def *Definition) ([]byte, error) {
	return yaml.Marshal(def)
}

// Validate checks what the YAML schema cannot express.
func (d *Definition) Validate() error {
	if len(d.Device.Configurations) == 0 {
		return fmt.Errorf("%w: no configurations", pkg.ErrInvalidDefinition)
	}
	if d.Device.Speed != "" {
		if _, err := device.ParseSpeed(d.Device.Speed); err != nil {
			return err
		}
	}
	for _, c := range d.Device.Configurations {
		if c.Value == 0 {
			return fmt.Errorf("%w: configuration value 0 is reserved", pkg.ErrInvalidDefinition)
		}
		for _, i := range c.Interfaces {
			for _, ep := range i.Endpoints {
				if _, ok := transferTypes[strings.ToLower(ep.Type)]; !ok {
					return fmt.Errorf("%w: interface %d.%d: endpoint 0x%02X: unknown type %q",
						pkg.ErrInvalidDefinition, i.Number, i.Alternate, ep.Address, ep.Type)
				}
			}
		}
	}
	return nil
}

// Build constructs the device the definition describes.
func (d *Definition) Build() (*device.Device, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}

	dd := d.Device
	b := device.NewDeviceBuilder().WithDescriptor(device.DeviceDescriptor{
		Length:         device.DeviceDescriptorSize,
		DescriptorType: device.DescriptorTypeDevice,
		USBVersion:     lo.Ternary(dd.USBVersion == 0, uint16(0x0200), dd.USBVersion),
		DeviceClass:    dd.Class,
		DeviceSubClass: dd.SubClass,
		DeviceProtocol: dd.Protocol,
		MaxPacketSize0: lo.Ternary(dd.MaxPacketSize0 == 0, uint8(64), dd.MaxPacketSize0),
		VendorID:       dd.VendorID,
		ProductID:      dd.ProductID,
		DeviceVersion:  dd.DeviceVersion,
	})
	b.WithStrings(dd.Manufacturer, dd.Product, dd.SerialNumber)
	if dd.Speed != "" {
		speed, _ := device.ParseSpeed(dd.Speed)
		b.WithSpeed(speed)
	}

	for _, c := range dd.Configurations {
		b.AddConfiguration(c.Value)
		if c.String != "" {
			b.WithConfigurationString(c.String)
		}
		for _, i := range c.Interfaces {
			buildInterface(b, i)
		}
	}

	dev, err := b.Build()
	if err != nil {
		return nil, err
	}

	for _, c := range dd.Configurations {
		config := dev.GetConfiguration(c.Value)
		config.SetSelfPowered(c.SelfPowered)
		config.SetRemoteWakeup(c.RemoteWakeup)
		if c.MaxPower != 0 {
			config.MaxPower = c.MaxPower
		}
	}

	pkg.LogDebug(pkg.ComponentDevice, "device built from definition",
		"vendor", fmt.Sprintf("0x%04X", dd.VendorID),
		"product", fmt.Sprintf("0x%04X", dd.ProductID),
		"configurations", len(dd.Configurations))

	return dev, nil
}

func buildInterface(b *device.DeviceBuilder, i InterfaceDef) {
	b.AddInterface(i.Number, i.Alternate, i.Class, i.SubClass, i.Protocol)
	if i.String != "" {
		b.WithInterfaceString(i.String)
	}
	if iface := b.Interface(); iface != nil {
		iface.Name = i.Name
	}

	for _, d := range i.Descriptors {
		b.AddDescriptor(&device.Descriptor{
			Name:            d.Name,
			Type:            d.Type,
			Number:          d.Number,
			IncludeInConfig: d.IncludeInConfig,
			Source:          device.StaticDescriptor(d.Data),
		})
	}

	for _, e := range i.Endpoints {
		b.AddEndpoint(e.Address, transferTypes[strings.ToLower(e.Type)], e.MaxPacketSize).
			WithInterval(e.Interval)
		if ep := b.Endpoint(); ep != nil {
			ep.Name = e.Name
			ep.Descriptors = lo.Map(e.Descriptors, func(h HexBytes, _ int) device.DescriptorSource {
				return device.StaticDescriptor(h)
			})
		}
	}
}

// FromDevice describes dev as a definition. Lazy descriptors are evaluated.
func FromDevice(dev *device.Device) *Definition {
	desc := dev.Descriptor
	strs := dev.Strings()
	text := func(ref device.StringRef) string {
		if ref.Text != "" {
			return ref.Text
		}
		s, _ := strs.Lookup(ref.Index)
		return s
	}

	def := &Definition{Device: DeviceDef{
		VendorID:       desc.VendorID,
		ProductID:      desc.ProductID,
		USBVersion:     desc.USBVersion,
		DeviceVersion:  desc.DeviceVersion,
		Class:          desc.DeviceClass,
		SubClass:       desc.DeviceSubClass,
		Protocol:       desc.DeviceProtocol,
		MaxPacketSize0: desc.MaxPacketSize0,
		Speed:          dev.Speed().Name(),
		Manufacturer:   text(dev.Manufacturer),
		Product:        text(dev.Product),
		SerialNumber:   text(dev.SerialNumber),
	}}

	for _, c := range dev.Configurations() {
		def.Device.Configurations = append(def.Device.Configurations, ConfigurationDef{
			Value:        c.Value,
			String:       text(c.ConfigurationString),
			SelfPowered:  c.IsSelfPowered(),
			RemoteWakeup: c.SupportsRemoteWakeup(),
			MaxPower:     c.MaxPower,
			Interfaces: lo.Map(c.Interfaces(), func(iface *device.Interface, _ int) InterfaceDef {
				return FromInterface(iface, strs)
			}),
		})
	}
	return def
}

// FromInterface describes one alternate setting. strs resolves raw string
// indices and may be nil.
func FromInterface(iface *device.Interface, strs *device.StringTable) InterfaceDef {
	def := InterfaceDef{
		Number:    iface.Number,
		Alternate: iface.Alternate,
		Class:     iface.Class,
		SubClass:  iface.SubClass,
		Protocol:  iface.Protocol,
		Name:      iface.Name,
		String:    iface.InterfaceString.Text,
	}
	if def.String == "" {
		def.String, _ = strs.Lookup(iface.InterfaceString.Index)
	}

	descriptors := lo.Flatten([][]*device.Descriptor{
		iface.AttachedDescriptors(),
		iface.RequestableDescriptors(),
	})
	def.Descriptors = lo.Map(descriptors, func(d *device.Descriptor, _ int) DescriptorDef {
		return DescriptorDef{
			Name:            d.Name,
			Type:            d.Type,
			Number:          d.Number,
			IncludeInConfig: d.IncludeInConfig,
			Data:            d.Bytes(),
		}
	})

	def.Endpoints = lo.Map(iface.Endpoints(), func(ep *device.Endpoint, _ int) EndpointDef {
		return EndpointDef{
			Name:          ep.Name,
			Address:       ep.Address,
			Type:          transferTypeNames[ep.TransferType()],
			MaxPacketSize: ep.MaxPacketSize,
			Interval:      ep.Interval,
			Descriptors: lo.Map(ep.Descriptors, func(src device.DescriptorSource, _ int) HexBytes {
				return src.Bytes()
			}),
		}
	})
	return def
}
