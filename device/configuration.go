package device

import (
	"encoding/binary"
	"fmt"

	"github.com/samber/lo"

	"github.com/ardnew/usbemu/pkg"
)

// Configuration represents a USB device configuration. It keeps every
// alternate setting of every interface, and which alternate is active for
// each interface number.
type Configuration struct {
	// Descriptor data
	Value      uint8 // Configuration value for SET_CONFIGURATION
	Attributes uint8 // Configuration attributes (bus/self powered, remote wakeup)
	MaxPower   uint8 // Maximum power consumption (2mA units)

	ConfigurationString StringRef

	interfaces map[Identifier]*Interface
	order      []Identifier
	active     map[uint8]*Interface

	device *Device
}

// NewConfiguration creates a new configuration.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50, // 100mA default
		interfaces: make(map[Identifier]*Interface),
		active:     make(map[uint8]*Interface),
	}
}

// Device returns the owning device, or nil.
func (c *Configuration) Device() *Device {
	return c.device
}

// AddInterface adds one alternate setting of an interface.
func (c *Configuration) AddInterface(iface *Interface) error {
	id := iface.Identifier()
	if _, ok := c.interfaces[id]; ok {
		return fmt.Errorf("%w: interface %s in configuration %d",
			pkg.ErrDuplicateInterface, id, c.Value)
	}

	c.interfaces[id] = iface
	c.order = append(c.order, id)
	iface.config = c

	pkg.LogDebug(pkg.ComponentDevice, "interface added to configuration",
		"config", c.Value,
		"interface", id.String())

	return nil
}

// Interface returns the interface with the given number and alternate
// setting, or nil.
func (c *Configuration) Interface(number, alternate uint8) *Interface {
	return c.interfaces[Identifier{Number: number, Alternate: alternate}]
}

// Interfaces returns every alternate setting in the order added.
func (c *Configuration) Interfaces() []*Interface {
	return lo.Map(c.order, func(id Identifier, _ int) *Interface {
		return c.interfaces[id]
	})
}

// InterfaceNumbers returns the distinct interface numbers in the order first
// added.
func (c *Configuration) InterfaceNumbers() []uint8 {
	return lo.Uniq(lo.Map(c.order, func(id Identifier, _ int) uint8 {
		return id.Number
	}))
}

// NumInterfaces returns the number of distinct interfaces. Alternate
// settings of one interface count once.
func (c *Configuration) NumInterfaces() int {
	return len(c.InterfaceNumbers())
}

// ActiveInterface returns the active alternate setting for number, or nil.
func (c *Configuration) ActiveInterface(number uint8) *Interface {
	return c.active[number]
}

// SetActiveInterface makes iface the active alternate setting for its number.
func (c *Configuration) SetActiveInterface(iface *Interface) {
	c.active[iface.Number] = iface
}

// ActiveInterfaces returns the active alternate settings ordered by
// interface number.
func (c *Configuration) ActiveInterfaces() []*Interface {
	return lo.FilterMap(c.InterfaceNumbers(), func(n uint8, _ int) (*Interface, bool) {
		iface, ok := c.active[n]
		return iface, ok
	})
}

// ResetAlternates makes alternate setting 0 active for every interface
// number that has one, and clears the others.
func (c *Configuration) ResetAlternates() {
	clear(c.active)
	for _, id := range c.order {
		if id.Alternate == 0 {
			c.active[id.Number] = c.interfaces[id]
		}
	}
}

// Endpoints returns the endpoints of the active alternate settings.
func (c *Configuration) Endpoints() []*Endpoint {
	return lo.FlatMap(c.ActiveInterfaces(), func(iface *Interface, _ int) []*Endpoint {
		return iface.Endpoints()
	})
}

// Descriptor returns the configuration descriptor header. TotalLength is
// left zero; AppendTo fills it in.
func (c *Configuration) Descriptor(strings *StringTable) ConfigurationDescriptor {
	return ConfigurationDescriptor{
		NumInterfaces:      uint8(c.NumInterfaces()),
		ConfigurationValue: c.Value,
		ConfigurationIndex: strings.IndexOf(c.ConfigurationString),
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// AppendTo appends the full configuration descriptor block, including every
// interface alternate setting, to buf. wTotalLength is patched after the
// subordinate descriptors have been emitted.
func (c *Configuration) AppendTo(buf []byte, strings *StringTable) []byte {
	start := len(buf)

	var raw [ConfigurationDescriptorSize]byte
	desc := c.Descriptor(strings)
	desc.MarshalTo(raw[:])
	buf = append(buf, raw[:]...)

	for _, iface := range c.Interfaces() {
		buf = iface.AppendTo(buf, strings)
	}

	binary.LittleEndian.PutUint16(buf[start+2:start+4], uint16(len(buf)-start))
	return buf
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// IsSelfPowered returns true if the configuration is self-powered.
func (c *Configuration) IsSelfPowered() bool {
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// SetRemoteWakeup sets or clears the remote wakeup capability.
func (c *Configuration) SetRemoteWakeup(enabled bool) {
	if enabled {
		c.Attributes |= ConfigAttrRemoteWakeup
	} else {
		c.Attributes &^= ConfigAttrRemoteWakeup
	}
}

// SupportsRemoteWakeup returns true if remote wakeup is supported.
func (c *Configuration) SupportsRemoteWakeup() bool {
	return c.Attributes&ConfigAttrRemoteWakeup != 0
}
