package device

import (
	"fmt"
	"sort"

	"github.com/samber/lo"

	"github.com/ardnew/usbemu/pkg"
)

// Identifier is the key of an interface within its configuration.
type Identifier struct {
	Number    uint8
	Alternate uint8
}

// String returns the identifier as "number.alternate".
func (id Identifier) String() string {
	return fmt.Sprintf("%d.%d", id.Number, id.Alternate)
}

// InterfaceConfig describes an interface and its subordinates for
// construction in a single pass.
type InterfaceConfig struct {
	Number          uint8
	Alternate       uint8
	Class           uint8
	SubClass        uint8
	Protocol        uint8
	Name            string
	InterfaceString StringRef
	Endpoints       []*Endpoint
	Descriptors     []*Descriptor
}

// Interface represents one alternate setting of a USB interface within a
// configuration. It owns the setting's endpoints and descriptors.
//
// An Interface is not safe for concurrent use. Mutation happens while the
// device is being described, or inside a request handled by the owning
// [Device], which serializes its handlers.
type Interface struct {
	// Descriptor data
	Number    uint8 // Interface number
	Alternate uint8 // Alternate setting
	Class     uint8 // Interface class
	SubClass  uint8 // Interface subclass
	Protocol  uint8 // Interface protocol

	Name            string
	InterfaceString StringRef

	// OnAlternateSelected is called after SET_INTERFACE makes this
	// interface the active alternate for its number.
	OnAlternateSelected func(iface *Interface)

	// Descriptors emitted inline, in attach order.
	attached []*Descriptor

	// Descriptors fetched with GET_DESCRIPTOR.
	requestable descriptorRegistry

	endpoints map[uint8]*Endpoint
	order     []uint8

	config *Configuration
}

// NewInterface creates an interface and attaches the endpoints and
// descriptors listed in cfg. The first definition error aborts construction.
func NewInterface(cfg InterfaceConfig) (*Interface, error) {
	iface := newInterface(cfg.Number, cfg.Alternate)
	iface.Class = cfg.Class
	iface.SubClass = cfg.SubClass
	iface.Protocol = cfg.Protocol
	iface.Name = cfg.Name
	iface.InterfaceString = cfg.InterfaceString

	for _, ep := range cfg.Endpoints {
		if err := iface.AddEndpoint(ep); err != nil {
			return nil, err
		}
	}
	for _, d := range cfg.Descriptors {
		if err := iface.AddDescriptor(d); err != nil {
			return nil, err
		}
	}
	return iface, nil
}

func newInterface(number, alternate uint8) *Interface {
	return &Interface{
		Number:      number,
		Alternate:   alternate,
		requestable: make(descriptorRegistry),
		endpoints:   make(map[uint8]*Endpoint),
	}
}

// ParseInterface creates an interface from a 9-byte interface descriptor as
// supplied by a peer. The string index is resolved through strings; the
// result has no endpoints or descriptors attached.
func ParseInterface(data []byte, strings *StringTable) (*Interface, error) {
	var desc InterfaceDescriptor
	if err := ParseInterfaceDescriptor(data, &desc); err != nil {
		return nil, err
	}
	iface := newInterface(desc.InterfaceNumber, desc.AlternateSetting)
	iface.Class = desc.InterfaceClass
	iface.SubClass = desc.InterfaceSubClass
	iface.Protocol = desc.InterfaceProtocol
	iface.InterfaceString = strings.Ref(desc.InterfaceIndex)
	return iface, nil
}

// Identifier returns the interface's (number, alternate) key.
func (i *Interface) Identifier() Identifier {
	return Identifier{Number: i.Number, Alternate: i.Alternate}
}

// Matches reports whether number is this interface's number. The alternate
// setting is not compared; callers must already have resolved which
// alternate is active.
func (i *Interface) Matches(number uint8) bool {
	return i.Number == number
}

// Configuration returns the owning configuration, or nil.
func (i *Interface) Configuration() *Configuration {
	return i.config
}

// Device returns the device owning this interface's configuration, or nil.
func (i *Interface) Device() *Device {
	if i.config == nil {
		return nil
	}
	return i.config.Device()
}

func (i *Interface) String() string {
	if i.Name != "" {
		return i.Name
	}
	return "interface " + i.Identifier().String()
}

//
// Endpoint registry
//

// AddEndpoint adds ep to the interface. It fails if another endpoint already
// uses the same address, leaving the registry unchanged.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	if other, ok := i.endpoints[ep.Address]; ok {
		return &DuplicateEndpointError{
			Address:  ep.Address,
			Added:    ep.String(),
			Existing: other.String(),
		}
	}

	i.endpoints[ep.Address] = ep
	i.order = append(i.order, ep.Address)
	ep.iface = i

	pkg.LogDebug(pkg.ComponentInterface, "endpoint added to interface",
		"interface", i.Identifier().String(),
		"endpoint", fmt.Sprintf("0x%02X", ep.Address),
		"type", TransferTypeName(ep.TransferType()),
		"direction", DirectionName(ep.Direction()))

	return nil
}

// GetEndpoint returns the endpoint with the given number and direction, or
// nil if there is none.
func (i *Interface) GetEndpoint(number, direction uint8) *Endpoint {
	return i.endpoints[EndpointAddress(number, direction)]
}

// HasEndpoint reports whether an endpoint with the given number and
// direction is registered.
func (i *Interface) HasEndpoint(number, direction uint8) bool {
	return i.GetEndpoint(number, direction) != nil
}

// EndpointByAddress returns the endpoint with the given address byte, or nil.
func (i *Interface) EndpointByAddress(address uint8) *Endpoint {
	return i.endpoints[address]
}

// Endpoints returns the interface's endpoints in the order they were added.
func (i *Interface) Endpoints() []*Endpoint {
	return lo.Map(i.order, func(addr uint8, _ int) *Endpoint {
		return i.endpoints[addr]
	})
}

// NumEndpoints returns the number of endpoints in the interface.
func (i *Interface) NumEndpoints() int {
	return len(i.order)
}

//
// Descriptor registry
//

// AddDescriptor attaches d. Descriptors included in the configuration block
// are appended to the inline list; all others are registered for
// GET_DESCRIPTOR and must carry a number unique for their type.
func (i *Interface) AddDescriptor(d *Descriptor) error {
	if d.IncludeInConfig {
		i.attached = append(i.attached, d)
		d.owner = i
		return nil
	}
	if err := i.requestable.add(d); err != nil {
		return fmt.Errorf("%s: %w", i, err)
	}
	d.owner = i
	return nil
}

// AttachedDescriptors returns the inline descriptors in attach order.
func (i *Interface) AttachedDescriptors() []*Descriptor {
	return i.attached
}

// RequestableDescriptor returns the requestable descriptor with the given
// type and number, or nil.
func (i *Interface) RequestableDescriptor(descType, number uint8) *Descriptor {
	return i.requestable[DescriptorID{Type: descType, Number: number}]
}

// RequestableDescriptors returns the requestable descriptors ordered by
// type, then number.
func (i *Interface) RequestableDescriptors() []*Descriptor {
	return sortedDescriptors(i.requestable)
}

func sortedDescriptors(r descriptorRegistry) []*Descriptor {
	ids := lo.Keys(r)
	sort.Slice(ids, func(a, b int) bool {
		if ids[a].Type != ids[b].Type {
			return ids[a].Type < ids[b].Type
		}
		return ids[a].Number < ids[b].Number
	})
	return lo.Map(ids, func(id DescriptorID, _ int) *Descriptor {
		return r[id]
	})
}

//
// Descriptor encoding
//

// Header returns the fixed 9-byte interface descriptor fields.
func (i *Interface) Header(strings *StringTable) InterfaceDescriptor {
	return InterfaceDescriptor{
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.Alternate,
		NumEndpoints:      uint8(len(i.order)),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    strings.IndexOf(i.InterfaceString),
	}
}

// AppendTo appends the interface descriptor block to buf: the interface
// descriptor, the inline descriptors, then each endpoint descriptor followed
// by that endpoint's own descriptors. Lazy sources are resolved here.
func (i *Interface) AppendTo(buf []byte, strings *StringTable) []byte {
	var raw [InterfaceDescriptorSize]byte
	header := i.Header(strings)
	header.MarshalTo(raw[:])
	buf = append(buf, raw[:]...)

	for _, d := range i.attached {
		buf = d.Source.AppendTo(buf)
	}
	for _, ep := range i.Endpoints() {
		buf = ep.AppendTo(buf)
	}
	return buf
}

// Encode returns the interface descriptor block.
func (i *Interface) Encode(strings *StringTable) []byte {
	return i.AppendTo(nil, strings)
}

//
// Standard request routing
//

// interfaceRoutes is the dispatch table for interface-scoped standard
// requests.
var interfaceRoutes []requestRoute[*Interface]

func init() {
	interfaceRoutes = []requestRoute[*Interface]{
		{RequestGetDescriptor, RequestRecipientInterface, (*Interface).handleGetDescriptor},
		{RequestSetInterface, RequestRecipientInterface, (*Interface).handleSetInterface},
		{RequestGetInterface, RequestRecipientInterface, (*Interface).handleGetInterface},
	}
}

// HandleSetup handles a standard request addressed to this interface's
// number. Reports false if the request is not one this interface handles.
func (i *Interface) HandleSetup(req *ControlRequest) bool {
	if !req.IsStandard() || req.Recipient() != RequestRecipientInterface {
		return false
	}
	if !i.Matches(req.IndexLow()) {
		return false
	}
	handle, ok := lookupRoute(interfaceRoutes, &req.SetupPacket)
	if !ok {
		return false
	}
	handle(i, req)
	return true
}

// handleGetDescriptor handles GET_DESCRIPTOR (USB 2.0 Spec 9.4.3) using the
// device's generic lookup over this interface's requestable descriptors.
func (i *Interface) handleGetDescriptor(req *ControlRequest) {
	pkg.LogDebug(pkg.ComponentInterface, "handling GET_DESCRIPTOR",
		"interface", i.Identifier().String(),
		"descriptor", DescriptorID{Type: req.DescriptorType(), Number: req.DescriptorIndex()}.String())

	dev := i.Device()
	if dev == nil {
		req.Stall()
		return
	}
	dev.HandleGenericGetDescriptor(i, req)
}

// handleSetInterface handles SET_INTERFACE (USB 2.0 Spec 9.4.10).
func (i *Interface) handleSetInterface(req *ControlRequest) {
	config := i.config
	dev := i.Device()
	if config == nil || dev == nil || dev.ActiveConfiguration() == nil {
		req.Stall()
		return
	}

	number := req.IndexLow()
	if req.Value > 0xFF {
		req.Stall()
		return
	}
	target := config.Interface(number, uint8(req.Value))
	if target == nil {
		pkg.LogDebug(pkg.ComponentInterface, "SET_INTERFACE to unknown alternate",
			"interface", number,
			"alternate", req.Value)
		req.Stall()
		return
	}

	config.SetActiveInterface(target)

	// Selecting an alternate resets the data toggles of its endpoints.
	backend := dev.Backend()
	for _, ep := range target.Endpoints() {
		ep.ResetDataToggle()
		if backend == nil {
			continue
		}
		if err := backend.ClearHalt(ep.Number(), ep.Direction()); err != nil {
			pkg.LogWarn(pkg.ComponentInterface, "clear halt failed",
				"endpoint", fmt.Sprintf("0x%02X", ep.Address),
				"error", err)
		}
	}

	pkg.LogDebug(pkg.ComponentInterface, "alternate selected",
		"interface", number,
		"alternate", target.Alternate)

	if target.OnAlternateSelected != nil {
		target.OnAlternateSelected(target)
	}
	req.Acknowledge()
}

// handleGetInterface handles GET_INTERFACE (USB 2.0 Spec 9.4.4).
func (i *Interface) handleGetInterface(req *ControlRequest) {
	config := i.config
	dev := i.Device()
	if config == nil || dev == nil || dev.ActiveConfiguration() == nil {
		req.Stall()
		return
	}

	active := config.ActiveInterface(req.IndexLow())
	if active == nil {
		req.Stall()
		return
	}
	req.Reply([]byte{active.Alternate})
}

//
// Endpoint traffic
//

// HandleDataReceived forwards data received on a non-control endpoint. Data
// for an endpoint this interface does not own is reported to the device.
func (i *Interface) HandleDataReceived(number, direction uint8, data []byte) {
	if ep := i.GetEndpoint(number, direction); ep != nil {
		ep.HandleDataReceived(data)
		return
	}
	if dev := i.Device(); dev != nil {
		dev.ReportUnexpectedDataReceived(number, data)
	}
}

// HandleDataRequested forwards a host poll of a non-control endpoint. A poll
// of an endpoint this interface does not own is reported to the device.
func (i *Interface) HandleDataRequested(number, direction uint8) {
	if ep := i.GetEndpoint(number, direction); ep != nil {
		ep.HandleDataRequested()
		return
	}
	if dev := i.Device(); dev != nil {
		dev.ReportUnexpectedDataRequested(number)
	}
}

// HandleBufferEmpty forwards a buffer-empty event. Events for endpoints this
// interface does not own are ignored.
func (i *Interface) HandleBufferEmpty(number, direction uint8) {
	if ep := i.GetEndpoint(number, direction); ep != nil {
		ep.HandleBufferEmpty()
	}
}
