package device

import (
	"encoding/binary"

	"github.com/ardnew/usbemu/pkg"
)

// deviceRoutes answers the standard requests addressed to the device and to
// its endpoints. Interface requests are owned by the interface itself.
var deviceRoutes []requestRoute[*Device]

func init() {
	deviceRoutes = []requestRoute[*Device]{
		{RequestGetStatus, RequestRecipientDevice, (*Device).getDeviceStatus},
		{RequestClearFeature, RequestRecipientDevice, (*Device).clearDeviceFeature},
		{RequestSetFeature, RequestRecipientDevice, (*Device).setDeviceFeature},
		{RequestSetAddress, RequestRecipientDevice, (*Device).setAddress},
		{RequestGetDescriptor, RequestRecipientDevice, (*Device).getDescriptor},
		{RequestGetConfiguration, RequestRecipientDevice, (*Device).getConfiguration},
		{RequestSetConfiguration, RequestRecipientDevice, (*Device).setConfiguration},
		{RequestGetStatus, RequestRecipientEndpoint, (*Device).getEndpointStatus},
		{RequestClearFeature, RequestRecipientEndpoint, (*Device).clearEndpointFeature},
		{RequestSetFeature, RequestRecipientEndpoint, (*Device).setEndpointFeature},
	}
}

// DeviceDescriptorFor returns the device descriptor with string indices
// resolved against the device string table.
func (d *Device) DeviceDescriptorFor() DeviceDescriptor {
	d.mutex.RLock()
	desc := d.Descriptor
	d.mutex.RUnlock()

	if idx := d.strings.IndexOf(d.Manufacturer); idx != 0 {
		desc.ManufacturerIndex = idx
	}
	if idx := d.strings.IndexOf(d.Product); idx != 0 {
		desc.ProductIndex = idx
	}
	if idx := d.strings.IndexOf(d.SerialNumber); idx != 0 {
		desc.SerialNumberIndex = idx
	}
	return desc
}

// getDeviceStatus returns device status (2 bytes).
func (d *Device) getDeviceStatus(req *ControlRequest) {
	req.Reply(binary.LittleEndian.AppendUint16(nil, uint16(d.GetStatus())))
}

// clearDeviceFeature clears a device feature.
func (d *Device) clearDeviceFeature(req *ControlRequest) {
	if req.Value != FeatureDeviceRemoteWakeup {
		req.Stall()
		return
	}
	d.EnableRemoteWakeup(false)
	req.Acknowledge()
}

// setDeviceFeature sets a device feature. Test mode is not supported.
func (d *Device) setDeviceFeature(req *ControlRequest) {
	if req.Value != FeatureDeviceRemoteWakeup {
		req.Stall()
		return
	}
	d.EnableRemoteWakeup(true)
	req.Acknowledge()
}

// setAddress handles SET_ADDRESS request.
func (d *Device) setAddress(req *ControlRequest) {
	if err := d.SetAddress(uint8(req.Value & 0x7F)); err != nil {
		pkg.LogDebug(pkg.ComponentRequest, "set address rejected",
			"error", err)
		req.Stall()
		return
	}
	req.Acknowledge()
}

// getDescriptor handles GET_DESCRIPTOR for the standard device-level
// descriptors. Other types fall through to the device's requestable
// descriptors.
func (d *Device) getDescriptor(req *ControlRequest) {
	descIndex := req.DescriptorIndex()

	switch req.DescriptorType() {
	case DescriptorTypeDevice:
		var buf [DeviceDescriptorSize]byte
		desc := d.DeviceDescriptorFor()
		desc.MarshalTo(buf[:])
		req.Reply(buf[:])

	case DescriptorTypeConfiguration:
		configs := d.Configurations()
		if int(descIndex) >= len(configs) {
			req.Stall()
			return
		}
		req.Reply(configs[descIndex].AppendTo(nil, d.strings))

	case DescriptorTypeString:
		data, ok := d.strings.AppendDescriptor(nil, descIndex)
		if !ok {
			req.Stall()
			return
		}
		req.Reply(data)

	case DescriptorTypeDeviceQualifier:
		data := d.deviceQualifier()
		if data == nil {
			req.Stall()
			return
		}
		req.Reply(data)

	default:
		d.HandleGenericGetDescriptor(d, req)
	}
}

// deviceQualifier returns the device qualifier descriptor, or nil unless the
// device runs at high speed.
func (d *Device) deviceQualifier() []byte {
	if d.Speed() != SpeedHigh {
		return nil
	}

	desc := d.DeviceDescriptorFor()
	buf := make([]byte, 10)
	buf[0] = 10
	buf[1] = DescriptorTypeDeviceQualifier
	binary.LittleEndian.PutUint16(buf[2:4], desc.USBVersion)
	buf[4] = desc.DeviceClass
	buf[5] = desc.DeviceSubClass
	buf[6] = desc.DeviceProtocol
	buf[7] = desc.MaxPacketSize0
	buf[8] = desc.NumConfigurations
	return buf
}

// getConfiguration handles GET_CONFIGURATION request.
func (d *Device) getConfiguration(req *ControlRequest) {
	config := d.ActiveConfiguration()
	if config == nil {
		req.Reply([]byte{0})
		return
	}
	req.Reply([]byte{config.Value})
}

// setConfiguration handles SET_CONFIGURATION request.
func (d *Device) setConfiguration(req *ControlRequest) {
	if err := d.SetConfiguration(uint8(req.Value & 0xFF)); err != nil {
		pkg.LogDebug(pkg.ComponentRequest, "set configuration rejected",
			"value", req.Value,
			"error", err)
		req.Stall()
		return
	}
	req.Acknowledge()
}

// getEndpointStatus returns endpoint status (2 bytes).
func (d *Device) getEndpointStatus(req *ControlRequest) {
	address := req.IndexLow()
	var status uint16
	if address&0x0F != 0 {
		ep := d.FindEndpoint(address)
		if ep == nil {
			req.Stall()
			return
		}
		if ep.IsStalled() {
			status = 1 // Halt bit
		}
	}
	req.Reply(binary.LittleEndian.AppendUint16(nil, status))
}

// clearEndpointFeature clears an endpoint halt and resets its data toggle.
func (d *Device) clearEndpointFeature(req *ControlRequest) {
	if req.Value != FeatureEndpointHalt {
		req.Stall()
		return
	}

	ep := d.FindEndpoint(req.IndexLow())
	if ep == nil {
		req.Stall()
		return
	}

	ep.SetStall(false)
	ep.ResetDataToggle()
	if backend := d.Backend(); backend != nil {
		if err := backend.ClearHalt(ep.Number(), ep.Direction()); err != nil {
			pkg.LogWarn(pkg.ComponentEndpoint, "clear halt failed",
				"endpoint", ep.String(),
				"error", err)
		}
	}
	req.Acknowledge()
}

// setEndpointFeature halts an endpoint.
func (d *Device) setEndpointFeature(req *ControlRequest) {
	if req.Value != FeatureEndpointHalt {
		req.Stall()
		return
	}

	ep := d.FindEndpoint(req.IndexLow())
	if ep == nil {
		req.Stall()
		return
	}

	ep.SetStall(true)
	req.Acknowledge()
}
