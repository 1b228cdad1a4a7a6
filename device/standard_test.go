package device

import (
	"testing"
	"unicode/utf16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbemu/pkg"
)

var testReportDescriptor = []byte{0x05, 0x01, 0x09, 0x06, 0xA1, 0x01, 0xC0}

// setupTestDevice returns a configured device with configuration 1 holding
// interface 0 (alternates 0 and 1) and interface 1. Manufacturer and product
// strings take indices 1 and 2.
func setupTestDevice(t testing.TB) *Device {
	t.Helper()

	dev := NewDevice(DeviceDescriptor{
		USBVersion:     0x0200,
		DeviceClass:    ClassPerInterface,
		MaxPacketSize0: 64,
		VendorID:       0x1234,
		ProductID:      0x5678,
		DeviceVersion:  0x0100,
	})
	dev.Manufacturer = Str("Test Manufacturer")
	dev.Product = Str("Test Product")
	_, err := dev.Strings().Add("Test Manufacturer")
	require.NoError(t, err)
	_, err = dev.Strings().Add("Test Product")
	require.NoError(t, err)

	config := NewConfiguration(1)
	for _, cfg := range []InterfaceConfig{
		{
			Number: 0, Alternate: 0, Class: ClassHID,
			Endpoints: []*Endpoint{
				{Address: 0x81, Attributes: EndpointTypeInterrupt, MaxPacketSize: 8, Interval: 10},
			},
			Descriptors: []*Descriptor{
				{Name: "report", Type: DescriptorTypeHIDReport, Number: DescriptorNumber(0), Source: StaticDescriptor(testReportDescriptor)},
			},
		},
		{
			Number: 0, Alternate: 1, Class: ClassHID,
			Endpoints: []*Endpoint{
				{Address: 0x81, Attributes: EndpointTypeInterrupt, MaxPacketSize: 64, Interval: 1},
				{Address: 0x02, Attributes: EndpointTypeInterrupt, MaxPacketSize: 64, Interval: 1},
			},
		},
		{
			Number: 1, Alternate: 0, Class: ClassVendor,
			Endpoints: []*Endpoint{
				{Address: 0x83, Attributes: EndpointTypeBulk, MaxPacketSize: 64},
				{Address: 0x03, Attributes: EndpointTypeBulk, MaxPacketSize: 64},
			},
		},
	} {
		iface, err := NewInterface(cfg)
		require.NoError(t, err)
		require.NoError(t, config.AddInterface(iface))
	}
	require.NoError(t, dev.AddConfiguration(config))

	dev.Reset()
	require.NoError(t, dev.SetAddress(5))
	require.NoError(t, dev.SetConfiguration(1))
	return dev
}

// doRequest runs setup through the device and returns the request and what
// was sent back.
func doRequest(dev *Device, setup SetupPacket, data ...byte) (*ControlRequest, *ResponseRecorder) {
	rec := &ResponseRecorder{}
	req := NewControlRequest(setup, data, rec)
	dev.HandleSetup(req)
	return req, rec
}

func utf16Descriptor(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := []byte{uint8(2 + 2*len(units)), DescriptorTypeString}
	for _, u := range units {
		buf = append(buf, uint8(u), uint8(u>>8))
	}
	return buf
}

func TestHandleGetDeviceStatus(t *testing.T) {
	dev := setupTestDevice(t)

	_, rec := doRequest(dev, GetStatusSetup(RequestRecipientDevice, 0))
	assert.Equal(t, []byte{0x00, 0x00}, rec.Data)

	dev.EnableRemoteWakeup(true)
	_, rec = doRequest(dev, GetStatusSetup(RequestRecipientDevice, 0))
	assert.Equal(t, []byte{0x02, 0x00}, rec.Data)

	dev.ActiveConfiguration().SetSelfPowered(true)
	_, rec = doRequest(dev, GetStatusSetup(RequestRecipientDevice, 0))
	assert.Equal(t, []byte{0x03, 0x00}, rec.Data)
}

func TestHandleDeviceFeature(t *testing.T) {
	dev := setupTestDevice(t)

	_, rec := doRequest(dev, SetFeatureSetup(RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0))
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.True(t, dev.IsRemoteWakeupEnabled())

	_, rec = doRequest(dev, ClearFeatureSetup(RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0))
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.False(t, dev.IsRemoteWakeupEnabled())

	_, rec = doRequest(dev, SetFeatureSetup(RequestRecipientDevice, FeatureTestMode, 0))
	assert.Equal(t, pkg.ResponseStall, rec.Status)

	_, rec = doRequest(dev, ClearFeatureSetup(RequestRecipientDevice, FeatureTestMode, 0))
	assert.Equal(t, pkg.ResponseStall, rec.Status)
}

func TestHandleSetAddress(t *testing.T) {
	dev := setupTestDevice(t)

	_, rec := doRequest(dev, SetAddressSetup(7))
	assert.Equal(t, pkg.ResponseStall, rec.Status, "configured devices reject SET_ADDRESS")
	assert.Equal(t, uint8(5), dev.Address())

	dev.Reset()
	var notified uint8
	dev.SetOnSetAddress(func(address uint8) { notified = address })

	setup := SetAddressSetup(0)
	setup.Value = 0x85
	_, rec = doRequest(dev, setup)
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.Equal(t, uint8(5), dev.Address())
	assert.Equal(t, uint8(5), notified)
	assert.Equal(t, StateAddress, dev.State())
}

func TestHandleGetDescriptorDevice(t *testing.T) {
	dev := setupTestDevice(t)

	_, rec := doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeDevice, 0, 0, 64))
	want := []byte{
		18, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 64,
		0x34, 0x12, 0x78, 0x56, 0x00, 0x01,
		1, 2, 0, 1,
	}
	assert.Equal(t, want, rec.Data)

	_, rec = doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeDevice, 0, 0, 8))
	assert.Equal(t, want[:8], rec.Data)
}

func TestHandleGetDescriptorConfiguration(t *testing.T) {
	dev := setupTestDevice(t)

	_, rec := doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeConfiguration, 0, 0, 0xFFFF))
	require.Equal(t, pkg.ResponseData, rec.Status)

	data := rec.Data
	total := ConfigurationDescriptorSize +
		(InterfaceDescriptorSize + EndpointDescriptorSize) +
		(InterfaceDescriptorSize + 2*EndpointDescriptorSize) +
		(InterfaceDescriptorSize + 2*EndpointDescriptorSize)
	require.Len(t, data, total)
	assert.Equal(t, []byte{9, DescriptorTypeConfiguration, uint8(total), 0, 2, 1, 0, ConfigAttrBusPowered, 50}, data[:9])

	// Every alternate setting is listed, in the order added.
	assert.Equal(t, []byte{9, 4, 0, 0, 1}, data[9:14])
	assert.Equal(t, []byte{9, 4, 0, 1, 2}, data[25:30])
	assert.Equal(t, []byte{9, 4, 1, 0, 2}, data[48:53])

	_, rec = doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeConfiguration, 0, 0, 9))
	assert.Len(t, rec.Data, 9)

	_, rec = doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeConfiguration, 1, 0, 255))
	assert.Equal(t, pkg.ResponseStall, rec.Status)
}

func TestHandleGetDescriptorString(t *testing.T) {
	dev := setupTestDevice(t)

	tests := []struct {
		name  string
		index uint8
		want  []byte
	}{
		{"languages", 0, []byte{4, DescriptorTypeString, 0x09, 0x04}},
		{"manufacturer", 1, utf16Descriptor("Test Manufacturer")},
		{"product", 2, utf16Descriptor("Test Product")},
		{"unassigned", 99, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rec := doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeString, tt.index, LangIDUSEnglish, 255))
			if tt.want == nil {
				assert.Equal(t, pkg.ResponseStall, rec.Status)
				return
			}
			assert.Equal(t, tt.want, rec.Data)
		})
	}
}

func TestHandleGetDescriptorDeviceQualifier(t *testing.T) {
	dev := setupTestDevice(t)

	_, rec := doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeDeviceQualifier, 0, 0, 10))
	assert.Equal(t, pkg.ResponseStall, rec.Status, "full-speed devices have no qualifier")

	dev.SetSpeed(SpeedHigh)
	_, rec = doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeDeviceQualifier, 0, 0, 10))
	assert.Equal(t, []byte{10, DescriptorTypeDeviceQualifier, 0x00, 0x02, 0, 0, 0, 64, 1, 0}, rec.Data)
}

func TestHandleGetDescriptorGeneric(t *testing.T) {
	dev := setupTestDevice(t)
	bos := []byte{5, DescriptorTypeBOS, 5, 0, 0}
	require.NoError(t, dev.AddDescriptor(&Descriptor{
		Name:   "bos",
		Type:   DescriptorTypeBOS,
		Number: DescriptorNumber(0),
		Source: StaticDescriptor(bos),
	}))

	_, rec := doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeBOS, 0, 0, 255))
	assert.Equal(t, bos, rec.Data)

	_, rec = doRequest(dev, GetDescriptorSetup(RequestRecipientDevice, 0x30, 0, 0, 255))
	assert.Equal(t, pkg.ResponseStall, rec.Status)

	err := dev.AddDescriptor(&Descriptor{Type: DescriptorTypeBOS, Number: DescriptorNumber(0)})
	assert.ErrorIs(t, err, pkg.ErrDuplicateDescriptor)
}

func TestHandleConfiguration(t *testing.T) {
	dev := setupTestDevice(t)
	config := dev.ActiveConfiguration()

	_, rec := doRequest(dev, GetConfigurationSetup())
	assert.Equal(t, []byte{1}, rec.Data)

	// Reselecting the configuration puts alternate 0 back in place.
	_, rec = doRequest(dev, SetInterfaceSetup(0, 1))
	require.Equal(t, pkg.ResponseAck, rec.Status)
	_, rec = doRequest(dev, SetConfigurationSetup(1))
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.Same(t, config.Interface(0, 0), config.ActiveInterface(0))

	_, rec = doRequest(dev, SetConfigurationSetup(9))
	assert.Equal(t, pkg.ResponseStall, rec.Status)
	assert.Same(t, config, dev.ActiveConfiguration())

	_, rec = doRequest(dev, SetConfigurationSetup(0))
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.Equal(t, StateAddress, dev.State())

	_, rec = doRequest(dev, GetConfigurationSetup())
	assert.Equal(t, []byte{0}, rec.Data)
}

func TestHandleEndpointStatus(t *testing.T) {
	dev := setupTestDevice(t)

	tests := []struct {
		name    string
		address uint16
		want    []byte
	}{
		{"control OUT", 0x00, []byte{0, 0}},
		{"control IN", 0x80, []byte{0, 0}},
		{"interrupt IN", 0x81, []byte{0, 0}},
		{"bulk OUT", 0x03, []byte{0, 0}},
		{"inactive alternate", 0x02, nil},
		{"unknown", 0x85, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, rec := doRequest(dev, GetStatusSetup(RequestRecipientEndpoint, tt.address))
			if tt.want == nil {
				assert.Equal(t, pkg.ResponseStall, rec.Status)
				return
			}
			assert.Equal(t, tt.want, rec.Data)
		})
	}
}

func TestHandleEndpointFeature(t *testing.T) {
	dev := setupTestDevice(t)
	backend := &recordingBackend{}
	dev.SetBackend(backend)
	ep := dev.FindEndpoint(0x83)
	require.NotNil(t, ep)

	_, rec := doRequest(dev, SetFeatureSetup(RequestRecipientEndpoint, FeatureEndpointHalt, 0x83))
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.True(t, ep.IsStalled())

	_, rec = doRequest(dev, GetStatusSetup(RequestRecipientEndpoint, 0x83))
	assert.Equal(t, []byte{1, 0}, rec.Data)

	ep.ToggleData()
	_, rec = doRequest(dev, ClearFeatureSetup(RequestRecipientEndpoint, FeatureEndpointHalt, 0x83))
	assert.Equal(t, pkg.ResponseAck, rec.Status)
	assert.False(t, ep.IsStalled())
	assert.False(t, ep.DataToggle())
	assert.Equal(t, []haltCall{{3, EndpointDirectionIn}}, backend.calls)

	_, rec = doRequest(dev, SetFeatureSetup(RequestRecipientEndpoint, FeatureDeviceRemoteWakeup, 0x83))
	assert.Equal(t, pkg.ResponseStall, rec.Status)

	_, rec = doRequest(dev, ClearFeatureSetup(RequestRecipientEndpoint, FeatureEndpointHalt, 0x86))
	assert.Equal(t, pkg.ResponseStall, rec.Status)
}

func TestHandleSetup_Unhandled(t *testing.T) {
	tests := []struct {
		name  string
		setup SetupPacket
	}{
		{"vendor device request", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeVendor | RequestRecipientDevice,
			Request:     0x01,
			Length:      4,
		}},
		{"class interface request", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeClass | RequestRecipientInterface,
			Request:     0x0A,
		}},
		{"other recipient", GetStatusSetup(RequestRecipientOther, 0)},
		{"interface status", GetStatusSetup(RequestRecipientInterface, 0)},
		{"synch frame", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientEndpoint,
			Request:     RequestSynchFrame,
			Index:       0x81,
			Length:      2,
		}},
		{"set descriptor", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestSetDescriptor,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := setupTestDevice(t)
			req, rec := doRequest(dev, tt.setup)
			assert.Equal(t, pkg.ResponseStall, rec.Status)
			assert.Equal(t, 1, rec.Calls)
			assert.NoError(t, req.Err())
		})
	}
}

func BenchmarkHandleGetDescriptor(b *testing.B) {
	dev := setupTestDevice(b)
	setup := GetDescriptorSetup(RequestRecipientDevice, DescriptorTypeConfiguration, 0, 0, 255)
	rec := &ResponseRecorder{}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dev.HandleSetup(NewControlRequest(setup, nil, rec))
	}
}

func BenchmarkHandleSetInterface(b *testing.B) {
	dev := setupTestDevice(b)
	setups := []SetupPacket{SetInterfaceSetup(0, 1), SetInterfaceSetup(0, 0)}
	rec := &ResponseRecorder{}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dev.HandleSetup(NewControlRequest(setups[i%2], nil, rec))
	}
}
