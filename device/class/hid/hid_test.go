package hid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbemu/device"
	"github.com/ardnew/usbemu/pkg"
)

func buildKeyboard(t *testing.T) (*HID, *device.Device) {
	t.Helper()

	keyboard := New(KeyboardReportDescriptor)
	builder := device.NewDeviceBuilder().
		WithVendorProduct(0xCAFE, 0xBABE).
		AddConfiguration(1)
	keyboard.ConfigureDeviceWithOutEP(builder, 0, 0x81, 0x02, SubclassBoot, ProtocolKeyboard)

	dev, err := builder.Build()
	require.NoError(t, err)
	return keyboard, dev
}

func TestHIDDescriptor_MarshalTo(t *testing.T) {
	desc := HIDDescriptor{HIDVersion: 0x0111, ReportDescLen: 0x013F}
	buf := make([]byte, HIDDescriptorSize)
	require.Equal(t, HIDDescriptorSize, desc.MarshalTo(buf))
	assert.Equal(t, []byte{0x09, 0x21, 0x11, 0x01, 0x00, 0x01, 0x22, 0x3F, 0x01}, buf)

	assert.Zero(t, desc.MarshalTo(make([]byte, 4)))
}

func TestConfigureDevice_Encoding(t *testing.T) {
	keyboard, dev := buildKeyboard(t)

	iface := keyboard.Interface()
	require.NotNil(t, iface)
	assert.Equal(t, uint8(ClassHID), iface.Class)
	assert.Equal(t, 2, iface.NumEndpoints())

	encoded := iface.Encode(dev.Strings())
	// interface header, HID class descriptor, then two endpoints
	require.Len(t, encoded, 9+HIDDescriptorSize+7+7)
	assert.Equal(t, []byte{0x09, 0x04, 0x00, 0x00, 0x02, 0x03, 0x01, 0x01, 0x00}, encoded[:9])
	assert.Equal(t, byte(DescriptorTypeHID), encoded[10])
	assert.Equal(t, byte(len(KeyboardReportDescriptor)), encoded[16])
	assert.Equal(t, []byte{0x07, 0x05, 0x81, 0x03, 0x08, 0x00, DefaultInterval}, encoded[18:25])
}

func TestClassDescriptorTracksReportLength(t *testing.T) {
	keyboard := New(KeyboardReportDescriptor)
	class := keyboard.ClassDescriptor()
	assert.True(t, class.Source.IsLazy())

	keyboard.SetReportDescriptor(MouseReportDescriptor)
	data := class.Bytes()
	assert.Equal(t, byte(len(MouseReportDescriptor)), data[7])
}

func TestReportDescriptorRequest(t *testing.T) {
	keyboard, dev := buildKeyboard(t)

	dev.Reset()
	require.NoError(t, dev.SetAddress(1))
	require.NoError(t, dev.SetConfiguration(1))

	rec := &device.ResponseRecorder{}
	setup := device.GetDescriptorSetup(device.RequestRecipientInterface, DescriptorTypeReport, 0, 0, 0xFF)
	dev.HandleSetup(device.NewControlRequest(setup, nil, rec))

	assert.Equal(t, keyboard.ReportDescriptor(), rec.Data)
}

func TestOutputReportCallback(t *testing.T) {
	keyboard, dev := buildKeyboard(t)
	dev.Reset()
	require.NoError(t, dev.SetAddress(1))
	require.NoError(t, dev.SetConfiguration(1))

	var got []byte
	keyboard.SetOnOutputReport(func(data []byte) { got = data })

	polled := false
	keyboard.SetOnPoll(func() { polled = true })

	dev.HandleDataReceived(0x02, []byte{LEDCapsLock})
	dev.HandleDataRequested(0x81)

	assert.Equal(t, []byte{LEDCapsLock}, got)
	assert.True(t, polled)
}

func TestAttachRequiresInterruptIn(t *testing.T) {
	keyboard, _ := buildKeyboard(t)
	attached := keyboard.Interface()

	bulk, err := device.NewInterface(device.InterfaceConfig{
		Number: 1,
		Class:  device.ClassVendor,
		Endpoints: []*device.Endpoint{
			{Address: 0x83, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64},
			{Address: 0x04, Attributes: device.EndpointTypeInterrupt, MaxPacketSize: 8},
		},
	})
	require.NoError(t, err)

	assert.ErrorIs(t, keyboard.Attach(bulk), pkg.ErrInvalidEndpoint)
	assert.Same(t, attached, keyboard.Interface())
	assert.Nil(t, bulk.GetEndpoint(4, device.EndpointDirectionOut).OnDataReceived)
}

func TestAttachFailureFailsBuild(t *testing.T) {
	builder := device.NewDeviceBuilder().
		WithVendorProduct(0xCAFE, 0xBABE).
		AddConfiguration(1).
		AddInterface(0, 0, device.ClassVendor, 0, 0).
		AddEndpoint(0x81, device.EndpointTypeBulk, 64)

	New(KeyboardReportDescriptor).attachTo(builder)

	dev, err := builder.Build()
	assert.Nil(t, dev)
	assert.ErrorIs(t, err, pkg.ErrInvalidEndpoint)
}

func TestSendReportWithoutStack(t *testing.T) {
	keyboard, _ := buildKeyboard(t)
	err := keyboard.SendKeyboardReport(t.Context(), &KeyboardReport{})
	assert.Error(t, err)
}

func TestKeyboardReport(t *testing.T) {
	var r KeyboardReport
	r.Modifiers = ModLeftShift
	for _, k := range []uint8{4, 5, 6, 7, 8, 9} {
		require.True(t, r.Press(k))
	}
	assert.True(t, r.Press(5), "already pressed")
	assert.False(t, r.Press(10), "no free slot")

	r.Release(5)
	assert.Equal(t, [6]uint8{4, 6, 7, 8, 9, 0}, r.Keys)

	buf := make([]byte, KeyboardReportSize)
	require.Equal(t, KeyboardReportSize, r.MarshalTo(buf))
	assert.Equal(t, []byte{ModLeftShift, 0, 4, 6, 7, 8, 9, 0}, buf)
}

func TestMouseReport(t *testing.T) {
	r := MouseReport{Buttons: MouseButtonLeft, X: -1, Y: 2, Wheel: -3}
	buf := make([]byte, MouseReportSize)
	require.Equal(t, MouseReportSize, r.MarshalTo(buf))
	assert.Equal(t, []byte{0x01, 0xFF, 0x02, 0xFD}, buf)
	assert.Zero(t, r.MarshalTo(buf[:2]))
}
