package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbemu/pkg"
)

func TestDeviceDescriptor_MarshalTo(t *testing.T) {
	desc := &DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       ClassPerInterface,
		MaxPacketSize0:    64,
		VendorID:          0xCAFE,
		ProductID:         0xBABE,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}

	var buf [DeviceDescriptorSize]byte
	n := desc.MarshalTo(buf[:])
	if n != DeviceDescriptorSize {
		t.Fatalf("expected 18 bytes, got %d", n)
	}
	want := []byte{
		0x12, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x40,
		0xFE, 0xCA, 0xBE, 0xBA, 0x00, 0x01, 0x01, 0x02, 0x03, 0x01,
	}
	assert.Equal(t, want, buf[:])
	assert.Zero(t, desc.MarshalTo(buf[:10]))
}

func TestConfigurationDescriptor_MarshalTo(t *testing.T) {
	desc := &ConfigurationDescriptor{
		TotalLength:        0x0122,
		NumInterfaces:      2,
		ConfigurationValue: 1,
		ConfigurationIndex: 4,
		Attributes:         ConfigAttrBusPowered | ConfigAttrRemoteWakeup,
		MaxPower:           50,
	}

	var buf [ConfigurationDescriptorSize]byte
	require.Equal(t, ConfigurationDescriptorSize, desc.MarshalTo(buf[:]))
	assert.Equal(t, []byte{0x09, 0x02, 0x22, 0x01, 0x02, 0x01, 0x04, 0xA0, 0x32}, buf[:])
}

func TestInterfaceDescriptor_RoundTrip(t *testing.T) {
	original := InterfaceDescriptor{
		InterfaceNumber:   1,
		AlternateSetting:  2,
		NumEndpoints:      3,
		InterfaceClass:    ClassVendor,
		InterfaceSubClass: 0x42,
		InterfaceProtocol: 0x07,
		InterfaceIndex:    5,
	}

	var buf [InterfaceDescriptorSize]byte
	require.Equal(t, InterfaceDescriptorSize, original.MarshalTo(buf[:]))
	assert.Equal(t, []byte{0x09, 0x04, 0x01, 0x02, 0x03, 0xFF, 0x42, 0x07, 0x05}, buf[:])

	var parsed InterfaceDescriptor
	require.NoError(t, ParseInterfaceDescriptor(buf[:], &parsed))
	assert.Equal(t, original, parsed)
}

func TestParseInterfaceDescriptor_IgnoresHeader(t *testing.T) {
	// The length and type bytes are not validated.
	data := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x08, 0x06, 0x50, 0x00, 0xAA}

	var parsed InterfaceDescriptor
	require.NoError(t, ParseInterfaceDescriptor(data, &parsed))
	assert.Equal(t, uint8(3), parsed.InterfaceNumber)
	assert.Equal(t, uint8(1), parsed.AlternateSetting)
	assert.Equal(t, uint8(ClassMassStorage), parsed.InterfaceClass)

	err := ParseInterfaceDescriptor(data[:8], &parsed)
	assert.ErrorIs(t, err, pkg.ErrDescriptorTooShort)
}

func TestEndpointDescriptor_RoundTrip(t *testing.T) {
	original := EndpointDescriptor{
		EndpointAddress: 0x81,
		Attributes:      EndpointTypeInterrupt,
		MaxPacketSize:   0x0200,
		Interval:        4,
	}

	var buf [EndpointDescriptorSize]byte
	require.Equal(t, EndpointDescriptorSize, original.MarshalTo(buf[:]))
	assert.Equal(t, []byte{0x07, 0x05, 0x81, 0x03, 0x00, 0x02, 0x04}, buf[:])

	var parsed EndpointDescriptor
	require.NoError(t, ParseEndpointDescriptor(buf[:], &parsed))
	assert.Equal(t, original, parsed)

	buf[1] = DescriptorTypeInterface
	assert.ErrorIs(t, ParseEndpointDescriptor(buf[:], &parsed), pkg.ErrDescriptorTypeMismatch)
	assert.ErrorIs(t, ParseEndpointDescriptor(buf[:3], &parsed), pkg.ErrDescriptorTooShort)
}

func TestDescriptorSource(t *testing.T) {
	static := StaticDescriptor([]byte{0x01, 0x02})
	assert.False(t, static.IsLazy())
	assert.Equal(t, []byte{0x01, 0x02}, static.Bytes())

	calls := 0
	lazy := LazyDescriptor(func() []byte {
		calls++
		return []byte{byte(calls)}
	})
	assert.True(t, lazy.IsLazy())
	assert.Zero(t, calls, "producer must not run before emission")

	assert.Equal(t, []byte{0xAA, 0x01}, lazy.AppendTo([]byte{0xAA}))
	assert.Equal(t, []byte{0x02}, lazy.Bytes())
	assert.Equal(t, 2, calls)
}

func TestDescriptorIdentity(t *testing.T) {
	d := &Descriptor{Type: 0x22, Number: DescriptorNumber(1)}
	assert.Equal(t, DescriptorID{Type: 0x22, Number: 1}, d.ID())
	assert.Equal(t, "0x22:1", d.ID().String())
	assert.Equal(t, "descriptor 0x22", d.String())

	d.Name = "report"
	assert.Equal(t, "report", d.String())

	unnumbered := &Descriptor{Type: 0x21}
	assert.Equal(t, DescriptorID{Type: 0x21}, unnumbered.ID())
}

func TestDescriptorRegistry(t *testing.T) {
	r := make(descriptorRegistry)

	first := &Descriptor{Name: "first", Type: 0x22, Number: DescriptorNumber(0)}
	require.NoError(t, r.add(first))

	t.Run("missing number", func(t *testing.T) {
		err := r.add(&Descriptor{Type: 0x22})
		assert.ErrorIs(t, err, pkg.ErrMissingDescriptorNumber)
		assert.Len(t, r, 1)
	})

	t.Run("duplicate", func(t *testing.T) {
		err := r.add(&Descriptor{Name: "second", Type: 0x22, Number: DescriptorNumber(0)})
		require.ErrorIs(t, err, pkg.ErrDuplicateDescriptor)

		var dup *DuplicateDescriptorError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "second", dup.Added)
		assert.Equal(t, "first", dup.Existing)
		assert.Same(t, first, r[DescriptorID{Type: 0x22}])
	})

	t.Run("same type other number", func(t *testing.T) {
		require.NoError(t, r.add(&Descriptor{Type: 0x22, Number: DescriptorNumber(1)}))
		assert.Len(t, r, 2)
	})
}
