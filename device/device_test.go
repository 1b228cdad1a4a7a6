package device

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbemu/pkg"
)

func TestNewDevice(t *testing.T) {
	desc := DeviceDescriptor{
		USBVersion:     0x0200,
		DeviceClass:    ClassPerInterface,
		MaxPacketSize0: 64,
		VendorID:       0x1234,
		ProductID:      0x5678,
	}

	dev := NewDevice(desc)

	if dev.Descriptor != desc {
		t.Errorf("Descriptor = %+v, want %+v", dev.Descriptor, desc)
	}
	if dev.State() != StateAttached {
		t.Errorf("State() = %v, want %v", dev.State(), StateAttached)
	}
	if dev.Speed() != SpeedFull {
		t.Errorf("Speed() = %v, want %v", dev.Speed(), SpeedFull)
	}
	if dev.Strings() == nil {
		t.Error("Strings() = nil")
	}
	if dev.ActiveConfiguration() != nil {
		t.Error("new device should not be configured")
	}
}

func TestDeviceConfiguration(t *testing.T) {
	dev := NewDevice(DeviceDescriptor{MaxPacketSize0: 64})
	first := NewConfiguration(1)
	second := NewConfiguration(2)

	require.NoError(t, dev.AddConfiguration(first))
	require.NoError(t, dev.AddConfiguration(second))

	err := dev.AddConfiguration(NewConfiguration(1))
	assert.ErrorIs(t, err, pkg.ErrDuplicateConfiguration)

	assert.Same(t, first, dev.GetConfiguration(1))
	assert.Nil(t, dev.GetConfiguration(3))
	assert.Equal(t, []*Configuration{first, second}, dev.Configurations())
	assert.Equal(t, uint8(2), dev.Descriptor.NumConfigurations)
	assert.Same(t, dev, second.Device())
}

func TestDeviceStateTransitions(t *testing.T) {
	dev := NewDevice(DeviceDescriptor{MaxPacketSize0: 64})
	require.NoError(t, dev.AddConfiguration(NewConfiguration(1)))

	var transitions [][2]State
	dev.SetOnStateChange(func(old, new State) {
		transitions = append(transitions, [2]State{old, new})
	})

	assert.ErrorIs(t, dev.SetAddress(1), pkg.ErrInvalidState, "attached devices have no address")
	assert.ErrorIs(t, dev.SetConfiguration(1), pkg.ErrInvalidState)

	dev.Reset()
	assert.Equal(t, StateDefault, dev.State())
	assert.ErrorIs(t, dev.SetConfiguration(1), pkg.ErrInvalidState)

	require.NoError(t, dev.SetAddress(5))
	assert.Equal(t, StateAddress, dev.State())
	assert.Equal(t, uint8(5), dev.Address())

	require.NoError(t, dev.SetConfiguration(1))
	assert.Equal(t, StateConfigured, dev.State())
	assert.True(t, dev.IsConfigured())

	assert.ErrorIs(t, dev.SetConfiguration(4), pkg.ErrInvalidRequest)
	assert.True(t, dev.IsConfigured())

	require.NoError(t, dev.SetConfiguration(0))
	assert.Equal(t, StateAddress, dev.State())
	assert.Nil(t, dev.ActiveConfiguration())

	require.NoError(t, dev.SetAddress(0))
	assert.Equal(t, StateDefault, dev.State())

	assert.Equal(t, [][2]State{
		{StateAttached, StateDefault},
		{StateDefault, StateAddress},
		{StateAddress, StateConfigured},
		{StateConfigured, StateAddress},
		{StateAddress, StateDefault},
	}, transitions)
}

func TestDeviceReset(t *testing.T) {
	dev := setupTestDevice(t)
	dev.EnableRemoteWakeup(true)

	dev.Reset()

	assert.Equal(t, StateDefault, dev.State())
	assert.Zero(t, dev.Address())
	assert.Nil(t, dev.ActiveConfiguration())
	assert.False(t, dev.IsRemoteWakeupEnabled())
}

func TestDeviceSetConfigurationCallback(t *testing.T) {
	dev := setupTestDevice(t)
	var got []*Configuration
	dev.SetOnSetConfiguration(func(config *Configuration) {
		got = append(got, config)
	})

	require.NoError(t, dev.SetConfiguration(0))
	require.NoError(t, dev.SetConfiguration(1))

	require.Len(t, got, 2)
	assert.Nil(t, got[0])
	assert.Same(t, dev.GetConfiguration(1), got[1])
}

func TestDeviceFindEndpoint(t *testing.T) {
	dev := setupTestDevice(t)
	config := dev.ActiveConfiguration()

	assert.Same(t, config.Interface(0, 0).GetEndpoint(1, EndpointDirectionIn), dev.FindEndpoint(0x81))
	assert.Nil(t, dev.FindEndpoint(0x02))

	config.SetActiveInterface(config.Interface(0, 1))
	assert.Same(t, config.Interface(0, 1).GetEndpoint(1, EndpointDirectionIn), dev.FindEndpoint(0x81))
	assert.NotNil(t, dev.FindEndpoint(0x02))

	require.NoError(t, dev.SetConfiguration(0))
	assert.Nil(t, dev.FindEndpoint(0x81))
}

func TestDeviceTraffic(t *testing.T) {
	dev := setupTestDevice(t)
	config := dev.ActiveConfiguration()

	var got []string
	record := func(name string) func(*Endpoint) {
		return func(*Endpoint) { got = append(got, name) }
	}
	config.Interface(0, 0).GetEndpoint(1, EndpointDirectionIn).OnDataRequested = record("alt0 poll")
	config.Interface(0, 1).GetEndpoint(1, EndpointDirectionIn).OnDataRequested = record("alt1 poll")
	config.Interface(0, 1).GetEndpoint(2, EndpointDirectionOut).OnDataReceived = func(_ *Endpoint, data []byte) {
		got = append(got, "alt1 data "+string(data))
	}
	config.Interface(1, 0).GetEndpoint(3, EndpointDirectionIn).OnBufferEmpty = record("bulk empty")

	var unexpected []uint8
	dev.SetOnUnexpectedData(func(number uint8, _ []byte) { unexpected = append(unexpected, number) })
	dev.SetOnUnexpectedRequest(func(number uint8) { unexpected = append(unexpected, number) })

	dev.HandleDataRequested(0x81)
	dev.HandleDataReceived(0x02, []byte("x"))
	dev.HandleBufferEmpty(0x83)
	dev.HandleBufferEmpty(0x84)

	_, rec := doRequest(dev, SetInterfaceSetup(0, 1))
	require.Equal(t, pkg.ResponseAck, rec.Status)

	dev.HandleDataRequested(0x81)
	dev.HandleDataReceived(0x02, []byte("y"))
	dev.HandleDataRequested(0x86)

	assert.Equal(t, []string{"alt0 poll", "bulk empty", "alt1 poll", "alt1 data y"}, got)
	assert.Equal(t, []uint8{2, 6}, unexpected)
}

func TestDeviceTraffic_Unconfigured(t *testing.T) {
	dev := NewDevice(DeviceDescriptor{MaxPacketSize0: 64})

	var unexpected int
	dev.SetOnUnexpectedData(func(uint8, []byte) { unexpected++ })
	dev.SetOnUnexpectedRequest(func(uint8) { unexpected++ })

	dev.HandleDataReceived(0x01, []byte{1})
	dev.HandleDataRequested(0x81)
	dev.HandleBufferEmpty(0x81)

	assert.Equal(t, 2, unexpected)
}

func TestDeviceSerializesHandlers(t *testing.T) {
	dev := setupTestDevice(t)
	ep := dev.FindEndpoint(0x81)

	// Handlers mutate unguarded state; the race detector flags any overlap.
	var count int
	ep.OnDataRequested = func(*Endpoint) { count++ }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				dev.HandleDataRequested(0x81)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				doRequest(dev, GetInterfaceSetup(0))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 400, count)
}

func TestDeviceRemoteWakeup(t *testing.T) {
	dev := NewDevice(DeviceDescriptor{})

	assert.False(t, dev.IsRemoteWakeupEnabled())
	dev.EnableRemoteWakeup(true)
	assert.True(t, dev.IsRemoteWakeupEnabled())
	assert.Equal(t, DeviceStatusRemoteWakeup, dev.GetStatus())
}

func TestDeviceDescriptorFor(t *testing.T) {
	dev := NewDevice(DeviceDescriptor{ManufacturerIndex: 9, SerialNumberIndex: 4})
	dev.Product = Str("Widget")

	desc := dev.DeviceDescriptorFor()

	assert.Equal(t, uint8(9), desc.ManufacturerIndex, "raw index kept without text")
	assert.Equal(t, uint8(1), desc.ProductIndex)
	assert.Equal(t, uint8(4), desc.SerialNumberIndex)
	assert.Zero(t, dev.Descriptor.ProductIndex)
}
