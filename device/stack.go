package device

import (
	"context"
	"errors"
	"sync"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbemu/device/hal"
	"github.com/ardnew/usbemu/pkg"
)

// MaxControlDataSize is the maximum data size for control transfers.
const MaxControlDataSize = 512

// Stack connects a Device to a transport. It reads SETUP packets and
// endpoint events from the HAL and feeds them to the device one at a time.
type Stack struct {
	device *Device
	hal    hal.DeviceHAL

	// State
	running bool
	mutex   sync.RWMutex

	cancel context.CancelFunc
	group  *errgroup.Group

	// Reusable setup packet for zero-allocation reads
	setupBuf hal.SetupPacket

	// EP0 read buffer for control OUT data stage
	ep0ReadBuf [MaxControlDataSize]byte
}

// NewStack creates a new device stack. The HAL also becomes the device's
// backend for clearing endpoint halts.
func NewStack(dev *Device, h hal.DeviceHAL) *Stack {
	dev.SetBackend(h)
	return &Stack{
		device: dev,
		hal:    h,
	}
}

// Start starts the device stack.
func (s *Stack) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return pkg.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(ctx)

	if err := s.hal.Init(ctx); err != nil {
		cancel()
		return err
	}
	if err := s.hal.Start(); err != nil {
		cancel()
		return err
	}

	s.device.Reset()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.controlLoop(gctx) })
	g.Go(func() error { return s.eventLoop(gctx) })

	s.cancel = cancel
	s.group = g
	s.running = true

	pkg.LogDebug(pkg.ComponentStack, "device stack started")
	return nil
}

// Stop stops the device stack and waits for its loops to exit.
func (s *Stack) Stop() error {
	s.mutex.Lock()
	if !s.running {
		s.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	s.running = false
	cancel, g := s.cancel, s.group
	s.mutex.Unlock()

	cancel()
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	if stopErr := s.hal.Stop(); stopErr != nil {
		return stopErr
	}

	pkg.LogDebug(pkg.ComponentStack, "device stack stopped")
	return err
}

// Wait blocks until both loops exit and returns the first error.
func (s *Stack) Wait() error {
	s.mutex.RLock()
	g := s.group
	s.mutex.RUnlock()
	if g == nil {
		return pkg.ErrNotRunning
	}
	return g.Wait()
}

// IsRunning returns true if the stack is running.
func (s *Stack) IsRunning() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.running
}

// Device returns the underlying device.
func (s *Stack) Device() *Device {
	return s.device
}

// controlLoop handles control transfers on EP0.
func (s *Stack) controlLoop(ctx context.Context) error {
	for {
		if err := s.hal.ReadSetup(ctx, &s.setupBuf); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, pkg.ErrReset) {
				s.device.Reset()
				continue
			}
			pkg.LogWarn(pkg.ComponentHAL, "error reading setup",
				"error", err)
			continue
		}

		setup := SetupPacket{
			RequestType: s.setupBuf.RequestType,
			Request:     s.setupBuf.Request,
			Value:       s.setupBuf.Value,
			Index:       s.setupBuf.Index,
			Length:      s.setupBuf.Length,
		}

		if err := s.handleSetup(ctx, setup); err != nil {
			pkg.LogWarn(pkg.ComponentStack, "error handling setup",
				"error", err,
				"request", setup.String())
		}
	}
}

// handleSetup runs one control transfer through the device.
func (s *Stack) handleSetup(ctx context.Context, setup SetupPacket) error {
	var data []byte
	if !setup.IsDeviceToHost() && setup.Length > 0 {
		n := min(int(setup.Length), MaxControlDataSize)
		read, err := s.hal.ReadEP0(ctx, s.ep0ReadBuf[:n])
		if err != nil {
			return err
		}
		data = s.ep0ReadBuf[:read]
	}

	req := NewControlRequest(setup, data, &ep0Responder{ctx: ctx, hal: s.hal})
	s.device.HandleSetup(req)
	if err := req.Err(); err != nil {
		return err
	}
	if req.Status() != pkg.ResponseAck || !setup.IsStandard() {
		return nil
	}
	return s.applySetup(&setup)
}

// applySetup mirrors an acknowledged state change into the transport.
func (s *Stack) applySetup(setup *SetupPacket) error {
	switch {
	case setup.Request == RequestSetAddress && setup.Recipient() == RequestRecipientDevice:
		return s.hal.SetAddress(s.device.Address())
	case setup.Request == RequestSetConfiguration && setup.Recipient() == RequestRecipientDevice,
		setup.Request == RequestSetInterface && setup.Recipient() == RequestRecipientInterface:
		return s.hal.ConfigureEndpoints(s.endpointConfigs())
	}
	return nil
}

// endpointConfigs returns the transport configuration for the endpoints of
// the active alternate settings, or nil when unconfigured.
func (s *Stack) endpointConfigs() []hal.EndpointConfig {
	config := s.device.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return lo.Map(config.Endpoints(), func(ep *Endpoint, _ int) hal.EndpointConfig {
		return hal.EndpointConfig{
			Address:       ep.Address,
			Attributes:    ep.Attributes,
			MaxPacketSize: ep.MaxPacketSize,
			Interval:      ep.Interval,
		}
	})
}

// eventLoop feeds non-control endpoint activity to the device.
func (s *Stack) eventLoop(ctx context.Context) error {
	var ev hal.Event
	for {
		if err := s.hal.ReadEvent(ctx, &ev); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, pkg.ErrReset) {
				continue
			}
			pkg.LogWarn(pkg.ComponentHAL, "error reading event",
				"error", err)
			continue
		}

		switch ev.Kind {
		case hal.EventDataReceived:
			s.device.HandleDataReceived(ev.Address, ev.Data)
		case hal.EventDataRequested:
			s.device.HandleDataRequested(ev.Address)
		case hal.EventBufferEmpty:
			s.device.HandleBufferEmpty(ev.Address)
		default:
			pkg.LogWarn(pkg.ComponentStack, "unknown event",
				"kind", ev.Kind.String(),
				"address", ev.Address)
		}
	}
}

// Write queues data on an IN endpoint of the active configuration.
func (s *Stack) Write(ctx context.Context, ep *Endpoint, data []byte) (int, error) {
	if !s.device.IsConfigured() {
		return 0, pkg.ErrNotConfigured
	}
	if ep == nil || !ep.IsIn() {
		return 0, pkg.ErrInvalidEndpoint
	}
	return s.hal.Write(ctx, ep.Address, data)
}

// ep0Responder answers control requests on the transport's EP0.
type ep0Responder struct {
	ctx context.Context
	hal hal.DeviceHAL
}

func (r *ep0Responder) Acknowledge() error {
	return r.hal.AckEP0()
}

func (r *ep0Responder) Stall() error {
	return r.hal.StallEP0()
}

func (r *ep0Responder) Reply(data []byte) error {
	return r.hal.WriteEP0(r.ctx, data)
}
