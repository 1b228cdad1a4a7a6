package pkg

import "errors"

// Definition errors. These describe an invalid device description and abort
// construction of the device that produced them.
var (
	// ErrDuplicateEndpointAddress indicates two endpoints share an address
	// within one interface.
	ErrDuplicateEndpointAddress = errors.New("duplicate endpoint address")

	// ErrDuplicateDescriptor indicates two requestable descriptors share a
	// type and number within one owner.
	ErrDuplicateDescriptor = errors.New("duplicate descriptor identifier")

	// ErrMissingDescriptorNumber indicates a requestable descriptor was
	// attached without a descriptor number.
	ErrMissingDescriptorNumber = errors.New("missing descriptor number")

	// ErrDuplicateInterface indicates two interfaces share a number and
	// alternate setting within one configuration.
	ErrDuplicateInterface = errors.New("duplicate interface identifier")

	// ErrDuplicateConfiguration indicates two configurations share a value.
	ErrDuplicateConfiguration = errors.New("duplicate configuration value")

	// ErrInvalidDefinition indicates a malformed declarative device table.
	ErrInvalidDefinition = errors.New("invalid device definition")
)

// Protocol errors. These never escape a request handler as failures; they
// are answered with a STALL handshake.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNotConfigured indicates the device is not configured.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrAlreadyResponded indicates a second response to one control request.
	ErrAlreadyResponded = errors.New("request already answered")
)

// Wire and runtime errors.
var (
	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrNoDevice indicates an entity is not attached to a device.
	ErrNoDevice = errors.New("device not present")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrStringTableFull indicates no string descriptor index is left.
	ErrStringTableFull = errors.New("string table full")
)

// ResponseStatus records how a control request was answered.
type ResponseStatus int

// Response status values.
const (
	ResponsePending ResponseStatus = iota // No response yet
	ResponseAck                           // Zero-length status stage
	ResponseData                          // Data stage sent
	ResponseStall                         // STALL handshake
)

// String returns a string representation of the response status.
func (s ResponseStatus) String() string {
	switch s {
	case ResponsePending:
		return "pending"
	case ResponseAck:
		return "ack"
	case ResponseData:
		return "data"
	case ResponseStall:
		return "stall"
	default:
		return "unknown"
	}
}

// Error returns the corresponding error for the response status.
func (s ResponseStatus) Error() error {
	switch s {
	case ResponseAck, ResponseData:
		return nil
	case ResponseStall:
		return ErrStall
	case ResponsePending:
		return ErrInvalidRequest
	default:
		return ErrInvalidState
	}
}
