package device

import (
	"github.com/ardnew/usbemu/pkg"
)

// Responder carries the handshake of a control transfer back to the host.
type Responder interface {
	// Acknowledge completes the request with a zero-length status stage.
	Acknowledge() error

	// Stall answers the request with a STALL handshake.
	Stall() error

	// Reply sends data in the data stage.
	Reply(data []byte) error
}

// ControlRequest is one control transfer being handled. Handlers answer it
// exactly once through Acknowledge, Stall or Reply.
type ControlRequest struct {
	SetupPacket

	// Data holds the data stage of a host-to-device request.
	Data []byte

	responder Responder
	status    pkg.ResponseStatus
	err       error
}

// NewControlRequest wraps setup for handling. r receives the response.
func NewControlRequest(setup SetupPacket, data []byte, r Responder) *ControlRequest {
	return &ControlRequest{
		SetupPacket: setup,
		Data:        data,
		responder:   r,
	}
}

// Acknowledge completes the request without data.
func (r *ControlRequest) Acknowledge() {
	r.respond(pkg.ResponseAck, func() error { return r.responder.Acknowledge() })
}

// Stall rejects the request.
func (r *ControlRequest) Stall() {
	r.respond(pkg.ResponseStall, func() error { return r.responder.Stall() })
}

// Reply sends data, truncated to the host's wLength.
func (r *ControlRequest) Reply(data []byte) {
	if len(data) > int(r.Length) {
		data = data[:r.Length]
	}
	r.respond(pkg.ResponseData, func() error { return r.responder.Reply(data) })
}

func (r *ControlRequest) respond(status pkg.ResponseStatus, send func() error) {
	if r.status != pkg.ResponsePending {
		pkg.LogWarn(pkg.ComponentRequest, "duplicate response dropped",
			"request", r.String(),
			"previous", r.status.String(),
			"attempted", status.String())
		if r.err == nil {
			r.err = pkg.ErrAlreadyResponded
		}
		return
	}
	r.status = status
	if r.responder == nil {
		return
	}
	if err := send(); err != nil {
		pkg.LogWarn(pkg.ComponentRequest, "response failed",
			"request", r.String(),
			"status", status.String(),
			"error", err)
		r.err = err
	}
}

// Status returns how the request was answered.
func (r *ControlRequest) Status() pkg.ResponseStatus {
	return r.status
}

// Responded reports whether the request has been answered.
func (r *ControlRequest) Responded() bool {
	return r.status != pkg.ResponsePending
}

// Err returns the first error raised while sending a response.
func (r *ControlRequest) Err() error {
	return r.err
}

// ResponseRecorder is a Responder that records what it was asked to send.
type ResponseRecorder struct {
	Status pkg.ResponseStatus
	Data   []byte
	Calls  int
}

// Acknowledge records an acknowledge.
func (rec *ResponseRecorder) Acknowledge() error {
	rec.Calls++
	rec.Status = pkg.ResponseAck
	rec.Data = nil
	return nil
}

// Stall records a stall.
func (rec *ResponseRecorder) Stall() error {
	rec.Calls++
	rec.Status = pkg.ResponseStall
	rec.Data = nil
	return nil
}

// Reply records a copy of data.
func (rec *ResponseRecorder) Reply(data []byte) error {
	rec.Calls++
	rec.Status = pkg.ResponseData
	rec.Data = append([]byte{}, data...)
	return nil
}

// requestRoute binds a standard request code and recipient to a handler.
type requestRoute[T any] struct {
	request   uint8
	recipient uint8
	handle    func(T, *ControlRequest)
}

// lookupRoute finds the route for setup by linear search.
func lookupRoute[T any](routes []requestRoute[T], setup *SetupPacket) (func(T, *ControlRequest), bool) {
	for _, r := range routes {
		if r.request == setup.Request && r.recipient == setup.Recipient() {
			return r.handle, true
		}
	}
	return nil, false
}
