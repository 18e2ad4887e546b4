package inspector

import (
	"errors"
	"strings"
)

const (
	CodeInvalidRequest   = "invalid_request"
	CodeNotConnected     = "not_connected"
	CodeConnectionFailed = "connection_failed"
	CodeServiceBus       = "servicebus_error"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrNotConnected     = errors.New("not connected to service bus")
	ErrConnectionFailed = errors.New("connection failed")
	ErrServiceBus       = errors.New("service bus operation failed")
)

// OpError is a transport-neutral operation failure. Detail is safe to show
// to the user; Unwrap exposes the sentinel (and the cause, if any).
type OpError struct {
	Code   string
	Detail string

	base  error
	cause error
}

func (e *OpError) Error() string {
	if e == nil {
		return ""
	}
	return e.Detail
}

func (e *OpError) Unwrap() []error {
	if e == nil {
		return nil
	}
	out := make([]error, 0, 2)
	if e.base != nil {
		out = append(out, e.base)
	}
	if e.cause != nil {
		out = append(out, e.cause)
	}
	return out
}

func newOpError(code, detail string, cause error) *OpError {
	var base error
	switch code {
	case CodeInvalidRequest:
		base = ErrInvalidRequest
	case CodeNotConnected:
		base = ErrNotConnected
	case CodeConnectionFailed:
		base = ErrConnectionFailed
	default:
		base = ErrServiceBus
	}
	return &OpError{
		Code:   code,
		Detail: strings.TrimSpace(detail),
		base:   base,
		cause:  cause,
	}
}

func notConnected() *OpError {
	return newOpError(CodeNotConnected, "Not connected to Service Bus", nil)
}

func serviceBusError(err error) *OpError {
	return newOpError(CodeServiceBus, err.Error(), err)
}
