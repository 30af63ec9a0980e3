package call

import (
	"errors"
	"fmt"
)

var (
	// ErrTransport matches every *TransportError.
	ErrTransport        = errors.New("call transport failed")
	ErrHandshakeTimeout = errors.New("call setup was not acknowledged in time")
	ErrSetupRejected    = errors.New("call setup rejected by upstream")
	ErrNotActive        = errors.New("call is not active")
)

// TransportError is a failure of the upstream channel or its credential.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("call transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// DeviceError is a microphone or speaker failure.
type DeviceError struct {
	Device string
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s device %s: %v", e.Device, e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

func deviceErr(device, op string, err error) error {
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Device: device, Op: op, Err: err}
}
