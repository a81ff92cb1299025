package device

import (
	"context"
	"errors"
	"fmt"
)

// Reason is the classified cause of a failed device operation.
type Reason string

const (
	ReasonNoAdapter            Reason = "NO_ADAPTER"
	ReasonAlreadyConnecting    Reason = "ALREADY_CONNECTING"
	ReasonNotConnected         Reason = "NOT_CONNECTED"
	ReasonNotMounted           Reason = "NOT_MOUNTED"
	ReasonPermissionDenied     Reason = "PERMISSION_DENIED"
	ReasonDeviceBusy           Reason = "DEVICE_BUSY"
	ReasonSubsystemUnavailable Reason = "SUBSYSTEM_UNAVAILABLE"
	ReasonTimeout              Reason = "TIMEOUT"
	ReasonCancelled            Reason = "CANCELLED"
	ReasonUnknown              Reason = "UNKNOWN"
)

// Retryable reports whether an attempt failing for r may be repeated.
func (r Reason) Retryable() bool {
	return r == ReasonDeviceBusy || r == ReasonTimeout
}

// Error is the only error kind that leaves a transport or the coordinator.
type Error struct {
	Reason   Reason
	Op       string
	DeviceID string
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Reason)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.DeviceID != "" {
		msg += " (" + e.DeviceID + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(reason Reason, op, deviceID string, err error) *Error {
	return &Error{Reason: reason, Op: op, DeviceID: deviceID, Err: err}
}

// Errorf creates an Error whose cause is a formatted message.
func Errorf(reason Reason, op, deviceID, format string, args ...interface{}) *Error {
	return NewError(reason, op, deviceID, fmt.Errorf(format, args...))
}

// ReasonOf extracts the Reason carried by err, mapping bare context errors
// and anything unclassified.
func ReasonOf(err error) Reason {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	switch {
	case errors.Is(err, context.Canceled):
		return ReasonCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	}
	return ReasonUnknown
}

// IsReason reports whether err is classified as any of reasons.
func IsReason(err error, reasons ...Reason) bool {
	if err == nil {
		return false
	}
	got := ReasonOf(err)
	for _, r := range reasons {
		if got == r {
			return true
		}
	}
	return false
}

// Classify returns err as an *Error, keeping an existing classification
// and filling in the device id when missing.
func Classify(err error, op, deviceID string) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		if de.DeviceID == "" {
			cp := *de
			cp.DeviceID = deviceID
			return &cp
		}
		return de
	}
	return NewError(ReasonOf(err), op, deviceID, err)
}
