package errors

import (
	"errors"
	"fmt"
)

// Class tags a failure so callers can branch on taxonomy instead of
// matching error strings.
type Class string

const (
	// ClassTransient covers network and transport failures that are
	// expected to clear on their own: probe timeouts, an unreachable
	// registry, a dropped hub session. Retried on the next wake cycle.
	ClassTransient Class = "transient"

	// ClassPermanentDevice marks a device the registry has rejected
	// outright. The device stays parked until an operator clears it.
	ClassPermanentDevice Class = "permanent_device"

	// ClassPermanentPayload marks a single message the hub refuses
	// regardless of retries (a poison message).
	ClassPermanentPayload Class = "permanent_payload"

	// ClassFatal is reserved for local storage I/O failure. The process
	// must not keep running as if writes were durable.
	ClassFatal Class = "fatal"
)

// ClassifiedError wraps a cause with a failure class.
type ClassifiedError struct {
	Class   Class
	Message string
	Err     error
}

func (e *ClassifiedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retriable failure.
func Transient(message string, err error) error {
	return &ClassifiedError{Class: ClassTransient, Message: message, Err: err}
}

// PermanentDevice wraps err as a non-retriable device failure.
func PermanentDevice(message string, err error) error {
	return &ClassifiedError{Class: ClassPermanentDevice, Message: message, Err: err}
}

// PermanentPayload wraps err as a non-retriable payload rejection.
func PermanentPayload(message string, err error) error {
	return &ClassifiedError{Class: ClassPermanentPayload, Message: message, Err: err}
}

// Fatal wraps err as an unrecoverable local failure.
func Fatal(message string, err error) error {
	return &ClassifiedError{Class: ClassFatal, Message: message, Err: err}
}

// ClassOf extracts the failure class from err. Unclassified errors are
// reported as transient so an unknown failure never silently parks a
// device or poisons a message.
func ClassOf(err error) Class {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class
	}
	return ClassTransient
}

func IsTransient(err error) bool {
	return ClassOf(err) == ClassTransient
}

func IsPermanentDevice(err error) bool {
	return ClassOf(err) == ClassPermanentDevice
}

func IsPermanentPayload(err error) bool {
	return ClassOf(err) == ClassPermanentPayload
}

func IsFatal(err error) bool {
	return ClassOf(err) == ClassFatal
}
