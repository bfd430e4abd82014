package device

import "errors"

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrDeviceUnregistrable = errors.New("device is marked unregistrable")
	ErrInvalidDeviceID     = errors.New("invalid device id")
)
