package message

import "errors"

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEmptyPayload    = errors.New("payload must not be empty")
)
