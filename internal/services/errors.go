package services

import "errors"

var (
	ErrDeviceIDRequired   = errors.New("device id required")
	ErrServiceUnavailable = errors.New("service temporarily unavailable")
)
