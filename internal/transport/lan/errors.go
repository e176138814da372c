package lan

import "errors"

var (
	// ErrNoAddress is returned when a device has no known LAN address.
	ErrNoAddress = errors.New("lan: no local address")

	// ErrRequestFailed covers transport failures and non-2xx replies.
	ErrRequestFailed = errors.New("lan: request failed")

	// ErrDeviceError is returned when the device replies with a nonzero
	// error code.
	ErrDeviceError = errors.New("lan: device returned error")
)
