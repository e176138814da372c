package cloud

import "errors"

var (
	// ErrRejected is returned when the cloud acks a command with an error.
	ErrRejected = errors.New("cloud: command rejected")

	// ErrAckTimeout is returned when no ack arrives before the deadline.
	ErrAckTimeout = errors.New("cloud: ack timeout")

	// ErrNotStarted is returned by Send before Start or after Stop.
	ErrNotStarted = errors.New("cloud: transport not started")

	// ErrNoClient is returned by New without an MQTT client.
	ErrNoClient = errors.New("cloud: mqtt client required")
)
