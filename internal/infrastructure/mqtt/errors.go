package mqtt

import "errors"

var (
	// ErrDisabled is returned by Connect when mqtt.enabled is false. The
	// dashboard runs without a publisher in that case.
	ErrDisabled = errors.New("mqtt: disabled in configuration")

	// ErrInvalidBrokerURL covers an unparseable broker.url or an unknown scheme.
	ErrInvalidBrokerURL = errors.New("mqtt: invalid broker url")

	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrSubscribeFailed  = errors.New("mqtt: subscribe failed")

	// Argument errors, returned before the broker is contacted.
	ErrInvalidTopic = errors.New("mqtt: topic cannot be empty")
	ErrInvalidQoS   = errors.New("mqtt: qos must be 0, 1 or 2")
)
