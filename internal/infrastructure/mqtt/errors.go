package mqtt

import "errors"

// Sentinel errors of the broker client. Check them with errors.Is.
var (
	// ErrNotConnected is returned by Publish and Subscribe without a live session.
	ErrNotConnected = errors.New("mqtt: client not connected")

	// ErrConnectionFailed wraps the cause of a failed Connect.
	ErrConnectionFailed = errors.New("mqtt: connection failed")

	// ErrPublishFailed wraps a rejected, oversized or timed out publish.
	ErrPublishFailed = errors.New("mqtt: publish failed")

	// ErrSubscribeFailed wraps a rejected or timed out subscription.
	ErrSubscribeFailed = errors.New("mqtt: subscribe failed")

	// ErrInvalidTopic is returned for an empty topic, or a malformed filter.
	ErrInvalidTopic = errors.New("mqtt: invalid topic")
)
