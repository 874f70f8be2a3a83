package publish

import "errors"

var (
	// ErrConnectionFailed is returned when the broker cannot be reached.
	ErrConnectionFailed = errors.New("publish: connection failed")

	// ErrPublishFailed is logged when the broker rejects or times out a message.
	ErrPublishFailed = errors.New("publish: publish failed")

	// ErrInvalidTopic is returned for an empty topic prefix.
	ErrInvalidTopic = errors.New("publish: topic cannot be empty")
)
