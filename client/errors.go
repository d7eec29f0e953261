package client

import "errors"

var (
	// ErrClosed is returned by operations on a chat client that has been
	// shut down.
	ErrClosed = errors.New("chat client is closed")
	// ErrUnknownConversation is returned when an operation names a
	// conversation the directory has never seen.
	ErrUnknownConversation = errors.New("unknown conversation")
)
