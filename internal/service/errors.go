package service

import "errors"

// Ingest and command boundary errors.
var (
	ErrInvalidSignature = errors.New("push payload signature invalid")
	ErrMalformedPayload = errors.New("push payload is not valid JSON")
	ErrUnknownEventType = errors.New("push event type unknown")
	ErrUnknownCommand   = errors.New("unknown command")
	ErrInvalidParams    = errors.New("invalid command parameters")
)
