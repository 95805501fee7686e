package models

import "errors"

// Authentication errors. Token errors are fatal to the connection and
// rejected at handshake; ErrUnauthorized covers requests arriving on a
// connection with no bound user.
var (
	ErrTokenMissing = errors.New("no credential provided")
	ErrTokenInvalid = errors.New("invalid or expired credential")
	ErrUnauthorized = errors.New("unauthorized")
)

// Validation errors. These are recoverable per request: the connection
// stays open, the caller gets a failure envelope.
var (
	ErrDirectPair               = errors.New("direct conversation requires exactly 2 participants")
	ErrMissingName              = errors.New("group name is required")
	ErrInsufficientParticipants = errors.New("group requires at least 3 participants")
	ErrMissingConversation      = errors.New("conversationId is required")
	ErrMissingSender            = errors.New("sender id is required")
	ErrUnknownConversation      = errors.New("conversation does not exist")
	ErrUnsupportedType          = errors.New("unsupported conversation type")
	ErrEmptyMessage             = errors.New("message requires content or an attachment")
)
