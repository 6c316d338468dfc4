package domain

import "errors"

var (
	// Integridad del transcript.
	ErrInvalidRoleOrder     = errors.New("invalid role order")
	ErrInvalidContent       = errors.New("invalid message content")
	ErrMalformedTranscript  = errors.New("malformed transcript")
	ErrConversationNotFound = errors.New("conversation not found")

	// Uso incorrecto del controlador de sesión.
	ErrSessionBusy    = errors.New("session busy")
	ErrInvalidState   = errors.New("invalid session state")
	ErrEmptyMessage   = errors.New("empty message")
	ErrPendingMessage = errors.New("pending user message must be retried first")
)
