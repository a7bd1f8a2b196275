package server

import (
	"encoding/json"
	"errors"
)

// ClientMessage is the inbound websocket envelope.
type ClientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerMessage is the outbound websocket envelope.
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Wire error codes carried by the "error" event.
const (
	CodeInvalidJSON        = "INVALID_JSON"
	CodeInvalidPayload     = "INVALID_PAYLOAD"
	CodeInvalidMessageType = "INVALID_MESSAGE_TYPE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	// ErrInvalidPayload marks a payload that is missing a required field or
	// cannot be decoded. The sender gets an INVALID_PAYLOAD error event.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrUnknownMessageType marks an envelope whose type has no handler.
	ErrUnknownMessageType = errors.New("unknown message type")
)
