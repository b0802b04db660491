package models

import (
	"encoding/json"
	"time"
)

const (
	MessageUpdate       = "UPDATE"
	MessageHealthUpdate = "HEALTH_UPDATE"
	MessageControl      = "CONTROL"
	MessageError        = "ERROR"
	MessageWelcome      = "WELCOME"
)

type CommandName string

const (
	CommandStart   CommandName = "START"
	CommandStop    CommandName = "STOP"
	CommandReset   CommandName = "RESET"
	CommandSetRPM  CommandName = "SET_RPM"
	CommandSetFeed CommandName = "SET_FEED"
)

// Command is the payload of a CONTROL envelope.
type Command struct {
	Command CommandName `json:"command"`
	Value   *float64    `json:"value,omitempty"`
}

// Envelope is the wire format in both directions. Server messages carry
// Data, client CONTROL messages carry Payload.
type Envelope struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ServerMessage is the outgoing form; Data is marshalled lazily by the writer.
type ServerMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type ErrorPayload struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type APIResponse struct {
	Success bool          `json:"success"`
	Data    any           `json:"data"`
	Error   *APIError     `json:"error"`
	Meta    *ResponseMeta `json:"meta"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

type ResponseMeta struct {
	RequestID      string    `json:"request_id"`
	Timestamp      time.Time `json:"timestamp"`
	ProcessingTime float64   `json:"processing_time"`
	Version        string    `json:"version"`
}
