package models

import (
	"time"
)

// ConnectionStatus is the liveness of the broker link.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
)

// ConnectionState is surfaced to callers instead of raising transport errors.
type ConnectionState struct {
	Status    ConnectionStatus `json:"status"`
	LastError string           `json:"last_error,omitempty"`
	Since     time.Time        `json:"since"`
}

func (c ConnectionState) IsConnected() bool {
	return c.Status == StatusConnected
}

// PendingCommand is an outbound instruction queued while disconnected.
type PendingCommand struct {
	Topic   string `json:"topic"`
	Payload string `json:"payload"`
}
