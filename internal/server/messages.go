package server

// Message represents a WebSocket message
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// MessageType constants
const (
	TypeSnapshot       = "snapshot"
	TypeRiskTransition = "risk_transition"
	TypeRate           = "rate"
)

// NewSnapshotMessage wraps a margin snapshot for broadcast
func NewSnapshotMessage(data interface{}) Message {
	return Message{Type: TypeSnapshot, Data: data}
}

// NewRateMessage wraps a rate update for broadcast
func NewRateMessage(data interface{}) Message {
	return Message{Type: TypeRate, Data: data}
}
