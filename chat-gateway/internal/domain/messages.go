package domain

import "time"

// Outbound frame types.
const (
	MsgTypeAck      = "ack"
	MsgTypePresence = "presence"
	MsgTypeError    = "error"
)

// Ack statuses.
const (
	AckSuccess = "success"
	AckError   = "error"
)

// Client-facing error texts.
const (
	ErrTextSendFailed     = "Failed to send message"
	ErrTextOnlineFailed   = "Failed to update online status"
	ErrTextOfflineFailed  = "Failed to update offline status"
	ErrTextInvalidMessage = "Invalid message format"
	ErrTextUnknownType    = "Unknown message type"
)

// Disconnect reasons.
const (
	ReasonClientDisconnect = "client namespace disconnect"
	ReasonTransportClose   = "transport close"
	ReasonPingTimeout      = "ping timeout"
	ReasonServerShutdown   = "server shutting down"
)

type AckMessage struct {
	Type      string `json:"type"`
	AckID     string `json:"ack_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

type ChatMessageOut struct {
	Type          string `json:"type"`
	ID            string `json:"id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

type PresenceMessage struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Online    bool   `json:"online"`
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type DisconnectMessage struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func NewSuccessAck(ackID string, at time.Time) *AckMessage {
	return &AckMessage{Type: MsgTypeAck, AckID: ackID, Status: AckSuccess, Timestamp: at.UnixMilli()}
}

func NewErrorAck(ackID, message string) *AckMessage {
	return &AckMessage{Type: MsgTypeAck, AckID: ackID, Status: AckError, Message: message}
}

func NewErrorMessage(message string) *ErrorMessage {
	return &ErrorMessage{Type: MsgTypeError, Message: message}
}

func NewDisconnectMessage(reason string) *DisconnectMessage {
	return &DisconnectMessage{Type: MsgTypeDisconnect, Reason: reason}
}
