// Package protocol holds the JSON frames exchanged with the chat gateway.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Frame types.
const (
	TypeChatMessage = "chat_message"
	TypeUserOnline  = "user_online"
	TypeUserOffline = "user_offline"
	TypePing        = "ping"
	TypeDisconnect  = "disconnect"
	TypeAck         = "ack"
	TypePresence    = "presence"
	TypeError       = "error"
)

// Ack statuses.
const (
	AckSuccess = "success"
	AckError   = "error"
)

// ReasonClientDisconnect is sent when the user leaves on purpose.
const ReasonClientDisconnect = "client namespace disconnect"

var ErrUnknownFrame = errors.New("unknown frame type")

// Client to server.

type ChatMessage struct {
	Type          string `json:"type"`
	AckID         string `json:"ack_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type UserStatus struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
}

type Ping struct {
	Type  string `json:"type"`
	AckID string `json:"ack_id"`
}

type Disconnect struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Server to client.

type Ack struct {
	AckID     string `json:"ack_id"`
	Status    string `json:"status"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Time converts the millisecond timestamp.
func (a Ack) Time() time.Time {
	if a.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(a.Timestamp)
}

type Message struct {
	ID            string `json:"id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Timestamp     int64  `json:"timestamp"`
}

func (m Message) Time() time.Time { return time.UnixMilli(m.Timestamp) }

type Presence struct {
	UserID    string `json:"user_id"`
	Online    bool   `json:"online"`
	SessionID string `json:"session_id"`
	WorkerID  string `json:"worker_id"`
}

type ServerError struct {
	Message string `json:"message"`
}

type ServerDisconnect struct {
	Reason string `json:"reason"`
}

// Inbound is the decoded form of a server frame. Exactly one field is set.
type Inbound struct {
	Ack        *Ack
	Message    *Message
	Presence   *Presence
	Error      *ServerError
	Disconnect *ServerDisconnect
}

// Decode parses one server frame.
func Decode(data []byte) (Inbound, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &base); err != nil {
		return Inbound{}, fmt.Errorf("decode frame: %w", err)
	}

	var (
		in  Inbound
		err error
	)
	switch base.Type {
	case TypeAck:
		in.Ack = &Ack{}
		err = json.Unmarshal(data, in.Ack)
	case TypeChatMessage:
		in.Message = &Message{}
		err = json.Unmarshal(data, in.Message)
	case TypePresence:
		in.Presence = &Presence{}
		err = json.Unmarshal(data, in.Presence)
	case TypeError:
		in.Error = &ServerError{}
		err = json.Unmarshal(data, in.Error)
	case TypeDisconnect:
		in.Disconnect = &ServerDisconnect{}
		err = json.Unmarshal(data, in.Disconnect)
	default:
		return Inbound{}, fmt.Errorf("%w: %q", ErrUnknownFrame, base.Type)
	}
	if err != nil {
		return Inbound{}, fmt.Errorf("decode %s frame: %w", base.Type, err)
	}
	return in, nil
}

func NewChatMessage(ackID, from, to, message, correlationID string) ChatMessage {
	return ChatMessage{Type: TypeChatMessage, AckID: ackID, From: from, To: to, Message: message, CorrelationID: correlationID}
}

func NewUserStatus(userID string, online bool) UserStatus {
	t := TypeUserOffline
	if online {
		t = TypeUserOnline
	}
	return UserStatus{Type: t, UserID: userID}
}

func NewPing(ackID string) Ping {
	return Ping{Type: TypePing, AckID: ackID}
}

func NewDisconnect(reason string) Disconnect {
	return Disconnect{Type: TypeDisconnect, Reason: reason}
}
