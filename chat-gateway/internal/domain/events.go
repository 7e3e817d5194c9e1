package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound frame types.
const (
	MsgTypeChatMessage = "chat_message"
	MsgTypeUserOnline  = "user_online"
	MsgTypeUserOffline = "user_offline"
	MsgTypePing        = "ping"
	MsgTypeDisconnect  = "disconnect"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown message type")
)

// InboundEvent is one of the frames a client may send. The set is closed.
type InboundEvent interface {
	inbound()
}

type ChatMessageEvent struct {
	AckID         string `json:"ack_id"`
	From          string `json:"from"`
	To            string `json:"to"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type UserOnlineEvent struct {
	UserID string `json:"user_id"`
}

type UserOfflineEvent struct {
	UserID string `json:"user_id"`
}

type PingEvent struct {
	AckID string `json:"ack_id"`
}

type DisconnectEvent struct {
	Reason string `json:"reason"`
}

func (ChatMessageEvent) inbound() {}
func (UserOnlineEvent) inbound()  {}
func (UserOfflineEvent) inbound() {}
func (PingEvent) inbound()        {}
func (DisconnectEvent) inbound()  {}

// BaseMessage is the base structure for all frames.
type BaseMessage struct {
	Type string `json:"type"`
}

// DecodeInbound parses a raw text frame. Missing fields decode to empty
// strings; only an unparseable frame or an unknown type is an error.
func DecodeInbound(data []byte) (InboundEvent, error) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	var (
		ev  InboundEvent
		err error
	)
	switch base.Type {
	case MsgTypeChatMessage:
		var m ChatMessageEvent
		err = json.Unmarshal(data, &m)
		ev = m
	case MsgTypeUserOnline:
		var m UserOnlineEvent
		err = json.Unmarshal(data, &m)
		ev = m
	case MsgTypeUserOffline:
		var m UserOfflineEvent
		err = json.Unmarshal(data, &m)
		ev = m
	case MsgTypePing:
		var m PingEvent
		err = json.Unmarshal(data, &m)
		ev = m
	case MsgTypeDisconnect:
		var m DisconnectEvent
		err = json.Unmarshal(data, &m)
		ev = m
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, base.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, base.Type, err)
	}
	return ev, nil
}
