package websocket

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	TypeSessionStarted   MessageType = "session_started"
	TypeSessionFinished  MessageType = "session_finished"
	TypeConflictDetected MessageType = "conflict_detected"
	TypeAck              MessageType = "ack"
	TypePing             MessageType = "ping"
	TypePong             MessageType = "pong"
)

type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type SessionEventPayload struct {
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id"`
	Direction  string `json:"direction"`
	Status     string `json:"status"`
	Uploaded   int    `json:"uploaded"`
	Created    int    `json:"created"`
	Updated    int    `json:"updated"`
	Deleted    int    `json:"deleted"`
	Conflicted int    `json:"conflicted"`
	Downloaded int    `json:"downloaded"`
	Error      string `json:"error,omitempty"`
}

type ConflictEventPayload struct {
	ConflictID string `json:"conflict_id"`
	SessionID  string `json:"session_id"`
	NodeID     string `json:"node_id"`
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

type AckPayload struct {
	MessageID string `json:"message_id"`
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
}

func NewMessage(msgType MessageType, payload interface{}) (*Message, error) {
	var payloadBytes json.RawMessage
	if payload != nil {
		bytes, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		payloadBytes = bytes
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Payload:   payloadBytes,
	}, nil
}

func (m *Message) UnmarshalPayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
