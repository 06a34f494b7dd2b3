package types

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrDecode marks a presence message that could not be decoded. The server
// closes the connection when it sees one.
var ErrDecode = errors.New("malformed presence message")

type MessageType string

const (
	TypeSelectSession MessageType = "SelectSession"
	TypeHeartbeat     MessageType = "Heartbeat"
	TypeSlotSnapshot  MessageType = "SlotSnapshot"
)

// Identity is what a client keeps after a successful assignment. It is
// persisted across reloads and replayed as heartbeats.
type Identity struct {
	SessionID uuid.UUID `json:"session_id"`
	SlotIndex int       `json:"slot_index"`
	Secret    string    `json:"secret"`
}

// Client -> Server

type ClientMessage interface{ isClientMessage() }

type SelectSession struct {
	SessionID uuid.UUID
}

type Heartbeat struct {
	Identity
}

func (SelectSession) isClientMessage() {}
func (Heartbeat) isClientMessage()     {}

func (m SelectSession) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      MessageType `json:"type"`
		SessionID uuid.UUID   `json:"session_id"`
	}{TypeSelectSession, m.SessionID})
}

func (m Heartbeat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type MessageType `json:"type"`
		Identity
	}{TypeHeartbeat, m.Identity})
}

// clientEnvelope is the union of every client message field. Pointers
// tell a missing field apart from a zero value.
type clientEnvelope struct {
	Type      MessageType `json:"type"`
	SessionID *uuid.UUID  `json:"session_id"`
	SlotIndex *int        `json:"slot_index"`
	Secret    string      `json:"secret"`
}

func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var env clientEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	if env.SessionID == nil || *env.SessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing session_id", ErrDecode)
	}

	switch env.Type {
	case TypeSelectSession:
		return SelectSession{SessionID: *env.SessionID}, nil
	case TypeHeartbeat:
		if env.SlotIndex == nil {
			return nil, fmt.Errorf("%w: missing slot_index", ErrDecode)
		}
		return Heartbeat{Identity{
			SessionID: *env.SessionID,
			SlotIndex: *env.SlotIndex,
			Secret:    env.Secret,
		}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrDecode, env.Type)
	}
}

// Server -> Client

type ServerMessage interface{ isServerMessage() }

type SlotSnapshot struct {
	Slots []SlotView
}

func (SlotSnapshot) isServerMessage() {}

func (m SlotSnapshot) MarshalJSON() ([]byte, error) {
	slots := m.Slots
	if slots == nil {
		slots = []SlotView{}
	}
	return json.Marshal(struct {
		Type  MessageType `json:"type"`
		Slots []SlotView  `json:"slots"`
	}{TypeSlotSnapshot, slots})
}

func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var env struct {
		Type  MessageType `json:"type"`
		Slots []SlotView  `json:"slots"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	switch env.Type {
	case TypeSlotSnapshot:
		return SlotSnapshot{Slots: env.Slots}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrDecode, env.Type)
	}
}
