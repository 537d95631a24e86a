package types

import (
	"encoding/json"
	"time"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/fieldlock"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/presence"
)

// Client -> Server message kinds.
const (
	MsgJoin        = "join"
	MsgLeave       = "leave"
	MsgHeartbeat   = "heartbeat"
	MsgLockField   = "lock-field"
	MsgUnlockField = "unlock-field"
	MsgUpdateField = "update-field"
)

type ClientMessage struct {
	Type        string          `json:"type"`
	ProjectID   string          `json:"project_id,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Field       string          `json:"field,omitempty"`
	Value       json.RawMessage `json:"value,omitempty"`
}

// Server -> Client message kinds.
const (
	MsgSnapshot           = "snapshot"
	MsgCollaboratorJoined = "collaborator-joined"
	MsgCollaboratorLeft   = "collaborator-left"
	MsgFieldLocked        = "field-locked"
	MsgFieldUnlocked      = "field-unlocked"
	MsgFieldUpdated       = "field-updated"
	MsgLockDenied         = "lock-denied"
	MsgError              = "error"
)

type ServerMessage struct {
	Type string `json:"type"`

	// snapshot
	Collaborators []presence.Collaborator `json:"collaborators,omitempty"`
	Locks         []fieldlock.Lock        `json:"locks,omitempty"`

	// collaborator-joined
	Collaborator *presence.Collaborator `json:"collaborator,omitempty"`

	// field events and collaborator-left
	Field          string          `json:"field,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	UserID         string          `json:"user_id,omitempty"`
	HolderID       string          `json:"holder_id,omitempty"`
	SequenceNumber int64           `json:"sequence_number,omitempty"`
	Timestamp      time.Time       `json:"timestamp,omitzero"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}
