package project

import (
	"encoding/json"
	"time"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/fieldlock"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/presence"
)

// Msg is the coordinator's inbound tagged union. Every operation on a
// project arrives as one of these and is handled one at a time by the loop.
type Msg interface{ isCoordMsg() }

type Join struct {
	UserID       string
	DisplayName  string
	ConnectionID string
	Outbox       chan Event // where this connection receives events
	Reply        chan Snapshot
}

type Leave struct{ UserID string }

// Disconnect reports a closed channel without an explicit leave. The
// connection id guards against a stale disconnect racing a reconnect.
type Disconnect struct {
	UserID       string
	ConnectionID string
}

type Heartbeat struct{ UserID string }

type LockField struct {
	UserID string
	Field  string
	Reply  chan LockResult
}

type UnlockField struct {
	UserID string
	Field  string
}

type UpdateField struct {
	UserID string
	Field  string
	Value  json.RawMessage
	Reply  chan UpdateResult
}

type GetSnapshot struct{ Reply chan Snapshot }

// GetView reflects internal state without data races. Test-only.
type GetView struct{ Reply chan View }

type Shutdown struct{}

func (Join) isCoordMsg()        {}
func (Leave) isCoordMsg()       {}
func (Disconnect) isCoordMsg()  {}
func (Heartbeat) isCoordMsg()   {}
func (LockField) isCoordMsg()   {}
func (UnlockField) isCoordMsg() {}
func (UpdateField) isCoordMsg() {}
func (GetSnapshot) isCoordMsg() {}
func (GetView) isCoordMsg()     {}
func (Shutdown) isCoordMsg()    {}

// Event is the outbound tagged union fanned out to connection outboxes. The
// gateway maps each kind to its wire message exhaustively, so an unhandled
// kind is a compile-visible hole rather than a silent drop.
type Event interface{ isEvent() }

type CollaboratorJoined struct {
	Collaborator presence.Collaborator
}

type CollaboratorLeft struct {
	UserID string
}

type FieldLocked struct {
	Field  string
	UserID string
}

type FieldUnlocked struct {
	Field string
}

type FieldUpdated struct {
	Field          string
	Value          json.RawMessage
	UserID         string
	SequenceNumber int64
	Timestamp      time.Time
}

func (CollaboratorJoined) isEvent() {}
func (CollaboratorLeft) isEvent()   {}
func (FieldLocked) isEvent()        {}
func (FieldUnlocked) isEvent()      {}
func (FieldUpdated) isEvent()       {}

// Snapshot is the authoritative {collaborators, locks} view handed to a
// client on join and on reconnect resync.
type Snapshot struct {
	Collaborators []presence.Collaborator `json:"collaborators"`
	Locks         []fieldlock.Lock        `json:"locks"`
}

type LockResult struct {
	Granted  bool
	HolderID string // on denial, who holds the lock
}

type UpdateResult struct {
	Event FieldUpdated
	Err   error
}

type View struct {
	NumCollaborators int
	NumConnections   int
	Locks            []fieldlock.Lock
	Draining         bool
}
