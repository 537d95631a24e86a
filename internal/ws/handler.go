package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/config"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/hub"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/project"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/types"
)

const writeTimeout = 3 * time.Second

// Handler is the connection gateway: one WebSocket per (project, user). The
// first client message must be a join; everything after is routed to the
// project's coordinator. A read deadline of three heartbeat intervals backs
// up the coordinator's own staleness sweep at the transport level.
func Handler(h *hub.Hub, cfg config.Config, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		readTimeout := 3 * cfg.HeartbeatInterval

		join, ok := readJoin(r.Context(), conn, readTimeout)
		if !ok {
			_ = write(r.Context(), conn, types.ServerMessage{
				Type: types.MsgError, Code: "bad_join",
				Message: "first message must be a join with project_id and user_id",
			})
			return
		}

		connID := uuid.NewString()

		// The coordinator handed out by the hub can lose the race against
		// its own drain timer, in which case the join is never processed.
		// Done() makes that detectable; retrying gets a fresh coordinator.
		var p *project.Coordinator
		var out chan project.Event
		var snap project.Snapshot
		joined := false
		for attempt := 0; attempt < 3 && !joined; attempt++ {
			reply := make(chan *project.Coordinator, 1)
			h.Inbox() <- hub.EnsureProject{ProjectID: join.ProjectID, Reply: reply}
			p = <-reply

			out = make(chan project.Event, 16)
			snapReply := make(chan project.Snapshot, 1)
			p.Inbox() <- project.Join{
				UserID:       join.UserID,
				DisplayName:  join.DisplayName,
				ConnectionID: connID,
				Outbox:       out,
				Reply:        snapReply,
			}
			select {
			case snap = <-snapReply:
				joined = true
			case <-p.Done():
				log.Debug("join raced a draining coordinator, retrying",
					zap.String("project_id", join.ProjectID))
			}
		}
		if !joined {
			_ = write(r.Context(), conn, types.ServerMessage{
				Type: types.MsgError, Code: "unavailable", Message: "project coordinator unavailable",
			})
			return
		}
		if err := write(r.Context(), conn, snapshotMessage(snap)); err != nil {
			p.Inbox() <- project.Disconnect{UserID: join.UserID, ConnectionID: connID}
			return
		}

		left := false
		defer func() {
			if !left {
				p.Inbox() <- project.Disconnect{UserID: join.UserID, ConnectionID: connID}
			}
		}()

		// Writer goroutine: drains the coordinator's fan-out into the socket.
		writeCtx, writeCancel := context.WithCancel(context.Background())
		defer writeCancel()
		go func() {
			for evt := range out {
				if err := write(writeCtx, conn, eventMessage(evt)); err != nil {
					return
				}
			}
		}()

		for {
			ctx, cancel := context.WithTimeout(r.Context(), readTimeout)
			_, data, err := conn.Read(ctx)
			cancel()
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					log.Debug("read failed, treating as disconnect",
						zap.String("user_id", join.UserID), zap.Error(err))
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				_ = write(r.Context(), conn, types.ServerMessage{
					Type: types.MsgError, Code: "bad_json", Message: "malformed message",
				})
				continue
			}

			switch cm.Type {
			case types.MsgLeave:
				left = true
				p.Inbox() <- project.Leave{UserID: join.UserID}
				return

			case types.MsgHeartbeat:
				select {
				case p.Inbox() <- project.Heartbeat{UserID: join.UserID}:
				case <-p.Done():
					return
				}

			case types.MsgLockField:
				lockReply := make(chan project.LockResult, 1)
				p.Inbox() <- project.LockField{UserID: join.UserID, Field: cm.Field, Reply: lockReply}
				var res project.LockResult
				select {
				case res = <-lockReply:
				case <-p.Done():
					return
				}
				if res.Granted {
					_ = write(r.Context(), conn, types.ServerMessage{
						Type: types.MsgFieldLocked, Field: cm.Field, UserID: join.UserID,
					})
				} else {
					_ = write(r.Context(), conn, types.ServerMessage{
						Type: types.MsgLockDenied, Field: cm.Field, HolderID: res.HolderID,
					})
				}

			case types.MsgUnlockField:
				p.Inbox() <- project.UnlockField{UserID: join.UserID, Field: cm.Field}

			case types.MsgUpdateField:
				upReply := make(chan project.UpdateResult, 1)
				p.Inbox() <- project.UpdateField{
					UserID: join.UserID, Field: cm.Field, Value: cm.Value, Reply: upReply,
				}
				var res project.UpdateResult
				select {
				case res = <-upReply:
				case <-p.Done():
					return
				}
				if res.Err != nil {
					_ = write(r.Context(), conn, types.ServerMessage{
						Type: types.MsgError, Code: "not_lock_holder",
						Field: cm.Field, Message: res.Err.Error(),
					})
				}
				// On success the accepted event arrives through the
				// outbox like any other, so the author's pending-edit
				// overlay reconciles on one ordered stream.

			case types.MsgJoin:
				// Resync request on an already-joined connection.
				sr := make(chan project.Snapshot, 1)
				p.Inbox() <- project.GetSnapshot{Reply: sr}
				select {
				case snap := <-sr:
					_ = write(r.Context(), conn, snapshotMessage(snap))
				case <-p.Done():
					return
				}

			default:
				_ = write(r.Context(), conn, types.ServerMessage{
					Type: types.MsgError, Code: "unknown_type", Message: "unknown message type: " + cm.Type,
				})
			}
		}
	}
}

func readJoin(ctx context.Context, conn *websocket.Conn, timeout time.Duration) (types.ClientMessage, bool) {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, data, err := conn.Read(rctx)
	if err != nil {
		return types.ClientMessage{}, false
	}
	var cm types.ClientMessage
	if err := json.Unmarshal(data, &cm); err != nil {
		return types.ClientMessage{}, false
	}
	if cm.Type != types.MsgJoin || cm.ProjectID == "" || cm.UserID == "" {
		return types.ClientMessage{}, false
	}
	return cm, true
}

func write(ctx context.Context, conn *websocket.Conn, msg types.ServerMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

func snapshotMessage(snap project.Snapshot) types.ServerMessage {
	return types.ServerMessage{
		Type:          types.MsgSnapshot,
		Collaborators: snap.Collaborators,
		Locks:         snap.Locks,
	}
}

// eventMessage maps every coordinator event kind to its wire form.
func eventMessage(evt project.Event) types.ServerMessage {
	switch e := evt.(type) {
	case project.CollaboratorJoined:
		return types.ServerMessage{Type: types.MsgCollaboratorJoined, Collaborator: &e.Collaborator}
	case project.CollaboratorLeft:
		return types.ServerMessage{Type: types.MsgCollaboratorLeft, UserID: e.UserID}
	case project.FieldLocked:
		return types.ServerMessage{Type: types.MsgFieldLocked, Field: e.Field, UserID: e.UserID}
	case project.FieldUnlocked:
		return types.ServerMessage{Type: types.MsgFieldUnlocked, Field: e.Field}
	case project.FieldUpdated:
		return types.ServerMessage{
			Type:           types.MsgFieldUpdated,
			Field:          e.Field,
			Value:          e.Value,
			UserID:         e.UserID,
			SequenceNumber: e.SequenceNumber,
			Timestamp:      e.Timestamp,
		}
	default:
		return types.ServerMessage{Type: types.MsgError, Code: "internal", Message: "unmapped event"}
	}
}
