package project

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/config"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/fieldlock"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/presence"
)

var ErrNotHolder = errors.New("field locked by another collaborator")
var ErrLockRequired = errors.New("field must be locked before updating")

type conn struct {
	id  string
	out chan Event
}

// Coordinator serializes every operation for one project. It owns the
// presence tracker, the lock manager and the per-field sequence counters;
// nothing else may touch them. All state transitions happen inside loop().
type Coordinator struct {
	id       string
	cfg      config.Config
	inbox    chan Msg
	presence *presence.Tracker
	locks    *fieldlock.Manager
	conns    map[string]conn // user id -> live connection
	seq      map[string]int64
	drainAt  time.Time
	onEmpty  func(projectID string)
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New starts the coordinator goroutine. onEmpty is invoked (from the
// coordinator's own goroutine) once the drain grace passes with no
// collaborators, just before the loop exits.
func New(parent context.Context, id string, cfg config.Config, log *zap.Logger, onEmpty func(projectID string)) *Coordinator {
	ctx, cancel := context.WithCancel(parent)

	c := &Coordinator{
		id:       id,
		cfg:      cfg,
		inbox:    make(chan Msg, 64),
		presence: presence.NewTracker(),
		locks:    fieldlock.NewManager(cfg.LockTTL),
		conns:    make(map[string]conn),
		seq:      make(map[string]int64),
		onEmpty:  onEmpty,
		log:      log.With(zap.String("project_id", id)),
		ctx:      ctx,
		cancel:   cancel,
	}

	go c.loop()
	return c
}

// Inbox is where the gateway (and tests) send messages.
func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the loop has stopped and the inbox is no longer
// drained. Callers waiting on a reply must select on this to avoid blocking
// on a coordinator that lost the race against its own drain timer.
func (c *Coordinator) Done() <-chan struct{} { return c.ctx.Done() }

// IsDone reports whether the coordinator has stopped.
func (c *Coordinator) IsDone() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Coordinator) loop() {
	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case now := <-ticker.C:
			if c.tick(now) {
				return
			}

		case m := <-c.inbox:
			now := time.Now()
			switch msg := m.(type) {
			case Join:
				c.handleJoin(msg, now)
			case Leave:
				c.removeAndAnnounce(msg.UserID, now)
			case Disconnect:
				c.handleDisconnect(msg, now)
			case Heartbeat:
				c.presence.MarkActive(msg.UserID, "", now)
			case LockField:
				c.handleLock(msg, now)
			case UnlockField:
				if c.locks.Release(msg.Field, msg.UserID) {
					c.broadcast(msg.UserID, FieldUnlocked{Field: msg.Field}, now)
				}
			case UpdateField:
				c.handleUpdate(msg, now)
			case GetSnapshot:
				msg.Reply <- c.snapshot()
			case GetView:
				msg.Reply <- View{
					NumCollaborators: c.presence.Len(),
					NumConnections:   len(c.conns),
					Locks:            c.locks.List(),
					Draining:         !c.drainAt.IsZero(),
				}
			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Coordinator) handleJoin(msg Join, now time.Time) {
	// A join for a user with a live connection replaces that connection.
	if cn, ok := c.conns[msg.UserID]; ok {
		close(cn.out)
		delete(c.conns, msg.UserID)
	}

	collab, fresh := c.presence.Join(msg.UserID, msg.DisplayName, msg.ConnectionID, now)
	if fresh {
		// Announce before registering the outbox so the joiner never
		// sees its own join, and everyone else sees the join before
		// any later lock/update from this user.
		c.broadcast(msg.UserID, CollaboratorJoined{Collaborator: collab}, now)
		c.log.Info("collaborator joined",
			zap.String("user_id", msg.UserID),
			zap.String("connection_id", msg.ConnectionID))
	} else {
		c.log.Info("collaborator reconnected",
			zap.String("user_id", msg.UserID),
			zap.String("connection_id", msg.ConnectionID))
	}

	c.conns[msg.UserID] = conn{id: msg.ConnectionID, out: msg.Outbox}
	msg.Reply <- c.snapshot()
}

func (c *Coordinator) handleDisconnect(msg Disconnect, now time.Time) {
	collab, ok := c.presence.Get(msg.UserID)
	if !ok || collab.ConnectionID != msg.ConnectionID {
		// Stale signal from a connection that was already replaced.
		return
	}
	c.dropConnection(msg.UserID, now)
	c.log.Info("collaborator connection lost",
		zap.String("user_id", msg.UserID),
		zap.Duration("grace", c.cfg.DisconnectGrace))
}

// dropConnection marks a collaborator offline and closes its outbox,
// starting the reconnect window. Removal happens later in tick().
func (c *Coordinator) dropConnection(userID string, now time.Time) {
	c.presence.MarkOffline(userID, now)
	if cn, ok := c.conns[userID]; ok {
		close(cn.out)
		delete(c.conns, userID)
	}
}

func (c *Coordinator) handleLock(msg LockField, now time.Time) {
	holder, held := c.locks.Holder(msg.Field, now)
	if held && holder != msg.UserID {
		// Denied: refresh activity, but don't present the requester as
		// editing a field someone else holds.
		c.presence.MarkActive(msg.UserID, "", now)
		msg.Reply <- LockResult{Granted: false, HolderID: holder}
		return
	}

	c.presence.MarkActive(msg.UserID, msg.Field, now)

	if held {
		// Re-acquire by the holder just refreshes the TTL.
		c.locks.Refresh(msg.Field, msg.UserID, now)
		msg.Reply <- LockResult{Granted: true, HolderID: msg.UserID}
		return
	}

	c.locks.Acquire(msg.Field, msg.UserID, now)
	msg.Reply <- LockResult{Granted: true, HolderID: msg.UserID}
	c.broadcast(msg.UserID, FieldLocked{Field: msg.Field, UserID: msg.UserID}, now)
}

func (c *Coordinator) handleUpdate(msg UpdateField, now time.Time) {
	holder, held := c.locks.Holder(msg.Field, now)
	switch {
	case held && holder != msg.UserID:
		c.presence.MarkActive(msg.UserID, "", now)
		msg.Reply <- UpdateResult{Err: ErrNotHolder}
		return
	case !held && !c.cfg.AllowUnlockedEdits:
		c.presence.MarkActive(msg.UserID, "", now)
		msg.Reply <- UpdateResult{Err: ErrLockRequired}
		return
	}

	c.presence.MarkActive(msg.UserID, msg.Field, now)
	if held {
		c.locks.Refresh(msg.Field, msg.UserID, now)
	}

	c.seq[msg.Field]++
	evt := FieldUpdated{
		Field:          msg.Field,
		Value:          msg.Value,
		UserID:         msg.UserID,
		SequenceNumber: c.seq[msg.Field],
		Timestamp:      now,
	}
	msg.Reply <- UpdateResult{Event: evt}
	// The author gets the accepted event through its own outbox like
	// everyone else, so each recipient sees one FIFO stream and the
	// non-decreasing sequence guarantee holds for the author too.
	c.broadcast("", evt, now)
}

// removeAndAnnounce deletes a collaborator, releases every lock it held and
// tells everyone, left first so recipients can attribute the unlocks.
func (c *Coordinator) removeAndAnnounce(userID string, now time.Time) {
	if _, ok := c.presence.Remove(userID); !ok {
		return
	}
	if cn, ok := c.conns[userID]; ok {
		close(cn.out)
		delete(c.conns, userID)
	}
	c.broadcast(userID, CollaboratorLeft{UserID: userID}, now)
	for _, field := range c.locks.ReleaseAllHeldBy(userID) {
		c.broadcast(userID, FieldUnlocked{Field: field}, now)
	}
	c.log.Info("collaborator left", zap.String("user_id", userID))
}

// tick drives lock expiry, heartbeat staleness, disconnect grace and the
// drain timer. Returns true when the coordinator has drained and stopped.
func (c *Coordinator) tick(now time.Time) bool {
	for _, field := range c.locks.ExpireStale(now) {
		c.broadcast("", FieldUnlocked{Field: field}, now)
		c.log.Debug("lock expired", zap.String("field", field))
	}

	for _, uid := range c.presence.StaleOnline(now.Add(-3 * c.cfg.HeartbeatInterval)) {
		c.log.Info("heartbeat missed, treating as disconnect", zap.String("user_id", uid))
		c.dropConnection(uid, now)
	}

	for _, uid := range c.presence.OfflineBefore(now.Add(-c.cfg.DisconnectGrace)) {
		c.removeAndAnnounce(uid, now)
	}

	if c.presence.Len() > 0 {
		c.drainAt = time.Time{}
		return false
	}
	if c.drainAt.IsZero() {
		c.drainAt = now.Add(c.cfg.DrainGrace)
		return false
	}
	if now.Before(c.drainAt) {
		return false
	}

	// Stop before announcing: once onEmpty fires the hub may hand out a
	// replacement, and Done() must already report this one dead.
	c.log.Info("project drained")
	c.shutdown()
	if c.onEmpty != nil {
		c.onEmpty(c.id)
	}
	return true
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{
		Collaborators: c.presence.List(),
		Locks:         c.locks.List(),
	}
}

// broadcast fans evt out to every connection except the one named. A full
// outbox means the client stopped draining; drop it and let the disconnect
// grace handle the rest.
func (c *Coordinator) broadcast(except string, evt Event, now time.Time) {
	for uid, cn := range c.conns {
		if uid == except {
			continue
		}
		select {
		case cn.out <- evt:
		default:
			close(cn.out)
			delete(c.conns, uid)
			c.presence.MarkOffline(uid, now)
			c.log.Warn("dropping slow collaborator connection", zap.String("user_id", uid))
		}
	}
}

func (c *Coordinator) shutdown() {
	for uid, cn := range c.conns {
		close(cn.out)
		delete(c.conns, uid)
	}
	c.cancel()
}
