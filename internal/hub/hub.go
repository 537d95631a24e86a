package hub

import (
	"context"

	"go.uber.org/zap"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/config"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/project"
)

type HubMsg interface{ isHubMsg() }

// EnsureProject returns the coordinator for an id, creating it on the first
// join of a project.
type EnsureProject struct {
	ProjectID string
	Reply     chan *project.Coordinator
}

type GetProject struct {
	ProjectID string
	Reply     chan *project.Coordinator
}

// RemoveProject drops a drained coordinator. Sent by the coordinator itself
// via the onEmpty hook.
type RemoveProject struct {
	ProjectID string
}

type ShutdownHub struct{}

func (EnsureProject) isHubMsg() {}
func (GetProject) isHubMsg()    {}
func (RemoveProject) isHubMsg() {}
func (ShutdownHub) isHubMsg()   {}

// Hub is the registry actor mapping project id -> coordinator. Like the
// coordinators it owns, it mutates its map only inside its own loop.
type Hub struct {
	inbox    chan HubMsg
	projects map[string]*project.Coordinator
	cfg      config.Config
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewHub(parent context.Context, cfg config.Config, log *zap.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inbox:    make(chan HubMsg, 64),
		projects: make(map[string]*project.Coordinator),
		cfg:      cfg,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
	}
	go h.loop()
	return h
}

func (h *Hub) Inbox() chan<- HubMsg { return h.inbox }

func (h *Hub) loop() {
	for {
		select {
		case <-h.ctx.Done():
			h.shutdown()
			return

		case m := <-h.inbox:
			switch msg := m.(type) {
			case EnsureProject:
				// A stored coordinator may have just drained; its
				// RemoveProject can still be queued behind us. Hand
				// out a fresh one instead of a dead inbox.
				if p := h.projects[msg.ProjectID]; p != nil && !p.IsDone() {
					msg.Reply <- p
					break
				}
				p := h.spawn(msg.ProjectID)
				h.projects[msg.ProjectID] = p
				msg.Reply <- p

			case GetProject:
				p := h.projects[msg.ProjectID]
				if p != nil && p.IsDone() {
					p = nil
				}
				msg.Reply <- p

			case RemoveProject:
				// Only remove a dead coordinator: a replacement may
				// already sit under the same id.
				if p, ok := h.projects[msg.ProjectID]; ok && p.IsDone() {
					delete(h.projects, msg.ProjectID)
					h.log.Info("project removed", zap.String("project_id", msg.ProjectID))
				}

			case ShutdownHub:
				h.shutdown()
				return
			}
		}
	}
}

func (h *Hub) spawn(projectID string) *project.Coordinator {
	h.log.Info("project created", zap.String("project_id", projectID))
	return project.New(h.ctx, projectID, h.cfg, h.log, func(id string) {
		// Runs on the coordinator goroutine after it drains.
		h.inbox <- RemoveProject{ProjectID: id}
	})
}

func (h *Hub) shutdown() {
	for id, p := range h.projects {
		p.Inbox() <- project.Shutdown{}
		delete(h.projects, id)
	}
	h.cancel()
}
