package hub

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/config"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/project"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TickInterval = 10 * time.Millisecond
	return cfg
}

func TestHub_Ensure_Get_SamePointer(t *testing.T) {
	h := NewHub(context.Background(), testConfig(), zap.NewNop())
	reply := make(chan *project.Coordinator, 1)

	h.Inbox() <- EnsureProject{ProjectID: "proj-1", Reply: reply}
	p1 := <-reply

	h.Inbox() <- GetProject{ProjectID: "proj-1", Reply: reply}
	p2 := <-reply

	if p1 == nil || p2 == nil || p1 != p2 {
		t.Fatalf("expected same coordinator pointer")
	}
}

func TestHub_GetUnknownIsNil(t *testing.T) {
	h := NewHub(context.Background(), testConfig(), zap.NewNop())
	reply := make(chan *project.Coordinator, 1)

	h.Inbox() <- GetProject{ProjectID: "nope", Reply: reply}
	if p := <-reply; p != nil {
		t.Fatalf("unknown project should be nil, got %v", p)
	}
}

func TestHub_EnsureAfterDrainReturnsLiveCoordinator(t *testing.T) {
	cfg := testConfig()
	cfg.DrainGrace = 30 * time.Millisecond
	h := NewHub(context.Background(), cfg, zap.NewNop())

	reply := make(chan *project.Coordinator, 1)
	h.Inbox() <- EnsureProject{ProjectID: "proj-1", Reply: reply}
	p1 := <-reply

	// No one joins, so the coordinator drains on its own.
	select {
	case <-p1.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("coordinator never drained")
	}

	// The drained coordinator's RemoveProject may still be queued behind
	// this Ensure; either way the hub must hand out a live replacement,
	// never the dead inbox.
	h.Inbox() <- EnsureProject{ProjectID: "proj-1", Reply: reply}
	p2 := <-reply
	if p2 == p1 {
		t.Fatalf("hub handed out the drained coordinator")
	}
	if p2.IsDone() {
		t.Fatalf("replacement coordinator is not live")
	}

	out := make(chan project.Event, 8)
	snapReply := make(chan project.Snapshot, 1)
	p2.Inbox() <- project.Join{UserID: "alice", DisplayName: "alice", ConnectionID: "a1", Outbox: out, Reply: snapReply}
	select {
	case snap := <-snapReply:
		if len(snap.Collaborators) != 1 {
			t.Fatalf("unexpected snapshot from replacement: %+v", snap)
		}
	case <-time.After(time.Second):
		t.Fatalf("replacement coordinator did not answer the join")
	}
}

func TestHub_DrainedProjectIsRemoved(t *testing.T) {
	cfg := testConfig()
	cfg.DrainGrace = 30 * time.Millisecond
	h := NewHub(context.Background(), cfg, zap.NewNop())

	reply := make(chan *project.Coordinator, 1)
	h.Inbox() <- EnsureProject{ProjectID: "proj-1", Reply: reply}
	<-reply

	// No one ever joins, so the coordinator drains and removes itself.
	deadline := time.After(2 * time.Second)
	for {
		h.Inbox() <- GetProject{ProjectID: "proj-1", Reply: reply}
		if p := <-reply; p == nil {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("drained project was never removed from the hub")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
