package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/CryptoYogiLLC/ai-discover-collab/internal/config"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/hub"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/project"
	"github.com/CryptoYogiLLC/ai-discover-collab/internal/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	cfg := config.Default()
	cfg.TickInterval = 20 * time.Millisecond
	h := hub.NewHub(context.Background(), cfg, zap.NewNop())
	srv := httptest.NewServer(SetupRoutes(h, cfg, zap.NewNop()))
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg types.ClientMessage) {
	t.Helper()
	payload, err := json.Marshal(msg)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, payload))
}

func read(t *testing.T, conn *websocket.Conn) types.ServerMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m types.ServerMessage
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

// readUntil skips interleaved messages (e.g. a broadcast racing a direct
// reply on the same connection) until one of the wanted kind arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) types.ServerMessage {
	t.Helper()
	for i := 0; i < 10; i++ {
		if m := read(t, conn); m.Type == msgType {
			return m
		}
	}
	t.Fatalf("never received %q", msgType)
	return types.ServerMessage{} // unreachable
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSnapshot_UnknownProject(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/projects/nope/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_LockContentionOverTheWire(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dial(t, srv)
	send(t, alice, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p1", UserID: "alice", DisplayName: "Alice"})
	snap := read(t, alice)
	require.Equal(t, types.MsgSnapshot, snap.Type)
	require.Len(t, snap.Collaborators, 1)

	bob := dial(t, srv)
	send(t, bob, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p1", UserID: "bob", DisplayName: "Bob"})
	snap = read(t, bob)
	require.Equal(t, types.MsgSnapshot, snap.Type)
	require.Len(t, snap.Collaborators, 2)
	require.Equal(t, "alice", snap.Collaborators[0].ID, "snapshot ordered by join time")

	// Alice locks "budget"; she gets the grant, bob sees the broadcast.
	send(t, alice, types.ClientMessage{Type: types.MsgLockField, Field: "budget"})
	m := readUntil(t, alice, types.MsgFieldLocked)
	require.Equal(t, "budget", m.Field)
	m = readUntil(t, bob, types.MsgFieldLocked)
	require.Equal(t, "alice", m.UserID)

	// Bob's competing lock is denied with the holder's id.
	send(t, bob, types.ClientMessage{Type: types.MsgLockField, Field: "budget"})
	m = readUntil(t, bob, types.MsgLockDenied)
	require.Equal(t, "alice", m.HolderID)

	// Alice updates; bob receives the ordered update.
	send(t, alice, types.ClientMessage{Type: types.MsgUpdateField, Field: "budget", Value: json.RawMessage(`"5000"`)})
	m = readUntil(t, bob, types.MsgFieldUpdated)
	require.Equal(t, "budget", m.Field)
	require.Equal(t, `"5000"`, string(m.Value))
	require.Equal(t, "alice", m.UserID)
	require.Equal(t, int64(1), m.SequenceNumber)

	// Alice unlocks; bob sees it and can take the lock.
	send(t, alice, types.ClientMessage{Type: types.MsgUnlockField, Field: "budget"})
	m = readUntil(t, bob, types.MsgFieldUnlocked)
	require.Equal(t, "budget", m.Field)
	send(t, bob, types.ClientMessage{Type: types.MsgLockField, Field: "budget"})
	m = readUntil(t, bob, types.MsgFieldLocked)
	require.Equal(t, "bob", m.UserID)

	// The snapshot endpoint reflects the live state.
	resp, err := http.Get(srv.URL + "/projects/p1/snapshot")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var live project.Snapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&live))
	require.Len(t, live.Collaborators, 2)
	require.Len(t, live.Locks, 1)
	require.Equal(t, "bob", live.Locks[0].HolderID)
}

func TestWebSocket_LeaveBroadcastsDeparture(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dial(t, srv)
	send(t, alice, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p2", UserID: "alice", DisplayName: "Alice"})
	_ = read(t, alice) // snapshot

	bob := dial(t, srv)
	send(t, bob, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p2", UserID: "bob", DisplayName: "Bob"})
	_ = read(t, bob) // snapshot

	m := readUntil(t, alice, types.MsgCollaboratorJoined)
	require.Equal(t, "bob", m.Collaborator.ID)

	send(t, bob, types.ClientMessage{Type: types.MsgLeave})
	m = readUntil(t, alice, types.MsgCollaboratorLeft)
	require.Equal(t, "bob", m.UserID)
}

func TestWebSocket_InBandResyncReturnsFreshSnapshot(t *testing.T) {
	srv, _ := newTestServer(t)

	alice := dial(t, srv)
	send(t, alice, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p4", UserID: "alice", DisplayName: "Alice"})
	snap := read(t, alice)
	require.Equal(t, types.MsgSnapshot, snap.Type)
	require.Empty(t, snap.Locks)

	send(t, alice, types.ClientMessage{Type: types.MsgLockField, Field: "budget"})
	_ = readUntil(t, alice, types.MsgFieldLocked)

	// A join on an already-joined connection acts as a resync request
	// and returns the current authoritative state.
	send(t, alice, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p4", UserID: "alice"})
	m := readUntil(t, alice, types.MsgSnapshot)
	require.Len(t, m.Collaborators, 1)
	require.Len(t, m.Locks, 1)
	require.Equal(t, "budget", m.Locks[0].FieldName)
	require.Equal(t, "alice", m.Locks[0].HolderID)
}

func TestWebSocket_FirstMessageMustBeJoin(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv)
	send(t, conn, types.ClientMessage{Type: types.MsgHeartbeat})
	m := read(t, conn)
	require.Equal(t, types.MsgError, m.Type)
	require.Equal(t, "bad_join", m.Code)
}

func TestWebSocket_UnknownTypeGetsError(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv)
	send(t, conn, types.ClientMessage{Type: types.MsgJoin, ProjectID: "p3", UserID: "alice"})
	_ = read(t, conn) // snapshot

	send(t, conn, types.ClientMessage{Type: "frobnicate"})
	m := read(t, conn)
	require.Equal(t, types.MsgError, m.Type)
	require.Equal(t, "unknown_type", m.Code)
}
