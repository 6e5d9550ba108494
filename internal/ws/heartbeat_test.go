package ws

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/nikhil-thb/hushh-online/internal/gate"
	"github.com/nikhil-thb/hushh-online/internal/session"
)

func newSweepServer(t *testing.T) *Server {
	t.Helper()
	return NewServer(DefaultServerConfig(), gate.New(gate.AllowAll, nil), session.NewRegistry(), nil)
}

// addPipeConn wires a net.Pipe connection into the server's manager and the
// session registry, draining the client side so ping writes do not block.
func addPipeConn(t *testing.T, s *Server, sessionID string, fd int, lastPing time.Time) *Connection {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() {
		serverSide.Close()
		clientSide.Close()
	})
	go func() { _, _ = io.Copy(io.Discard, clientSide) }()

	c := &Connection{
		ID:        sessionID,
		Conn:      serverSide,
		Fd:        fd,
		CreatedAt: time.Now(),
		LastPing:  lastPing,
	}
	s.conns.Add(c)
	s.registry.Register(&session.ConnectedUser{SessionID: sessionID})
	return c
}

func TestSweepEvictsStaleConnection(t *testing.T) {
	server := newSweepServer(t)

	var disconnected []string
	server.SetOnDisconnect(func(connID string) { disconnected = append(disconnected, connID) })

	stale := addPipeConn(t, server, "stale-session", 1, time.Now().Add(-5*time.Minute))
	fresh := addPipeConn(t, server, "fresh-session", 2, time.Now())

	sweepConnections(server, DefaultHeartbeatConfig())

	if server.conns.Get(stale.ID) != nil {
		t.Error("expected stale connection evicted")
	}
	if server.registry.Lookup(stale.ID) != nil {
		t.Error("expected stale session unregistered")
	}
	if len(disconnected) != 1 || disconnected[0] != stale.ID {
		t.Errorf("expected disconnect callback for the stale session only, got %v", disconnected)
	}
	if server.conns.Get(fresh.ID) == nil {
		t.Error("fresh connection must survive the sweep")
	}
}

func TestSweepPingRefreshesSessionActivity(t *testing.T) {
	server := newSweepServer(t)

	c := addPipeConn(t, server, "live-session", 3, time.Now())
	before := server.registry.Lookup(c.ID).LastActivity

	time.Sleep(10 * time.Millisecond)
	sweepConnections(server, DefaultHeartbeatConfig())

	after := server.registry.Lookup(c.ID).LastActivity
	if !after.After(before) {
		t.Error("expected ping sweep to refresh the session's activity timestamp")
	}
}
