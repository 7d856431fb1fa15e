package session

import (
	"bufio"
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/pgproto"
	"github.com/cuemby/vanguard/pkg/pool"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// fakePrimary spins up a loopback backend that authenticates with trust
// and, on every Query it receives, replies with a CommandComplete
// carrying the given tag followed by ReadyForQuery('I').
func fakePrimary(t *testing.T, tag string) types.BackendNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		reader := bufio.NewReader(conn)
		if _, err := pgproto.ReadStartupMessage(reader); err != nil {
			return
		}
		body := make([]byte, 4)
		binary.BigEndian.PutUint32(body, pgproto.AuthOK)
		pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: body})
		pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeReadyForQuery, Body: []byte{'I'}})

		for {
			msg, err := pgproto.ReadMessage(reader)
			if err != nil {
				return
			}
			if msg.Type == pgproto.TypeQuery {
				cc := append([]byte(tag), 0)
				pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeCommandComplete, Body: cc})
				pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeReadyForQuery, Body: []byte{'I'}})
			}
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return types.BackendNode{ID: 1, Host: host, Port: port, Role: types.RolePrimary, Weight: 1}
}

// fakeBackend is fakePrimary generalized to an arbitrary node id/role, for
// tests that need more than one backend (e.g. a failover/promote scenario).
func fakeBackend(t *testing.T, id int, role types.BackendRole, tag string) types.BackendNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		reader := bufio.NewReader(conn)
		if _, err := pgproto.ReadStartupMessage(reader); err != nil {
			return
		}
		body := make([]byte, 4)
		binary.BigEndian.PutUint32(body, pgproto.AuthOK)
		pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: body})
		pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeReadyForQuery, Body: []byte{'I'}})

		for {
			msg, err := pgproto.ReadMessage(reader)
			if err != nil {
				return
			}
			if msg.Type == pgproto.TypeQuery {
				cc := append([]byte(tag), 0)
				pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeCommandComplete, Body: cc})
				pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeReadyForQuery, Body: []byte{'I'}})
			}
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return types.BackendNode{ID: id, Host: host, Port: port, Role: role, Weight: 1}
}

// TestSession_RoutesToNewPrimaryAfterPromote covers spec §8's failover
// scenario: once the status table's promote moves the primary role from
// the statically-configured primary to another node, the next statement
// routes to the new primary rather than the now-down original one.
func TestSession_RoutesToNewPrimaryAfterPromote(t *testing.T) {
	oldPrimary := fakeBackend(t, 1, types.RolePrimary, "OLD PRIMARY")
	newPrimary := fakeBackend(t, 2, types.RoleReplica, "NEW PRIMARY")
	nodes := []types.BackendNode{oldPrimary, newPrimary}

	table := statustable.New([]int{1, 2}, nil)
	table.Transition(1, types.StateUp, "initial")
	table.Transition(2, types.StateUp, "initial")
	table.SeedRoles(nodes)

	if err := table.Promote(2, "test promote"); err != nil {
		t.Fatalf("promote: %v", err)
	}

	cache := pool.New(4, backend.Open, table, nodes)

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := New("s1", serverConn, backend.Credentials{User: "app", Database: "appdb"}, 3, Config{
		Nodes: nodes,
		Table: table,
		Cache: cache,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	body := append([]byte("SELECT 1"), 0)
	if err := pgproto.WriteMessage(clientConn, pgproto.Message{Type: pgproto.TypeQuery, Body: body}); err != nil {
		t.Fatalf("write query: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)

	msg, err := pgproto.ReadMessage(reader)
	if err != nil {
		t.Fatalf("read CommandComplete: %v", err)
	}
	if msg.Type != pgproto.TypeCommandComplete {
		t.Fatalf("expected CommandComplete, got %q", msg.Type)
	}
	if string(msg.Body[:len(msg.Body)-1]) != "NEW PRIMARY" {
		t.Fatalf("expected the statement to be routed to the new primary, got tag %q", msg.Body)
	}
}

func TestSession_RoutesSimpleQueryToPrimary(t *testing.T) {
	node := fakePrimary(t, "SELECT 1")
	table := statustable.New([]int{node.ID}, nil)
	table.Transition(node.ID, types.StateUp, "initial")
	cache := pool.New(4, backend.Open, table, []types.BackendNode{node})

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := New("s1", serverConn, backend.Credentials{User: "app", Database: "appdb"}, 3, Config{
		Nodes: []types.BackendNode{node},
		Table: table,
		Cache: cache,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- sess.Run(ctx) }()

	body := append([]byte("SELECT 1"), 0)
	if err := pgproto.WriteMessage(clientConn, pgproto.Message{Type: pgproto.TypeQuery, Body: body}); err != nil {
		t.Fatalf("write query: %v", err)
	}

	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)

	msg, err := pgproto.ReadMessage(reader)
	if err != nil {
		t.Fatalf("read CommandComplete: %v", err)
	}
	if msg.Type != pgproto.TypeCommandComplete {
		t.Fatalf("expected CommandComplete, got %q", msg.Type)
	}

	msg, err = pgproto.ReadMessage(reader)
	if err != nil {
		t.Fatalf("read ReadyForQuery: %v", err)
	}
	if msg.Type != pgproto.TypeReadyForQuery {
		t.Fatalf("expected ReadyForQuery, got %q", msg.Type)
	}
}

func TestSession_InvalidatePoolDiscardsSlotWhenIdle(t *testing.T) {
	node := fakePrimary(t, "SELECT 1")
	table := statustable.New([]int{node.ID}, nil)
	table.Transition(node.ID, types.StateUp, "initial")
	cache := pool.New(4, backend.Open, table, []types.BackendNode{node})

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	sess := New("s1", serverConn, backend.Credentials{User: "app", Database: "appdb"}, 3, Config{
		Nodes: []types.BackendNode{node},
		Table: table,
		Cache: cache,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	body := append([]byte("SELECT 1"), 0)
	pgproto.WriteMessage(clientConn, pgproto.Message{Type: pgproto.TypeQuery, Body: body})
	clientConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reader := bufio.NewReader(clientConn)
	pgproto.ReadMessage(reader) // CommandComplete
	pgproto.ReadMessage(reader) // ReadyForQuery

	sess.InvalidatePool()
	time.Sleep(50 * time.Millisecond) // let the dispatcher goroutine process the invalidate

	if sess.slot != nil {
		t.Error("expected the idle session's pool slot to be discarded after InvalidatePool")
	}
}
