package pool

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
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

func trustBackend(t *testing.T) types.BackendNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				reader := bufio.NewReader(conn)
				if _, err := pgproto.ReadStartupMessage(reader); err != nil {
					return
				}
				body := make([]byte, 4)
				binary.BigEndian.PutUint32(body, pgproto.AuthOK)
				pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: body})
				pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeReadyForQuery, Body: []byte{'I'}})
				// keep the connection open for liveness checks until the test closes it
				io := make([]byte, 1)
				conn.SetReadDeadline(time.Time{})
				conn.Read(io)
			}(conn)
		}
	}()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return types.BackendNode{ID: 1, Host: host, Port: port, Role: types.RolePrimary, Weight: 1}
}

func TestCache_MissThenHit(t *testing.T) {
	node := trustBackend(t)
	table := statustable.New([]int{node.ID}, nil)
	if err := table.Transition(node.ID, types.StateUp, "initial probe"); err != nil {
		t.Fatalf("transition: %v", err)
	}

	c := New(2, backend.Open, table, []types.BackendNode{node})
	key := Key{User: "app", Database: "appdb", ProtocolMajor: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	slot1, err := c.Lookup(ctx, key, backend.Credentials{User: "app", Database: "appdb"})
	if err != nil {
		t.Fatalf("Lookup (miss): %v", err)
	}
	if len(slot1.Backends) != 1 {
		t.Fatalf("expected 1 backend slot, got %d", len(slot1.Backends))
	}

	slot2, err := c.Lookup(ctx, key, backend.Credentials{User: "app", Database: "appdb"})
	if err != nil {
		t.Fatalf("Lookup (hit): %v", err)
	}
	if slot1 != slot2 {
		t.Error("expected cache hit to return the same pool slot")
	}
}

func TestCache_InvalidatesOnGenerationChange(t *testing.T) {
	node := trustBackend(t)
	table := statustable.New([]int{node.ID}, nil)
	table.Transition(node.ID, types.StateUp, "initial probe")

	c := New(2, backend.Open, table, []types.BackendNode{node})
	key := Key{User: "app", Database: "appdb", ProtocolMajor: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	slot1, err := c.Lookup(ctx, key, backend.Credentials{User: "app", Database: "appdb"})
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// A status transition bumps the generation; the next lookup must discard
	// the previously cached slot rather than mutate it in place.
	table.Transition(node.ID, types.StateUp, "no-op refresh")

	slot2, err := c.Lookup(ctx, key, backend.Credentials{User: "app", Database: "appdb"})
	if err != nil {
		t.Fatalf("Lookup after generation bump: %v", err)
	}
	if slot1 == slot2 {
		t.Error("expected a fresh pool slot after the status table generation changed")
	}
}

func TestCache_EvictsLRUOnOverflow(t *testing.T) {
	nodeA := trustBackend(t)
	table := statustable.New([]int{nodeA.ID}, nil)
	table.Transition(nodeA.ID, types.StateUp, "up")

	c := New(1, backend.Open, table, []types.BackendNode{nodeA})
	keyA := Key{User: "a", Database: "db", ProtocolMajor: 3}
	keyB := Key{User: "b", Database: "db", ProtocolMajor: 3}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := c.Lookup(ctx, keyA, backend.Credentials{User: "a", Database: "db"}); err != nil {
		t.Fatalf("Lookup A: %v", err)
	}
	if _, err := c.Lookup(ctx, keyB, backend.Credentials{User: "b", Database: "db"}); err != nil {
		t.Fatalf("Lookup B: %v", err)
	}

	if _, ok := c.items[keyA]; ok {
		t.Error("expected keyA to be evicted once the cache overflowed past maxSize 1")
	}
	if _, ok := c.items[keyB]; !ok {
		t.Error("expected keyB to remain cached")
	}
}
