// Package supervisor implements the frontend listener from spec §4.1/4.4:
// it accepts client connections, drives the startup/SSL-negotiation/auth
// handshake, assigns each connection to one of a fixed set of
// per-worker-slot pool caches, and hands the rest of the connection's
// lifetime to a pkg/session.Session.
package supervisor

import (
	"bufio"
	"context"
	cryptorand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"

	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/pgproto"
	"github.com/cuemby/vanguard/pkg/pool"
	"github.com/cuemby/vanguard/pkg/session"
	"github.com/cuemby/vanguard/pkg/statustable"
	"github.com/cuemby/vanguard/pkg/types"
)

// Authenticator performs the frontend-side startup authentication
// handshake for a connection that has already sent its StartupMessage.
// It must write whatever Authentication* messages the exchange requires
// and return credentials to use when opening the matching backend
// connections, or an error if the frontend failed to authenticate.
type Authenticator interface {
	Authenticate(conn net.Conn, rd *bufio.Reader, user, database string) (backend.Credentials, error)
}

// TrustAuthenticator implements Authenticator for pool_hba entries
// configured as "trust": anyone claiming a user/database pair is
// admitted without a password exchange.
type TrustAuthenticator struct{}

// Authenticate implements Authenticator.
func (TrustAuthenticator) Authenticate(conn net.Conn, _ *bufio.Reader, user, database string) (backend.Credentials, error) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, pgproto.AuthOK)
	if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: body}); err != nil {
		return backend.Credentials{}, err
	}
	return backend.Credentials{User: user, Database: database}, nil
}

// Config configures a Supervisor.
type Config struct {
	ListenAddr       string
	NumWorkers       int
	MaxPool          int
	Nodes            []types.BackendNode
	Table            *statustable.Table
	Dial             pool.Dialer // defaults to backend.Open
	Auth             Authenticator
	StatementLevelLB bool
}

// cancelable is the subset of *session.Session the supervisor needs to
// resolve a CancelRequest, kept narrow so this package doesn't need a
// second session-facing interface beyond session.Notifiable.
type cancelable interface {
	Cancel()
}

// cancelKey is the (pid, secret) pair a session's synthesized
// BackendKeyData hands to the frontend at startup, and that the frontend
// quotes back in a later CancelRequest on a throwaway connection.
type cancelKey struct {
	pid    int32
	secret int32
}

// Supervisor owns the frontend listener and the fixed set of
// per-worker-slot pool caches spec §5 requires never be shared.
type Supervisor struct {
	cfg      Config
	ln       net.Listener
	caches   []*pool.Cache
	registry *session.Registry
	nextSlot uint64
	nextPID  int32

	cancelMu sync.RWMutex
	cancels  map[cancelKey]cancelable
}

// New builds a Supervisor bound to cfg. It does not start listening;
// call Serve.
func New(cfg Config) *Supervisor {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 1
	}
	if cfg.Dial == nil {
		cfg.Dial = backend.Open
	}
	if cfg.Auth == nil {
		cfg.Auth = TrustAuthenticator{}
	}
	if cfg.MaxPool <= 0 {
		cfg.MaxPool = 4
	}

	caches := make([]*pool.Cache, cfg.NumWorkers)
	for i := range caches {
		caches[i] = pool.New(cfg.MaxPool, cfg.Dial, cfg.Table, cfg.Nodes)
	}

	return &Supervisor{
		cfg:      cfg,
		caches:   caches,
		registry: session.NewRegistry(),
		cancels:  make(map[cancelKey]cancelable),
	}
}

// Registry exposes the session registry so the failover executor can be
// wired with this Supervisor as its WorkerNotifier.
func (s *Supervisor) Registry() *session.Registry {
	return s.registry
}

// Serve accepts connections until ctx is canceled or the listener fails.
func (s *Supervisor) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("supervisor: listen on %s: %w", s.cfg.ListenAddr, err)
	}
	s.ln = ln

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Supervisor) handleConn(ctx context.Context, conn net.Conn) {
	rd := bufio.NewReader(conn)

	startup, err := pgproto.ReadStartupMessage(rd)
	if err != nil {
		conn.Close()
		return
	}

	if startup.ProtocolVersion == pgproto.SSLRequestCode {
		conn.Write([]byte{'N'}) // SSL not offered at this layer; terminated upstream if required
		startup, err = pgproto.ReadStartupMessage(rd)
		if err != nil {
			conn.Close()
			return
		}
	}

	if startup.ProtocolVersion == pgproto.CancelRequestCode {
		s.handleCancel(startup)
		conn.Close()
		return
	}

	defer conn.Close()

	user := startup.Parameters["user"]
	database := startup.Parameters["database"]
	if database == "" {
		database = user
	}

	creds, err := s.cfg.Auth.Authenticate(conn, rd, user, database)
	if err != nil {
		sendAuthFailure(conn, err)
		return
	}

	var idBytes [8]byte
	cryptorand.Read(idBytes[:])
	id := fmt.Sprintf("%x", idBytes)

	slotIdx := atomic.AddUint64(&s.nextSlot, 1) % uint64(len(s.caches))
	cache := s.caches[slotIdx]

	sess := session.New(id, conn, creds, pgproto.ProtocolVersion3>>16, session.Config{
		Nodes:            s.cfg.Nodes,
		Table:            s.cfg.Table,
		Cache:            cache,
		StatementLevelLB: s.cfg.StatementLevelLB,
	})

	key := cancelKey{pid: atomic.AddInt32(&s.nextPID, 1), secret: rand.Int31()}
	if err := writeSessionStartup(conn, key.pid, key.secret); err != nil {
		return
	}

	s.registry.Register(id, sess)
	s.registerCancelKey(key, sess)
	defer s.registry.Unregister(id)
	defer s.unregisterCancelKey(key)

	_ = sess.Run(ctx)
}

func (s *Supervisor) registerCancelKey(key cancelKey, sess cancelable) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	s.cancels[key] = sess
}

func (s *Supervisor) unregisterCancelKey(key cancelKey) {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	delete(s.cancels, key)
}

func (s *Supervisor) handleCancel(startup pgproto.StartupMessage) {
	key := cancelKey{pid: startup.CancelProcessID, secret: startup.CancelSecretKey}
	s.cancelMu.RLock()
	sess, ok := s.cancels[key]
	s.cancelMu.RUnlock()
	if ok {
		sess.Cancel()
	}
}

func writeSessionStartup(conn net.Conn, pid, secret int32) error {
	params := map[string]string{
		"server_version":  "14.0 (vanguard)",
		"client_encoding": "UTF8",
	}
	for k, v := range params {
		body := append([]byte(k), 0)
		body = append(body, []byte(v)...)
		body = append(body, 0)
		if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeParameterStatus, Body: body}); err != nil {
			return err
		}
	}

	keyBody := make([]byte, 8)
	binary.BigEndian.PutUint32(keyBody[0:4], uint32(pid))
	binary.BigEndian.PutUint32(keyBody[4:8], uint32(secret))
	if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeBackendKeyData, Body: keyBody}); err != nil {
		return err
	}

	return pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeReadyForQuery, Body: []byte{'I'}})
}

func sendAuthFailure(conn net.Conn, err error) {
	body := pgproto.FormatErrorResponse(pgproto.BackendErrorResponse{
		Severity: "FATAL",
		Code:     "28000",
		Message:  err.Error(),
	})
	pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeErrorResponse, Body: body})
}
