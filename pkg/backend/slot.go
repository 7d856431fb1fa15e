// Package backend implements the backend slot: a single live connection
// from Vanguard to one PostgreSQL backend, including the startup/auth
// handshake.
package backend

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/vanguard/pkg/pgproto"
	"github.com/cuemby/vanguard/pkg/types"
)

// Credentials is what a Slot needs to authenticate to a real backend. The
// single Password is used for whichever of cleartext/md5/SCRAM the
// backend's Authentication message requests.
type Credentials struct {
	User     string
	Database string
	Password string
}

// Slot is one open connection to a backend, after a successful startup and
// authentication handshake. It implements the open/send/recv/
// parameter_status_update/close contract from spec §4.2.
type Slot struct {
	Node   types.BackendNode
	conn   net.Conn
	reader *bufio.Reader

	BackendPID int32
	SecretKey  int32
	Params     map[string]string
}

// Open dials node, performs the startup packet and auth handshake, and
// blocks until the backend sends ReadyForQuery. Any failure here is
// classified into a *pgproto.Error so callers can distinguish
// connect_refused/auth_failed/protocol_mismatch/io/timeout per spec §4.2.
func Open(ctx context.Context, node types.BackendNode, creds Credentials) (*Slot, error) {
	dialer := net.Dialer{}
	addr := fmt.Sprintf("%s:%d", node.Host, node.Port)
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		if dctx := ctx.Err(); dctx != nil {
			return nil, pgproto.NewError(pgproto.KindTimeout, "dial backend", err)
		}
		return nil, pgproto.NewError(pgproto.KindConnectRefused, "dial backend", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	s := &Slot{
		Node:   node,
		conn:   conn,
		reader: bufio.NewReader(conn),
		Params: make(map[string]string),
	}

	params := map[string]string{
		"user":             creds.User,
		"database":         creds.Database,
		"application_name": node.ApplicationName,
	}
	if node.ApplicationName == "" {
		delete(params, "application_name")
	}
	if err := pgproto.WriteStartupMessage(conn, params); err != nil {
		conn.Close()
		return nil, pgproto.NewError(pgproto.KindIO, "write startup message", err)
	}

	if err := s.authenticate(creds); err != nil {
		conn.Close()
		return nil, err
	}

	if err := s.awaitReadyForQuery(); err != nil {
		conn.Close()
		return nil, err
	}

	_ = conn.SetDeadline(time.Time{})
	return s, nil
}

func (s *Slot) authenticate(creds Credentials) error {
	for {
		msg, err := pgproto.ReadMessage(s.reader)
		if err != nil {
			return pgproto.NewError(pgproto.KindIO, "read during authentication", err)
		}

		switch msg.Type {
		case pgproto.TypeErrorResponse:
			resp := pgproto.ParseErrorResponse(msg.Body)
			return pgproto.NewError(pgproto.KindAuthFailed, resp.Message, nil)

		case pgproto.TypeAuthentication:
			if len(msg.Body) < 4 {
				return pgproto.NewError(pgproto.KindProtocolMismatch, "short authentication message", nil)
			}
			code := binary.BigEndian.Uint32(msg.Body[0:4])
			switch code {
			case pgproto.AuthOK:
				return nil
			case pgproto.AuthCleartextPassword:
				if err := s.sendPassword(creds.Password); err != nil {
					return err
				}
			case pgproto.AuthMD5Password:
				if len(msg.Body) < 8 {
					return pgproto.NewError(pgproto.KindProtocolMismatch, "short md5 salt", nil)
				}
				var salt [4]byte
				copy(salt[:], msg.Body[4:8])
				hash := pgproto.HashMD5Password(creds.Password, creds.User, salt)
				if err := s.sendPassword(hash); err != nil {
					return err
				}
			case pgproto.AuthSASL:
				if err := s.scramAuthenticate(creds, msg.Body[4:]); err != nil {
					return err
				}
			default:
				return pgproto.NewError(pgproto.KindAuthFailed, fmt.Sprintf("unsupported auth method %d", code), nil)
			}

		case pgproto.TypeParameterStatus:
			key, val := splitParameterStatus(msg.Body)
			s.Params[key] = val

		case pgproto.TypeBackendKeyData:
			if len(msg.Body) >= 8 {
				s.BackendPID = int32(binary.BigEndian.Uint32(msg.Body[0:4]))
				s.SecretKey = int32(binary.BigEndian.Uint32(msg.Body[4:8]))
			}

		case pgproto.TypeNoticeResponse:
			// ignored at this layer

		default:
			return pgproto.NewError(pgproto.KindProtocolMismatch, fmt.Sprintf("unexpected message %q during auth", msg.Type), nil)
		}
	}
}

func (s *Slot) scramAuthenticate(creds Credentials, mechanisms []byte) error {
	client, clientFirstMessage, err := pgproto.NewScramClientHandshake(creds.User, creds.Password)
	if err != nil {
		return pgproto.NewError(pgproto.KindAuthFailed, "start SCRAM handshake", err)
	}

	initialResponse := append([]byte(pgproto.SCRAMMechanism), 0)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(clientFirstMessage)))
	initialResponse = append(initialResponse, lenBuf[:]...)
	initialResponse = append(initialResponse, clientFirstMessage...)
	if err := pgproto.WriteMessage(s.conn, pgproto.Message{Type: pgproto.TypePasswordMessage, Body: initialResponse}); err != nil {
		return pgproto.NewError(pgproto.KindIO, "send SCRAM client-first-message", err)
	}

	msg, err := pgproto.ReadMessage(s.reader)
	if err != nil {
		return pgproto.NewError(pgproto.KindIO, "read SCRAM server-first-message", err)
	}
	if msg.Type != pgproto.TypeAuthentication || len(msg.Body) < 4 || binary.BigEndian.Uint32(msg.Body[0:4]) != pgproto.AuthSASLContinue {
		return pgproto.NewError(pgproto.KindProtocolMismatch, "expected AuthenticationSASLContinue", nil)
	}
	serverFirstMessage := string(msg.Body[4:])

	clientFinalMessage, err := client.Continue(serverFirstMessage)
	if err != nil {
		return pgproto.NewError(pgproto.KindAuthFailed, "compute SCRAM client-final-message", err)
	}
	if err := pgproto.WriteMessage(s.conn, pgproto.Message{Type: pgproto.TypePasswordMessage, Body: []byte(clientFinalMessage)}); err != nil {
		return pgproto.NewError(pgproto.KindIO, "send SCRAM client-final-message", err)
	}

	msg, err = pgproto.ReadMessage(s.reader)
	if err != nil {
		return pgproto.NewError(pgproto.KindIO, "read SCRAM server-final-message", err)
	}
	if msg.Type != pgproto.TypeAuthentication || len(msg.Body) < 4 || binary.BigEndian.Uint32(msg.Body[0:4]) != pgproto.AuthSASLFinal {
		return pgproto.NewError(pgproto.KindAuthFailed, "SCRAM handshake did not complete", nil)
	}
	return nil
}

func (s *Slot) sendPassword(password string) error {
	body := append([]byte(password), 0)
	if err := pgproto.WriteMessage(s.conn, pgproto.Message{Type: pgproto.TypePasswordMessage, Body: body}); err != nil {
		return pgproto.NewError(pgproto.KindIO, "send password message", err)
	}
	return nil
}

func (s *Slot) awaitReadyForQuery() error {
	for {
		msg, err := pgproto.ReadMessage(s.reader)
		if err != nil {
			return pgproto.NewError(pgproto.KindIO, "read before ReadyForQuery", err)
		}
		switch msg.Type {
		case pgproto.TypeReadyForQuery:
			return nil
		case pgproto.TypeParameterStatus:
			key, val := splitParameterStatus(msg.Body)
			s.Params[key] = val
		case pgproto.TypeBackendKeyData:
			if len(msg.Body) >= 8 {
				s.BackendPID = int32(binary.BigEndian.Uint32(msg.Body[0:4]))
				s.SecretKey = int32(binary.BigEndian.Uint32(msg.Body[4:8]))
			}
		case pgproto.TypeErrorResponse:
			resp := pgproto.ParseErrorResponse(msg.Body)
			return pgproto.NewError(pgproto.KindIO, resp.Message, nil)
		}
	}
}

// Send writes a frontend-originated message to the backend.
func (s *Slot) Send(msg pgproto.Message) error {
	if err := pgproto.WriteMessage(s.conn, msg); err != nil {
		return pgproto.NewError(pgproto.KindIO, "send to backend", err)
	}
	return nil
}

// Recv reads the next backend-originated message, updating Params in place
// when it is a ParameterStatus message (the parameter_status_update
// responsibility from spec §4.2).
func (s *Slot) Recv() (pgproto.Message, error) {
	msg, err := pgproto.ReadMessage(s.reader)
	if err != nil {
		return pgproto.Message{}, pgproto.NewError(pgproto.KindIO, "recv from backend", err)
	}
	if msg.Type == pgproto.TypeParameterStatus {
		key, val := splitParameterStatus(msg.Body)
		s.Params[key] = val
	}
	return msg, nil
}

// Alive performs the non-blocking liveness check spec §4.3 requires of a
// cached pool slot on lookup: the read deadline is set to now and a
// one-byte read attempted, so a closed or reset socket surfaces
// immediately, a healthy idle connection reports alive via a timeout
// error, and an unsolicited byte marks the slot dead.
func (s *Slot) Alive() bool {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	defer s.conn.SetDeadline(time.Time{})

	one := make([]byte, 1)
	n, err := s.conn.Read(one)
	if n > 0 {
		// Unexpected unsolicited byte; put it back conceptually by treating
		// the slot as dead so the pool discards it rather than silently
		// dropping backend-initiated data.
		return false
	}
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

// Close terminates the connection cleanly by sending Terminate before
// closing the socket, best-effort.
func (s *Slot) Close() error {
	_ = pgproto.WriteMessage(s.conn, pgproto.Message{Type: pgproto.TypeTerminate})
	return s.conn.Close()
}

func splitParameterStatus(body []byte) (key, val string) {
	zero := -1
	for i, b := range body {
		if b == 0 {
			zero = i
			break
		}
	}
	if zero < 0 {
		return "", ""
	}
	key = string(body[:zero])
	rest := body[zero+1:]
	for i, b := range rest {
		if b == 0 {
			return key, string(rest[:i])
		}
	}
	return key, string(rest)
}
