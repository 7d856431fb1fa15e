package supervisor

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cuemby/vanguard/pkg/backend"
	"github.com/cuemby/vanguard/pkg/pgproto"
	"github.com/cuemby/vanguard/pkg/security"
)

// CredentialAuthenticator implements Authenticator against a
// security.CredentialStore (spec §6.2's pool_passwd), picking MD5 or SASL/
// SCRAM per connecting user based on how that user's credential is stored:
// KindMD5/KindText/KindAES entries are challenged with MD5, KindSCRAM
// entries with SASL. A user with no configured credential is rejected.
type CredentialAuthenticator struct {
	Store *security.CredentialStore
}

// Authenticate implements Authenticator.
func (a CredentialAuthenticator) Authenticate(conn net.Conn, rd *bufio.Reader, user, database string) (backend.Credentials, error) {
	cred, ok := a.Store.Lookup(user)
	if !ok {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindAuthFailed,
			fmt.Sprintf("no credential configured for user %q", user), nil)
	}

	switch cred.Kind {
	case security.KindSCRAM:
		return a.authenticateSCRAM(conn, rd, user, database)
	default:
		return a.authenticateMD5(conn, rd, user, database)
	}
}

func (a CredentialAuthenticator) authenticateMD5(conn net.Conn, rd *bufio.Reader, user, database string) (backend.Credentials, error) {
	var salt [4]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return backend.Credentials{}, fmt.Errorf("supervisor: generate md5 salt: %w", err)
	}

	body := make([]byte, 8)
	binary.BigEndian.PutUint32(body[0:4], pgproto.AuthMD5Password)
	copy(body[4:8], salt[:])
	if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: body}); err != nil {
		return backend.Credentials{}, err
	}

	msg, err := pgproto.ReadMessage(rd)
	if err != nil {
		return backend.Credentials{}, err
	}
	if msg.Type != pgproto.TypePasswordMessage {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindProtocolMismatch, "expected PasswordMessage", nil)
	}
	response := trimCString(msg.Body)

	expected, err := a.Store.ExpectedMD5Response(user, salt)
	if err != nil {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindAuthFailed, err.Error(), nil)
	}
	if response != expected {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindAuthFailed, fmt.Sprintf("md5 response mismatch for user %q", user), nil)
	}

	return a.backendCredentials(user, database)
}

func (a CredentialAuthenticator) authenticateSCRAM(conn net.Conn, rd *bufio.Reader, user, database string) (backend.Credentials, error) {
	scramCred, err := a.Store.ScramCredential(user)
	if err != nil {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindAuthFailed, err.Error(), nil)
	}

	saslBody := make([]byte, 4)
	binary.BigEndian.PutUint32(saslBody, pgproto.AuthSASL)
	saslBody = append(saslBody, []byte(pgproto.SCRAMMechanism)...)
	saslBody = append(saslBody, 0, 0)
	if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: saslBody}); err != nil {
		return backend.Credentials{}, err
	}

	initial, err := pgproto.ReadMessage(rd)
	if err != nil {
		return backend.Credentials{}, err
	}
	if initial.Type != pgproto.TypePasswordMessage {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindProtocolMismatch, "expected SASLInitialResponse", nil)
	}
	clientFirst := parseSASLInitialResponse(initial.Body)

	var handshake pgproto.ScramServerHandshake
	serverFirst, err := handshake.Start(scramCred, clientFirst)
	if err != nil {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindAuthFailed, err.Error(), err)
	}

	continueBody := make([]byte, 4)
	binary.BigEndian.PutUint32(continueBody, pgproto.AuthSASLContinue)
	continueBody = append(continueBody, []byte(serverFirst)...)
	if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: continueBody}); err != nil {
		return backend.Credentials{}, err
	}

	final, err := pgproto.ReadMessage(rd)
	if err != nil {
		return backend.Credentials{}, err
	}
	if final.Type != pgproto.TypePasswordMessage {
		return backend.Credentials{}, pgproto.NewError(pgproto.KindProtocolMismatch, "expected SASLResponse", nil)
	}

	serverFinal, err := handshake.Finish(string(final.Body))
	if err != nil {
		return backend.Credentials{}, err
	}

	finalBody := make([]byte, 4)
	binary.BigEndian.PutUint32(finalBody, pgproto.AuthSASLFinal)
	finalBody = append(finalBody, []byte(serverFinal)...)
	if err := pgproto.WriteMessage(conn, pgproto.Message{Type: pgproto.TypeAuthentication, Body: finalBody}); err != nil {
		return backend.Credentials{}, err
	}

	return a.backendCredentials(user, database)
}

// backendCredentials fills in the plaintext password Vanguard needs to
// authenticate itself to a real backend as user, when one is recoverable.
// A frontend verified via KindMD5/KindSCRAM (where the plaintext was never
// stored) leaves Password empty: that user's pool_hba entry on the real
// backend must be "trust" or otherwise not require a password Vanguard
// cannot reproduce.
func (a CredentialAuthenticator) backendCredentials(user, database string) (backend.Credentials, error) {
	creds := backend.Credentials{User: user, Database: database}
	if plain, err := a.Store.PlainSecret(user); err == nil {
		creds.Password = plain
	}
	return creds, nil
}

func trimCString(b []byte) string {
	if n := len(b); n > 0 && b[n-1] == 0 {
		b = b[:n-1]
	}
	return string(b)
}

// parseSASLInitialResponse strips the mechanism-name-plus-length prefix a
// SASLInitialResponse PasswordMessage carries ahead of the actual
// client-first-message.
func parseSASLInitialResponse(body []byte) string {
	i := 0
	for i < len(body) && body[i] != 0 {
		i++
	}
	i++ // skip the nul terminator after the mechanism name
	if i+4 > len(body) {
		return ""
	}
	length := binary.BigEndian.Uint32(body[i : i+4])
	i += 4
	end := i + int(length)
	if end > len(body) {
		end = len(body)
	}
	return string(body[i:end])
}
