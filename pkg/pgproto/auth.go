package pgproto

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// Authentication request codes, sent in an 'R' message's first four body
// bytes to tell the frontend which method to continue with.
const (
	AuthOK                uint32 = 0
	AuthCleartextPassword uint32 = 3
	AuthMD5Password       uint32 = 5
	AuthSASL              uint32 = 10
	AuthSASLContinue      uint32 = 11
	AuthSASLFinal         uint32 = 12
)

// SCRAMMechanism is the only SASL mechanism Vanguard offers.
const SCRAMMechanism = "SCRAM-SHA-256"

// HashMD5Password implements PostgreSQL's MD5 authentication hash:
// "md5" + hex(md5(hex(md5(password+user)) + salt)).
func HashMD5Password(password, user string, salt [4]byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	return HashMD5FromStoredHash(innerHex, salt)
}

// HashMD5FromStoredHash computes the same salted response as
// HashMD5Password, starting from an already-derived hex(md5(password+user))
// instead of a plaintext password. This is what a server verifying a
// frontend uses: it never has the plaintext, only the stored hash from
// the credential store.
func HashMD5FromStoredHash(storedHashHex string, salt [4]byte) string {
	outer := md5.Sum(append([]byte(storedHashHex), salt[:]...))
	return "md5" + hex.EncodeToString(outer[:])
}

// ScramCredential is the server-side verifier derived once from a plaintext
// password and stored in the pool_passwd-style credential file (spec §6.4),
// never the plaintext password itself.
type ScramCredential struct {
	Iterations int
	Salt       []byte
	StoredKey  []byte
	ServerKey  []byte
}

// DeriveScramCredential computes the StoredKey/ServerKey pair a SCRAM server
// needs to verify a client proof, per RFC 5802 §3. Passwords are assumed to
// already be in normalized (SASLprep'd) form — this is a deliberate
// simplification for ASCII credentials; non-ASCII passwords are out of
// scope here.
func DeriveScramCredential(password string, salt []byte, iterations int) ScramCredential {
	saltedPassword := pbkdf2.Key([]byte(password), salt, iterations, sha256.Size, sha256.New)
	clientKey := hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	serverKey := hmacSHA256(saltedPassword, []byte("Server Key"))
	return ScramCredential{
		Iterations: iterations,
		Salt:       salt,
		StoredKey:  storedKey[:],
		ServerKey:  serverKey,
	}
}

// NewScramSalt returns a fresh random salt suitable for DeriveScramCredential.
func NewScramSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("pgproto: generate scram salt: %w", err)
	}
	return salt, nil
}

// ScramServerHandshake drives the server side of a SCRAM-SHA-256 exchange
// against a stored credential. It is used both when Vanguard authenticates
// a frontend directly and, symmetrically, when pkg/backend authenticates to
// a real PostgreSQL backend (there Vanguard plays the client role instead;
// see ScramClientHandshake).
type ScramServerHandshake struct {
	cred         ScramCredential
	clientNonce  string
	serverNonce  string
	clientFirst  string
	serverFirst  string
	authMessage  string
}

// Start consumes the client-first-message ("n,,n=<user>,r=<nonce>") and
// returns the server-first-message to send back.
func (h *ScramServerHandshake) Start(cred ScramCredential, clientFirstMessage string) (string, error) {
	h.cred = cred
	parts := strings.SplitN(clientFirstMessage, ",", 3)
	if len(parts) < 3 {
		return "", fmt.Errorf("pgproto: malformed SCRAM client-first-message")
	}
	bare := parts[2]
	fields := parseScramFields(bare)
	h.clientNonce = fields["r"]
	if h.clientNonce == "" {
		return "", fmt.Errorf("pgproto: missing client nonce")
	}
	h.clientFirst = bare

	serverNonceBytes := make([]byte, 18)
	if _, err := rand.Read(serverNonceBytes); err != nil {
		return "", fmt.Errorf("pgproto: generate server nonce: %w", err)
	}
	h.serverNonce = h.clientNonce + base64.RawURLEncoding.EncodeToString(serverNonceBytes)

	h.serverFirst = fmt.Sprintf("r=%s,s=%s,i=%d",
		h.serverNonce, base64.StdEncoding.EncodeToString(cred.Salt), cred.Iterations)
	return h.serverFirst, nil
}

// Finish consumes the client-final-message and verifies the client proof,
// returning the server-final-message ("v=<signature>") on success.
func (h *ScramServerHandshake) Finish(clientFinalMessage string) (string, error) {
	fields := parseScramFields(clientFinalMessage)
	channelBinding := fields["c"]
	nonce := fields["r"]
	proofB64 := fields["p"]
	if channelBinding == "" || nonce != h.serverNonce || proofB64 == "" {
		return "", fmt.Errorf("pgproto: malformed SCRAM client-final-message")
	}

	clientProof, err := base64.StdEncoding.DecodeString(proofB64)
	if err != nil {
		return "", fmt.Errorf("pgproto: decode client proof: %w", err)
	}

	withoutProof := fmt.Sprintf("c=%s,r=%s", channelBinding, nonce)
	authMessage := h.clientFirst + "," + h.serverFirst + "," + withoutProof

	clientSignature := hmacSHA256(h.cred.StoredKey, []byte(authMessage))
	clientKey := xorBytes(clientProof, clientSignature)
	computedStoredKey := sha256.Sum256(clientKey)

	if subtle.ConstantTimeCompare(computedStoredKey[:], h.cred.StoredKey) != 1 {
		return "", &Error{Kind: KindAuthFailed, Message: "SCRAM client proof mismatch"}
	}

	serverSignature := hmacSHA256(h.cred.ServerKey, []byte(authMessage))
	return "v=" + base64.StdEncoding.EncodeToString(serverSignature), nil
}

// ScramClientHandshake drives the client side of a SCRAM-SHA-256 exchange,
// used by pkg/backend when a real PostgreSQL backend requires SCRAM auth.
type ScramClientHandshake struct {
	password    string
	clientNonce string
	clientFirst string
}

// NewScramClientHandshake prepares a client-first-message for user/password.
func NewScramClientHandshake(user, password string) (*ScramClientHandshake, string, error) {
	nonceBytes := make([]byte, 18)
	if _, err := rand.Read(nonceBytes); err != nil {
		return nil, "", fmt.Errorf("pgproto: generate client nonce: %w", err)
	}
	nonce := base64.RawURLEncoding.EncodeToString(nonceBytes)
	bare := fmt.Sprintf("n=%s,r=%s", user, nonce)
	h := &ScramClientHandshake{password: password, clientNonce: nonce, clientFirst: bare}
	return h, "n,," + bare, nil
}

// Continue consumes the server-first-message and returns the
// client-final-message to send.
func (h *ScramClientHandshake) Continue(serverFirstMessage string) (string, error) {
	fields := parseScramFields(serverFirstMessage)
	nonce := fields["r"]
	saltB64 := fields["s"]
	iterStr := fields["i"]
	if nonce == "" || saltB64 == "" || iterStr == "" || !strings.HasPrefix(nonce, h.clientNonce) {
		return "", fmt.Errorf("pgproto: malformed SCRAM server-first-message")
	}

	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", fmt.Errorf("pgproto: decode salt: %w", err)
	}
	var iterations int
	if _, err := fmt.Sscanf(iterStr, "%d", &iterations); err != nil {
		return "", fmt.Errorf("pgproto: parse iteration count: %w", err)
	}

	cred := DeriveScramCredential(h.password, salt, iterations)
	saltedPassword := pbkdf2.Key([]byte(h.password), salt, iterations, sha256.Size, sha256.New)
	ck := hmacSHA256(saltedPassword, []byte("Client Key"))

	withoutProof := "c=biws,r=" + nonce
	authMessage := h.clientFirst + "," + serverFirstMessage + "," + withoutProof

	clientSignature := hmacSHA256(cred.StoredKey, []byte(authMessage))
	clientProof := xorBytes(ck, clientSignature)

	return withoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof), nil
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i%len(b)]
	}
	return out
}

func parseScramFields(s string) map[string]string {
	fields := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) == 2 {
			fields[kv[0]] = kv[1]
		}
	}
	return fields
}
