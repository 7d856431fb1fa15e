package security

import (
	"bufio"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/cuemby/vanguard/pkg/pgproto"
)

// CredentialKind selects how a pool_passwd entry's secret is encoded,
// spec §6.4's "username:secret-with-prefix" format.
type CredentialKind string

const (
	// KindMD5 stores hex(md5(password+user)), PostgreSQL's usual stored
	// verifier. Sufficient to authenticate a frontend via MD5, but the
	// plaintext cannot be recovered from it.
	KindMD5 CredentialKind = "md5"
	// KindSCRAM stores a SCRAM-SHA-256 verifier (iterations, salt,
	// StoredKey, ServerKey). Sufficient to authenticate a frontend via
	// SASL, plaintext not recoverable.
	KindSCRAM CredentialKind = "scram"
	// KindText stores the plaintext password directly. Usable both to
	// verify a frontend and to authenticate to a backend, at the cost
	// of the password sitting in the file unencrypted.
	KindText CredentialKind = "text"
	// KindAES stores the password AES-256-GCM encrypted under the
	// cluster key (Encrypt/Decrypt, SetClusterEncryptionKey). Usable
	// both ways like KindText, without the plaintext-on-disk cost.
	KindAES CredentialKind = "aes"
)

// Credential is one pool_passwd row's decoded secret.
type Credential struct {
	Kind   CredentialKind
	Secret string // encoding depends on Kind; see ParsePoolPasswdLine
}

// CredentialStore holds every configured (user -> Credential) mapping,
// loaded from and saved to a pool_passwd-format file (spec §6.2's
// pool_passwd key, §6.4's wire format, §7's persisted-state section).
type CredentialStore struct {
	mu    sync.RWMutex
	creds map[string]Credential
}

// NewCredentialStore returns an empty store.
func NewCredentialStore() *CredentialStore {
	return &CredentialStore{creds: make(map[string]Credential)}
}

// Set adds or replaces the credential for user.
func (s *CredentialStore) Set(user string, cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[user] = cred
}

// Lookup returns the credential configured for user, if any.
func (s *CredentialStore) Lookup(user string) (Credential, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.creds[user]
	return c, ok
}

// Users returns every configured username.
func (s *CredentialStore) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.creds))
	for u := range s.creds {
		users = append(users, u)
	}
	return users
}

// PlainSecret returns user's password in cleartext, for KindText and
// KindAES entries only — these are the two reversible encodings, needed
// when Vanguard itself must authenticate to a real backend as this user
// (backend.Credentials.Password). KindMD5 and KindSCRAM entries store a
// one-way verifier and cannot satisfy this call.
func (s *CredentialStore) PlainSecret(user string) (string, error) {
	cred, ok := s.Lookup(user)
	if !ok {
		return "", fmt.Errorf("security: no credential configured for user %q", user)
	}
	switch cred.Kind {
	case KindText:
		return cred.Secret, nil
	case KindAES:
		ciphertext, err := base64.StdEncoding.DecodeString(cred.Secret)
		if err != nil {
			return "", fmt.Errorf("security: decode aes credential for %q: %w", user, err)
		}
		plaintext, err := Decrypt(ciphertext)
		if err != nil {
			return "", fmt.Errorf("security: decrypt credential for %q: %w", user, err)
		}
		return string(plaintext), nil
	default:
		return "", fmt.Errorf("security: credential for %q is %s-encoded, the plaintext cannot be recovered", user, cred.Kind)
	}
}

// MD5StoredHash returns the hex(md5(password+user)) verifier for a
// KindMD5 entry, the half of PostgreSQL's MD5 challenge-response that
// pgproto.HashMD5FromStoredHash takes as its storedHashHex argument.
func (s *CredentialStore) MD5StoredHash(user string) (string, error) {
	cred, ok := s.Lookup(user)
	if !ok || cred.Kind != KindMD5 {
		return "", fmt.Errorf("security: no md5 credential configured for user %q", user)
	}
	return cred.Secret, nil
}

// ExpectedMD5Response computes what a connecting frontend's MD5
// PasswordMessage should equal for user given the per-connection salt,
// regardless of whether the stored credential is a precomputed verifier
// (KindMD5) or a recoverable plaintext (KindText/KindAES). A KindSCRAM
// entry has no MD5 counterpart to verify against and returns an error —
// a pool_hba entry for a SCRAM-only user must request SASL instead.
func (s *CredentialStore) ExpectedMD5Response(user string, salt [4]byte) (string, error) {
	cred, ok := s.Lookup(user)
	if !ok {
		return "", fmt.Errorf("security: no credential configured for user %q", user)
	}
	switch cred.Kind {
	case KindMD5:
		return pgproto.HashMD5FromStoredHash(cred.Secret, salt), nil
	case KindText:
		return pgproto.HashMD5Password(cred.Secret, user, salt), nil
	case KindAES:
		plain, err := s.PlainSecret(user)
		if err != nil {
			return "", err
		}
		return pgproto.HashMD5Password(plain, user, salt), nil
	default:
		return "", fmt.Errorf("security: credential for %q is %s-encoded, cannot be verified via MD5", user, cred.Kind)
	}
}

// ScramCredential decodes a KindSCRAM entry into the form
// pgproto.ScramServerHandshake needs.
func (s *CredentialStore) ScramCredential(user string) (pgproto.ScramCredential, error) {
	cred, ok := s.Lookup(user)
	if !ok || cred.Kind != KindSCRAM {
		return pgproto.ScramCredential{}, fmt.Errorf("security: no scram credential configured for user %q", user)
	}
	return decodeScramSecret(cred.Secret)
}

// NewSCRAMCredential derives a KindSCRAM Credential from a plaintext
// password, used when (re)issuing a pool_passwd entry.
func NewSCRAMCredential(password string) (Credential, error) {
	salt, err := pgproto.NewScramSalt()
	if err != nil {
		return Credential{}, err
	}
	const iterations = 4096
	sc := pgproto.DeriveScramCredential(password, salt, iterations)
	return Credential{Kind: KindSCRAM, Secret: encodeScramSecret(sc)}, nil
}

// NewMD5Credential derives a KindMD5 Credential from a plaintext password:
// PostgreSQL's usual stored verifier, hex(md5(password+user)) — the inner
// half of the salted challenge-response pgproto.HashMD5Password computes.
func NewMD5Credential(password, user string) Credential {
	return Credential{Kind: KindMD5, Secret: md5Hex(password + user)}
}

func encodeScramSecret(sc pgproto.ScramCredential) string {
	return fmt.Sprintf("%d:%s:%s:%s",
		sc.Iterations,
		base64.StdEncoding.EncodeToString(sc.Salt),
		base64.StdEncoding.EncodeToString(sc.StoredKey),
		base64.StdEncoding.EncodeToString(sc.ServerKey),
	)
}

func decodeScramSecret(secret string) (pgproto.ScramCredential, error) {
	parts := strings.Split(secret, ":")
	if len(parts) != 4 {
		return pgproto.ScramCredential{}, fmt.Errorf("security: malformed scram credential")
	}
	iterations, err := strconv.Atoi(parts[0])
	if err != nil {
		return pgproto.ScramCredential{}, fmt.Errorf("security: malformed scram iteration count: %w", err)
	}
	salt, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return pgproto.ScramCredential{}, fmt.Errorf("security: decode scram salt: %w", err)
	}
	storedKey, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return pgproto.ScramCredential{}, fmt.Errorf("security: decode scram stored key: %w", err)
	}
	serverKey, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return pgproto.ScramCredential{}, fmt.Errorf("security: decode scram server key: %w", err)
	}
	return pgproto.ScramCredential{Iterations: iterations, Salt: salt, StoredKey: storedKey, ServerKey: serverKey}, nil
}

// ParsePoolPasswdLine parses one "username:prefix+secret" line, spec
// §6.4's wire format for the pool_passwd file.
func ParsePoolPasswdLine(line string) (user string, cred Credential, err error) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", Credential{}, fmt.Errorf("security: malformed pool_passwd line %q", line)
	}
	user = line[:idx]
	rest := line[idx+1:]

	for _, kind := range []CredentialKind{KindMD5, KindSCRAM, KindText, KindAES} {
		if prefix := string(kind); strings.HasPrefix(rest, prefix) {
			return user, Credential{Kind: kind, Secret: rest[len(prefix):]}, nil
		}
	}
	return "", Credential{}, fmt.Errorf("security: pool_passwd line for %q has an unrecognized prefix", user)
}

// FormatPoolPasswdLine renders cred back into pool_passwd wire format.
func FormatPoolPasswdLine(user string, cred Credential) string {
	return fmt.Sprintf("%s:%s%s", user, cred.Kind, cred.Secret)
}

// LoadCredentialStore reads a pool_passwd file into a CredentialStore.
// Blank lines and lines starting with '#' are skipped.
func LoadCredentialStore(path string) (*CredentialStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("security: open pool_passwd %s: %w", path, err)
	}
	defer f.Close()

	store := NewCredentialStore()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, cred, err := ParsePoolPasswdLine(line)
		if err != nil {
			return nil, err
		}
		store.Set(user, cred)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("security: read pool_passwd %s: %w", path, err)
	}
	return store, nil
}

// Save writes every credential back out in pool_passwd format, sorted
// for a stable diff is not guaranteed (map iteration order), which is
// fine since the file is machine-managed.
func (s *CredentialStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var b strings.Builder
	for user, cred := range s.creds {
		b.WriteString(FormatPoolPasswdLine(user, cred))
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("security: write pool_passwd %s: %w", path, err)
	}
	return nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// clusterEncryptionKey is the global encryption key for the cluster,
// derived from the cluster ID during initialization.
var clusterEncryptionKey []byte

// SetClusterEncryptionKey sets the global cluster encryption key. This
// should be called once during cluster initialization.
func SetClusterEncryptionKey(key []byte) error {
	if len(key) != 32 {
		return fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	clusterEncryptionKey = key
	return nil
}

// DeriveKeyFromClusterID derives an AES-256 key from the cluster ID, so
// every node in a cluster ends up with the same encryption key without
// transmitting it directly.
func DeriveKeyFromClusterID(clusterID string) []byte {
	hash := sha256.Sum256([]byte(clusterID))
	return hash[:]
}

// Encrypt encrypts data using the cluster encryption key, used for
// KindAES credentials and for CA private keys (see ca.go).
func Encrypt(plaintext []byte) ([]byte, error) {
	if len(clusterEncryptionKey) == 0 {
		return nil, fmt.Errorf("cluster encryption key not set")
	}
	block, err := aes.NewCipher(clusterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt decrypts data encrypted with Encrypt using the cluster
// encryption key.
func Decrypt(ciphertext []byte) ([]byte, error) {
	if len(clusterEncryptionKey) == 0 {
		return nil, fmt.Errorf("cluster encryption key not set")
	}
	block, err := aes.NewCipher(clusterEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}
