/*
Package security provides cryptographic services for a Vanguard cluster:
a pool_passwd-style credential store for authenticating PostgreSQL
frontends and backends, a Certificate Authority (CA) that issues watchdog
peer and admin client certificates, and certificate lifecycle helpers.
No other package in this repository uses the CA or its certificates.

# Architecture

	┌─────────────────────────────────────────────────────────────┐
	│                    Security Architecture                    │
	└─────┬───────────────────────┬──────────────────┬────────────┘
	      │                       │                  │
	      ▼                       ▼                  ▼
	┌─────────────┐      ┌────────────────┐   ┌──────────────┐
	│ Credential  │      │       CA       │   │ Certificate  │
	│   Store     │      │  (Root only)   │   │  Management  │
	└─────┬───────┘      └────────┬───────┘   └──────┬───────┘
	      │                       │                   │
	      ▼                       ▼                   ▼
	  md5/scram/           RSA 4096-bit          90-day rotation
	  text/aes             10-year validity      Manual renewal

## Cluster Encryption Key

Both the credential store's KindAES entries and the CA's persisted root
key are protected by the cluster encryption key, a 32-byte key derived
from the cluster ID during initialization:

	clusterKey = SHA-256(clusterID)  // 32 bytes for AES-256

The key is stored only in memory and must be supplied again (via
SetClusterEncryptionKey) whenever a node starts or rejoins the cluster.

# Credential Store

## pool_passwd format

CredentialStore holds one Credential per configured PostgreSQL user,
loaded from and saved to a pool_passwd-style file: one
"username:prefix+secret" line per user, prefix selecting how secret is
encoded:

	alice:md5a1b2c3...     KindMD5   — hex(md5(password+user)), one-way
	bob:scram4096:...      KindSCRAM — iterations:salt:storedKey:serverKey, one-way
	carol:textHunter2      KindText  — plaintext, reversible
	dave:aes<base64 blob>  KindAES   — AES-256-GCM under the cluster key, reversible

KindMD5 and KindSCRAM are enough to verify a connecting frontend's
challenge-response but cannot recover a plaintext password. KindText
and KindAES can: Vanguard needs the plaintext itself when it has to
authenticate as that user against a real backend.

## MD5 verification

Verifying a frontend's MD5 response needs the PostgreSQL salted hash:

	"md5" + hex(md5(hex(md5(password+user)) + salt))

CredentialStore only ever holds the inner hex(md5(password+user)) term
(the plaintext is never stored for this kind), so the outer, per-
connection salting step lives in pkg/pgproto as
HashMD5FromStoredHash(storedHash, salt) — a sibling to
HashMD5Password(password, user, salt), which is used instead when the
plaintext is available (ExpectedMD5Response for a KindText or KindAES
entry, or Vanguard acting as the client against a backend that itself
wants MD5 auth).

## SCRAM verification

KindSCRAM entries store exactly the StoredKey/ServerKey pair RFC 5802
needs, produced by pkg/pgproto's DeriveScramCredential and consumed by
its ScramServerHandshake during the actual SASL exchange.

# Certificate Authority

## Root CA

The CA uses a hierarchical structure with a long-lived root certificate:

	Root CA (self-signed)
	├── 10-year validity
	├── RSA 4096-bit key (high security)
	├── KeyUsage: CertSign, CRLSign
	└── Subject: CN=Vanguard Root CA, O=Vanguard Cluster

Initialize creates the root CA; SaveToStore and LoadFromStore persist it
via pkg/storage's Store.SaveCA/GetCA: the certificate in the clear, the
private key encrypted under the cluster key. No command in cmd/vanguard
calls them.

## Watchdog peer certificates

IssueNodeCertificate issues certificates for watchdog peers. The raft
transport in pkg/watchdog is plain TCP and does not use them:

	Watchdog Peer Certificate
	├── 90-day validity
	├── RSA 2048-bit key (faster operations)
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ServerAuth, ClientAuth
	├── Subject: CN={role}-{nodeID}, O=Vanguard Cluster
	├── DNS Names: [peer hostname]
	└── IP Addresses: [peer IP]

## Client certificates

IssueClientCertificate issues a certificate for an admin CLI client.
pkg/api does not accept client certificates; it authenticates with
bearer or Basic credentials only:

	Admin Client Certificate
	├── 90-day validity
	├── KeyUsage: DigitalSignature, KeyEncipherment
	├── ExtKeyUsage: ClientAuth
	└── Subject: CN=cli-{clientID}, O=Vanguard Cluster

# Usage Examples

## Loading and looking up credentials

	store, err := security.LoadCredentialStore("/etc/vanguard/pool_passwd")
	if err != nil {
		panic(err)
	}

	cred, ok := store.Lookup("app_user")
	if !ok {
		// no credential configured for this role
	}

	switch cred.Kind {
	case security.KindMD5:
		storedHash, _ := store.MD5StoredHash("app_user")
		// combine storedHash with the per-connection salt via
		// pgproto.HashMD5FromStoredHash and compare to the frontend's response
	case security.KindSCRAM:
		scramCred, _ := store.ScramCredential("app_user")
		// hand scramCred to a pgproto.ScramServerHandshake
	case security.KindText, security.KindAES:
		plain, _ := store.PlainSecret("app_user")
		// use plain as backend.Credentials.Password
	}

## Provisioning a new credential

	cred, err := security.NewSCRAMCredential("a-strong-password")
	if err != nil {
		panic(err)
	}
	store.Set("app_user", cred)
	if err := store.Save("/etc/vanguard/pool_passwd"); err != nil {
		panic(err)
	}

## Setting Up the Certificate Authority

	store, err := storage.NewBoltStore("/var/lib/vanguard/cluster.db")
	if err != nil {
		panic(err)
	}

	clusterKey := security.DeriveKeyFromClusterID(clusterID)
	if err := security.SetClusterEncryptionKey(clusterKey); err != nil {
		panic(err)
	}

	ca := security.NewCertAuthority(store)
	if err := ca.Initialize(); err != nil {
		panic(err)
	}
	if err := ca.SaveToStore(); err != nil {
		panic(err)
	}

## Issuing a watchdog peer certificate

	dnsNames := []string{"node1.cluster.local", "localhost"}
	ipAddresses := []net.IP{net.ParseIP("192.168.1.10"), net.ParseIP("127.0.0.1")}

	tlsCert, err := ca.IssueNodeCertificate("node1", "watchdog", dnsNames, ipAddresses)
	if err != nil {
		panic(err)
	}

## Certificate Rotation

	if security.CertNeedsRotation(cert) {
		newCert, err := ca.IssueNodeCertificate(nodeID, role, dnsNames, ipAddresses)
		if err != nil {
			panic(err)
		}
		certDir, _ := security.GetCertDir(role, nodeID)
		if err := security.SaveCertToFile(newCert, certDir); err != nil {
			panic(err)
		}
	}

# Threat Model

Vanguard's security protects against:

	✓ Unauthorized admin API access (bearer/Basic auth)
	✓ Credential tampering at rest (AES-256-GCM for KindAES entries)

It does NOT protect against:

	✗ Network eavesdropping or impersonation between watchdog peers (the
	  raft transport is plain TCP; CA-signed certificates are not used on it)
	✗ Compromise of the cluster encryption key (KindAES entries and the
	  CA root key are both exposed)
	✗ Compromise of the CA private key (forged peer certificates)
	✗ A compromised Vanguard process (full access to whatever it can
	  already reach: the pool_passwd file and any backend it can dial)
	✗ Physical access to an unencrypted pool_passwd file (KindText
	  entries are plaintext on disk by design — use KindAES or KindMD5/
	  KindSCRAM where the plaintext is never needed back)

# See Also

  - pkg/pgproto - wire-protocol MD5/SCRAM handshake this store feeds
  - pkg/storage - CA persistence
  - pkg/api, pkg/supervisor - consumers of this package's credentials and certificates
*/
package security
